package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sessions keeps revoked token ids and login attempt counters in Redis.
// A Sessions with a nil client allows everything and revokes nothing.
type Sessions struct{ rdb *redis.Client }

func NewSessions(rdb *redis.Client) *Sessions { return &Sessions{rdb: rdb} }

func (s *Sessions) Enabled() bool { return s != nil && s.rdb != nil }

func revokedKey(jti string) string { return "portal:revoked:" + jti }

// Revoke blocks jti until its expiry.
func (s *Sessions) Revoke(ctx context.Context, jti string, expires time.Time) error {
	if !s.Enabled() || jti == "" {
		return nil
	}
	ttl := time.Until(expires)
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, revokedKey(jti), "1", ttl).Err()
}

func (s *Sessions) Revoked(ctx context.Context, jti string) (bool, error) {
	if !s.Enabled() || jti == "" {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Allow counts an attempt against key within a fixed window and reports
// whether it is under limit, plus the time left in the window. A counter
// left without an expiry gets one on the next attempt.
func (s *Sessions) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, time.Duration, error) {
	if !s.Enabled() || limit <= 0 {
		return true, 0, nil
	}
	k := fmt.Sprintf("portal:ratelimit:%s", key)

	var count *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		count = pipe.Incr(ctx, k)
		ttl = pipe.TTL(ctx, k)
		return nil
	}); err != nil {
		return true, 0, err
	}

	left := ttl.Val()
	if left < 0 {
		if err := s.rdb.Expire(ctx, k, window).Err(); err != nil {
			return true, 0, err
		}
		left = window
	}
	if count.Val() > limit {
		return false, left, nil
	}
	return true, 0, nil
}
