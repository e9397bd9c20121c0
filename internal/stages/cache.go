package stages

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Source is the remote settings document backing the cache. LoadStages
// returns a nil slice when the document does not exist yet.
type Source interface {
	LoadStages(ctx context.Context) ([]string, error)
	SaveStages(ctx context.Context, names []string) error
}

// Cache keeps the stage list in memory. Concurrent misses share a single
// remote read. Saves update the cache before the write and roll back when
// the write fails.
type Cache struct {
	src      Source
	defaults []string
	log      *zap.Logger

	group singleflight.Group

	mu     sync.RWMutex
	names  []string
	loaded bool
	gen    uint64 // bumped on every local change; stale loads are discarded
}

func NewCache(src Source, defaults []string, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	d, err := Normalize(defaults)
	if err != nil {
		d = []string{"Onboarding"}
	}
	return &Cache{src: src, defaults: d, log: log}
}

func (c *Cache) Defaults() []string { return clone(c.defaults) }

// Get returns the cached stages, loading them once on a miss.
func (c *Cache) Get(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	if c.loaded {
		out := clone(c.names)
		c.mu.RUnlock()
		return out, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	v, err, shared := c.group.Do("stages", func() (any, error) {
		c.mu.RLock()
		if c.loaded {
			out := clone(c.names)
			c.mu.RUnlock()
			return out, nil
		}
		c.mu.RUnlock()

		names, err := c.src.LoadStages(ctx)
		if err != nil {
			return nil, err
		}
		if names == nil {
			names = c.defaults
		} else if names, err = Normalize(names); err != nil {
			c.log.Warn("stored stage list is empty, using defaults")
			names = c.defaults
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen == gen {
			c.names = clone(names)
			c.loaded = true
		} else if c.loaded {
			names = c.names
		}
		return clone(names), nil
	})
	if err != nil {
		c.log.Error("load onboarding stages", zap.Error(err))
		return nil, err
	}
	if shared {
		c.log.Debug("coalesced onboarding stage load")
	}
	return clone(v.([]string)), nil
}

// Save normalizes names and writes them through to the source.
func (c *Cache) Save(ctx context.Context, names []string) ([]string, error) {
	names, err := Normalize(names)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	prev, prevLoaded := c.names, c.loaded
	c.names, c.loaded = clone(names), true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if err := c.src.SaveStages(ctx, names); err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.names, c.loaded = prev, prevLoaded
			c.gen++
		}
		c.mu.Unlock()
		c.log.Error("save onboarding stages", zap.Error(err))
		return nil, err
	}
	return clone(names), nil
}

// Update applies edit to the current list and saves the result.
func (c *Cache) Update(ctx context.Context, edit func([]string) ([]string, error)) ([]string, error) {
	cur, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	next, err := edit(cur)
	if err != nil {
		return nil, err
	}
	return c.Save(ctx, next)
}

func (c *Cache) Reset(ctx context.Context) ([]string, error) {
	return c.Save(ctx, c.defaults)
}

func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.names, c.loaded = nil, false
	c.gen++
	c.mu.Unlock()
}
