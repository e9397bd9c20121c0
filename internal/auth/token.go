package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"partner_portal/internal/models"
)

const TokenTTL = 24 * time.Hour

// Claims represents the JWT claims structure. Role and PartnerID are a
// snapshot from login; the middleware re-reads both from the user row.
type Claims struct {
	UserID    int64       `json:"uid"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	PartnerID string      `json:"pid,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for user.
func IssueToken(secret string, user models.User, now time.Time) (string, *Claims, error) {
	claims := &Claims{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		PartnerID: user.PartnerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseToken verifies signature, algorithm and expiry.
func ParseToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}
