package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the storefront reads from the backend's access token.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool { return c.Role == "admin" }

// ParseClaims decodes an access token without checking its signature. The
// backend verifies every request; the storefront only uses the claims to pick
// which pages to show.
func ParseClaims(token string, now time.Time) (*Claims, error) {
	var c Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}
	if c.Subject == "" {
		return nil, ErrBadPayload
	}
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return nil, ErrExpired
	}
	return &c, nil
}
