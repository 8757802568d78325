package app

import (
	"fmt"

	"github.com/charlesng35/hycredit/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() (auth.JWTConfig, error) {
	secret, err := DecodeKey(c.JWT.Secret)
	if err != nil {
		return auth.JWTConfig{}, fmt.Errorf("auth.jwt.secret: %w", err)
	}

	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}, nil
}
