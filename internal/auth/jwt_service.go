// Package auth verifies the identity tokens that carry a party's claims.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/charlesng35/hycredit/internal/models"
)

// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
const DefaultAccessTokenTTL = 15 * time.Minute

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret         []byte
	Issuer         string
	AccessTokenTTL time.Duration
	Clock          func() time.Time
}

// Claims are the party claims embedded in identity tokens.
type Claims struct {
	PartyID       string           `json:"pid"`
	Role          models.PartyRole `json:"role"`
	Name          string           `json:"name,omitempty"`
	Organization  string           `json:"org,omitempty"`
	Email         string           `json:"email,omitempty"`
	WalletAddress string           `json:"wallet,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenInput holds the parameters used when issuing a token.
type AccessTokenInput struct {
	PartyID       string
	Role          models.PartyRole
	Name          string
	Organization  string
	Email         string
	WalletAddress string
	Audience      []string
	TTL           time.Duration
}

// JWTService is responsible for issuing and validating JSON Web Tokens.
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret: append([]byte(nil), cfg.Secret...),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// GenerateAccessToken issues a signed JWT for a party. Production tokens come from
// the identity provider; this is used by tooling and tests.
func (s *JWTService) GenerateAccessToken(input AccessTokenInput) (string, error) {
	partyID := strings.TrimSpace(input.PartyID)
	if partyID == "" {
		return "", errors.New("jwt: party id is required")
	}
	if !input.Role.Valid() {
		return "", fmt.Errorf("jwt: unknown role %q", input.Role)
	}

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()

	claims := &Claims{
		PartyID:       partyID,
		Role:          input.Role,
		Name:          input.Name,
		Organization:  input.Organization,
		Email:         input.Email,
		WalletAddress: input.WalletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   partyID,
			Issuer:    s.issuer,
			Audience:  input.Audience,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// ValidateAccessToken parses and validates a signed JWT, returning the party claims.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("jwt: invalid issuer")
	}

	if claims.PartyID == "" {
		claims.PartyID = claims.Subject
	}
	if claims.PartyID == "" {
		return nil, errors.New("jwt: missing party id claim")
	}
	if !claims.Role.Valid() {
		return nil, fmt.Errorf("jwt: unknown role %q", claims.Role)
	}

	return &claims, nil
}
