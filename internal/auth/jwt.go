package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RolesClaim is the claim CouchDB reads user roles from.
const RolesClaim = "_couchdb.roles"

// DefaultTokenTTL is the lifetime of issued tokens when none is configured.
const DefaultTokenTTL = 5 * time.Minute

// ErrMissingSecret indicates that no HMAC secret was configured.
var ErrMissingSecret = errors.New("auth: HS256 secret is required")

// JWTCfg holds HS256 JWT configuration shared by the token issuer and the
// validating middleware.
type JWTCfg struct {
	HS256Secret string        // HMAC secret for HS256 tokens
	Subject     string        // sub claim of issued tokens
	Roles       []string      // _couchdb.roles claim of issued tokens
	TTL         time.Duration // lifetime of issued tokens
}

// TokenSource issues HS256 bearer tokens for CouchDB JWT authentication.
// Tokens are cached until shortly before they expire.
type TokenSource struct {
	cfg JWTCfg
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a token source from cfg.
func NewTokenSource(cfg JWTCfg) (*TokenSource, error) {
	if cfg.HS256Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	return &TokenSource{cfg: cfg, now: time.Now}, nil
}

// Token returns a valid signed token, issuing a new one when the cached
// token is within a tenth of its lifetime of expiring.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(s.cfg.TTL/10).Before(s.expires) {
		return s.token, nil
	}

	expires := now.Add(s.cfg.TTL)
	claims := jwt.MapClaims{
		"sub": s.cfg.Subject,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(expires),
	}
	if len(s.cfg.Roles) > 0 {
		claims[RolesClaim] = s.cfg.Roles
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.HS256Secret))
	if err != nil {
		return "", fmt.Errorf("auth: failed to sign token: %w", err)
	}

	s.token = signed
	s.expires = expires
	return signed, nil
}

// ParseToken validates an HS256 token and returns its subject.
func ParseToken(tok, secret string) (string, error) {
	claims := jwt.MapClaims{}
	t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		// Verify signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if !t.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	return sub, nil
}
