// Package auth issues and validates bearer tokens, hashes passwords, gates
// requests by role and manages user accounts.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"eadash.io/internal/config"
	"eadash.io/internal/model"
)

// TokenType discriminates access from refresh tokens.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// Claims is the payload of every token. Role is a snapshot taken at issuance.
type Claims struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	Type  TokenType  `json:"type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, bool) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// TokenService signs tokens with a shared HS256 secret.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption configures TokenService behavior.
type TokenOption func(*TokenService) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService builds the service from the auth configuration.
func NewTokenService(cfg config.AuthConfig, opts ...TokenOption) (*TokenService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("auth: token lifetimes must be positive")
	}
	s := &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AccessTTL is the lifetime of access tokens.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// IssueAccessToken signs a short-lived token that authenticates requests.
func (s *TokenService) IssueAccessToken(subject int64, email string, role model.Role) (string, time.Time, error) {
	return s.issue(TokenAccess, s.accessTTL, subject, email, role)
}

// IssueRefreshToken signs a long-lived token that can only be exchanged for
// a new access token.
func (s *TokenService) IssueRefreshToken(subject int64, email string, role model.Role) (string, time.Time, error) {
	return s.issue(TokenRefresh, s.refreshTTL, subject, email, role)
}

func (s *TokenService) issue(typ TokenType, ttl time.Duration, subject int64, email string, role model.Role) (string, time.Time, error) {
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("auth: cannot issue token for role %d", role)
	}
	now := s.now().UTC()
	expires := now.Add(ttl)
	claims := Claims{
		Email: email,
		Role:  role,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(subject, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Validate checks signature, algorithm, issuer and expiry. Any failure,
// including garbage input, yields ok == false.
func (s *TokenService) Validate(token string) (claims *Claims, ok bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, false
	}
	defer func() {
		if recover() != nil {
			claims, ok = nil, false
		}
	}()
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	c, isClaims := parsed.Claims.(*Claims)
	if !isClaims || (c.Type != TokenAccess && c.Type != TokenRefresh) {
		return nil, false
	}
	if _, valid := c.UserID(); !valid {
		return nil, false
	}
	return c, true
}
