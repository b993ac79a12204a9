// Package auth resolves who is asking for a stream and which GitHub token
// to fetch their stars with.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github-star-sync/internal/database"
)

// SessionCookie is read when no Authorization header is present.
const SessionCookie = "session"

const issuer = "github-star-sync"

// ErrUnauthenticated is returned when a request carries no usable session.
var ErrUnauthenticated = errors.New("unauthenticated")

// Access is what a stream needs to know about the caller.
type Access struct {
	UserID      string
	AccessToken string
}

// TokenStore is the part of storage that holds GitHub access tokens.
type TokenStore interface {
	GetAccessToken(ctx context.Context, userID string) (string, error)
}

type Claims struct {
	Login string `json:"login,omitempty"`

	jwt.RegisteredClaims
}

// Sessions signs and verifies HS256 session tokens.
type Sessions struct {
	Secret   []byte
	TokenTTL time.Duration
	tokens   TokenStore
	now      func() time.Time
}

func NewSessions(secret string, ttl time.Duration, tokens TokenStore) *Sessions {
	return &Sessions{Secret: []byte(secret), TokenTTL: ttl, tokens: tokens, now: time.Now}
}

// Sign mints a session token for userID.
func (s *Sessions) Sign(userID, login string) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.TokenTTL)
	claims := Claims{
		Login: login,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify parses a session token and returns its claims.
func (s *Sessions) Verify(token string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return Claims{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	return *c, nil
}

// Resolve authenticates r and loads the caller's GitHub token.
func (s *Sessions) Resolve(r *http.Request) (Access, error) {
	raw := bearerToken(r)
	if raw == "" {
		if c, err := r.Cookie(SessionCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return Access{}, fmt.Errorf("%w: no session", ErrUnauthenticated)
	}

	claims, err := s.Verify(raw)
	if err != nil {
		return Access{}, err
	}

	token, err := s.tokens.GetAccessToken(r.Context(), claims.Subject)
	if errors.Is(err, database.ErrNotFound) || (err == nil && token == "") {
		return Access{}, fmt.Errorf("%w: no github token for user %s", ErrUnauthenticated, claims.Subject)
	}
	if err != nil {
		return Access{}, fmt.Errorf("failed to load access token: %w", err)
	}
	return Access{UserID: claims.Subject, AccessToken: token}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type contextKey struct{}

// FromContext returns the Access stored by Middleware.
func FromContext(ctx context.Context) (Access, bool) {
	a, ok := ctx.Value(contextKey{}).(Access)
	return a, ok
}

// WithAccess stores a on ctx.
func WithAccess(ctx context.Context, a Access) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// Middleware rejects requests without a valid session before any handler runs.
func (s *Sessions) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, err := s.Resolve(r)
			if err != nil {
				if errors.Is(err, ErrUnauthenticated) {
					logger.Debug("Rejected unauthenticated request", "path", r.URL.Path, "error", err)
					w.Header().Set("WWW-Authenticate", `Bearer realm="github-star-sync"`)
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				logger.Error("Failed to resolve session", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccess(r.Context(), access)))
		})
	}
}
