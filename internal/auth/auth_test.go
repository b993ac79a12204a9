package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-star-sync/internal/database/memory"
	"github-star-sync/internal/model"
)

type failingTokens struct{}

func (failingTokens) GetAccessToken(context.Context, string) (string, error) {
	return "", errors.New("db down")
}

func newTestSessions(t *testing.T) *Sessions {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.UpsertAccount(context.Background(), model.Account{UserID: "u1", Login: "octo", AccessToken: "gh-token"}))
	return NewSessions("secret", time.Hour, store)
}

func TestSessions_SignAndResolve(t *testing.T) {
	s := newTestSessions(t)
	token, expiresAt, err := s.Sign("u1", "octo")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		access, err := s.Resolve(r)

		require.NoError(t, err)
		assert.Equal(t, Access{UserID: "u1", AccessToken: "gh-token"}, access)
	})

	t.Run("session cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})

		access, err := s.Resolve(r)

		require.NoError(t, err)
		assert.Equal(t, "u1", access.UserID)
	})
}

func TestSessions_Rejects(t *testing.T) {
	s := newTestSessions(t)

	t.Run("missing session", func(t *testing.T) {
		_, err := s.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewSessions("other", time.Hour, nil)
		token, _, err := other.Sign("u1", "octo")
		require.NoError(t, err)

		_, err = s.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("expired", func(t *testing.T) {
		past := NewSessions("secret", time.Hour, nil)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _, err := past.Sign("u1", "octo")
		require.NoError(t, err)

		_, err = s.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("other signing method", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: issuer},
		}).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = s.Verify(token)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("unknown user", func(t *testing.T) {
		token, _, err := s.Sign("ghost", "ghost")
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)

		_, err = s.Resolve(r)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, ok := FromContext(r.Context())
		require.True(t, ok)
		_, _ = io.WriteString(w, access.UserID)
	})

	t.Run("passes access downstream", func(t *testing.T) {
		s := newTestSessions(t)
		token, _, err := s.Sign("u1", "octo")
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		s.Middleware(logger)(next).ServeHTTP(rec, r)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "u1", rec.Body.String())
	})

	t.Run("401 without session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestSessions(t).Middleware(logger)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("500 when storage fails", func(t *testing.T) {
		s := NewSessions("secret", time.Hour, failingTokens{})
		token, _, err := s.Sign("u1", "octo")
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		s.Middleware(logger)(next).ServeHTTP(rec, r)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
