//go:build !integration

package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthManager(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Minute)

	t.Run("should round-trip the user id", func(t *testing.T) {
		tok, err := auth.Mint(42)
		require.NoError(t, err)

		claims, err := auth.Parse(tok)
		require.NoError(t, err)
		assert.Equal(t, int64(42), claims.UserID)
		assert.Equal(t, "42", claims.Subject)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		tok, err := NewAuthManager("some-other-secret", time.Minute).Mint(42)
		require.NoError(t, err)
		_, err = auth.Parse(tok)
		assert.Error(t, err)
	})

	t.Run("should reject an expired token", func(t *testing.T) {
		old := NewAuthManager(testSecret, time.Minute)
		old.now = func() time.Time { return time.Now().Add(-time.Hour) }
		tok, err := old.Mint(42)
		require.NoError(t, err)
		_, err = auth.Parse(tok)
		assert.Error(t, err)
	})

	t.Run("should reject tokens without a user", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, UserClaims{}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = auth.Parse(tok)
		assert.Error(t, err)
	})

	t.Run("should read header, cookie and query", func(t *testing.T) {
		tok, _ := auth.Mint(9)

		hdr := httptest.NewRequest(http.MethodGet, "/", nil)
		hdr.Header.Set("Authorization", "Bearer "+tok)
		cookie := httptest.NewRequest(http.MethodGet, "/", nil)
		cookie.AddCookie(&http.Cookie{Name: sessionCookie, Value: tok})
		query := httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)

		for _, r := range []*http.Request{hdr, cookie, query} {
			claims, err := auth.ParseFromRequest(r)
			require.NoError(t, err)
			assert.Equal(t, int64(9), claims.UserID)
		}
	})

	t.Run("should refuse a non-bearer scheme", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Basic abc")
		_, err := auth.ParseFromRequest(r)
		assert.Error(t, err)
	})
}
