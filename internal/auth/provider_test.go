package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/socq/internal/answer"
)

func TestStaticProvider(t *testing.T) {
	tok, err := NewStaticProvider(" abc ").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = NewStaticProvider("").Token(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStaticProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewStaticProvider("abc").Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSecureTokenProvider_RefreshesEveryCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/v1/token", r.URL.Path)
		assert.Equal(t, "web-key", r.URL.Query().Get("key"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))

		// The provider must present the rotated refresh token on the second call.
		want := "rt-1"
		if n > 1 {
			want = "rt-2"
		}
		assert.Equal(t, want, r.PostForm.Get("refresh_token"))

		fmt.Fprintf(w, `{"id_token":"id-%d","refresh_token":"rt-2","expires_in":"3600","user_id":"u1"}`, n)
	}))
	defer srv.Close()

	p := NewSecureTokenProvider(srv.URL, "web-key", "rt-1", srv.Client())

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id-1", tok)

	tok, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "id-2", tok)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSecureTokenProvider_NoRefreshToken(t *testing.T) {
	p := NewSecureTokenProvider("http://127.0.0.1:1", "k", "", nil)
	_, err := p.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSecureTokenProvider_RevokedSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"TOKEN_EXPIRED"}}`)
	}))
	defer srv.Close()

	_, err := NewSecureTokenProvider(srv.URL, "k", "rt", srv.Client()).Token(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
	assert.Contains(t, err.Error(), "TOKEN_EXPIRED")
}

func TestSecureTokenProvider_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSecureTokenProvider(srv.URL, "k", "rt", srv.Client()).Token(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoSession))
}

func TestSecureTokenProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	_, err := NewSecureTokenProvider(endpoint, "secret-key", "rt", nil).Token(context.Background())
	require.Error(t, err)

	var netErr *answer.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, endpoint+"/v1/token", netErr.URL)
	assert.NotContains(t, err.Error(), "secret-key")
	assert.False(t, errors.Is(err, ErrNoSession))
}

func TestParseIdentity(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "uid-42",
		"email": "analyst@example.com",
		"name":  "Night Shift",
		"exp":   exp.Unix(),
	}).SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	id, err := ParseIdentity(signed)
	require.NoError(t, err)
	assert.Equal(t, "uid-42", id.Subject)
	assert.Equal(t, "analyst@example.com", id.Email)
	assert.Equal(t, "Night Shift", id.DisplayName())
	assert.True(t, id.ExpiresAt.Equal(exp))
}

func TestParseIdentity_Garbage(t *testing.T) {
	_, err := ParseIdentity("not-a-jwt")
	assert.Error(t, err)
}

func TestIdentity_DisplayNameFallbacks(t *testing.T) {
	assert.Equal(t, "a@b.c", Identity{Email: "a@b.c", Subject: "s"}.DisplayName())
	assert.Equal(t, "s", Identity{Subject: "s"}.DisplayName())
	assert.Equal(t, "User", Identity{}.DisplayName())
}
