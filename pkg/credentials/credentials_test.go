package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ikatson/betterimap/pkg/base"
)

func tokenEndpoint(t *testing.T, hits *atomic.Int64, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "refresh-1", r.FormValue("refresh_token"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func refreshableConfig(tokenURL string) OAuth2 {
	return OAuth2{
		Username:     "user@example.com",
		AccessToken:  "stale",
		Expiry:       time.Now().Add(-time.Minute),
		RefreshToken: "refresh-1",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     tokenURL,
	}
}

func TestTokenValidSkipsRefresh(t *testing.T) {
	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusOK, `{}`)
	defer srv.Close()

	cfg := refreshableConfig(srv.URL)
	cfg.AccessToken = "fresh"
	cfg.Expiry = time.Now().Add(time.Hour)
	p := NewProvider(cfg)

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int64(0), hits.Load())
}

func TestTokenRefreshesWhenExpired(t *testing.T) {
	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusOK, `{"access_token":"renewed","expires_in":1800}`)
	defer srv.Close()

	var gotToken string
	var gotExpiresIn int
	cfg := refreshableConfig(srv.URL)
	cfg.OnRefresh = func(accessToken string, expiresIn int) {
		gotToken = accessToken
		gotExpiresIn = expiresIn
	}
	p := NewProvider(cfg)

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "renewed", token)
	assert.Equal(t, int64(1), hits.Load())
	assert.Equal(t, "renewed", gotToken)
	assert.Equal(t, 1800, gotExpiresIn)

	// The renewed token is cached until it nears expiry.
	token, err = p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "renewed", token)
	assert.Equal(t, int64(1), hits.Load())
}

func TestTokenRefreshesWithinMargin(t *testing.T) {
	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusOK, `{"access_token":"renewed"}`)
	defer srv.Close()

	cfg := refreshableConfig(srv.URL)
	cfg.Expiry = time.Now().Add(RefreshMargin / 2)
	p := NewProvider(cfg)

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "renewed", token)
	assert.Equal(t, int64(1), hits.Load())
}

func TestTokenRefreshFailurePreservesState(t *testing.T) {
	var hits atomic.Int64
	srv := tokenEndpoint(t, &hits, http.StatusForbidden, `{"error":"invalid_grant"}`)
	defer srv.Close()

	var refreshed bool
	cfg := refreshableConfig(srv.URL)
	cfg.OnRefresh = func(string, int) { refreshed = true }
	p := NewProvider(cfg)

	_, err := p.Token(context.Background())
	require.Error(t, err)
	var refreshErr *base.RefreshError
	assert.ErrorAs(t, err, &refreshErr)
	assert.False(t, refreshed)

	p.mu.Lock()
	assert.Equal(t, "stale", p.cfg.AccessToken)
	p.mu.Unlock()
}

func TestTokenExpiredWithoutRefreshToken(t *testing.T) {
	p := NewProvider(OAuth2{
		Username:    "user@example.com",
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Minute),
	})

	_, err := p.Token(context.Background())
	require.Error(t, err)
	var authErr *base.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestTokenRefreshIsSingleFlight(t *testing.T) {
	var hits atomic.Int64
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write([]byte(`{"access_token":"renewed","expires_in":3600}`))
	}))
	defer slow.Close()

	p := NewProvider(refreshableConfig(slow.URL))

	const callers = 8
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := p.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), hits.Load())
	for _, token := range tokens {
		assert.Equal(t, "renewed", token)
	}
}
