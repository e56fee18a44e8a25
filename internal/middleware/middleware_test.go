package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustgate/trustgate/internal/config"
	"github.com/trustgate/trustgate/internal/logger"
	"github.com/trustgate/trustgate/internal/store"
)

func newTestMiddleware(keys []string) (*Middleware, *store.Memory) {
	mem := store.NewMemory()
	cfg := &config.Config{}
	cfg.API.Keys = keys
	cfg.Security.RateLimiting.Enabled = true
	return New(mem, logger.New("disabled", "json"), cfg), mem
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- API key ---

func TestAPIKeyAcceptsConfiguredKey(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware([]string{"key-one", "key-two"})
	h := mw.APIKey()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rbac/roles", nil)
	req.Header.Set("X-API-Key", "key-two")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyRejects(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware([]string{"key-one"})
	h := mw.APIKey()(okHandler())

	tests := []struct {
		name string
		key  string
	}{
		{"missing header", ""},
		{"wrong key", "key-zero"},
		{"prefix of a configured key", "key-on"},
		{"configured key plus a suffix", "key-one!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rbac/roles", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Contains(t, rec.Body.String(), "unauthorized")
		})
	}
}

func TestAPIKeyDeniesWhenNoKeysConfigured(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware(nil)
	h := mw.APIKey()(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rbac/roles", nil)
	req.Header.Set("X-API-Key", "anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// --- Rate limiting ---

func TestRateLimitEnforcesLimit(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware(nil)
	h := mw.RateLimit(RateLimitConfig{
		Limit:  2,
		Window: time.Minute,
		KeyFn:  RouteKey("verify"),
	})(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestRateLimitScopesByRoute(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware(nil)
	routeA := mw.RateLimit(RateLimitConfig{Limit: 1, Window: time.Minute, KeyFn: RouteKey("a")})(okHandler())
	routeB := mw.RateLimit(RateLimitConfig{Limit: 1, Window: time.Minute, KeyFn: RouteKey("b")})(okHandler())

	rec := httptest.NewRecorder()
	routeA.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/a", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	routeA.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/a", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Exhausting one route leaves the other's window untouched
	rec = httptest.NewRecorder()
	routeB.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/b", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	cfg := &config.Config{}
	cfg.Security.RateLimiting.Enabled = false
	mw := New(mem, logger.New("disabled", "json"), cfg)

	h := mw.RateLimit(RateLimitConfig{Limit: 1, Window: time.Minute, KeyFn: RouteKey("a")})(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitFailsOpenOnStoreTrouble(t *testing.T) {
	t.Parallel()

	mw, mem := newTestMiddleware(nil)
	h := mw.RateLimit(RateLimitConfig{Limit: 1, Window: time.Minute, KeyFn: RouteKey("a")})(okHandler())

	// httptest requests carry this fixed RemoteAddr
	key := "ratelimit:a:192.0.2.1:1234"
	require.NoError(t, mem.SetEx(context.Background(), key, "not-a-number", 0))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

// --- CORS ---

func TestCORSAllowsListedOrigin(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware(nil)
	h := mw.CORS([]string{"http://localhost:3000"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSIgnoresUnknownOrigin(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware(nil)
	h := mw.CORS([]string{"http://localhost:3000"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware(nil)
	reached := false
	h := mw.CORS([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	require.False(t, reached)
}

// --- Security headers ---

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware(nil)
	h := mw.SecurityHeaders(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

// --- Request ID ---

func TestRequestIDGenerated(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware(nil)
	var seen string
	h := mw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.NotEmpty(t, seen)
	require.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPreserved(t *testing.T) {
	t.Parallel()

	mw, _ := newTestMiddleware(nil)
	h := mw.RequestID(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "caller-chosen-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "caller-chosen-id", rec.Header().Get("X-Request-ID"))
}
