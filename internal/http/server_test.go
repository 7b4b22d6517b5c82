package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familybudget/internal/relay"
)

func newTestServer(t *testing.T, backend http.HandlerFunc, loginLimit int) *Server {
	t.Helper()
	up := httptest.NewServer(backend)
	t.Cleanup(up.Close)

	rl, err := relay.New(up.URL)
	require.NoError(t, err)

	srv := NewServer(":0", rl, Options{BackendURL: up.URL, LoginRateLimit: loginLimit})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "203.0.113.5:4000"
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, 10)

	rec := do(srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReady_BackendDown(t *testing.T) {
	rl, err := relay.New("http://127.0.0.1:1")
	require.NoError(t, err)
	srv := NewServer(":0", rl, Options{BackendURL: "http://127.0.0.1:1"})
	defer srv.Shutdown(context.Background())

	rec := do(srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMiddlewareChain(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"docs":[]}`))
	}, 10)

	rec := do(srv, http.MethodGet, "/expenses?limit=5", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, int64(1), srv.Metrics().Requests)
}

func TestLoginRateLimit(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, 2)

	for i := 0; i < 2; i++ {
		rec := do(srv, http.MethodPost, "/auth/login", `{}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := do(srv, http.MethodPost, "/auth/login", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Too many login attempts"}`, rec.Body.String())

	// Other routes are not limited.
	rec = do(srv, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int64(1), srv.Metrics().LoginLimited)
}

func TestUnknownMethod(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {}, 10)

	rec := do(srv, http.MethodPut, "/expenses/1", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {}, 10)
	assert.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, srv.Shutdown(context.Background()))
}
