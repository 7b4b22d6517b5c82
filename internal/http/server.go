// Package http hosts the session relay behind the usual middleware chain.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"familybudget/internal/log"
	"familybudget/internal/middleware/ratelimit"
	"familybudget/internal/middleware/security"
	"familybudget/internal/middleware/trace"
	"familybudget/internal/relay"
)

// Options configures the relay server.
type Options struct {
	// BackendURL is probed by /readyz.
	BackendURL string
	// LoginRateLimit is the number of login attempts per client per minute.
	LoginRateLimit int
	// BackendTimeout bounds upstream calls; the write timeout is derived from it.
	BackendTimeout time.Duration
	Logger         *log.Logger
}

// Server wraps http.Server with relay-specific lifecycle.
type Server struct {
	http.Server

	backendURL   string
	probe        *http.Client
	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	logger       *log.Logger
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, rl *relay.Relay, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = 10 * time.Second
	}

	s := &Server{
		backendURL: opts.BackendURL,
		probe:      &http.Client{Timeout: 2 * time.Second},
		limiter:    ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.LoginRateLimit}),
		tracer:     trace.NewMiddleware(logger.WithComponent(log.ComponentHTTP), security.ClientIP),
		logger:     logger.WithComponent(log.ComponentHTTP),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	rl.Register(mux, s.limiter.Middleware(security.ClientIP, s.onLoginLimited))

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.APIHeadersConfig()).Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      opts.BackendTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) onLoginLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Login rate limit exceeded",
		log.FieldClientIP, security.ClientIP(r))
	writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many login attempts"})
}

// Shutdown gracefully shuts down the server and its background routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Metrics is a point-in-time view of server counters.
type Metrics struct {
	Requests       int64 `json:"requests"`
	FailedRequests int64 `json:"failed_requests"`
	LoginLimited   int64 `json:"login_limited"`
	TrackedClients int64 `json:"tracked_clients"`
}

// Metrics reports request and rate limit counters.
func (s *Server) Metrics() Metrics {
	t := s.tracer.GetMetrics()
	l := s.limiter.GetMetrics()
	return Metrics{
		Requests:       t.TotalRequests,
		FailedRequests: t.FailedRequests,
		LoginLimited:   l.TotalHits,
		TrackedClients: l.ClientCount,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the backend answers at all. Any HTTP status
// counts as reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodHead, s.backendURL, nil)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": "invalid backend URL"})
		return
	}
	resp, err := s.probe.Do(req)
	if err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Backend not reachable", log.FieldError, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": "backend unreachable"})
		return
	}
	resp.Body.Close()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "metrics": s.Metrics()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
