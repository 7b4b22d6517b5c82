// Package relay forwards browser calls to the content backend, carrying the
// session cookie through without interpreting it.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"familybudget/internal/amqp"
	"familybudget/internal/core"
	"familybudget/internal/log"
	"familybudget/internal/session"
)

const (
	maxRequestBody  = 1 << 20  // 1MB
	maxResponseBody = 10 << 20 // 10MB
)

// EventPublisher receives a notification for every mutation the backend
// accepted. Implementations must not block for long.
type EventPublisher interface {
	PublishExpenseChanged(ctx context.Context, msg *amqp.ExpenseChangedMessage) error
}

// Relay is stateless: every request is forwarded on its own.
type Relay struct {
	upstream *url.URL
	client   *http.Client
	events   EventPublisher
	logger   *log.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithHTTPClient replaces the outbound client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) { r.client = c }
}

// WithTimeout bounds every upstream call.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		c := *r.client
		c.Timeout = d
		r.client = &c
	}
}

// WithEventPublisher enables change notifications.
func WithEventPublisher(p EventPublisher) Option {
	return func(r *Relay) { r.events = p }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Relay) { r.logger = l.WithComponent(log.ComponentRelay) }
}

// New builds a relay forwarding to backendURL.
func New(backendURL string, opts ...Option) (*Relay, error) {
	u, err := url.Parse(strings.TrimRight(backendURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend URL %q must be absolute", backendURL)
	}

	r := &Relay{
		upstream: u,
		client: &http.Client{
			Timeout: 10 * time.Second,
			// Redirects are the caller's business; relay them as-is.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		logger: log.Discard().WithComponent(log.ComponentRelay),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register mounts the relay routes on mux. loginGuard, when non-nil, wraps
// the login route only.
func (rl *Relay) Register(mux *http.ServeMux, loginGuard func(http.Handler) http.Handler) {
	var login http.Handler = http.HandlerFunc(rl.Login)
	if loginGuard != nil {
		login = loginGuard(login)
	}
	mux.Handle("POST /auth/login", login)
	mux.HandleFunc("GET /auth/me", rl.Me)
	mux.HandleFunc("GET /expenses", rl.ListExpenses)
	mux.HandleFunc("POST /expenses", rl.CreateExpense)
	mux.HandleFunc("PATCH /expenses/{id}", rl.UpdateExpense)
	mux.HandleFunc("DELETE /expenses/{id}", rl.DeleteExpense)
}

// route describes how one operation is forwarded.
type route struct {
	op         string
	method     string
	path       string
	rawQuery   string
	withBody   bool
	withCookie bool
	noCache    bool
	withGrant  bool
	failure    string
}

// Login forwards credentials. The inbound cookie is not forwarded; a session
// cookie set by the backend is relayed back.
func (rl *Relay) Login(w http.ResponseWriter, r *http.Request) {
	rl.forward(w, r, route{
		op:        log.OpLogin,
		method:    http.MethodPost,
		path:      "/api/users/login",
		withBody:  true,
		withGrant: true,
		failure:   "Login failed",
	})
}

// Me asks the backend who the cookie belongs to.
func (rl *Relay) Me(w http.ResponseWriter, r *http.Request) {
	rl.forward(w, r, route{
		op:         log.OpIdentity,
		method:     http.MethodGet,
		path:       "/api/users/me",
		withCookie: true,
		noCache:    true,
		withGrant:  true,
		failure:    "Auth me failed",
	})
}

// ListExpenses forwards the query string verbatim.
func (rl *Relay) ListExpenses(w http.ResponseWriter, r *http.Request) {
	rl.forward(w, r, route{
		op:         log.OpList,
		method:     http.MethodGet,
		path:       "/api/expenses",
		rawQuery:   r.URL.RawQuery,
		withCookie: true,
		noCache:    true,
		failure:    "List expenses failed",
	})
}

func (rl *Relay) CreateExpense(w http.ResponseWriter, r *http.Request) {
	rl.forward(w, r, route{
		op:         log.OpCreate,
		method:     http.MethodPost,
		path:       "/api/expenses",
		withBody:   true,
		withCookie: true,
		failure:    "Create expense failed",
	})
}

func (rl *Relay) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	rl.forward(w, r, route{
		op:         log.OpUpdate,
		method:     http.MethodPatch,
		path:       "/api/expenses/" + url.PathEscape(r.PathValue("id")),
		withBody:   true,
		withCookie: true,
		failure:    "Update expense failed",
	})
}

func (rl *Relay) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	rl.forward(w, r, route{
		op:         log.OpDelete,
		method:     http.MethodDelete,
		path:       "/api/expenses/" + url.PathEscape(r.PathValue("id")),
		withCookie: true,
		failure:    "Delete expense failed",
	})
}

func (rl *Relay) forward(w http.ResponseWriter, r *http.Request, rt route) {
	ctx := r.Context()
	logger := log.FromContextOr(ctx, rl.logger).WithComponent(log.ComponentRelay)

	var body io.Reader
	if rt.withBody {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		body = bytes.NewReader(raw)
	}

	// rt.path is already escaped; keep both forms so ids containing '/' survive.
	plain, err := url.PathUnescape(rt.path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid path")
		return
	}
	target := *rl.upstream
	target.Path = rl.upstream.Path + plain
	target.RawPath = rl.upstream.EscapedPath() + rt.path
	target.RawQuery = rt.rawQuery

	out, err := http.NewRequestWithContext(ctx, rt.method, target.String(), body)
	if err != nil {
		logger.LogError(ctx, "Build upstream request failed", err, rt.op, nil)
		writeError(w, http.StatusBadGateway, rt.failure)
		return
	}
	out.Header.Set("Accept", "application/json")
	if rt.withBody {
		out.Header.Set("Content-Type", "application/json")
	}
	if rt.noCache {
		out.Header.Set("Cache-Control", "no-cache, no-store")
		out.Header.Set("Pragma", "no-cache")
	}

	cred := session.Credential{}
	if rt.withCookie {
		cred = session.CredentialFromRequest(r)
	}
	cred.Apply(out)

	start := time.Now()
	resp, err := rl.client.Do(out)
	if err != nil {
		logger.LogError(ctx, "Upstream unreachable", err, rt.op, log.NewFields().WithHTTPRequest(rt.method, rt.path, "", ""))
		writeError(w, http.StatusBadGateway, rt.failure)
		return
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		logger.LogError(ctx, "Read upstream response failed", err, rt.op, nil)
		writeError(w, http.StatusBadGateway, rt.failure)
		return
	}
	if len(payload) > maxResponseBody {
		logger.WarnContext(ctx, "Upstream response too large",
			log.FieldOperation, rt.op, log.FieldStatusCode, resp.StatusCode)
		writeError(w, http.StatusBadGateway, rt.failure)
		return
	}

	grant := session.Grant{}
	if rt.withGrant {
		grant = session.GrantFromResponse(resp)
	}
	logger.LogUpstream(ctx, rt.op, resp.StatusCode, time.Since(start).Milliseconds(), cred.Present(), grant.Present())

	grant.WriteTo(w)
	w.Header().Set("Content-Type", "application/json")
	if rt.noCache {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(payload)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		rl.publish(ctx, logger, rt, r, payload, resp.StatusCode)
	}
}

func (rl *Relay) publish(ctx context.Context, logger *log.Logger, rt route, r *http.Request, payload []byte, status int) {
	if rl.events == nil {
		return
	}

	var expenseID string
	switch rt.op {
	case log.OpCreate:
		expenseID = core.DecodeID(payload).String()
	case log.OpUpdate, log.OpDelete:
		expenseID = r.PathValue("id")
	default:
		return
	}

	msg := amqp.NewExpenseChangedMessage(rt.op, expenseID, status)
	if err := rl.events.PublishExpenseChanged(context.WithoutCancel(ctx), msg); err != nil {
		logger.WarnContext(ctx, "Publish expense change failed",
			log.FieldOperation, rt.op,
			log.FieldExpenseID, expenseID,
			log.FieldError, err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
