// Package client talks to the session relay the way a browser tab would:
// cookies live in a jar and are never inspected.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"familybudget/internal/core"
	"familybudget/internal/log"
)

var (
	// ErrUnauthenticated means the relay did not accept the session.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrUnavailable means the relay or the backend could not be reached.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrNotFound means the backend has no such expense.
	ErrNotFound = errors.New("expense not found")
)

const maxBody = 10 << 20

// StatusError is a non-2xx answer from the relay.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("%s failed: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.Status, msg)
}

// Is maps well-known statuses onto the sentinel errors.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthenticated:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrUnavailable:
		return unavailableStatus(e.Status)
	}
	return false
}

func unavailableStatus(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

// User is the identity returned by the relay. Only presence matters to
// callers; the fields are informational.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Client is one tab's view of the relay.
type Client struct {
	base   *url.URL
	hc     *http.Client
	logger *log.Logger
	now    func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent(log.ComponentClient) }
}

// WithTransport replaces the round tripper, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.hc.Transport = rt }
}

// New creates a client for the relay at relayURL with an empty cookie jar.
func New(relayURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(relayURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse relay URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("relay URL %q must be absolute", relayURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := &Client{
		base:   u,
		hc:     &http.Client{Jar: jar, Timeout: 15 * time.Second},
		logger: log.Discard().WithComponent(log.ComponentClient),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login posts credentials. On success the relay's session cookie lands in
// the jar.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return err
	}
	_, err = c.do(ctx, log.OpLogin, http.MethodPost, "/auth/login", nil, body)
	return err
}

// Me asks who the session belongs to. Any non-2xx answer other than an
// outage is ErrUnauthenticated, as is a 2xx answer without a user.
func (c *Client) Me(ctx context.Context) (User, error) {
	raw, err := c.do(ctx, log.OpIdentity, http.MethodGet, "/auth/me", nil, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && !unavailableStatus(se.Status) {
			return User{}, ErrUnauthenticated
		}
		return User{}, err
	}

	var env struct {
		User *User `json:"user"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || env.User == nil {
		return User{}, ErrUnauthenticated
	}
	return *env.User, nil
}

// List fetches up to limit expenses in the given sort order.
func (c *Client) List(ctx context.Context, limit int, sort string) ([]core.Expense, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", sort)

	raw, err := c.do(ctx, log.OpList, http.MethodGet, "/expenses", q, nil)
	if err != nil {
		return nil, err
	}
	items, skipped, err := core.DecodeList(raw, c.now())
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		c.logger.WarnContext(ctx, "Skipped expenses without id", log.FieldCount, skipped)
	}
	return items, nil
}

// Create sends a new expense and returns the backend's record.
func (c *Client) Create(ctx context.Context, d core.Draft) (core.Expense, error) {
	body, err := core.EncodeDraft(d)
	if err != nil {
		return core.Expense{}, err
	}
	raw, err := c.do(ctx, log.OpCreate, http.MethodPost, "/expenses", nil, body)
	if err != nil {
		return core.Expense{}, err
	}
	return core.DecodeExpense(raw, d, c.now())
}

// Update replaces title, amount and category of an expense.
func (c *Client) Update(ctx context.Context, id core.ID, d core.Draft) (core.Expense, error) {
	body, err := core.EncodeDraft(d)
	if err != nil {
		return core.Expense{}, err
	}
	raw, err := c.do(ctx, log.OpUpdate, http.MethodPatch, "/expenses/"+url.PathEscape(id.String()), nil, body)
	if err != nil {
		return core.Expense{}, err
	}
	e, err := core.DecodeExpense(raw, d, c.now())
	if errors.Is(err, core.ErrMissingID) {
		// Some backends answer an update with a bare acknowledgement.
		d = d.Clean()
		return core.Expense{ID: id, Title: d.Title, Amount: d.Amount, Category: d.Category}, nil
	}
	return e, err
}

// Delete removes an expense.
func (c *Client) Delete(ctx context.Context, id core.ID) error {
	_, err := c.do(ctx, log.OpDelete, http.MethodDelete, "/expenses/"+url.PathEscape(id.String()), nil, nil)
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body []byte) ([]byte, error) {
	target := *c.base
	target.Path = c.base.Path + path
	if p, err := url.PathUnescape(path); err == nil {
		target.Path = c.base.Path + p
		target.RawPath = c.base.EscapedPath() + path
	}
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.WarnContext(ctx, "Relay unreachable", log.FieldOperation, op, log.FieldError, err)
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}

	c.logger.DebugContext(ctx, "Relay call completed",
		log.NewFields().WithOperation(op).WithHTTPResponse(resp.StatusCode, time.Since(start).Milliseconds()).ToSlice()...)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
