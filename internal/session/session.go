// Package session carries the browser's authentication cookie between the
// relay's caller and the content backend without ever looking inside it.
package session

import (
	"net/http"
	"strings"
)

// Credential is the inbound Cookie header, kept opaque. It can only be tested
// for presence and forwarded verbatim.
type Credential struct {
	header string
}

// CredentialFromRequest captures the Cookie header of r. Multiple Cookie
// header lines are joined the way HTTP/2 clients split them.
func CredentialFromRequest(r *http.Request) Credential {
	values := r.Header.Values("Cookie")
	if len(values) == 0 {
		return Credential{}
	}
	return Credential{header: strings.Join(values, "; ")}
}

// Present reports whether the caller sent a non-empty cookie.
func (c Credential) Present() bool {
	return strings.TrimSpace(c.header) != ""
}

// Apply sets the Cookie header on an outbound request. When the credential is
// absent the header is removed, so the backend sees an anonymous call rather
// than one with a blank cookie.
func (c Credential) Apply(req *http.Request) {
	if !c.Present() {
		req.Header.Del("Cookie")
		return
	}
	req.Header.Set("Cookie", c.header)
}

func (c Credential) String() string {
	if c.Present() {
		return "credential(present)"
	}
	return "credential(absent)"
}

// GoString redacts the cookie under %#v as well.
func (c Credential) GoString() string {
	return c.String()
}

// Grant holds the Set-Cookie values a backend response carried.
type Grant struct {
	values []string
}

// GrantFromResponse captures every non-empty Set-Cookie value of resp.
func GrantFromResponse(resp *http.Response) Grant {
	var g Grant
	for _, v := range resp.Header.Values("Set-Cookie") {
		if strings.TrimSpace(v) == "" {
			continue
		}
		g.values = append(g.values, v)
	}
	return g
}

// Present reports whether the backend set or rotated a session.
func (g Grant) Present() bool {
	return len(g.values) > 0
}

// WriteTo copies the grant onto w. An absent grant writes nothing: an empty
// Set-Cookie would tell the browser to drop a valid session.
func (g Grant) WriteTo(w http.ResponseWriter) {
	for _, v := range g.values {
		w.Header().Add("Set-Cookie", v)
	}
}

func (g Grant) String() string {
	if g.Present() {
		return "grant(present)"
	}
	return "grant(absent)"
}
