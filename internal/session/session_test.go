package session

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialForwardedVerbatim(t *testing.T) {
	in := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	in.Header.Set("Cookie", "payload-token=abc.def.ghi; theme=dark")

	cred := CredentialFromRequest(in)
	require.True(t, cred.Present())

	out, err := http.NewRequest(http.MethodGet, "http://backend/api/users/me", nil)
	require.NoError(t, err)
	cred.Apply(out)
	assert.Equal(t, "payload-token=abc.def.ghi; theme=dark", out.Header.Get("Cookie"))
}

func TestAbsentCredentialOmitsHeader(t *testing.T) {
	for _, header := range []string{"", "   "} {
		in := httptest.NewRequest(http.MethodGet, "/expenses", nil)
		if header != "" {
			in.Header.Set("Cookie", header)
		}
		cred := CredentialFromRequest(in)
		assert.False(t, cred.Present())

		out, err := http.NewRequest(http.MethodGet, "http://backend/api/expenses", nil)
		require.NoError(t, err)
		out.Header.Set("Cookie", "stale=1")
		cred.Apply(out)
		_, exists := out.Header["Cookie"]
		assert.False(t, exists, "cookie header must be omitted, not blank")
	}
}

func TestCredentialDoesNotLeakInFormatting(t *testing.T) {
	in := httptest.NewRequest(http.MethodGet, "/", nil)
	in.Header.Set("Cookie", "payload-token=secret")
	cred := CredentialFromRequest(in)

	assert.NotContains(t, fmt.Sprint(cred), "secret")
	assert.NotContains(t, fmt.Sprintf("%v %s", cred, cred), "secret")
	assert.Equal(t, "credential(present)", fmt.Sprintf("%#v", cred))
}

func TestGrantRelaysOnlyRealCookies(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Add("Set-Cookie", "payload-token=new; Path=/; HttpOnly")
	resp.Header.Add("Set-Cookie", "")
	resp.Header.Add("Set-Cookie", "other=1")

	g := GrantFromResponse(resp)
	require.True(t, g.Present())

	rr := httptest.NewRecorder()
	g.WriteTo(rr)
	assert.Equal(t, []string{"payload-token=new; Path=/; HttpOnly", "other=1"}, rr.Header().Values("Set-Cookie"))
}

func TestAbsentGrantWritesNothing(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	g := GrantFromResponse(resp)
	assert.False(t, g.Present())

	rr := httptest.NewRecorder()
	g.WriteTo(rr)
	_, exists := rr.Header()["Set-Cookie"]
	assert.False(t, exists)
}
