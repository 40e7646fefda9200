package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	method string
	uri    string
	cookie string
	auth   string
	body   string
}

func newOrigin(t *testing.T) (*httptest.Server, *seenRequest) {
	t.Helper()
	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*seen = seenRequest{
			method: r.Method,
			uri:    r.URL.RequestURI(),
			cookie: r.Header.Get("Cookie"),
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		}
		w.Header().Set("X-Origin", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("from origin"))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestDoIncludesCredentials(t *testing.T) {
	origin, seen := newOrigin(t)
	client, err := NewClient(origin.Client(), origin.URL, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "http://app.local/b.txt?x=1", nil)
	req.Header.Set("Cookie", "session=abc")
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Connection", "keep-alive")

	resp, err := client.Do(context.Background(), req, CredentialsInclude)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Origin"))
	assert.Equal(t, "/b.txt?x=1", seen.uri)
	assert.Equal(t, "session=abc", seen.cookie)
	assert.Equal(t, "Bearer token", seen.auth)
}

func TestDoOmitStripsCredentials(t *testing.T) {
	origin, seen := newOrigin(t)
	client, err := NewClient(origin.Client(), origin.URL, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/b.txt", nil)
	req.Header.Set("Cookie", "session=abc")
	req.Header.Set("Authorization", "Bearer token")

	resp, err := client.Do(context.Background(), req, CredentialsOmit)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, seen.cookie)
	assert.Empty(t, seen.auth)
}

func TestDoForwardsMethodAndBody(t *testing.T) {
	origin, seen := newOrigin(t)
	client, err := NewClient(origin.Client(), origin.URL+"/app/", "")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "/api/save", stringsReader("payload"))
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), req, CredentialsInclude)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.MethodPost, seen.method)
	assert.Equal(t, "/app/api/save", seen.uri)
	assert.Equal(t, "payload", seen.body)
}

func newRedirectingOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			http.Redirect(w, r, "/landing", http.StatusFound)
		default:
			w.Header().Set("X-Accept-Encoding", r.Header.Get("Accept-Encoding"))
			_, _ = w.Write([]byte("landing page"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestForwardReturnsRedirectUnfollowed(t *testing.T) {
	origin := newRedirectingOrigin(t)
	client, err := NewClient(origin.Client(), origin.URL, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	resp, err := client.Forward(context.Background(), req, CredentialsInclude)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/landing", resp.Header.Get("Location"))
	assert.Contains(t, resp.Header.Get("Set-Cookie"), "session=abc")
}

func TestDoFollowsRedirect(t *testing.T) {
	origin := newRedirectingOrigin(t)
	client, err := NewClient(origin.Client(), origin.URL, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	resp, err := client.Do(context.Background(), req, CredentialsSameOrigin)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "landing page", string(body))
}

func TestForwardKeepsAcceptEncoding(t *testing.T) {
	origin := newRedirectingOrigin(t)
	client, err := NewClient(origin.Client(), origin.URL, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/landing", nil)
	req.Header.Set("Accept-Encoding", "br")
	resp, err := client.Forward(context.Background(), req, CredentialsInclude)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "br", resp.Header.Get("X-Accept-Encoding"))
}

func TestDoReturnsTransportError(t *testing.T) {
	origin, _ := newOrigin(t)
	client, err := NewClient(origin.Client(), origin.URL, "")
	require.NoError(t, err)
	origin.Close()

	req := httptest.NewRequest(http.MethodGet, "/b.txt", nil)
	_, err = client.Do(context.Background(), req, CredentialsInclude)
	assert.Error(t, err)
}

func TestNewClientValidatesOrigin(t *testing.T) {
	_, err := NewClient(http.DefaultClient, "not-a-url", "")
	assert.Error(t, err)

	_, err = NewClient(nil, "http://app.local", "")
	assert.Error(t, err)

	client, err := NewClient(http.DefaultClient, "http://app.local", "http://proxy.local:3128")
	require.NoError(t, err)
	assert.NotSame(t, http.DefaultClient, client.http)
}

func TestParseCredentialsMode(t *testing.T) {
	mode, err := ParseCredentialsMode("")
	require.NoError(t, err)
	assert.Equal(t, CredentialsInclude, mode)

	mode, err = ParseCredentialsMode("Same-Origin")
	require.NoError(t, err)
	assert.Equal(t, CredentialsSameOrigin, mode)

	_, err = ParseCredentialsMode("always")
	assert.Error(t, err)
}
