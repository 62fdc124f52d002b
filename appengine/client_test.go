package appengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/agentuity/go-aeauth/appengine/aetest"
	"github.com/agentuity/go-aeauth/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://my-app.appspot.com", "https://my-app.appspot.com/"},
		{"https://my-app.appspot.com/", "https://my-app.appspot.com/"},
		{"http://localhost:8080/app", "http://localhost:8080/app/"},
		{"http://localhost:8080/app/", "http://localhost:8080/app/"},
	}
	for _, tt := range tests {
		got := NormalizeEndpoint(tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, got, NormalizeEndpoint(got), "normalization is idempotent")

		c, err := New(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.Endpoint())
	}
}

func TestNewRejectsInvalidEndpoints(t *testing.T) {
	for _, endpoint := range []string{"my-app.appspot.com", "ftp://my-app.appspot.com", "https://", "http://[::1"} {
		_, err := New(endpoint)
		assert.Error(t, err, endpoint)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := New("https://my-app.appspot.com")
	require.NoError(t, err)
	assert.False(t, c.Ready())
	assert.True(t, c.FollowsRedirects())
	assert.Empty(t, c.Cookies())
	assert.Equal(t, UserAgent(), c.userAgent)
	assert.Equal(t, DefaultContinueURL, c.continueURL)
}

func TestLoginURL(t *testing.T) {
	c, err := New("https://my-app.appspot.com")
	require.NoError(t, err)
	assert.Equal(t,
		"https://my-app.appspot.com/_ah/login?continue=http%3A%2F%2Flocalhost%2F&auth=a%2Bb%2Fc%3D",
		c.loginURL("a+b/c="))

	u, err := url.Parse(c.loginURL("a+b/c="))
	require.NoError(t, err)
	assert.Equal(t, "a+b/c=", u.Query().Get("auth"))
	assert.Equal(t, "http://localhost/", u.Query().Get("continue"))
}

func TestGetCarriesSessionCookie(t *testing.T) {
	srv := aetest.NewServer()
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	ctx := context.Background()
	resp, err := c.Get(ctx, "")
	require.NoError(t, err)
	body, err := ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "I don't know you", body)

	require.NoError(t, c.FetchCookies(ctx, "token"))
	require.True(t, c.Ready())

	resp, err = c.Get(ctx, "")
	require.NoError(t, err)
	body, err = ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "Hello, "+aetest.DefaultUser+"!", body)
}

func TestPostSendsFormFields(t *testing.T) {
	srv := aetest.NewServer()
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.FetchCookies(ctx, "token"))

	resp, err := c.Post(ctx, "", url.Values{"testKey1": {"one"}, "testKey2": {"two & more"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := ReadBody(resp)
	require.NoError(t, err)
	assert.Contains(t, body, "testKey1: one\n")
	assert.Contains(t, body, "testKey2: two & more\n")
}

func TestRequestHeaders(t *testing.T) {
	var gotUA, gotType string
	ts := newRecordingServer(t, func(r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotType = r.Header.Get("Content-Type")
	})

	c, err := New(ts, WithUserAgent("probe/1.0"))
	require.NoError(t, err)
	resp, err := c.Post(context.Background(), "submit", url.Values{"a": {"b"}})
	require.NoError(t, err)
	drain(resp)
	assert.Equal(t, "probe/1.0", gotUA)
	assert.Equal(t, "application/x-www-form-urlencoded", gotType)
}

func TestRequestTransportFailure(t *testing.T) {
	srv := aetest.NewServer()
	c, err := New(srv.URL)
	require.NoError(t, err)
	srv.Close()

	_, err = c.Get(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequest)
	assert.NotErrorIs(t, err, ErrCookie)
	assert.Equal(t, KindTransportFailure, KindOf(err))

	_, err = c.Post(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrRequest)
}

func TestRequestFollowsRedirects(t *testing.T) {
	srv := aetest.NewServer()
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	resp, err := c.Get(context.Background(), "redirect")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "I don't know you", body)
}

func TestWithHTTPClientAndTimeout(t *testing.T) {
	base := &http.Client{Timeout: 3 * time.Second}
	c, err := New("https://my-app.appspot.com", WithHTTPClient(base))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, c.http.Timeout)
	assert.Nil(t, base.Jar, "base client is not modified")

	c, err = New("https://my-app.appspot.com", WithHTTPClient(base), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.http.Timeout)
}

func TestReadBodyWithoutResponse(t *testing.T) {
	_, err := ReadBody(nil)
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, OpReadBody, e.Op)
	assert.NotErrorIs(t, err, ErrRequest)
}

func TestLogsDoNotContainToken(t *testing.T) {
	srv := aetest.NewServer(aetest.WithLoginStatus(http.StatusForbidden))
	defer srv.Close()

	log := logger.NewTestLogger()
	c, err := New(srv.URL, WithLogger(log))
	require.NoError(t, err)

	const token = "very-secret-identity-token"
	err = c.FetchCookies(context.Background(), token)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), token)
	assert.NotEmpty(t, log.Logs())
	assert.False(t, log.Contains(token))
}

func newRecordingServer(t *testing.T, fn func(*http.Request)) string {
	t.Helper()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(r)
		w.WriteHeader(http.StatusNoContent)
	})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts.URL
}
