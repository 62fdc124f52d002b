package appengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-aeauth/appengine/aetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCookiesSuccess(t *testing.T) {
	srv := aetest.NewServer()
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	require.True(t, c.FollowsRedirects())

	require.NoError(t, c.FetchCookies(context.Background(), "fresh-token"))
	assert.True(t, c.Ready())
	assert.True(t, c.FollowsRedirects())
	assert.Equal(t, []string{"fresh-token"}, srv.Logins())

	var names []string
	for _, ck := range c.Cookies() {
		names = append(names, ck.Name)
	}
	assert.Contains(t, names, SessionCookieName)
}

func TestFetchCookiesDoesNotFollowRedirect(t *testing.T) {
	var continued bool
	mux := http.NewServeMux()
	mux.HandleFunc("/_ah/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: "abc", Path: "/"})
		http.Redirect(w, r, "/continued", http.StatusFound)
	})
	mux.HandleFunc("/continued", func(w http.ResponseWriter, r *http.Request) {
		continued = true
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, err := New(ts.URL, WithContinueURL(ts.URL+"/continued"))
	require.NoError(t, err)
	require.NoError(t, c.FetchCookies(context.Background(), "token"))
	assert.True(t, c.Ready())
	assert.False(t, continued)
}

func TestFetchCookiesUnexpectedStatus(t *testing.T) {
	srv := aetest.NewServer(aetest.WithLoginStatus(http.StatusOK))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	err = c.FetchCookies(context.Background(), "token")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCookie)
	assert.NotErrorIs(t, err, ErrRequest)
	assert.False(t, c.Ready())
	assert.True(t, c.FollowsRedirects())

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindInvalidResponseStatus, e.Kind)
	assert.Equal(t, http.StatusOK, e.StatusCode)
	assert.Equal(t, "OK", e.Reason)
	assert.Contains(t, err.Error(), "response code: 200, message: OK")
}

func TestFetchCookiesRedirectWithoutSessionCookie(t *testing.T) {
	srv := aetest.NewServer(aetest.WithoutSessionCookie())
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	assert.NoError(t, c.FetchCookies(context.Background(), "token"))
	assert.False(t, c.Ready())
	assert.True(t, c.FollowsRedirects())
}

func TestFetchCookiesTransportFailure(t *testing.T) {
	srv := aetest.NewServer()
	c, err := New(srv.URL)
	require.NoError(t, err)
	srv.Close()

	err = c.FetchCookies(context.Background(), "token")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCookie)
	assert.Equal(t, KindTransportFailure, KindOf(err))
	assert.False(t, c.Ready())
	assert.True(t, c.FollowsRedirects())
}

func TestFetchCookiesContextCanceled(t *testing.T) {
	srv := aetest.NewServer()
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.FetchCookies(ctx, "token")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrCookie)
	assert.Equal(t, KindTransportFailure, KindOf(err))
	assert.Empty(t, srv.Logins())
}

func TestRedirectsFollowedAfterFailedHandshake(t *testing.T) {
	srv := aetest.NewServer(aetest.WithLoginStatus(http.StatusInternalServerError))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	require.Error(t, c.FetchCookies(context.Background(), "token"))

	resp, err := c.Get(context.Background(), "redirect")
	require.NoError(t, err)
	drain(resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "redirect was followed")
	assert.Equal(t, "/", resp.Request.URL.Path)
}

func TestRedirectsFollowedAfterSuccessfulHandshake(t *testing.T) {
	srv := aetest.NewServer()
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.FetchCookies(context.Background(), "token"))

	resp, err := c.Get(context.Background(), "redirect")
	require.NoError(t, err)
	body, err := ReadBody(resp)
	require.NoError(t, err)
	assert.Equal(t, "Hello, "+aetest.DefaultUser+"!", body)
}

func TestRedirectsFollowedDuringHandshake(t *testing.T) {
	srv := aetest.NewServer(aetest.WithLoginDelay(300 * time.Millisecond))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.FetchCookies(context.Background(), "token") }()

	require.Eventually(t, func() bool { return len(srv.Logins()) == 1 }, time.Second, 5*time.Millisecond)
	resp, err := c.Get(context.Background(), "redirect")
	require.NoError(t, err)
	drain(resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Request.URL.Path)
	assert.True(t, c.FollowsRedirects())

	require.NoError(t, <-done)
	assert.True(t, c.Ready())
}

func TestWithoutRedirectsMarksContext(t *testing.T) {
	ctx := context.Background()
	assert.True(t, followsRedirects(ctx))
	assert.False(t, followsRedirects(withoutRedirects(ctx)))
	assert.True(t, followsRedirects(ctx), "parent context is unchanged")
}

func TestFetchCookiesReplay(t *testing.T) {
	srv := aetest.NewServer()
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	for _, token := range []string{"first", "second"} {
		require.NoError(t, c.FetchCookies(context.Background(), token))
		assert.True(t, c.Ready())
	}
	assert.Equal(t, []string{"first", "second"}, srv.Logins())
}

func TestFetchCookiesFailureKeepsReadiness(t *testing.T) {
	srv := aetest.NewServer()
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	require.NoError(t, c.FetchCookies(context.Background(), "token"))
	require.True(t, c.Ready())

	srv.SetLoginStatus(http.StatusServiceUnavailable)
	require.Error(t, c.FetchCookies(context.Background(), "token"))
	assert.True(t, c.Ready(), "readiness never reverts")
}

func TestConcurrentFetchCookiesAreSerialized(t *testing.T) {
	srv := aetest.NewServer(aetest.WithLoginDelay(20 * time.Millisecond))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.FetchCookies(context.Background(), "token"))
		}()
	}
	wg.Wait()

	assert.Len(t, srv.Logins(), 5)
	assert.Equal(t, 1, srv.MaxConcurrentLogins())
	assert.True(t, c.Ready())
	assert.True(t, c.FollowsRedirects())
}

func TestReasonPhrase(t *testing.T) {
	assert.Equal(t, "Found", reasonPhrase(&http.Response{Status: "302 Found", StatusCode: 302}))
	assert.Equal(t, "Not Found", reasonPhrase(&http.Response{Status: "404", StatusCode: 404}))
	assert.Equal(t, "Custom Reason", reasonPhrase(&http.Response{Status: "418 Custom Reason", StatusCode: 418}))
}
