package appengine

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/agentuity/go-aeauth/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// SessionCookieName is the App Engine session cookie.
	SessionCookieName = "SACSID"
	// LoginPath is the login handler, relative to the endpoint.
	LoginPath = "_ah/login"
	// DefaultContinueURL is where the login handler would redirect to. The
	// redirect is never followed.
	DefaultContinueURL = "http://localhost/"
)

var tracer = otel.Tracer("github.com/agentuity/go-aeauth/appengine")

// FetchCookies trades token for an App Engine session cookie. It requests
// the login handler without following redirects and expects a 302. When the
// session cookie is then present in the jar the client becomes ready.
//
// A 302 without the cookie returns nil and leaves the client not ready;
// callers should check Ready. Every other outcome is an error matching
// ErrCookie. Failures are not retried.
func (c *Client) FetchCookies(ctx context.Context, token string) error {
	c.handshake.Lock()
	defer c.handshake.Unlock()

	ctx, span := tracer.Start(ctx, "appengine.FetchCookies",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("appengine.endpoint", c.endpoint)),
	)
	defer span.End()

	if err := c.probe(withoutRedirects(ctx), token); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Bool("appengine.ready", c.Ready()))
	return nil
}

type noRedirectsKey struct{}

// withoutRedirects marks ctx so that the client hands redirects of requests
// made with it back to the caller. The mark ends with the request.
func withoutRedirects(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRedirectsKey{}, true)
}

func followsRedirects(ctx context.Context) bool {
	off, _ := ctx.Value(noRedirectsKey{}).(bool)
	return !off
}

func (c *Client) loginURL(token string) string {
	return c.endpoint + LoginPath +
		"?continue=" + url.QueryEscape(c.continueURL) +
		"&auth=" + url.QueryEscape(token)
}

func (c *Client) probe(ctx context.Context, token string) error {
	u := c.loginURL(token)
	masked := logger.MaskURL(u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return NewCookieError(KindUnknown, masked, redact(err, masked))
	}
	c.logger.Debug("requesting login: %s", masked)
	resp, err := c.do(req)
	if err != nil {
		err = redact(err, masked)
		c.logger.Error("login request failed: %s", err)
		return NewCookieError(KindTransportFailure, masked, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusFound {
		reason := reasonPhrase(resp)
		c.logger.Error("did not receive redirect, response code: %d, message: %s", resp.StatusCode, reason)
		return &Error{
			Op:         OpFetchCookies,
			Kind:       KindInvalidResponseStatus,
			URL:        masked,
			StatusCode: resp.StatusCode,
			Reason:     reason,
		}
	}

	if c.hasSessionCookie(req.URL) {
		c.logger.Info("found %s cookie", SessionCookieName)
		c.markReady()
		return nil
	}
	c.logger.Warn("login redirected without setting %s", SessionCookieName)
	return nil
}

// hasSessionCookie looks for the session cookie among the cookies the jar
// holds for the endpoint and for the login URL itself.
func (c *Client) hasSessionCookie(login *url.URL) bool {
	for _, u := range []*url.URL{c.base, login} {
		for _, ck := range c.jar.Cookies(u) {
			if ck.Name == SessionCookieName {
				return true
			}
		}
	}
	return false
}

func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		return http.StatusText(resp.StatusCode)
	}
	return reason
}
