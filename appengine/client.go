package appengine

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agentuity/go-aeauth/logger"
	"github.com/cockroachdb/errors"
	"golang.org/x/net/publicsuffix"
)

const maxRedirects = 10

// Client is an HTTP session bound to one App Engine application. Cookies set
// by the application, including the session cookie obtained by FetchCookies,
// are kept in the client's jar and sent on every later request.
type Client struct {
	endpoint    string
	base        *url.URL
	http        *http.Client
	jar         http.CookieJar
	logger      logger.Logger
	userAgent   string
	continueURL string

	// handshake serializes FetchCookies on this client.
	handshake sync.Mutex

	// state guards ready. It is the Registry's mutex when the client was
	// created through a Registry.
	state *sync.Mutex
	ready bool
}

type options struct {
	httpClient  *http.Client
	logger      logger.Logger
	userAgent   string
	continueURL string
	timeout     time.Duration
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient uses hc's transport, timeout, jar and redirect policy as
// the base of the session. The client itself is not modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithUserAgent overrides the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithContinueURL overrides the continue parameter of the login probe.
func WithContinueURL(u string) Option {
	return func(o *options) { o.continueURL = u }
}

// WithTimeout bounds every request made by the session.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// NormalizeEndpoint returns endpoint with a trailing slash.
func NormalizeEndpoint(endpoint string) string {
	if strings.HasSuffix(endpoint, "/") {
		return endpoint
	}
	return endpoint + "/"
}

// New returns a Client for the application at endpoint, for example
// https://my-app.appspot.com. The client is not ready until FetchCookies
// has observed a session cookie.
func New(endpoint string, opts ...Option) (*Client, error) {
	return newClient(endpoint, &sync.Mutex{}, opts...)
}

func newClient(endpoint string, state *sync.Mutex, opts ...Option) (*Client, error) {
	o := options{
		logger:      logger.NewNopLogger(),
		userAgent:   UserAgent(),
		continueURL: DefaultContinueURL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	endpoint = NormalizeEndpoint(endpoint)
	base, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "appengine: invalid endpoint %q", endpoint)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, errors.Newf("appengine: endpoint %q must be an absolute http or https URL", endpoint)
	}

	c := &Client{
		endpoint:    endpoint,
		base:        base,
		logger:      o.logger.WithPrefix("[appengine]").With(map[string]interface{}{"endpoint": endpoint}),
		userAgent:   o.userAgent,
		continueURL: o.continueURL,
		state:       state,
	}

	hc := &http.Client{Timeout: o.timeout}
	var next func(*http.Request, []*http.Request) error
	if o.httpClient != nil {
		hc.Transport = o.httpClient.Transport
		hc.Jar = o.httpClient.Jar
		next = o.httpClient.CheckRedirect
		if o.timeout == 0 {
			hc.Timeout = o.httpClient.Timeout
		}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, errors.Wrap(err, "appengine: creating cookie jar")
		}
		hc.Jar = jar
	}
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !followsRedirects(req.Context()) {
			return http.ErrUseLastResponse
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= maxRedirects {
			return errors.Newf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	c.http = hc
	c.jar = hc.Jar
	return c, nil
}

// Endpoint returns the normalized application endpoint.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ready reports whether a session cookie has been obtained.
func (c *Client) Ready() bool {
	c.state.Lock()
	defer c.state.Unlock()
	return c.ready
}

func (c *Client) markReady() {
	c.state.Lock()
	c.ready = true
	c.state.Unlock()
}

// FollowsRedirects reports whether Get and Post follow redirects. Only the
// login probe opts out, per request, so a handshake in flight never changes
// what other requests on the client see.
func (c *Client) FollowsRedirects() bool {
	return followsRedirects(context.Background())
}

// Cookies returns the cookies the session would send to the endpoint.
func (c *Client) Cookies() []*http.Cookie {
	return c.jar.Cookies(c.base)
}

// Get issues a GET for endpoint+path. The caller must close the response
// body. Non-2xx responses are not errors.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	u := c.endpoint + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &Error{Op: OpGet, Kind: KindUnknown, URL: logger.MaskURL(u), Err: err}
	}
	return c.send(req, OpGet)
}

// Post issues a form encoded POST for endpoint+path.
func (c *Client) Post(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	u := c.endpoint + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Op: OpPost, Kind: KindUnknown, URL: logger.MaskURL(u), Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(req, OpPost)
}

func (c *Client) send(req *http.Request, op Op) (*http.Response, error) {
	masked := logger.MaskURL(req.URL.String())
	c.logger.Debug("sending request: %s %s", req.Method, masked)
	resp, err := c.do(req)
	if err != nil {
		err = redact(err, masked)
		c.logger.Error("%s %s failed: %s", req.Method, masked, err)
		return nil, &Error{Op: op, Kind: KindTransportFailure, URL: masked, Err: err}
	}
	c.logger.Debug("response status: %s", resp.Status)
	return resp, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.http.Do(req)
}

// redact replaces the URL recorded by net/http in err, which would otherwise
// carry the identity token into messages and logs.
func redact(err error, masked string) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = masked
	}
	return err
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
