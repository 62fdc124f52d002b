// Package flow drives a TokenProvider and the App Engine cookie handshake
// to authenticate a session.
//
// Identity tokens may be stale when a provider hands them out, so the flow
// always invalidates the first token and fetches a second one before it
// calls FetchCookies:
//
//	need token -> (invalidate, refetch) -> have token -> handshake -> ready
//
// A provider that needs user approval moves the flow to
// StateNeedInteractiveConsent. Step then returns ErrConsentRequired with the
// request; once the user has acted the caller calls Resume and steps again.
package flow

import (
	"context"
	"sync"

	"github.com/agentuity/go-aeauth/appengine"
	"github.com/agentuity/go-aeauth/logger"
	"github.com/agentuity/go-aeauth/provider"
	"github.com/agentuity/go-aeauth/resilience"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("github.com/agentuity/go-aeauth/flow")

// Session is the part of *appengine.Client the flow needs.
type Session interface {
	FetchCookies(ctx context.Context, token string) error
	Ready() bool
	Endpoint() string
}

var _ Session = (*appengine.Client)(nil)

// Result is the outcome of a flow run.
type Result struct {
	State   State
	Attempt string
	Consent *provider.ConsentRequest
	Err     error
}

// OK reports whether the session is ready.
func (r Result) OK() bool {
	return r.State == StateReady
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithScope sets the token scope. The default is provider.DefaultScope.
func WithScope(scope string) Option {
	return func(a *Authenticator) { a.scope = scope }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// WithRetry makes Ensure restart the whole flow, with a fresh token, after a
// transport failure of the handshake. Nothing else is retried.
func WithRetry(config resilience.RetryConfig) Option {
	return func(a *Authenticator) {
		config.RetryableErrors = retryable
		a.retry = &config
	}
}

// Authenticator runs the login flow for one session.
type Authenticator struct {
	session  Session
	provider provider.TokenProvider
	scope    string
	logger   logger.Logger
	retry    *resilience.RetryConfig
	group    singleflight.Group

	step sync.Mutex // serializes Step, Resume and Reset

	mu          sync.Mutex
	state       State
	attempt     string
	invalidated bool
	token       string
	consent     *provider.ConsentRequest
	err         error
}

// New returns an Authenticator in StateNeedToken.
func New(session Session, p provider.TokenProvider, opts ...Option) *Authenticator {
	a := &Authenticator{
		session:  session,
		provider: p,
		scope:    provider.DefaultScope,
		logger:   logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithPrefix("[flow]")
	a.begin()
	return a
}

// State returns the current state.
func (a *Authenticator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Result returns a snapshot of the flow.
func (a *Authenticator) Result() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Result{State: a.state, Attempt: a.attempt, Consent: a.consent, Err: a.err}
}

func (a *Authenticator) set(state State) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

// begin starts a new attempt from StateNeedToken.
func (a *Authenticator) begin() {
	a.mu.Lock()
	a.state = StateNeedToken
	a.attempt = uuid.NewString()
	a.invalidated = false
	a.token = ""
	a.consent = nil
	a.err = nil
	a.mu.Unlock()
}

func (a *Authenticator) fail(err error) (State, error) {
	a.mu.Lock()
	a.state = StateFailed
	a.token = ""
	a.err = err
	a.mu.Unlock()
	a.log().Error("login failed: %s", err)
	return StateFailed, err
}

func (a *Authenticator) log() logger.Logger {
	a.mu.Lock()
	attempt := a.attempt
	a.mu.Unlock()
	return a.logger.With(map[string]interface{}{"attempt": attempt, "endpoint": a.session.Endpoint()})
}

// Step performs one transition and returns the new state. It returns an
// error matching ErrConsentRequired while consent is pending, and the cause
// of the failure once the flow has failed. Steps on a terminal flow do
// nothing.
func (a *Authenticator) Step(ctx context.Context) (State, error) {
	a.step.Lock()
	defer a.step.Unlock()

	a.mu.Lock()
	state, token, consent, invalidated, ferr := a.state, a.token, a.consent, a.invalidated, a.err
	a.mu.Unlock()

	switch state {
	case StateNeedToken:
		return a.fetch(ctx, invalidated)
	case StateNeedInteractiveConsent:
		return state, &ConsentError{Request: consent}
	case StateHaveToken:
		return a.handshake(ctx, token)
	case StateFailed:
		return state, errors.Mark(ferr, ErrFailed)
	default:
		return state, nil
	}
}

func (a *Authenticator) fetch(ctx context.Context, invalidated bool) (State, error) {
	log := a.log()
	res, err := provider.Check(a.provider.Token(ctx, a.scope))
	if err != nil {
		if invalidated {
			return a.fail(errors.Wrap(err, "flow: fetching fresh token"))
		}
		return a.fail(errors.Wrap(err, "flow: fetching token"))
	}
	if res.NeedsConsent() {
		log.Info("provider needs user consent for scope %s", a.scope)
		a.mu.Lock()
		a.state = StateNeedInteractiveConsent
		a.consent = res.Consent
		a.mu.Unlock()
		return StateNeedInteractiveConsent, &ConsentError{Request: res.Consent}
	}
	if !invalidated {
		log.Debug("discarding first token %s", logger.Mask(res.Token))
		if err := a.provider.Invalidate(ctx, res.Token); err != nil {
			return a.fail(errors.Wrap(err, "flow: invalidating token"))
		}
		a.mu.Lock()
		a.invalidated = true
		a.mu.Unlock()
		return StateNeedToken, nil
	}
	a.mu.Lock()
	a.state = StateHaveToken
	a.token = res.Token
	a.mu.Unlock()
	return StateHaveToken, nil
}

func (a *Authenticator) handshake(ctx context.Context, token string) (State, error) {
	a.set(StateHandshakeInFlight)
	log := a.log()
	log.Debug("fetching session cookie")

	err := a.session.FetchCookies(ctx, token)
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
	if err != nil {
		return a.fail(err)
	}
	if !a.session.Ready() {
		return a.fail(appengine.NewCookieError(appengine.KindCookieNotFound, a.session.Endpoint(), nil))
	}
	a.set(StateReady)
	log.Info("session ready")
	return StateReady, nil
}

// Resume continues after the user approved access. The flow starts over
// from StateNeedToken, so the token issued after consent is also discarded
// once. Resume does nothing in other states.
func (a *Authenticator) Resume() {
	a.step.Lock()
	defer a.step.Unlock()
	if a.State() == StateNeedInteractiveConsent {
		a.begin()
	}
}

// Reset abandons the current attempt and starts a new one.
func (a *Authenticator) Reset() {
	a.step.Lock()
	defer a.step.Unlock()
	a.begin()
}

// Run steps until the flow is terminal or waits for consent.
func (a *Authenticator) Run(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "flow.Run")
	defer span.End()

	for {
		state, err := a.Step(ctx)
		if err != nil || state.Terminal() {
			res := a.Result()
			span.SetAttributes(
				attribute.String("flow.attempt", res.Attempt),
				attribute.String("flow.state", res.State.String()),
			)
			if err != nil && !errors.Is(err, ErrConsentRequired) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return res, err
		}
	}
}

// Ensure makes the session ready, starting a new flow when it is not.
// Concurrent callers share one flow. With WithRetry, a handshake transport
// failure restarts the flow from scratch.
func (a *Authenticator) Ensure(ctx context.Context) error {
	if a.session.Ready() {
		return nil
	}
	_, err, _ := a.group.Do("ensure", func() (interface{}, error) {
		if a.session.Ready() {
			return nil, nil
		}
		return nil, a.ensure(ctx)
	})
	return err
}

func (a *Authenticator) ensure(ctx context.Context) error {
	once := func() error {
		if a.State().Terminal() {
			a.Reset()
		}
		_, err := a.Run(ctx)
		return err
	}
	if a.retry == nil {
		return once()
	}
	stats, err := resilience.RetryWithStats(ctx, *a.retry, once)
	if stats.TotalRetries > 0 {
		a.log().Debug("login took %d attempts", stats.TotalAttempts)
	}
	return err
}

func retryable(err error) bool {
	if !resilience.DefaultRetryableErrors(err) {
		return false
	}
	return appengine.KindOf(err) == appengine.KindTransportFailure
}
