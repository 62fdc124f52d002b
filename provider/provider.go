// Package provider supplies identity tokens to the login flow.
//
// Tokens are single use. A TokenProvider may hand out a cached token that
// has already expired, which is why the flow always invalidates the first
// token it receives and asks for another one before the handshake.
package provider

import (
	"context"

	"github.com/cockroachdb/errors"
)

// DefaultScope is the token scope App Engine accepts on its login handler.
const DefaultScope = "ah"

// ErrNoToken is returned when a provider produced neither a token nor a
// consent request.
var ErrNoToken = errors.New("provider: no token")

// ConsentRequest describes what the user has to approve before a provider
// can issue tokens. The caller shows it, waits for the user and asks again.
type ConsentRequest struct {
	Account string
	Scope   string
	URL     string
	Message string
}

// Result is what Token returns: either a token or a consent request.
type Result struct {
	Token   string
	Consent *ConsentRequest
}

// NeedsConsent reports whether the user has to act before a token is issued.
func (r Result) NeedsConsent() bool {
	return r.Consent != nil
}

// TokenProvider issues and invalidates identity tokens.
type TokenProvider interface {
	// Token returns a token for scope without prompting the user. When the
	// user must first approve access it returns a Result with Consent set.
	Token(ctx context.Context, scope string) (Result, error)
	// Invalidate discards token so the next Token call returns a fresh one.
	Invalidate(ctx context.Context, token string) error
}

// Check validates a Result returned by a provider.
func Check(res Result, err error) (Result, error) {
	if err != nil {
		return Result{}, err
	}
	if res.Token == "" && res.Consent == nil {
		return Result{}, ErrNoToken
	}
	return res, nil
}
