package flow

import (
	"github.com/agentuity/go-aeauth/provider"
	"github.com/cockroachdb/errors"
)

// ErrConsentRequired is matched by the error Step returns while the user
// has not approved access. Use errors.As with *ConsentError to get the
// request to show.
var ErrConsentRequired = errors.New("flow: user consent required")

// ErrFailed is returned by Step once the flow has failed; the cause is
// available from Result.
var ErrFailed = errors.New("flow: failed")

// ConsentError carries the provider's consent request.
type ConsentError struct {
	Request *provider.ConsentRequest
}

func (e *ConsentError) Error() string {
	if e.Request != nil && e.Request.URL != "" {
		return ErrConsentRequired.Error() + ": " + e.Request.URL
	}
	return ErrConsentRequired.Error()
}

func (e *ConsentError) Is(target error) bool {
	return target == ErrConsentRequired
}
