package appengine

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Op names the client operation that failed.
type Op string

const (
	OpFetchCookies Op = "fetch cookies"
	OpGet          Op = "get"
	OpPost         Op = "post"
	OpReadBody     Op = "read body"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is any failure that is not one of the kinds below.
	KindUnknown Kind = iota
	// KindInvalidResponseStatus means the login probe answered with something
	// other than a redirect.
	KindInvalidResponseStatus
	// KindTransportFailure means the request never produced a response.
	KindTransportFailure
	// KindCookieNotFound means the probe redirected but no session cookie was
	// set. FetchCookies does not return it; callers that require readiness do.
	KindCookieNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidResponseStatus:
		return "invalid response status"
	case KindTransportFailure:
		return "transport failure"
	case KindCookieNotFound:
		return "cookie not found"
	default:
		return "unknown"
	}
}

var (
	// ErrCookie matches every error produced by the cookie handshake.
	ErrCookie = errors.New("appengine: cookie handshake failed")
	// ErrRequest matches every error produced by Get and Post.
	ErrRequest = errors.New("appengine: request failed")
)

// Error is the error type returned by Client. URL never contains the raw
// identity token.
type Error struct {
	Op         Op
	Kind       Kind
	URL        string
	StatusCode int
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("appengine: ")
	b.WriteString(string(e.Op))
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	switch e.Kind {
	case KindInvalidResponseStatus:
		fmt.Fprintf(&b, ": did not receive redirect, response code: %d, message: %s", e.StatusCode, e.Reason)
	case KindCookieNotFound:
		fmt.Fprintf(&b, ": no %s cookie after login redirect", SessionCookieName)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrCookie and ErrRequest by operation.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrCookie:
		return e.Op == OpFetchCookies
	case ErrRequest:
		return e.Op == OpGet || e.Op == OpPost
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// NewCookieError builds a handshake error. It is exported for callers that
// enforce readiness on top of FetchCookies.
func NewCookieError(kind Kind, url string, err error) *Error {
	return &Error{Op: OpFetchCookies, Kind: kind, URL: url, Err: err}
}
