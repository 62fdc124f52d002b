package flow

// State is a phase of the login flow.
type State int

const (
	// StateNeedToken means the next step asks the provider for a token.
	StateNeedToken State = iota
	// StateNeedInteractiveConsent means the user has to approve access.
	// Step keeps returning ErrConsentRequired until Resume is called.
	StateNeedInteractiveConsent
	// StateHaveToken means a fresh token is ready for the handshake.
	StateHaveToken
	// StateHandshakeInFlight is visible to State while FetchCookies runs.
	StateHandshakeInFlight
	// StateReady is terminal: the session holds its cookie.
	StateReady
	// StateFailed is terminal: Err explains why.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNeedToken:
		return "need token"
	case StateNeedInteractiveConsent:
		return "need interactive consent"
	case StateHaveToken:
		return "have token"
	case StateHandshakeInFlight:
		return "handshake in flight"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further step changes s.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}
