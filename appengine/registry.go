package appengine

import "sync"

// Registry holds the current Client of an application. Create it once at
// startup and pass it to whatever makes authenticated requests.
//
// One mutex guards the current reference and the readiness of every client
// the registry created, so Current observes construction and handshake
// completion consistently.
type Registry struct {
	mu      sync.Mutex
	current *Client
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Create builds a Client for endpoint and makes it the current one. The new
// client is not ready, so Current returns nil until its handshake succeeds.
func (r *Registry) Create(endpoint string, opts ...Option) (*Client, error) {
	c, err := newClient(endpoint, &r.mu, opts...)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.current = c
	r.mu.Unlock()
	return c, nil
}

// Current returns the most recently created client if it is ready, else nil.
func (r *Registry) Current() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.ready {
		return r.current
	}
	return nil
}
