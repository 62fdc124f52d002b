package provider

import (
	"context"
	"sync"
)

// Static hands out a fixed list of tokens in order and keeps returning the
// last one once the list is used up. Invalidated tokens are recorded.
type Static struct {
	mu          sync.Mutex
	tokens      []string
	next        int
	invalidated []string
}

var _ TokenProvider = (*Static)(nil)

// NewStatic returns a Static provider for tokens.
func NewStatic(tokens ...string) *Static {
	return &Static{tokens: tokens}
}

func (s *Static) Token(ctx context.Context, scope string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return Result{}, ErrNoToken
	}
	tok := s.tokens[s.next]
	if s.next < len(s.tokens)-1 {
		s.next++
	}
	return Result{Token: tok}, nil
}

func (s *Static) Invalidate(ctx context.Context, token string) error {
	s.mu.Lock()
	s.invalidated = append(s.invalidated, token)
	s.mu.Unlock()
	return nil
}

// Invalidated returns every token passed to Invalidate, in order.
func (s *Static) Invalidated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.invalidated...)
}
