// Package aetest runs a fake App Engine application for tests.
//
// The server implements the login handler the way production does it: a
// valid token is answered with a 302 to the continue URL and a SACSID
// session cookie. Its root handler greets the signed in user on GET and
// echoes testKey1 and testKey2 on POST. /redirect redirects to the root.
package aetest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultUser is the user every token signs in as unless WithUser restricts
// the accepted tokens.
const DefaultUser = "test@example.com"

// Server is a fake App Engine application.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	status      int
	setCookie   bool
	delay       time.Duration
	users       map[string]string
	sessions    map[string]string
	logins      []string
	inflight    int
	maxInflight int
}

// Option configures a Server.
type Option func(*Server)

// WithLoginStatus makes the login handler answer with code instead of 302.
func WithLoginStatus(code int) Option {
	return func(s *Server) { s.status = code }
}

// WithoutSessionCookie makes the login handler redirect without setting
// SACSID.
func WithoutSessionCookie() Option {
	return func(s *Server) { s.setCookie = false }
}

// WithUser accepts token as user. Once any user is registered, unknown
// tokens are redirected without a session cookie.
func WithUser(token, user string) Option {
	return func(s *Server) {
		if s.users == nil {
			s.users = make(map[string]string)
		}
		s.users[token] = user
	}
}

// WithLoginDelay holds every login request for d.
func WithLoginDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// NewServer starts a Server. Close it when done.
func NewServer(opts ...Option) *Server {
	s := &Server{
		status:    http.StatusFound,
		setCookie: true,
		sessions:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/_ah/login", s.login)
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})
	mux.HandleFunc("/", s.root)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetLoginStatus changes the login status code of a running server.
func (s *Server) SetLoginStatus(code int) {
	s.mu.Lock()
	s.status = code
	s.mu.Unlock()
}

// Logins returns every auth token the login handler received, in order.
func (s *Server) Logins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logins...)
}

// MaxConcurrentLogins returns the largest number of login requests that
// were in flight at once.
func (s *Server) MaxConcurrentLogins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInflight
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("auth")
	next := r.URL.Query().Get("continue")

	s.mu.Lock()
	s.logins = append(s.logins, token)
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	status, setCookie, delay := s.status, s.setCookie, s.delay
	user, known := DefaultUser, token != ""
	if s.users != nil {
		user, known = s.users[token]
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != http.StatusFound {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if setCookie && known {
		value := uuid.NewString()
		s.mu.Lock()
		s.sessions[value] = user
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "SACSID", Value: value, Path: "/", HttpOnly: true})
	}
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusFound)
}

func (s *Server) user(r *http.Request) (string, bool) {
	ck, err := r.Cookie("SACSID")
	if err != nil {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.sessions[ck.Value]
	return user, ok
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	user, ok := s.user(r)
	switch r.Method {
	case http.MethodGet:
		if !ok {
			fmt.Fprint(w, "I don't know you")
			return
		}
		fmt.Fprintf(w, "Hello, %s!", user)
	case http.MethodPost:
		if !ok {
			http.Error(w, "I don't know you, don't POST to me", http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, "Hello, %s!\ntestKey1: %s\ntestKey2: %s\n", user, r.PostForm.Get("testKey1"), r.PostForm.Get("testKey2"))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
