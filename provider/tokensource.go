package provider

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/oauth2"
)

// consentErrorCodes are OAuth2 error codes that mean the user has to act.
var consentErrorCodes = map[string]bool{
	"consent_required":     true,
	"interaction_required": true,
	"login_required":       true,
}

// TokenSource adapts an oauth2.TokenSource. Tokens are cached until they
// expire or are invalidated. Its scope argument is ignored since an
// oauth2.TokenSource is bound to its scopes when it is built.
type TokenSource struct {
	// Field selects the token string: "access_token" (the default) or an
	// extra field such as "id_token".
	Field string

	mu     sync.Mutex
	base   oauth2.TokenSource
	cached oauth2.TokenSource
}

var _ TokenProvider = (*TokenSource)(nil)

// FromTokenSource wraps ts.
func FromTokenSource(ts oauth2.TokenSource) *TokenSource {
	return &TokenSource{base: ts, cached: oauth2.ReuseTokenSource(nil, ts)}
}

// FromRefreshToken returns a TokenSource that redeems refreshToken at the
// token endpoint of cfg. Invalidate makes the next Token call redeem it
// again. ctx carries the HTTP client, see oauth2.HTTPClient.
func FromRefreshToken(ctx context.Context, cfg *oauth2.Config, refreshToken string) *TokenSource {
	return FromTokenSource(refreshSource{ctx: ctx, cfg: cfg, refreshToken: refreshToken})
}

// refreshSource redeems the refresh token on every call. The source returned
// by oauth2.Config.TokenSource caches, which would survive Invalidate.
type refreshSource struct {
	ctx          context.Context
	cfg          *oauth2.Config
	refreshToken string
}

func (r refreshSource) Token() (*oauth2.Token, error) {
	return r.cfg.TokenSource(r.ctx, &oauth2.Token{RefreshToken: r.refreshToken}).Token()
}

func (s *TokenSource) Token(ctx context.Context, scope string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	ts := s.cached
	s.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && consentErrorCodes[re.ErrorCode] {
			return Result{Consent: &ConsentRequest{
				Scope:   scope,
				URL:     re.ErrorURI,
				Message: re.ErrorDescription,
			}}, nil
		}
		return Result{}, errors.Wrap(err, "provider: token source")
	}
	value := tok.AccessToken
	if s.Field != "" && s.Field != "access_token" {
		value, _ = tok.Extra(s.Field).(string)
	}
	if value == "" {
		return Result{}, ErrNoToken
	}
	return Result{Token: value}, nil
}

// Invalidate drops the cached token. The oauth2 package has no revocation
// hook, so the next Token call goes back to the underlying source.
func (s *TokenSource) Invalidate(ctx context.Context, token string) error {
	s.mu.Lock()
	s.cached = oauth2.ReuseTokenSource(nil, s.base)
	s.mu.Unlock()
	return nil
}
