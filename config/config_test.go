package config

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentuity/go-aeauth/logger"
	"github.com/agentuity/go-aeauth/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vals map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFilename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInterpolate(t *testing.T) {
	lookup := env(map[string]string{"APP": "my-app", "EMPTY": ""})
	tests := []struct {
		in, want string
	}{
		{"https://${env:APP}.appspot.com", "https://my-app.appspot.com"},
		{"${env:MISSING:-fallback}", "fallback"},
		{"${env:EMPTY:-fallback}", "fallback"},
		{"${env:MISSING}", ""},
		{"no refs ${APP}", "no refs ${APP}"},
	}
	for _, tt := range tests {
		got, err := Interpolate(tt.in, lookup)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := Interpolate("${env:!MISSING} ${env:!EMPTY}", lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING, EMPTY")
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
endpoint: https://${env:APP:-default-app}.appspot.com
timeout: 1m30s
token:
  command: ["gcloud-token", "--scope", "ah"]
  invalidate: ["gcloud-token", "--revoke"]
retry:
  attempts: 2
  backoff: 250ms
log_level: debug
telemetry:
  url: https://otlp.example.com
`)
	c, err := LoadWith(path, env(map[string]string{"APP": "my-app"}))
	require.NoError(t, err)

	assert.Equal(t, "https://my-app.appspot.com", c.Endpoint)
	assert.Equal(t, provider.DefaultScope, c.Scope)
	assert.Equal(t, "http://localhost/", c.ContinueURL)
	assert.Equal(t, Duration(90*time.Second), c.Timeout)
	assert.Equal(t, []string{"gcloud-token", "--scope", "ah"}, c.Token.Command)
	assert.Equal(t, logger.LevelDebug, c.Level())
	assert.Equal(t, "https://otlp.example.com", c.Telemetry.URL)

	rc := c.RetryConfig()
	require.NotNil(t, rc)
	assert.Equal(t, 2, rc.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, rc.InitialBackoff)

	p, err := c.Provider(nil)
	require.NoError(t, err)
	assert.IsType(t, &provider.Command{}, p)
	assert.Len(t, c.ClientOptions(nil), 2)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, `
endpoint: https://file.appspot.com
token:
  static: [a, b]
`)
	c, err := LoadWith(path, env(map[string]string{
		"AEAUTH_ENDPOINT":       "https://env.appspot.com",
		"AEAUTH_TIMEOUT":        "2d",
		"AEAUTH_RETRY_ATTEMPTS": "4",
		"AEAUTH_LOG_LEVEL":      "warn",
	}))
	require.NoError(t, err)
	assert.Equal(t, "https://env.appspot.com", c.Endpoint)
	assert.Equal(t, Duration(48*time.Hour), c.Timeout)
	assert.Equal(t, 4, c.RetryConfig().MaxRetries)
	assert.Equal(t, logger.LevelWarn, c.Level())

	p, err := c.Provider(nil)
	require.NoError(t, err)
	assert.IsType(t, &provider.Static{}, p)

	_, err = LoadWith(path, env(map[string]string{"AEAUTH_TIMEOUT": "soon"}))
	assert.Error(t, err)
	_, err = LoadWith(path, env(map[string]string{"AEAUTH_RETRY_ATTEMPTS": "many"}))
	assert.Error(t, err)
}

func TestLoadWithoutFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	_, err := LoadWith(missing, env(nil))
	assert.ErrorIs(t, err, ErrMissingEndpoint)

	c, err := LoadWith(missing, env(map[string]string{
		"AEAUTH_ENDPOINT": "https://my-app.appspot.com",
		"AEAUTH_TOKEN":    "token",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, c.Token.Static)
	assert.Nil(t, c.RetryConfig())
}

func TestValidate(t *testing.T) {
	c := &Config{Endpoint: "https://x.appspot.com"}
	assert.ErrorIs(t, c.Validate(), ErrMissingTokenSource)

	c.Token = Token{Static: []string{"a"}, Command: []string{"b"}}
	assert.Error(t, c.Validate())

	c.Token = Token{Static: []string{"a"}}
	c.Retry.Attempts = -1
	assert.Error(t, c.Validate())

	c.Retry.Attempts = 0
	assert.NoError(t, c.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := LoadWith(writeFile(t, "timeout: [nope"), env(nil))
	assert.Error(t, err)
	_, err = LoadWith(writeFile(t, "timeout: forever"), env(nil))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	c := &Config{
		Endpoint: "https://my-app.appspot.com",
		Timeout:  Duration(90 * time.Second),
		Token:    Token{Command: []string{"print-token"}},
	}
	path := filepath.Join(t.TempDir(), "sub", DefaultFilename)
	require.NoError(t, c.Save(path))

	buf, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "# aelogin configuration")
	assert.Contains(t, string(buf), "timeout: 1m30s")

	got, err := LoadWith(path, env(nil))
	require.NoError(t, err)
	assert.Equal(t, c.Endpoint, got.Endpoint)
	assert.Equal(t, c.Timeout, got.Timeout)
	assert.Equal(t, c.Token.Command, got.Token.Command)
}

func TestParseSkipsEnvOverrides(t *testing.T) {
	lookup := env(map[string]string{"AEAUTH_ENDPOINT": "https://other.appspot.com", "APP": "my-app"})
	c, err := Parse([]byte("endpoint: https://${env:APP}.appspot.com\n"), lookup)
	require.NoError(t, err)
	assert.Equal(t, "https://my-app.appspot.com", c.Endpoint)
	assert.Equal(t, provider.DefaultScope, c.Scope)
	assert.ErrorIs(t, c.Validate(), ErrMissingTokenSource)
}

func TestLoadOAuth2Provider(t *testing.T) {
	var grants []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		grants = append(grants, r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"access","token_type":"Bearer","expires_in":3600,"id_token":"identity"}`)
	}))
	defer srv.Close()

	path := writeFile(t, `
endpoint: https://my-app.appspot.com
token:
  oauth2:
    token_url: ${env:TOKEN_URL}
    client_id: aelogin
    refresh_token: ${env:!REFRESH}
    field: id_token
`)
	c, err := LoadWith(path, env(map[string]string{"TOKEN_URL": srv.URL, "REFRESH": "r1"}))
	require.NoError(t, err)
	require.NotNil(t, c.Token.OAuth2)

	p, err := c.Provider(nil)
	require.NoError(t, err)
	res, err := p.Token(context.Background(), c.Scope)
	require.NoError(t, err)
	assert.Equal(t, "identity", res.Token)
	assert.Equal(t, []string{"r1"}, grants)
}

func TestValidateOAuth2(t *testing.T) {
	c := &Config{Endpoint: "https://x.appspot.com", Token: Token{OAuth2: &OAuth2{TokenURL: "https://oauth2.example.com/token"}}}
	assert.ErrorContains(t, c.Validate(), "refresh_token")

	c.Token.OAuth2.RefreshToken = "r1"
	assert.NoError(t, c.Validate())

	c.Token.Static = []string{"a"}
	assert.ErrorContains(t, c.Validate(), "mutually exclusive")
}
