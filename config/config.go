// Package config loads the aelogin configuration file.
package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-aeauth/appengine"
	"github.com/agentuity/go-aeauth/logger"
	"github.com/agentuity/go-aeauth/provider"
	"github.com/agentuity/go-aeauth/resilience"
	"github.com/cockroachdb/errors"
	"github.com/xhit/go-str2duration/v2"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is the config file looked up in the working directory.
const DefaultFilename = "aeauth.yaml"

var (
	ErrMissingEndpoint    = errors.New("config: endpoint is required")
	ErrMissingTokenSource = errors.New("config: one of token.static, token.command or token.oauth2 is required")
)

// Duration is a time.Duration that reads "90s", "1m30s" or "1d" from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return str2duration.String(time.Duration(d)), nil
}

// ParseDuration parses s, which may use day and week units.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	v, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "config: invalid duration %q", s)
	}
	return v, nil
}

// Token selects where identity tokens come from.
type Token struct {
	// Static tokens are handed out in order, the last one repeating.
	Static []string `yaml:"static,omitempty"`
	// Command prints a token on stdout.
	Command []string `yaml:"command,omitempty"`
	// Invalidate is run with the token in AEAUTH_TOKEN.
	Invalidate []string `yaml:"invalidate,omitempty"`
	// OAuth2 refreshes tokens against an OAuth2 token endpoint.
	OAuth2 *OAuth2 `yaml:"oauth2,omitempty"`
}

// OAuth2 is a refresh token grant. Field picks the string handed to the
// login handler from the token response, such as id_token; the access token
// is used when it is empty.
type OAuth2 struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	RefreshToken string   `yaml:"refresh_token"`
	Scopes       []string `yaml:"scopes,omitempty"`
	Field        string   `yaml:"field,omitempty"`
}

func (o *OAuth2) validate() error {
	if o.TokenURL == "" {
		return errors.New("config: token.oauth2.token_url is required")
	}
	if o.RefreshToken == "" {
		return errors.New("config: token.oauth2.refresh_token is required")
	}
	return nil
}

type Retry struct {
	Attempts int      `yaml:"attempts,omitempty"`
	Backoff  Duration `yaml:"backoff,omitempty"`
}

type Telemetry struct {
	URL   string `yaml:"url,omitempty"`
	Token string `yaml:"token,omitempty"`
}

// Config is the contents of the config file.
type Config struct {
	Endpoint    string    `yaml:"endpoint"`
	Scope       string    `yaml:"scope,omitempty"`
	ContinueURL string    `yaml:"continue_url,omitempty"`
	Timeout     Duration  `yaml:"timeout,omitempty"`
	Token       Token     `yaml:"token"`
	Retry       Retry     `yaml:"retry,omitempty"`
	LogLevel    string    `yaml:"log_level,omitempty"`
	Telemetry   Telemetry `yaml:"telemetry,omitempty"`
}

// LookupFunc resolves an environment variable.
type LookupFunc func(string) (string, bool)

// Load reads path, expands ${env:NAME} and ${env:NAME:-default} references,
// applies AEAUTH_* overrides from the environment and validates the result.
// A missing file is not an error when the environment supplies everything.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with a custom environment.
func LoadWith(path string, lookup LookupFunc) (*Config, error) {
	c := &Config{}
	buf, err := os.ReadFile(path)
	switch {
	case err == nil:
		if c, err = Parse(buf, lookup); err != nil {
			return nil, errors.Wrapf(err, "config: decoding %s", path)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}
	if err := c.applyEnv(lookup); err != nil {
		return nil, err
	}
	c.defaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Parse decodes a YAML document without consulting the environment
// overrides. References are still expanded with lookup.
func Parse(buf []byte, lookup LookupFunc) (*Config, error) {
	var c Config
	if err := c.decode(buf, lookup); err != nil {
		return nil, err
	}
	c.defaults()
	return &c, nil
}

func (c *Config) decode(buf []byte, lookup LookupFunc) error {
	expanded, err := Interpolate(string(buf), lookup)
	if err != nil {
		return err
	}
	return yaml.Unmarshal([]byte(expanded), c)
}

var envRef = regexp.MustCompile(`\$\{env:(!?)([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Interpolate replaces ${env:NAME:-default} references in s. A reference
// written ${env:!NAME} is required and fails when NAME is unset or empty.
func Interpolate(s string, lookup LookupFunc) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		required, key, def := m[1] == "!", m[2], m[3]
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		if required {
			missing = append(missing, key)
		}
		return def
	})
	if len(missing) > 0 {
		return "", errors.Newf("config: required environment variable not set: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("AEAUTH_ENDPOINT", &c.Endpoint)
	str("AEAUTH_SCOPE", &c.Scope)
	str("AEAUTH_CONTINUE_URL", &c.ContinueURL)
	str(logger.EnvLogLevel, &c.LogLevel)
	str("AEAUTH_OTLP_URL", &c.Telemetry.URL)
	str("AEAUTH_OTLP_TOKEN", &c.Telemetry.Token)
	if v, ok := lookup("AEAUTH_TOKEN"); ok && v != "" {
		c.Token = Token{Static: []string{v}}
	}
	if v, ok := lookup("AEAUTH_TIMEOUT"); ok && v != "" {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		c.Timeout = Duration(d)
	}
	if v, ok := lookup("AEAUTH_RETRY_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "config: invalid AEAUTH_RETRY_ATTEMPTS %q", v)
		}
		c.Retry.Attempts = n
	}
	return nil
}

func (c *Config) defaults() {
	if c.Scope == "" {
		c.Scope = provider.DefaultScope
	}
	if c.ContinueURL == "" {
		c.ContinueURL = appengine.DefaultContinueURL
	}
	if c.LogLevel == "" {
		c.LogLevel = logger.LevelInfo.String()
	}
}

// Validate checks that the config can be used to log in.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrMissingEndpoint
	}
	sources := 0
	for _, set := range []bool{len(c.Token.Static) > 0, len(c.Token.Command) > 0, c.Token.OAuth2 != nil} {
		if set {
			sources++
		}
	}
	switch {
	case sources == 0:
		return ErrMissingTokenSource
	case sources > 1:
		return errors.New("config: token.static, token.command and token.oauth2 are mutually exclusive")
	}
	if c.Token.OAuth2 != nil {
		if err := c.Token.OAuth2.validate(); err != nil {
			return err
		}
	}
	if c.Retry.Attempts < 0 {
		return errors.Newf("config: retry.attempts must be >= 0, got %d", c.Retry.Attempts)
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() logger.LogLevel {
	return logger.ParseLevel(c.LogLevel, logger.LevelInfo)
}

// ClientOptions returns the appengine options the config describes.
func (c *Config) ClientOptions(log logger.Logger) []appengine.Option {
	opts := []appengine.Option{appengine.WithContinueURL(c.ContinueURL)}
	if log != nil {
		opts = append(opts, appengine.WithLogger(log))
	}
	if c.Timeout > 0 {
		opts = append(opts, appengine.WithTimeout(time.Duration(c.Timeout)))
	}
	return opts
}

// Provider builds the configured token provider.
func (c *Config) Provider(log logger.Logger) (provider.TokenProvider, error) {
	if len(c.Token.Command) > 0 {
		p, err := provider.NewCommand(log, c.Token.Command, c.Token.Invalidate)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	if len(c.Token.Static) > 0 {
		return provider.NewStatic(c.Token.Static...), nil
	}
	if o := c.Token.OAuth2; o != nil {
		if err := o.validate(); err != nil {
			return nil, err
		}
		oc := &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: o.TokenURL},
			Scopes:       o.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: time.Duration(c.Timeout)})
		ts := provider.FromRefreshToken(ctx, oc, o.RefreshToken)
		ts.Field = o.Field
		return ts, nil
	}
	return nil, ErrMissingTokenSource
}

// RetryConfig returns the retry policy, or nil when retries are off.
func (c *Config) RetryConfig() *resilience.RetryConfig {
	if c.Retry.Attempts == 0 {
		return nil
	}
	rc := resilience.DefaultRetryConfig()
	rc.MaxRetries = c.Retry.Attempts
	if c.Retry.Backoff > 0 {
		rc.InitialBackoff = time.Duration(c.Retry.Backoff)
	}
	return &rc
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "config: creating directory")
		}
	}
	of, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "config: creating %s", path)
	}
	defer of.Close()
	fmt.Fprintln(of, "# aelogin configuration")
	fmt.Fprintln(of, "# values may reference the environment as ${env:NAME:-default}")
	fmt.Fprintln(of)
	enc := yaml.NewEncoder(of)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errors.Wrapf(err, "config: encoding %s", path)
	}
	return enc.Close()
}
