package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentuity/go-aeauth/appengine"
	"github.com/agentuity/go-aeauth/config"
	"github.com/agentuity/go-aeauth/env"
	"github.com/agentuity/go-aeauth/flow"
	"github.com/agentuity/go-aeauth/logger"
	"github.com/agentuity/go-aeauth/telemetry"
	"github.com/agentuity/go-aeauth/tui"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

const serviceName = "aelogin"

// errReported marks errors the command already showed to the user.
var errReported = errors.New("reported")

// confirm asks the user a yes/no question.
var confirm = tui.Confirm

// maxConsentPrompts bounds how often the user is asked to approve access
// before the login gives up.
const maxConsentPrompts = 3

const statusLineWidth = 72

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "aelogin",
		Short:         "Sign in to an App Engine application",
		Version:       appengine.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("config", config.DefaultFilename, "config file")
	flags.String("env-file", ".env", "dotenv file with AEAUTH_* settings")
	flags.String("endpoint", "", "application URL, e.g. https://my-app.appspot.com")
	flags.String("token", "", "identity token to use instead of the configured source")
	flags.String("log-level", "", "trace, debug, info, warn or error")
	flags.Bool("no-telemetry", false, "do not export logs and traces")

	root.AddCommand(newLoginCommand(), newGetCommand(), newPostCommand(), newInitCommand())
	return root
}

func newLoginCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Obtain a session cookie and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				for _, ck := range s.client.Cookies() {
					if ck.Name == appengine.SessionCookieName {
						fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", ck.Name, ck.Value)
					}
				}
				return nil
			})
		},
	}
}

func newGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get [path]",
		Short: "Sign in and GET a path of the application",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				resp, err := s.registry.Current().Get(ctx, pathArg(args))
				if err != nil {
					return err
				}
				return printBody(cmd, resp)
			})
		},
	}
}

func newPostCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post [path]",
		Short: "Sign in and POST form fields to a path of the application",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, _ := cmd.Flags().GetStringArray("data")
			form, err := parseForm(data)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				resp, err := s.registry.Current().Post(ctx, pathArg(args), form)
				if err != nil {
					return err
				}
				return printBody(cmd, resp)
			})
		},
	}
	cmd.Flags().StringArrayP("data", "d", nil, "form field as key=value, repeatable")
	return cmd
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			c := &config.Config{
				Endpoint: env.FlagOrEnv(cmd, "endpoint", "AEAUTH_ENDPOINT", "https://${env:AEAUTH_APP:-my-app}.appspot.com"),
				Token:    config.Token{Command: []string{"print-identity-token"}},
			}
			if err := c.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

func pathArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimPrefix(args[0], "/")
}

func parseForm(data []string) (url.Values, error) {
	form := url.Values{}
	for _, kv := range data {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, errors.Newf("invalid --data %q, expected key=value", kv)
		}
		form.Add(k, v)
	}
	return form, nil
}

func printBody(cmd *cobra.Command, resp *http.Response) error {
	body, err := appengine.ReadBody(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(tui.Out, tui.Muted(tui.MaxWidth(resp.Request.Method+" "+resp.Request.URL.Redacted()+" "+resp.Status, statusLineWidth)))
	fmt.Fprint(cmd.OutOrStdout(), body)
	if resp.StatusCode >= 400 {
		return errors.Newf("%s returned %s", resp.Request.URL.Redacted(), resp.Status)
	}
	return nil
}

// flagLookup lets command line flags take precedence over the environment
// for the settings config reads from AEAUTH_* variables.
func flagLookup(cmd *cobra.Command, next config.LookupFunc) config.LookupFunc {
	flagged := map[string]string{
		"AEAUTH_ENDPOINT":  "endpoint",
		"AEAUTH_TOKEN":     "token",
		logger.EnvLogLevel: "log-level",
	}
	return func(key string) (string, bool) {
		if name, ok := flagged[key]; ok {
			if v, _ := cmd.Flags().GetString(name); v != "" {
				return v, true
			}
		}
		return next(key)
	}
}

type session struct {
	cfg      *config.Config
	log      logger.Logger
	registry *appengine.Registry
	client   *appengine.Client
	auth     *flow.Authenticator
	shutdown func()
}

func newSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	lines, err := env.ParseEnvFile(envFile)
	if err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadWith(path, flagLookup(cmd, env.Lookup(lines)))
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, shutdown: func() {}}
	s.log = env.NewLogger(cmd, cfg.Level())

	libLog := s.log
	if noTelemetry, _ := cmd.Flags().GetBool("no-telemetry"); !noTelemetry && cfg.Telemetry.URL != "" {
		otelLog, shutdown, err := telemetry.New(ctx, cfg.Telemetry.URL, cfg.Telemetry.Token, serviceName)
		if err != nil {
			return nil, errors.Wrap(err, "error creating telemetry")
		}
		libLog, s.shutdown = otelLog, shutdown
	}

	p, err := cfg.Provider(libLog)
	if err != nil {
		s.shutdown()
		return nil, err
	}
	s.registry = appengine.NewRegistry()
	s.client, err = s.registry.Create(cfg.Endpoint, cfg.ClientOptions(libLog)...)
	if err != nil {
		s.shutdown()
		return nil, err
	}
	opts := []flow.Option{flow.WithScope(cfg.Scope), flow.WithLogger(libLog)}
	if rc := cfg.RetryConfig(); rc != nil {
		opts = append(opts, flow.WithRetry(*rc))
	}
	s.auth = flow.New(s.client, p, opts...)
	return s, nil
}

// login runs the flow, asking the user to approve access when the provider
// needs it.
func (s *session) login(ctx context.Context) error {
	for prompts := 0; ; prompts++ {
		err := tui.ShowSpinner(ctx, "Signing in to "+s.client.Endpoint(), s.auth.Ensure)
		var ce *flow.ConsentError
		if !errors.As(err, &ce) {
			return err
		}
		if prompts == maxConsentPrompts {
			return errors.Wrap(err, "consent was not granted")
		}
		if err := askConsent(ce); err != nil {
			return err
		}
		s.auth.Resume()
	}
}

func askConsent(ce *flow.ConsentError) error {
	body := "The token provider needs your approval before it can sign you in."
	if req := ce.Request; req != nil {
		if req.Message != "" {
			body = req.Message
		}
		if req.URL != "" {
			body += "\n\n" + tui.Link(req.URL)
		}
		if req.Account != "" {
			body += "\n\nAccount: " + tui.Secondary(req.Account)
		}
		if req.Scope != "" {
			body += "\n" + tui.Muted("Scope: "+req.Scope)
		}
	}
	tui.ShowBanner("Approval required", body)
	ok, err := confirm("Have you approved access?", true)
	if err != nil {
		return errors.Wrap(ce, "cannot ask for consent")
	}
	if !ok {
		return errors.Wrap(ce, "access was not approved")
	}
	return nil
}

func withSession(cmd *cobra.Command, fn func(context.Context, *session) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tui.Out = cmd.ErrOrStderr()
	s, err := newSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.shutdown()

	if err := s.login(ctx); err != nil {
		s.log.Error("login failed: %s", err)
		if appengine.KindOf(err) == appengine.KindCookieNotFound {
			tui.ShowWarning("Login failed: %s redirected without a %s cookie. Check that the token is for a user of the application.",
				tui.Bold(s.client.Endpoint()), appengine.SessionCookieName)
		} else {
			tui.ShowError("Login failed: %s", err)
		}
		return errors.Mark(err, errReported)
	}
	if s.registry.Current() == nil {
		return errors.New("session is not ready")
	}
	s.log.Debug("signed in to %s", s.client.Endpoint())
	tui.ShowSuccess("Signed in to %s", tui.Bold(s.client.Endpoint()))
	return fn(ctx, s)
}
