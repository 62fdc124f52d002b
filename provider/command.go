package provider

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/agentuity/go-aeauth/logger"
	"github.com/cockroachdb/errors"
)

// ConsentExitCode is the exit status a token command uses to say the user
// must approve access first. Its stdout is then the consent URL or message.
const ConsentExitCode = 3

const (
	EnvScope = "AEAUTH_SCOPE"
	EnvToken = "AEAUTH_TOKEN"
)

// Command runs external programs to obtain and invalidate tokens, for
// example a gcloud wrapper. The token command gets the scope in
// AEAUTH_SCOPE and prints the token on stdout. The invalidate command gets
// the token in AEAUTH_TOKEN so it never shows up in a process listing.
type Command struct {
	TokenCmd      []string
	InvalidateCmd []string
	// Env is appended to the current environment of both commands.
	Env    []string
	Logger logger.Logger
}

var _ TokenProvider = (*Command)(nil)

// NewCommand returns a Command provider. invalidate may be empty, in which
// case Invalidate does nothing.
func NewCommand(log logger.Logger, token, invalidate []string) (*Command, error) {
	if len(token) == 0 || token[0] == "" {
		return nil, errors.New("provider: token command is required")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Command{
		TokenCmd:      token,
		InvalidateCmd: invalidate,
		Logger:        log.WithPrefix("[provider]"),
	}, nil
}

func (c *Command) Token(ctx context.Context, scope string) (Result, error) {
	stdout, err := c.run(ctx, c.TokenCmd, EnvScope+"="+scope)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ConsentExitCode {
			c.Logger.Info("token command requires consent for scope %s", scope)
			return Result{Consent: consentFromOutput(stdout, scope)}, nil
		}
		return Result{}, errors.Wrapf(err, "provider: running %s", c.TokenCmd[0])
	}
	tok := strings.TrimSpace(stdout)
	if tok == "" {
		return Result{}, errors.Wrapf(ErrNoToken, "provider: %s printed nothing", c.TokenCmd[0])
	}
	c.Logger.Debug("token command returned token %s", logger.Mask(tok))
	return Result{Token: tok}, nil
}

func (c *Command) Invalidate(ctx context.Context, token string) error {
	if len(c.InvalidateCmd) == 0 {
		return nil
	}
	if _, err := c.run(ctx, c.InvalidateCmd, EnvToken+"="+token); err != nil {
		return errors.Wrapf(err, "provider: running %s", c.InvalidateCmd[0])
	}
	c.Logger.Debug("invalidated token %s", logger.Mask(token))
	return nil
}

func (c *Command) run(ctx context.Context, argv []string, extra string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(append(os.Environ(), c.Env...), extra)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil && stderr.Len() > 0 {
		c.Logger.Debug("%s stderr: %s", argv[0], strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), err
}

func consentFromOutput(out, scope string) *ConsentRequest {
	out = strings.TrimSpace(out)
	req := &ConsentRequest{Scope: scope, Message: out}
	if strings.HasPrefix(out, "http://") || strings.HasPrefix(out, "https://") {
		req.URL = out
		req.Message = "approve access at " + out
	}
	return req
}
