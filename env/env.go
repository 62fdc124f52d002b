// Package env reads dotenv files and resolves command line settings from
// flags and the environment.
package env

import (
	"bufio"
	"bytes"
	"os"
	"strings"

	"github.com/agentuity/go-aeauth/logger"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses a dotenv file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return []EnvLine{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "env: reading %s", filename)
	}
	return ParseEnvBuffer(buf)
}

// ParseEnvBuffer parses KEY=value lines. Blank lines and # comments are
// skipped, an optional "export " prefix is dropped and values may be single
// or double quoted. ${NAME} and ${NAME:-default} refer to earlier lines.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	seen := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(buf))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		el := ProcessEnvLine(strings.TrimPrefix(line, "export "))
		if el.Key == "" {
			continue
		}
		el.Val = expand(el.Val, seen)
		seen[el.Key] = el.Val
		envs = append(envs, el)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "env: scanning")
	}
	return envs, nil
}

// ProcessEnvLine splits a KEY=value line.
func ProcessEnvLine(line string) EnvLine {
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: strings.TrimSpace(line)}
	}
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// expand replaces ${NAME} and ${NAME:-default} with values from vars.
// Unknown names without a default are kept as written.
func expand(s string, vars map[string]string) string {
	var out strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		end += start
		out.WriteString(s[:start])
		ref := s[start+2 : end]
		name, def, hasDef := strings.Cut(ref, ":-")
		switch v, ok := vars[name]; {
		case ok && v != "":
			out.WriteString(v)
		case hasDef:
			out.WriteString(def)
		default:
			out.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	out.WriteString(s)
	return out.String()
}

// Lookup returns a lookup func that consults the process environment first
// and then lines, in order.
func Lookup(lines []EnvLine) func(string) (string, bool) {
	vals := make(map[string]string, len(lines))
	for _, el := range lines {
		vals[el.Key] = el.Val
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vals[key]
		return v, ok
	}
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel resolves --log-level, then AEAUTH_LOG_LEVEL, then def.
func LogLevel(cmd *cobra.Command, def logger.LogLevel) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, ""), def)
}

// NewLogger returns a console logger at the level LogLevel resolves.
func NewLogger(cmd *cobra.Command, def logger.LogLevel) logger.Logger {
	return logger.NewWriterLogger(cmd.ErrOrStderr(), LogLevel(cmd, def))
}
