package env

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentuity/go-aeauth/logger"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvFile(t *testing.T) {
	lines, err := ParseEnvFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Empty(t, lines)

	fn := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(fn, []byte("APP=my-app\nAEAUTH_ENDPOINT=https://${APP}.appspot.com\n"), 0o644))
	lines, err = ParseEnvFile(fn)
	require.NoError(t, err)
	assert.Equal(t, []EnvLine{
		{Key: "APP", Val: "my-app"},
		{Key: "AEAUTH_ENDPOINT", Val: "https://my-app.appspot.com"},
	}, lines)
}

func TestParseEnvBuffer(t *testing.T) {
	buf := []byte(`
# comment
export A=1
B="two words"
C='single'
D=${A}-${MISSING:-def}-${UNKNOWN}
E
F=a=b
`)
	lines, err := ParseEnvBuffer(buf)
	require.NoError(t, err)
	assert.Equal(t, []EnvLine{
		{Key: "A", Val: "1"},
		{Key: "B", Val: "two words"},
		{Key: "C", Val: "single"},
		{Key: "D", Val: "1-def-${UNKNOWN}"},
		{Key: "E", Val: ""},
		{Key: "F", Val: "a=b"},
	}, lines)

	lines, err = ParseEnvBuffer(nil)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestDequote(t *testing.T) {
	assert.Equal(t, "x", dequote(`"x"`))
	assert.Equal(t, "x", dequote(`'x'`))
	assert.Equal(t, `"x`, dequote(`"x`))
	assert.Equal(t, `"`, dequote(`"`))
}

func TestLookup(t *testing.T) {
	t.Setenv("AEAUTH_TEST_FROM_OS", "os")
	lookup := Lookup([]EnvLine{{Key: "AEAUTH_TEST_FROM_OS", Val: "file"}, {Key: "ONLY_FILE", Val: "file"}})

	v, ok := lookup("AEAUTH_TEST_FROM_OS")
	assert.True(t, ok)
	assert.Equal(t, "os", v)
	v, ok = lookup("ONLY_FILE")
	assert.True(t, ok)
	assert.Equal(t, "file", v)
	_, ok = lookup("AEAUTH_TEST_NOWHERE")
	assert.False(t, ok)
}

func TestFlagOrEnv(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("endpoint", "", "")

	t.Setenv("AEAUTH_TEST_ENDPOINT", "from-env")
	assert.Equal(t, "from-env", FlagOrEnv(cmd, "endpoint", "AEAUTH_TEST_ENDPOINT", "def"))
	assert.Equal(t, "def", FlagOrEnv(cmd, "endpoint", "AEAUTH_TEST_UNSET", "def"))

	require.NoError(t, cmd.Flags().Set("endpoint", "from-flag"))
	assert.Equal(t, "from-flag", FlagOrEnv(cmd, "endpoint", "AEAUTH_TEST_ENDPOINT", "def"))
}

func TestLogLevel(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("log-level", "", "")
	t.Setenv(logger.EnvLogLevel, "")

	assert.Equal(t, logger.LevelWarn, LogLevel(cmd, logger.LevelWarn))
	t.Setenv(logger.EnvLogLevel, "error")
	assert.Equal(t, logger.LevelError, LogLevel(cmd, logger.LevelInfo))
	require.NoError(t, cmd.Flags().Set("log-level", "debug"))
	assert.Equal(t, logger.LevelDebug, LogLevel(cmd, logger.LevelInfo))

	var buf bytes.Buffer
	cmd.SetErr(&buf)
	NewLogger(cmd, logger.LevelInfo).Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
