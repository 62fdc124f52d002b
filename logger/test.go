package logger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
	Metadata  map[string]interface{}
}

// Text returns the formatted message.
func (e TestLogEntry) Text() string {
	if len(e.Arguments) == 0 {
		return e.Message
	}
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testSink struct {
	mu   sync.Mutex
	logs []TestLogEntry
}

// TestLogger records every entry so tests can assert on them. Loggers
// derived with With or WithPrefix share the parent's records.
type TestLogger struct {
	metadata map[string]interface{}
	sink     *testSink
}

var _ Logger = (*TestLogger)(nil)

func (c *TestLogger) WithContext(ctx context.Context) Logger {
	return c
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c.With(map[string]interface{}{"prefix": prefix})
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(c.metadata)+len(metadata))
	for k, v := range c.metadata {
		kv[k] = v
	}
	for k, v := range metadata {
		kv[k] = v
	}
	return &TestLogger{metadata: kv, sink: c.sink}
}

func (c *TestLogger) Log(level string, msg string, args ...interface{}) {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	c.sink.logs = append(c.sink.logs, TestLogEntry{level, msg, args, c.metadata})
}

func (c *TestLogger) Trace(msg string, args ...interface{}) { c.Log("TRACE", msg, args...) }
func (c *TestLogger) Debug(msg string, args ...interface{}) { c.Log("DEBUG", msg, args...) }
func (c *TestLogger) Info(msg string, args ...interface{})  { c.Log("INFO", msg, args...) }
func (c *TestLogger) Warn(msg string, args ...interface{})  { c.Log("WARNING", msg, args...) }
func (c *TestLogger) Error(msg string, args ...interface{}) { c.Log("ERROR", msg, args...) }

// Fatal records the entry but does not exit, so tests can observe it.
func (c *TestLogger) Fatal(msg string, args ...interface{}) { c.Log("FATAL", msg, args...) }

// Logs returns a snapshot of everything recorded so far.
func (c *TestLogger) Logs() []TestLogEntry {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	out := make([]TestLogEntry, len(c.sink.logs))
	copy(out, c.sink.logs)
	return out
}

// Contains reports whether any formatted entry contains substr.
func (c *TestLogger) Contains(substr string) bool {
	for _, e := range c.Logs() {
		if strings.Contains(e.Text(), substr) {
			return true
		}
	}
	return false
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{sink: &testSink{}}
}
