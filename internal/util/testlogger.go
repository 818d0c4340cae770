package util

import (
	"testing"

	"github.com/go-kit/log"
)

// TestLogger generates a logger for a test, routed through t.Log so output
// stays attached to the failing test.
func TestLogger(t testing.TB) log.Logger {
	t.Helper()
	return log.LoggerFunc(func(keyvals ...interface{}) error {
		t.Helper()
		t.Log(keyvals...)
		return nil
	})
}
