package caddyfile

import "testing"

// logf writes to the log of the test that last called setlogf, and discards otherwise.
var logf = func(string, ...any) {}

// setlogf sends logf output to t until the returned function is called.
func setlogf(t *testing.T) (restore func()) {
	t.Helper()
	prev := logf
	logf = t.Logf
	return func() { logf = prev }
}
