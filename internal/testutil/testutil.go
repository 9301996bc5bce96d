// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls cond until it holds or the default deadline passes. Most of
// the supervisor's behaviour is asynchronous (goroutines reacting to timers,
// channels, and sockets), so tests assert on eventual state rather than
// sleeping fixed amounts.
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	WaitForWithin(t, what, 2*time.Second, cond)
}

// WaitForWithin is WaitFor with an explicit deadline.
func WaitForWithin(t testing.TB, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
