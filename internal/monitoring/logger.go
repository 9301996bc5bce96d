// Package monitoring holds the process-wide diagnostic logger indirection.
//
// Safety-relevant events (watchdog trips, faults, init failures) are values
// recorded through the eventlog package; Logf is only for line diagnostics.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be swapped with SetLogger; tests use this to mute or capture output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
