// Package eventlog defines the structured safety events the supervisor
// emits and the recorders that consume them.
//
// Events are values, not log lines: the core produces them and recorders
// decide what to do (append to sqlite, print a diagnostic, buffer for a
// test assertion). Recording must never block the control loop.
package eventlog

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/torqueworks/driveguard/internal/monitoring"
)

// Kind classifies a safety event.
type Kind string

const (
	// KindInitFailure: an actuator failed its initialization sequence.
	KindInitFailure Kind = "init_failure"
	// KindWatchdogTrip: the watchdog period elapsed with no command.
	KindWatchdogTrip Kind = "watchdog_trip"
	// KindSpeedLimit: a command exceeded the configured top speed and was
	// zeroed for the cycle.
	KindSpeedLimit Kind = "speed_limit"
	// KindFault: a controller reported an emergency stop or rejected a
	// command because the motor was off.
	KindFault Kind = "fault"
	// KindConnectionLost: a controller's status stream ended.
	KindConnectionLost Kind = "connection_lost"
	// KindDriveError: a setpoint push failed; lifecycle state is unchanged.
	KindDriveError Kind = "drive_error"
)

// Event is one structured safety event.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Channel string    `json:"channel,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// New builds an event with a fresh ID and timestamp.
func New(kind Kind, channel, detail string) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		Channel: channel,
		Detail:  detail,
		At:      time.Now().UTC(),
	}
}

// Recorder consumes safety events.
type Recorder interface {
	Record(Event)
}

// LogRecorder prints events through the monitoring logger.
type LogRecorder struct{}

func (LogRecorder) Record(e Event) {
	if e.Channel != "" {
		monitoring.Logf("event %s channel=%s %s", e.Kind, e.Channel, e.Detail)
		return
	}
	monitoring.Logf("event %s %s", e.Kind, e.Detail)
}

// MemoryRecorder buffers events for test assertions.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryRecorder) Record(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

// Events returns a copy of everything recorded so far.
func (m *MemoryRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// CountKind returns how many recorded events have the given kind.
func (m *MemoryRecorder) CountKind(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type tee []Recorder

func (t tee) Record(e Event) {
	for _, r := range t {
		r.Record(e)
	}
}

// Tee fans each event out to every given recorder, skipping nils.
func Tee(recorders ...Recorder) Recorder {
	out := make(tee, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
