package watchdog

import (
	"sync"
	"time"

	"github.com/torqueworks/driveguard/internal/kinematics"
)

// CommandState is the supervisor's shared watchdog context: the tripped flag
// and the most recent command, updated together under one mutex so a
// half-applied update (flag set but command stale) is never observable.
type CommandState struct {
	mu      sync.Mutex
	tripped bool
	last    kinematics.VelocityCommand
	lastAt  time.Time
}

// Arm records a freshly arrived command and sets the tripped flag
// atomically.
func (s *CommandState) Arm(cmd kinematics.VelocityCommand, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tripped = true
	s.last = cmd
	s.lastAt = at
}

// BeginCycle clears the tripped flag at the start of a watchdog cycle.
func (s *CommandState) BeginCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tripped = false
}

// Snapshot returns the flag and last command as one consistent pair.
func (s *CommandState) Snapshot() (tripped bool, last kinematics.VelocityCommand, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tripped, s.last, s.lastAt
}
