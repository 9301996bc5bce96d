// Package watchdog runs the supervisor's top-level control cycle: wait for a
// velocity command or a timeout, whichever comes first, and decide whether
// the motors are driven or killed.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/torqueworks/driveguard/internal/actuator"
	"github.com/torqueworks/driveguard/internal/eventlog"
	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/monitoring"
	"github.com/torqueworks/driveguard/internal/timeutil"
)

// LoopState names the control loop's position in its cycle.
type LoopState int

const (
	// Stopped: motors killed or never driven; the safe default.
	Stopped LoopState = iota
	// WaitingForCommand: inside a cycle, watchdog armed, nothing received
	// yet.
	WaitingForCommand
	// Driving: the last cycle pushed setpoints to the motors.
	Driving
)

func (s LoopState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case WaitingForCommand:
		return "waiting"
	case Driving:
		return "driving"
	default:
		return "unknown"
	}
}

// Config holds the loop's timing and drive geometry.
type Config struct {
	// Timeout is the watchdog period T. Every command re-arms it from zero;
	// if it elapses with no command the motors are shut down.
	Timeout time.Duration

	// SpeedWarnInterval rate-limits speed-limit events. Zero means one per
	// second.
	SpeedWarnInterval time.Duration

	// Drive is the kinematics geometry used to translate commands.
	Drive kinematics.Config
}

// Loop is the watchdog-gated control loop. It owns all writes to the motor
// pair; fault monitors may narrow the pair's lifecycle state concurrently
// and the loop observes that on its next cycle.
type Loop struct {
	cfg      Config
	clock    timeutil.Clock
	commands <-chan kinematics.VelocityCommand
	pair     *actuator.Pair
	rec      eventlog.Recorder
	cmdState CommandState

	mu            sync.Mutex
	state         LoopState
	lastSpeedWarn time.Time
}

// New builds a Loop reading commands from the given channel. A nil clock
// gets the real clock; a nil recorder logs through monitoring.
func New(cfg Config, clock timeutil.Clock, commands <-chan kinematics.VelocityCommand, pair *actuator.Pair, rec eventlog.Recorder) *Loop {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if rec == nil {
		rec = eventlog.LogRecorder{}
	}
	if cfg.SpeedWarnInterval <= 0 {
		cfg.SpeedWarnInterval = time.Second
	}
	return &Loop{
		cfg:      cfg,
		clock:    clock,
		commands: commands,
		pair:     pair,
		rec:      rec,
		state:    Stopped,
	}
}

// State returns the loop's current state.
func (l *Loop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) setState(s LoopState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// CommandState exposes the watchdog context for status reporting.
func (l *Loop) CommandState() *CommandState {
	return &l.cmdState
}

// Run executes watchdog cycles until the context is cancelled or the
// command channel closes. Each cycle clears the tripped flag and then waits
// for a command or the watchdog period, never both: the wait is a select, so
// command arrival satisfies it immediately with no polling.
func (l *Loop) Run(ctx context.Context) error {
	timer := l.clock.NewTimer(l.cfg.Timeout)
	defer timer.Stop()

	for {
		l.cmdState.BeginCycle()
		if l.State() != Driving {
			l.setState(WaitingForCommand)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case cmd, ok := <-l.commands:
			if !ok {
				return errors.New("command channel closed")
			}
			l.cmdState.Arm(cmd, l.clock.Now())
			l.handle(cmd)
			// every valid command re-arms the watchdog from zero
			timer.Reset(l.cfg.Timeout)

		case <-timer.C():
			l.timeout()
			timer.Reset(l.cfg.Timeout)
		}
	}
}

// timeout fires when the watchdog period elapsed with no command. Motors are
// shut down once per quiet period: repeated timeouts against an already
// stopped pair do nothing.
func (l *Loop) timeout() {
	if !l.pair.Enabled() {
		l.setState(Stopped)
		return
	}

	l.rec.Record(eventlog.New(eventlog.KindWatchdogTrip, "",
		fmt.Sprintf("no command within %s", l.cfg.Timeout)))
	if err := l.pair.Shutdown(); err != nil {
		monitoring.Logf("watchdog shutdown: %v", err)
	}
	l.setState(Stopped)
}

// handle drives one received command: re-initialize the pair if it was
// disabled, translate, and push the setpoints.
func (l *Loop) handle(cmd kinematics.VelocityCommand) {
	if !l.pair.Enabled() {
		if err := l.pair.Initialize(); err != nil {
			// init failure events were recorded per channel by the pair
			monitoring.Logf("reinitialize failed: %v", err)
			l.setState(Stopped)
			return
		}
	}

	left, right, limited := kinematics.Translate(cmd, l.cfg.Drive)
	if limited {
		l.warnSpeed(cmd)
	}

	if err := l.pair.Drive(left, right); err != nil {
		// transient: this cycle's drive attempt failed, lifecycle unchanged
		l.rec.Record(eventlog.New(eventlog.KindDriveError, "", err.Error()))
	}
	l.setState(Driving)
}

// warnSpeed records a speed-limit event, rate limited so a stream of hot
// commands does not flood the event log.
func (l *Loop) warnSpeed(cmd kinematics.VelocityCommand) {
	now := l.clock.Now()

	l.mu.Lock()
	if !l.lastSpeedWarn.IsZero() && now.Sub(l.lastSpeedWarn) < l.cfg.SpeedWarnInterval {
		l.mu.Unlock()
		return
	}
	l.lastSpeedWarn = now
	l.mu.Unlock()

	l.rec.Record(eventlog.New(eventlog.KindSpeedLimit, "",
		fmt.Sprintf("linear %.2f over limit %.2f, command zeroed", cmd.Linear, l.cfg.Drive.TopSpeed)))
}
