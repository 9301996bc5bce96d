package actuator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/torqueworks/driveguard/internal/eventlog"
	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/monitoring"
)

// State is the shared lifecycle state of the motor pair. The two motors are
// enabled and disabled as one unit: driving a single wheel is more dangerous
// than driving none.
type State int

const (
	StateUninitialized State = iota
	StateEnabled
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Pair owns the lifecycle of both drive motors. All state transitions are
// serialised under one mutex; ReportFault may be called from any goroutine
// and its transition is visible to the control loop on its next state query.
type Pair struct {
	left  Driver
	right Driver
	mode  int
	rec   eventlog.Recorder

	mu    sync.Mutex
	state State
}

// NewPair builds the lifecycle over the two drivers. mode is the controller
// operating mode programmed during initialization.
func NewPair(left, right Driver, mode int, rec eventlog.Recorder) *Pair {
	if rec == nil {
		rec = eventlog.LogRecorder{}
	}
	return &Pair{left: left, right: right, mode: mode, rec: rec}
}

// State returns the current lifecycle state.
func (p *Pair) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Enabled reports whether motion commands may currently be sent.
func (p *Pair) Enabled() bool {
	return p.State() == StateEnabled
}

// initialize runs the startup sequence on one motor: stop, set mode, reset
// encoder, enable. The sequence aborts at the first failed step so a motor
// that failed to stop or reset is never enabled.
func (p *Pair) initialize(channel kinematics.Channel, d Driver) error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"stop", d.Stop},
		{"set mode", func() error { return d.SetMode(p.mode) }},
		{"reset position", d.ResetPosition},
		{"enable", func() error { return d.Enable(true) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("%s motor %s: %w", channel, step.name, err)
		}
	}
	return nil
}

// Initialize brings both motors up. The sequence is attempted on every motor
// even after one fails, so the returned error enumerates every failing unit;
// any failure means overall failure and the pair does not become Enabled.
func (p *Pair) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, m := range []struct {
		channel kinematics.Channel
		driver  Driver
	}{
		{kinematics.Left, p.left},
		{kinematics.Right, p.right},
	} {
		if err := p.initialize(m.channel, m.driver); err != nil {
			p.rec.Record(eventlog.New(eventlog.KindInitFailure, m.channel.String(), err.Error()))
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		// state stays Uninitialized or Disabled, whichever it was
		return fmt.Errorf("motor initialization failed: %w", err)
	}

	p.state = StateEnabled
	monitoring.Logf("motor pair enabled")
	return nil
}

// Shutdown stops and disables both motors. The pair is considered Disabled
// regardless of individual command outcomes; failures are reported so the
// operator knows a motor may not have acknowledged the stop.
func (p *Pair) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, m := range []struct {
		channel kinematics.Channel
		driver  Driver
	}{
		{kinematics.Left, p.left},
		{kinematics.Right, p.right},
	} {
		if err := m.driver.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("%s motor stop: %w", m.channel, err))
		}
		if err := m.driver.Enable(false); err != nil {
			errs = append(errs, fmt.Errorf("%s motor disable: %w", m.channel, err))
		}
	}

	p.state = StateDisabled
	return errors.Join(errs...)
}

// ReportFault marks the pair Disabled in response to an asynchronous fault
// on the given channel. Safe to call from any goroutine; idempotent.
func (p *Pair) ReportFault(channel kinematics.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisabled {
		return
	}
	p.state = StateDisabled
	monitoring.Logf("fault on %s motor: pair disabled", channel)
}

// Drive pushes both wheel setpoints to their controllers. It refuses when
// the pair is not Enabled. A failed push is reported but does not change
// lifecycle state; only watchdog timeouts and fault reports do that.
func (p *Pair) Drive(left, right kinematics.WheelSetpoint) error {
	if !p.Enabled() {
		return errors.New("motor pair not enabled")
	}

	var errs []error
	if err := p.left.SetVelocity(left.Velocity); err != nil {
		errs = append(errs, err)
	}
	if err := p.right.SetVelocity(right.Velocity); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
