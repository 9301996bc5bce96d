package watchdog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqueworks/driveguard/internal/actuator"
	"github.com/torqueworks/driveguard/internal/eventlog"
	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/monitoring"
	"github.com/torqueworks/driveguard/internal/testutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// fakeDriver records calls and fails selected operations.
type fakeDriver struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{failOn: map[string]error{}}
}

func (d *fakeDriver) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return d.failOn[call]
}

func (d *fakeDriver) Stop() error          { return d.record("stop") }
func (d *fakeDriver) SetMode(m int) error  { return d.record(fmt.Sprintf("setmode(%d)", m)) }
func (d *fakeDriver) ResetPosition() error { return d.record("reset") }
func (d *fakeDriver) Enable(on bool) error { return d.record(fmt.Sprintf("enable(%t)", on)) }
func (d *fakeDriver) SetVelocity(v float64) error {
	return d.record(fmt.Sprintf("velocity(%.1f)", v))
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) count(call string) int {
	n := 0
	for _, c := range d.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (d *fakeDriver) countPrefix(prefix string) int {
	n := 0
	for _, c := range d.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func testDrive() kinematics.Config {
	return kinematics.Config{
		WheelRadius:       0.05,
		GearRatio:         1,
		EncoderResolution: 1000,
		RobotRadius:       0.2,
		LeftWarp:          1.0,
		RightWarp:         1.0,
		TopSpeed:          2.0,
	}
}

type harness struct {
	left, right *fakeDriver
	pair        *actuator.Pair
	rec         *eventlog.MemoryRecorder
	commands    chan kinematics.VelocityCommand
	loop        *Loop
	cancel      context.CancelFunc
	done        chan error
}

// startLoop builds an initialized pair and runs a loop with the given
// watchdog period.
func startLoop(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	h := &harness{
		left:     newFakeDriver(),
		right:    newFakeDriver(),
		rec:      &eventlog.MemoryRecorder{},
		commands: make(chan kinematics.VelocityCommand),
		done:     make(chan error, 1),
	}
	h.pair = actuator.NewPair(h.left, h.right, 5, h.rec)
	require.NoError(t, h.pair.Initialize())

	h.loop = New(Config{Timeout: timeout, Drive: testDrive()}, nil, h.commands, h.pair, h.rec)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.loop.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("loop did not stop after cancellation")
		}
	})
	return h
}

// send delivers a command to the loop, failing the test if the loop does
// not accept it within the deadline.
func (h *harness) send(t *testing.T, cmd kinematics.VelocityCommand) {
	t.Helper()
	select {
	case h.commands <- cmd:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not accept command")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	testutil.WaitFor(t, what, cond)
}

func TestWatchdogTripsOnceAfterQuietPeriod(t *testing.T) {
	h := startLoop(t, 30*time.Millisecond)

	// no commands at all for several periods
	time.Sleep(150 * time.Millisecond)

	waitFor(t, "pair disabled", func() bool { return h.pair.State() == actuator.StateDisabled })

	// shutdown ran exactly once despite repeated timer expiries
	assert.Equal(t, 1, h.left.count("enable(false)"))
	assert.Equal(t, 1, h.right.count("enable(false)"))
	assert.Equal(t, 1, h.rec.CountKind(eventlog.KindWatchdogTrip))
	assert.Equal(t, Stopped, h.loop.State())
}

func TestCommandDrivesBothWheels(t *testing.T) {
	h := startLoop(t, time.Second)

	h.send(t, kinematics.VelocityCommand{Linear: 1.0})

	waitFor(t, "velocity pushed", func() bool {
		return h.left.countPrefix("velocity(") == 1 && h.right.countPrefix("velocity(") == 1
	})
	assert.Contains(t, h.left.Calls(), "velocity(3183.1)")
	assert.Contains(t, h.right.Calls(), "velocity(3183.1)")
	assert.Equal(t, Driving, h.loop.State())
	assert.True(t, h.pair.Enabled())
}

func TestReinitializeBeforeDriveAfterTrip(t *testing.T) {
	h := startLoop(t, 25*time.Millisecond)

	// let the watchdog kill the motors
	waitFor(t, "watchdog trip", func() bool { return h.pair.State() == actuator.StateDisabled })

	h.send(t, kinematics.VelocityCommand{Linear: 0.5})
	waitFor(t, "drive after reinit", func() bool { return h.left.countPrefix("velocity(") > 0 })

	// the re-init sequence must come before the velocity push
	calls := h.left.Calls()
	enableIdx, velocityIdx := -1, -1
	for i, c := range calls {
		if c == "enable(true)" {
			enableIdx = i
		}
		if velocityIdx == -1 && strings.HasPrefix(c, "velocity(") {
			velocityIdx = i
		}
	}
	require.GreaterOrEqual(t, enableIdx, 0)
	require.GreaterOrEqual(t, velocityIdx, 0)
	assert.Greater(t, velocityIdx, enableIdx)
	assert.True(t, h.pair.Enabled())
}

func TestReinitializeAfterFaultReport(t *testing.T) {
	h := startLoop(t, time.Second)

	h.pair.ReportFault(kinematics.Right)
	require.Equal(t, actuator.StateDisabled, h.pair.State())

	h.send(t, kinematics.VelocityCommand{Linear: 0.3})
	waitFor(t, "drive after fault recovery", func() bool {
		return h.left.countPrefix("velocity(") > 0
	})
	assert.True(t, h.pair.Enabled())
}

func TestOverLimitCommandZeroesWheels(t *testing.T) {
	h := startLoop(t, time.Second)

	h.send(t, kinematics.VelocityCommand{Linear: 100.0, Angular: 5.0})

	waitFor(t, "zero setpoints", func() bool {
		return h.left.count("velocity(0.0)") == 1 && h.right.count("velocity(0.0)") == 1
	})
	waitFor(t, "speed event", func() bool {
		return h.rec.CountKind(eventlog.KindSpeedLimit) == 1
	})
}

func TestSpeedWarningsAreRateLimited(t *testing.T) {
	h := startLoop(t, time.Second)

	for i := 0; i < 5; i++ {
		h.send(t, kinematics.VelocityCommand{Linear: 50.0})
	}
	waitFor(t, "commands handled", func() bool { return h.left.count("velocity(0.0)") == 5 })

	assert.Equal(t, 1, h.rec.CountKind(eventlog.KindSpeedLimit))
}

func TestInitFailureOnCommandStaysStopped(t *testing.T) {
	h := startLoop(t, 25*time.Millisecond)

	waitFor(t, "watchdog trip", func() bool { return h.pair.State() == actuator.StateDisabled })

	// the next re-init attempt will fail on the left motor
	h.left.mu.Lock()
	h.left.failOn["enable(true)"] = errors.New("controller gone")
	h.left.mu.Unlock()

	h.send(t, kinematics.VelocityCommand{Linear: 0.5})
	waitFor(t, "init failure recorded", func() bool {
		return h.rec.CountKind(eventlog.KindInitFailure) > 0
	})

	assert.False(t, h.pair.Enabled())
	assert.Zero(t, h.left.countPrefix("velocity("))
	assert.Zero(t, h.right.countPrefix("velocity("))
	assert.Equal(t, Stopped, h.loop.State())
}

func TestDriveErrorDoesNotDisablePair(t *testing.T) {
	h := startLoop(t, time.Second)

	h.left.mu.Lock()
	h.left.failOn["velocity(3183.1)"] = errors.New("write failed")
	h.left.mu.Unlock()

	h.send(t, kinematics.VelocityCommand{Linear: 1.0})
	waitFor(t, "drive error recorded", func() bool {
		return h.rec.CountKind(eventlog.KindDriveError) == 1
	})

	assert.True(t, h.pair.Enabled())
}

func TestRunReturnsWhenCommandChannelCloses(t *testing.T) {
	h := startLoop(t, time.Second)

	close(h.commands)
	select {
	case err := <-h.done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not return after channel close")
	}
	h.commands = nil
	h.done <- nil // satisfy cleanup
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := startLoop(t, time.Hour)

	h.cancel()
	select {
	case err := <-h.done:
		require.ErrorIs(t, err, context.Canceled)
		h.done <- err // satisfy cleanup
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on cancellation")
	}
}

func TestCommandStateSnapshotIsAtomic(t *testing.T) {
	var s CommandState

	tripped, _, _ := s.Snapshot()
	assert.False(t, tripped)

	now := time.Now()
	s.Arm(kinematics.VelocityCommand{Linear: 1.5, Angular: -0.2}, now)
	tripped, last, at := s.Snapshot()
	assert.True(t, tripped)
	assert.Equal(t, 1.5, last.Linear)
	assert.Equal(t, now, at)

	s.BeginCycle()
	tripped, last, _ = s.Snapshot()
	assert.False(t, tripped)
	// the last command survives the cycle boundary
	assert.Equal(t, 1.5, last.Linear)
}
