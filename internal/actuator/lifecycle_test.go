package actuator

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqueworks/driveguard/internal/eventlog"
	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/monitoring"
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

func TestInitializeSuccess(t *testing.T) {
	left, right := newFakeDriver(), newFakeDriver()
	var rec eventlog.MemoryRecorder
	p := NewPair(left, right, 5, &rec)

	require.NoError(t, p.Initialize())
	assert.Equal(t, StateEnabled, p.State())
	assert.True(t, p.Enabled())

	want := []string{"stop", "setmode(5)", "reset", "enable(true)"}
	assert.Equal(t, want, left.Calls())
	assert.Equal(t, want, right.Calls())
	assert.Empty(t, rec.Events())
}

func TestInitializeFailureKeepsPairDown(t *testing.T) {
	left, right := newFakeDriver(), newFakeDriver()
	left.failOn["reset"] = errors.New("no response")
	var rec eventlog.MemoryRecorder
	p := NewPair(left, right, 5, &rec)

	err := p.Initialize()
	require.Error(t, err)
	assert.Equal(t, StateUninitialized, p.State())
	assert.False(t, p.Enabled())

	// the failing motor is never enabled past its failed step
	assert.Equal(t, []string{"stop", "setmode(5)", "reset"}, left.Calls())
	// the healthy motor is still attempted in full
	assert.Equal(t, []string{"stop", "setmode(5)", "reset", "enable(true)"}, right.Calls())

	assert.Equal(t, 1, rec.CountKind(eventlog.KindInitFailure))
}

func TestInitializeReportsEveryFailingMotor(t *testing.T) {
	left, right := newFakeDriver(), newFakeDriver()
	left.failOn["stop"] = errors.New("left dead")
	right.failOn["enable(true)"] = errors.New("right dead")
	var rec eventlog.MemoryRecorder
	p := NewPair(left, right, 5, &rec)

	err := p.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "left dead")
	assert.Contains(t, err.Error(), "right dead")
	assert.Equal(t, 2, rec.CountKind(eventlog.KindInitFailure))
}

func TestShutdownDisablesRegardlessOfErrors(t *testing.T) {
	left, right := newFakeDriver(), newFakeDriver()
	left.failOn["stop"] = errors.New("no ack")
	p := NewPair(left, right, 5, nil)
	require.Error(t, p.Initialize()) // left fails stop, stays down

	left.failOn["enable(false)"] = errors.New("no ack")
	err := p.Shutdown()
	require.Error(t, err)
	assert.Equal(t, StateDisabled, p.State())

	// both motors still got their stop and disable attempts
	assert.Contains(t, right.Calls(), "enable(false)")
}

func TestShutdownFromEnabled(t *testing.T) {
	left, right := newFakeDriver(), newFakeDriver()
	p := NewPair(left, right, 5, nil)
	require.NoError(t, p.Initialize())

	require.NoError(t, p.Shutdown())
	assert.Equal(t, StateDisabled, p.State())
	assert.Equal(t, []string{"stop", "setmode(5)", "reset", "enable(true)", "stop", "enable(false)"},
		left.Calls())
}

func TestReportFaultDisablesImmediately(t *testing.T) {
	p := NewPair(newFakeDriver(), newFakeDriver(), 5, nil)
	require.NoError(t, p.Initialize())

	p.ReportFault(kinematics.Right)
	assert.Equal(t, StateDisabled, p.State())

	// idempotent
	p.ReportFault(kinematics.Right)
	p.ReportFault(kinematics.Left)
	assert.Equal(t, StateDisabled, p.State())
}

func TestReinitializeAfterFault(t *testing.T) {
	p := NewPair(newFakeDriver(), newFakeDriver(), 5, nil)
	require.NoError(t, p.Initialize())
	p.ReportFault(kinematics.Left)
	require.False(t, p.Enabled())

	require.NoError(t, p.Initialize())
	assert.Equal(t, StateEnabled, p.State())
}

func TestDriveRefusedWhenNotEnabled(t *testing.T) {
	left, right := newFakeDriver(), newFakeDriver()
	p := NewPair(left, right, 5, nil)

	err := p.Drive(
		kinematics.WheelSetpoint{Channel: kinematics.Left, Velocity: 100},
		kinematics.WheelSetpoint{Channel: kinematics.Right, Velocity: 100},
	)
	require.Error(t, err)
	assert.Empty(t, left.Calls())
}

func TestDriveFailureDoesNotChangeState(t *testing.T) {
	left, right := newFakeDriver(), newFakeDriver()
	p := NewPair(left, right, 5, nil)
	require.NoError(t, p.Initialize())

	left.failOn["velocity(100.0)"] = errors.New("write failed")
	err := p.Drive(
		kinematics.WheelSetpoint{Channel: kinematics.Left, Velocity: 100},
		kinematics.WheelSetpoint{Channel: kinematics.Right, Velocity: 100},
	)
	require.Error(t, err)

	// transient: the pair stays enabled, only timeouts and faults disable it
	assert.Equal(t, StateEnabled, p.State())
	assert.Contains(t, right.Calls(), "velocity(100.0)")
}

func TestConcurrentFaultReports(t *testing.T) {
	p := NewPair(newFakeDriver(), newFakeDriver(), 5, nil)
	require.NoError(t, p.Initialize())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		ch := kinematics.Channel(i % 2)
		go func() {
			defer wg.Done()
			p.ReportFault(ch)
		}()
	}
	wg.Wait()
	assert.Equal(t, StateDisabled, p.State())
}
