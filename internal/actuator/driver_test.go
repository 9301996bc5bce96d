package actuator

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqueworks/driveguard/internal/kinematics"
)

// recordingBus captures commands sent to a controller link.
type recordingBus struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (b *recordingBus) SendCommand(command string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.commands = append(b.commands, command)
	return nil
}

func (b *recordingBus) Commands() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

func TestSerialControllerCommandEncoding(t *testing.T) {
	bus := &recordingBus{}
	c := NewSerialController(kinematics.Left, bus)

	require.NoError(t, c.Stop())
	require.NoError(t, c.SetMode(5))
	require.NoError(t, c.ResetPosition())
	require.NoError(t, c.Enable(true))
	require.NoError(t, c.Enable(false))

	assert.Equal(t, []string{"ST", "UM=5", "PX=0", "MO=1", "MO=0"}, bus.Commands())
	assert.Equal(t, kinematics.Left, c.Channel())
}

func TestSerialControllerSetVelocity(t *testing.T) {
	bus := &recordingBus{}
	c := NewSerialController(kinematics.Right, bus)

	require.NoError(t, c.SetVelocity(3183.098861))
	assert.Equal(t, []string{"JV=3183", "BG"}, bus.Commands())
}

func TestSerialControllerSetVelocityRoundsNegative(t *testing.T) {
	bus := &recordingBus{}
	c := NewSerialController(kinematics.Left, bus)

	require.NoError(t, c.SetVelocity(-499.7))
	assert.Equal(t, []string{"JV=-500", "BG"}, bus.Commands())
}

func TestSerialControllerWrapsBusErrors(t *testing.T) {
	cause := errors.New("port closed")
	bus := &recordingBus{err: cause}
	c := NewSerialController(kinematics.Left, bus)

	err := c.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "left")
}
