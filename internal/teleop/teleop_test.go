package teleop

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func startSource(t *testing.T) (*Source, chan kinematics.VelocityCommand) {
	t.Helper()
	commands := make(chan kinematics.VelocityCommand, 16)

	src, err := NewSource("127.0.0.1:0", commands)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("source did not stop after cancellation")
		}
		src.Close()
	})
	return src, commands
}

func TestSourceDeliversCommands(t *testing.T) {
	src, commands := startSource(t)

	require.NoError(t, SendCommand(src.LocalAddr().String(),
		kinematics.VelocityCommand{Linear: 0.5, Angular: -0.2}))

	select {
	case cmd := <-commands:
		assert.Equal(t, 0.5, cmd.Linear)
		assert.Equal(t, -0.2, cmd.Angular)
	case <-time.After(2 * time.Second):
		t.Fatal("command was not delivered")
	}
}

func TestSourceDropsMalformedDatagrams(t *testing.T) {
	src, commands := startSource(t)

	conn, err := net.Dial("udp", src.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json"))
	require.NoError(t, err)

	// a valid command after the garbage still arrives
	require.NoError(t, SendCommand(src.LocalAddr().String(),
		kinematics.VelocityCommand{Linear: 1.0}))

	select {
	case cmd := <-commands:
		assert.Equal(t, 1.0, cmd.Linear)
	case <-time.After(2 * time.Second):
		t.Fatal("valid command after garbage was not delivered")
	}

	received, dropped := src.Stats()
	assert.GreaterOrEqual(t, received, int64(2))
	assert.Equal(t, int64(1), dropped)
}

func TestSourceStopsOnCancel(t *testing.T) {
	commands := make(chan kinematics.VelocityCommand)
	src, err := NewSource("127.0.0.1:0", commands)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
	require.NoError(t, src.Close())
}
