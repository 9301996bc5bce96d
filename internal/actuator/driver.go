// Package actuator owns the pair of drive motor controllers: the command
// protocol spoken to each controller, the shared enabled/disabled lifecycle
// of the pair, and the fault monitors watching each controller's status
// stream.
package actuator

import (
	"fmt"
	"math"

	"github.com/torqueworks/driveguard/internal/kinematics"
)

// Driver is the per-motor capability the lifecycle drives. Implementations
// must be safe to call from the control goroutine only; the status stream of
// the same controller is consumed elsewhere.
type Driver interface {
	// Stop halts motion immediately.
	Stop() error
	// SetMode selects the controller's operating mode.
	SetMode(mode int) error
	// ResetPosition zeroes the encoder counter.
	ResetPosition() error
	// Enable turns the motor output stage on or off.
	Enable(on bool) error
	// SetVelocity jogs the motor at the given encoder ticks per second.
	SetVelocity(ticksPerSecond float64) error
}

// CommandBus is the outbound half of a controller link. serialmux.Mux
// satisfies it.
type CommandBus interface {
	SendCommand(string) error
}

// SerialController implements Driver over the controllers' ASCII serial
// protocol: ST stops, UM=<n> selects mode, PX=0 zeroes the encoder, MO=<0|1>
// gates the output stage, and JV=<ticks> followed by BG jogs at a velocity.
type SerialController struct {
	channel kinematics.Channel
	bus     CommandBus
}

// NewSerialController binds a Driver for the given channel onto a command
// bus.
func NewSerialController(channel kinematics.Channel, bus CommandBus) *SerialController {
	return &SerialController{channel: channel, bus: bus}
}

// Channel returns the wheel this controller drives.
func (c *SerialController) Channel() kinematics.Channel { return c.channel }

func (c *SerialController) send(command string) error {
	if err := c.bus.SendCommand(command); err != nil {
		return fmt.Errorf("%s controller %q: %w", c.channel, command, err)
	}
	return nil
}

func (c *SerialController) Stop() error {
	return c.send("ST")
}

func (c *SerialController) SetMode(mode int) error {
	return c.send(fmt.Sprintf("UM=%d", mode))
}

func (c *SerialController) ResetPosition() error {
	return c.send("PX=0")
}

func (c *SerialController) Enable(on bool) error {
	if on {
		return c.send("MO=1")
	}
	return c.send("MO=0")
}

// SetVelocity programs the jog velocity and begins motion. The controller
// takes integer tick rates; the setpoint is rounded to the nearest tick.
func (c *SerialController) SetVelocity(ticksPerSecond float64) error {
	if err := c.send(fmt.Sprintf("JV=%d", int64(math.Round(ticksPerSecond)))); err != nil {
		return err
	}
	return c.send("BG")
}
