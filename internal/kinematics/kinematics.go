// Package kinematics converts robot-frame velocity commands into per-wheel
// velocity setpoints for a two-wheeled differential drive.
//
// Speeds arrive in m/s and rad/s and leave in encoder ticks per second, the
// unit the motor controllers jog in. The conversion is a pure function of the
// drive geometry so it can be tested without any hardware attached.
package kinematics

import "math"

// Channel identifies one of the two drive wheels.
type Channel int

const (
	Left Channel = iota
	Right
)

// String returns the lowercase channel name.
func (c Channel) String() string {
	switch c {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// VelocityCommand is a robot-frame motion request: forward speed in m/s and
// turn rate in rad/s. Commands are immutable once received; a newer command
// simply replaces the previous one.
type VelocityCommand struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

// WheelSetpoint is an actuator-frame target speed in encoder ticks per
// second for a single wheel. Setpoints are derived fresh every control cycle
// and never persisted.
type WheelSetpoint struct {
	Channel  Channel
	Velocity float64
}

// Config holds the drive geometry and calibration constants. All values are
// read-only after startup.
type Config struct {
	// WheelRadius is the drive wheel radius in metres.
	WheelRadius float64
	// GearRatio is the motor-to-wheel gear reduction.
	GearRatio float64
	// EncoderResolution is encoder ticks per motor revolution.
	EncoderResolution float64
	// RobotRadius is the distance in metres from the robot centre to a
	// wheel, which scales turn rate into differential wheel speed.
	RobotRadius float64
	// LeftWarp and RightWarp are per-wheel calibration scalars correcting
	// mechanical asymmetry between the two drive trains.
	LeftWarp  float64
	RightWarp float64
	// TopSpeed is the maximum commanded linear speed in m/s. Commands over
	// this limit are zeroed outright rather than scaled down.
	TopSpeed float64
}

// TicksPerMeterSecond returns the conversion factor from m/s of wheel travel
// to encoder ticks per second.
func (c Config) TicksPerMeterSecond() float64 {
	return c.EncoderResolution * c.GearRatio / (2 * c.WheelRadius * math.Pi)
}

// turnOffset is the differential tick rate contributed by 1 rad/s of turn.
func (c Config) turnOffset() float64 {
	return c.TicksPerMeterSecond() * c.RobotRadius
}

// Translate converts a velocity command into left and right wheel setpoints.
//
// A command whose linear speed exceeds cfg.TopSpeed is treated as an
// emergency: both linear and angular components are forced to zero for this
// cycle and limited is returned true so the caller can report the violation.
// This is a full stop of the commanded motion, not a proportional clamp;
// driving the turn component of an implausible command is no safer than
// driving its forward component.
func Translate(cmd VelocityCommand, cfg Config) (left, right WheelSetpoint, limited bool) {
	linear, angular := cmd.Linear, cmd.Angular
	if math.Abs(linear) > cfg.TopSpeed {
		linear = 0
		angular = 0
		limited = true
	}

	mps2tps := cfg.TicksPerMeterSecond()
	offset := cfg.turnOffset()

	left = WheelSetpoint{
		Channel:  Left,
		Velocity: (linear*mps2tps - offset*angular) * cfg.LeftWarp,
	}
	right = WheelSetpoint{
		Channel:  Right,
		Velocity: (linear*mps2tps + offset*angular) * cfg.RightWarp,
	}
	return left, right, limited
}
