// Package config loads the robot configuration file: drive geometry,
// watchdog timing, and the serial connection for each motor controller.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/serialmux"
)

// RobotConfig is the root configuration. Fields are pointers so a partial
// file is safe: anything omitted keeps its default via the Get* methods.
type RobotConfig struct {
	// Drive geometry
	WheelRadius       *float64 `json:"wheel_radius,omitempty"`       // metres
	GearRatio         *float64 `json:"gear_ratio,omitempty"`         // motor:wheel
	EncoderResolution *float64 `json:"encoder_resolution,omitempty"` // ticks/rev
	RobotRadius       *float64 `json:"robot_radius,omitempty"`       // metres
	LeftWarp          *float64 `json:"left_warp,omitempty"`
	RightWarp         *float64 `json:"right_warp,omitempty"`
	TopSpeed          *float64 `json:"top_speed,omitempty"` // m/s

	// Watchdog
	WatchdogTimeout *string `json:"watchdog_timeout,omitempty"` // duration string like "500ms"

	// Controllers
	ControlMode *int    `json:"control_mode,omitempty"`
	LeftPort    *string `json:"left_port,omitempty"`
	RightPort   *string `json:"right_port,omitempty"`

	Serial *serialmux.PortOptions `json:"serial,omitempty"`

	// Encoder polling (stub odometry seam)
	EncoderPollInterval *string `json:"encoder_poll_interval,omitempty"`
}

// Load reads a RobotConfig from a JSON file. The path must carry a .json
// extension and stay under the size cap.
func Load(path string) (*RobotConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RobotConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that supplied values are usable.
func (c *RobotConfig) Validate() error {
	for name, v := range map[string]*float64{
		"wheel_radius":       c.WheelRadius,
		"gear_ratio":         c.GearRatio,
		"encoder_resolution": c.EncoderResolution,
		"robot_radius":       c.RobotRadius,
		"top_speed":          c.TopSpeed,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	for name, v := range map[string]*float64{
		"left_warp":  c.LeftWarp,
		"right_warp": c.RightWarp,
	} {
		if v != nil && *v == 0 {
			return fmt.Errorf("%s must be non-zero", name)
		}
	}

	for name, v := range map[string]*string{
		"watchdog_timeout":      c.WatchdogTimeout,
		"encoder_poll_interval": c.EncoderPollInterval,
	} {
		if v != nil && *v != "" {
			d, err := time.ParseDuration(*v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", name, *v, err)
			}
			if d <= 0 {
				return fmt.Errorf("%s must be positive, got %s", name, d)
			}
		}
	}

	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("invalid serial options: %w", err)
		}
	}

	return nil
}

// Kinematics assembles the drive geometry for the translator.
func (c *RobotConfig) Kinematics() kinematics.Config {
	return kinematics.Config{
		WheelRadius:       c.GetWheelRadius(),
		GearRatio:         c.GetGearRatio(),
		EncoderResolution: c.GetEncoderResolution(),
		RobotRadius:       c.GetRobotRadius(),
		LeftWarp:          c.GetLeftWarp(),
		RightWarp:         c.GetRightWarp(),
		TopSpeed:          c.GetTopSpeed(),
	}
}

// GetWheelRadius returns the wheel radius or the default.
func (c *RobotConfig) GetWheelRadius() float64 {
	if c.WheelRadius == nil {
		return 0.1524 // 12in wheel
	}
	return *c.WheelRadius
}

// GetGearRatio returns the gear ratio or the default.
func (c *RobotConfig) GetGearRatio() float64 {
	if c.GearRatio == nil {
		return 20.0
	}
	return *c.GearRatio
}

// GetEncoderResolution returns ticks per revolution or the default.
func (c *RobotConfig) GetEncoderResolution() float64 {
	if c.EncoderResolution == nil {
		return 2048
	}
	return *c.EncoderResolution
}

// GetRobotRadius returns the turning radius or the default.
func (c *RobotConfig) GetRobotRadius() float64 {
	if c.RobotRadius == nil {
		return 0.3
	}
	return *c.RobotRadius
}

// GetLeftWarp returns the left wheel calibration factor or 1.
func (c *RobotConfig) GetLeftWarp() float64 {
	if c.LeftWarp == nil {
		return 1.0
	}
	return *c.LeftWarp
}

// GetRightWarp returns the right wheel calibration factor or 1.
func (c *RobotConfig) GetRightWarp() float64 {
	if c.RightWarp == nil {
		return 1.0
	}
	return *c.RightWarp
}

// GetTopSpeed returns the speed limit or the default.
func (c *RobotConfig) GetTopSpeed() float64 {
	if c.TopSpeed == nil {
		return 2.0 // m/s
	}
	return *c.TopSpeed
}

// GetWatchdogTimeout parses the watchdog period or returns the default.
func (c *RobotConfig) GetWatchdogTimeout() time.Duration {
	if c.WatchdogTimeout == nil || *c.WatchdogTimeout == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.WatchdogTimeout)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetControlMode returns the controller operating mode or the default.
func (c *RobotConfig) GetControlMode() int {
	if c.ControlMode == nil {
		return 5 // jog velocity mode
	}
	return *c.ControlMode
}

// GetLeftPort returns the left controller's serial device path.
func (c *RobotConfig) GetLeftPort() string {
	if c.LeftPort == nil {
		return "/dev/ttyS0"
	}
	return *c.LeftPort
}

// GetRightPort returns the right controller's serial device path.
func (c *RobotConfig) GetRightPort() string {
	if c.RightPort == nil {
		return "/dev/ttyS1"
	}
	return *c.RightPort
}

// GetSerial returns the serial port options, defaulted if absent.
func (c *RobotConfig) GetSerial() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *c.Serial
}

// GetEncoderPollInterval parses the encoder polling period or returns the
// default.
func (c *RobotConfig) GetEncoderPollInterval() time.Duration {
	if c.EncoderPollInterval == nil || *c.EncoderPollInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.EncoderPollInterval)
	if err != nil {
		return time.Second
	}
	return d
}
