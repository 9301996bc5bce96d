package actuator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/torqueworks/driveguard/internal/eventlog"
	"github.com/torqueworks/driveguard/internal/kinematics"
)

// StatusClass is the closed set of categories a controller status line can
// fall into. Only EStop and CommandRejected indicate faults; everything else
// is controller chatter.
type StatusClass int

const (
	// StatusEStop: the controller reported its emergency stop engaged.
	StatusEStop StatusClass = iota
	// StatusCommandRejected: a motion command was refused because the motor
	// output stage is off.
	StatusCommandRejected
	// StatusUnknown: anything else on the status stream.
	StatusUnknown
)

func (c StatusClass) String() string {
	switch c {
	case StatusEStop:
		return "estop"
	case StatusCommandRejected:
		return "command_rejected"
	default:
		return "unknown"
	}
}

// Controller fault markers embedded in status responses. "a?" accompanies an
// emergency-stop report; ":?" follows a command sent while the motor is off.
const (
	markerEStop           = "a?"
	markerCommandRejected = ":?"
)

// ClassifyStatus inspects one raw status line and returns its class. The
// match is intentionally conservative and mirrors the markers the controller
// firmware emits.
func ClassifyStatus(line string) StatusClass {
	if strings.Contains(line, markerEStop) {
		return StatusEStop
	}
	if strings.Contains(line, markerCommandRejected) {
		return StatusCommandRejected
	}
	return StatusUnknown
}

// ErrStatusStreamClosed reports that a controller's status stream ended
// while the monitor was still supposed to be watching it.
var ErrStatusStreamClosed = errors.New("controller status stream closed")

// FaultMonitor watches one controller's status stream and narrows the pair's
// lifecycle state when the controller reports a fault. It never touches
// setpoints or command data.
type FaultMonitor struct {
	channel kinematics.Channel
	lines   <-chan string
	pair    *Pair
	rec     eventlog.Recorder
}

// NewFaultMonitor builds a monitor for the given channel. lines is a status
// line subscription (serialmux.Mux.Subscribe) owned by this monitor.
func NewFaultMonitor(channel kinematics.Channel, lines <-chan string, pair *Pair, rec eventlog.Recorder) *FaultMonitor {
	if rec == nil {
		rec = eventlog.LogRecorder{}
	}
	return &FaultMonitor{channel: channel, lines: lines, pair: pair, rec: rec}
}

// Run consumes the status stream until the context is cancelled or the
// stream closes. Loss of the stream is classified distinctly from a reported
// fault but also disables the pair: a controller we cannot hear from cannot
// be trusted to be driving safely.
func (m *FaultMonitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-m.lines:
			if !ok {
				m.rec.Record(eventlog.New(eventlog.KindConnectionLost, m.channel.String(),
					"status stream ended"))
				m.pair.ReportFault(m.channel)
				return fmt.Errorf("%s monitor: %w", m.channel, ErrStatusStreamClosed)
			}

			switch class := ClassifyStatus(line); class {
			case StatusEStop, StatusCommandRejected:
				m.rec.Record(eventlog.New(eventlog.KindFault, m.channel.String(),
					fmt.Sprintf("%s: %q", class, line)))
				m.pair.ReportFault(m.channel)
			}
		}
	}
}
