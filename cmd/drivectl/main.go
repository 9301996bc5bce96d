// Command drivectl sends velocity commands to a running driveguard. With
// -rate it keeps sending until interrupted, which is what the watchdog
// expects from a live operator; a single send only produces motion for one
// watchdog period.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/teleop"
)

var (
	addr    = flag.String("addr", "127.0.0.1:5230", "driveguard UDP command address")
	linear  = flag.Float64("linear", 0, "linear velocity in m/s")
	angular = flag.Float64("angular", 0, "angular velocity in rad/s")
	rate    = flag.Duration("rate", 0, "resend interval; 0 sends once and exits")
)

func main() {
	flag.Parse()

	cmd := kinematics.VelocityCommand{Linear: *linear, Angular: *angular}

	if err := teleop.SendCommand(*addr, cmd); err != nil {
		log.Fatalf("failed to send command: %v", err)
	}
	if *rate <= 0 {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// a final zero command so the robot stops before the watchdog
			// would have to do it
			if err := teleop.SendCommand(*addr, kinematics.VelocityCommand{}); err != nil {
				log.Printf("failed to send stop command: %v", err)
			}
			return
		case <-ticker.C:
			if err := teleop.SendCommand(*addr, cmd); err != nil {
				log.Printf("failed to send command: %v", err)
			}
		}
	}
}
