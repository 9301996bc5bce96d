// Package encoder polls wheel encoder positions on a fixed period.
//
// Odometry is not implemented yet: the poller keeps the cycle cadence and the
// reporting seam so position queries can be wired in without touching the
// supervisor, but each cycle currently reports zero ticks.
package encoder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/timeutil"
)

// Reading is one polled encoder sample.
type Reading struct {
	Channel kinematics.Channel
	Ticks   int64
	At      time.Time
}

// Poller runs the encoder polling cycle for both wheels.
type Poller struct {
	interval time.Duration
	clock    timeutil.Clock
	report   func(Reading)

	cycles atomic.Int64
}

// NewPoller builds a poller with the given cycle period. The report callback
// receives one Reading per wheel per cycle; nil discards readings. A nil
// clock gets the real clock.
func NewPoller(interval time.Duration, clock timeutil.Clock, report func(Reading)) *Poller {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{interval: interval, clock: clock, report: report}
}

// Cycles returns how many polling cycles have completed.
func (p *Poller) Cycles() int64 {
	return p.cycles.Load()
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	now := p.clock.Now()
	if p.report != nil {
		// TODO: query PX from each controller once the odometry consumer
		// exists; until then every sample is zero.
		p.report(Reading{Channel: kinematics.Left, At: now})
		p.report(Reading{Channel: kinematics.Right, At: now})
	}
	p.cycles.Add(1)
}
