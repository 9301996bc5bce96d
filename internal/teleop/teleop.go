// Package teleop receives velocity commands over UDP and feeds them to the
// control loop. One JSON object per datagram:
//
//	{"linear": 0.5, "angular": -0.2}
//
// Malformed datagrams are logged and dropped; the sender gets no reply.
package teleop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/monitoring"
)

// Source listens for teleoperation datagrams and forwards decoded commands.
type Source struct {
	conn     *net.UDPConn
	commands chan<- kinematics.VelocityCommand

	received atomic.Int64
	dropped  atomic.Int64
}

// NewSource binds the given UDP address. Commands decoded from datagrams are
// sent on the commands channel; the channel is never closed by the source.
func NewSource(addr string, commands chan<- kinematics.VelocityCommand) (*Source, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %q: %w", addr, err)
	}

	return &Source{conn: conn, commands: commands}, nil
}

// LocalAddr returns the bound address, useful when listening on port 0.
func (s *Source) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Stats returns the datagram counters: total received and dropped as
// malformed.
func (s *Source) Stats() (received, dropped int64) {
	return s.received.Load(), s.dropped.Load()
}

// Run reads datagrams until the context is cancelled. Decoded commands block
// on the channel send, so the control loop's consumption rate backpressures
// the reader.
func (s *Source) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buffer := make([]byte, 512)
	for {
		n, _, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			monitoring.Logf("teleop: read error: %v", err)
			continue
		}
		s.received.Add(1)

		var cmd kinematics.VelocityCommand
		if err := json.Unmarshal(buffer[:n], &cmd); err != nil {
			s.dropped.Add(1)
			monitoring.Logf("teleop: dropping malformed datagram: %v", err)
			continue
		}

		select {
		case s.commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close releases the socket. Safe to call after Run returns.
func (s *Source) Close() error {
	err := s.conn.Close()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// SendCommand encodes and sends one command to a teleop listener. Used by the
// command-line sender and tests.
func SendCommand(addr string, cmd kinematics.VelocityCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %q: %w", addr, err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}
