// Package serialmux provides an abstraction over a serial link to one motor
// controller, with the ability for a client to subscribe to status lines
// coming back from the controller while another sends commands to it.
//
// The supervisor opens one Mux per drive wheel. Command writes come only
// from the control loop side; the status stream feeds exactly one fault
// monitor, so the two directions of the link never contend.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

// ErrWriteFailed reports a short write to the serial port.
var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// Mux multiplexes a single motor controller link: many subscribers may
// observe the inbound status lines, and commands are serialised onto the
// outbound side.
type Mux[T Porter] struct {
	name         string
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// MuxInterface defines the behaviour the rest of the supervisor depends on.
type MuxInterface interface {
	// Subscribe creates a channel receiving status lines from the
	// controller. The returned ID identifies the subscription for
	// Unsubscribe.
	Subscribe() (string, chan string)
	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(string)
	// SendCommand writes one command to the controller, appending the
	// terminator if missing.
	SendCommand(string) error
	// Monitor reads status lines from the link and fans them out to
	// subscribers until the context is cancelled or the link fails.
	Monitor(context.Context) error
	// Close closes all subscriptions and the underlying port.
	Close() error

	// AttachAdminRoutes mounts debug endpoints (raw command injection and a
	// live status tail) on the given HTTP mux under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// NewMux creates a Mux for the named channel backed by the given port.
func NewMux[T Porter](name string, port T) *Mux[T] {
	return &Mux[T]{
		name:        name,
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// Name returns the channel name this mux serves.
func (m *Mux[T]) Name() string { return m.name }

// randomID generates a random subscription ID (8 random bytes, hex encoded).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// subscriberBuffer absorbs short bursts of status chatter so a subscriber
// that is momentarily busy does not lose lines to the non-blocking fanout.
const subscriberBuffer = 16

func (m *Mux[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the mux.
func (m *Mux[T]) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// SendCommand writes a single command to the controller. Commands are
// terminated with a carriage return, the terminator the controllers' ASCII
// protocol expects.
func (m *Mux[T]) SendCommand(command string) error {
	m.commandMu.Lock()
	defer m.commandMu.Unlock()
	if !strings.HasSuffix(command, "\r") {
		command += "\r"
	}
	n, err := m.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// scanResponses splits the inbound byte stream on CR or LF, tolerating
// either line discipline from the controller firmware.
func scanResponses(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Monitor reads status lines from the port and fans them out to subscribers.
// Empty lines (bare terminator echoes) are dropped. A slow subscriber is
// skipped rather than allowed to stall the link.
func (m *Mux[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(m.port)
	scan.Split(scanResponses)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop can
	// await lines and context cancellation together.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			line := scan.Text()
			if line == "" {
				continue
			}
			select {
			case lineChan <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				// reader goroutine finished; surface any scan error
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}

			m.closingMu.Lock()
			if m.closing {
				m.closingMu.Unlock()
				return nil
			}
			m.closingMu.Unlock()

			m.subscriberMu.Lock()
			for _, ch := range m.subscribers {
				select {
				case ch <- line:
				default:
				}
			}
			m.subscriberMu.Unlock()
		}
	}
}

// Close closes all subscriber channels and the underlying port. Fault
// monitors observe their subscription channel closing and treat it as loss
// of the status stream.
func (m *Mux[T]) Close() error {
	m.closingMu.Lock()
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	return m.port.Close()
}

// AttachAdminRoutes mounts per-channel debug endpoints: POST raw commands to
// the controller and tail its status stream over SSE. These are served under
// /debug/ and reachable only from localhost or over Tailscale.
func (m *Mux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc(m.name+"-send-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := m.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote command %q to %s controller", command, m.name)
	})

	debug.HandleSilentFunc(m.name+"-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := m.Subscribe()
		defer m.Unsubscribe(id)

		// initial ping to establish the stream
		io.WriteString(w, ": ping\n\n")
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
