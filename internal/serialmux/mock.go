package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/torqueworks/driveguard/internal/monitoring"
)

// MockControllerPort implements Porter for -dev mode. Commands written to it
// are logged and discarded; the read side is fed by an optional periodic
// status line to keep downstream subscribers exercised.
type MockControllerPort struct {
	io.Reader
	name string

	mu     sync.Mutex
	closed bool
	writer *io.PipeWriter
}

func (m *MockControllerPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("mock port closed")
	}
	monitoring.Logf("mock %s controller received command %q", m.name, string(p))
	return len(p), nil
}

func (m *MockControllerPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.writer.Close()
}

// NewMockMux creates a Mux backed by a simulated controller for the named
// channel. If statusLine is non-empty it is emitted on the read side every
// interval, simulating the controller's asynchronous status chatter.
func NewMockMux(name, statusLine string, interval time.Duration) *Mux[*MockControllerPort] {
	r, w := io.Pipe()
	port := &MockControllerPort{Reader: r, name: name, writer: w}

	if statusLine != "" {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for range ticker.C {
				if _, err := w.Write([]byte(statusLine + "\r")); err != nil {
					return
				}
			}
		}()
	}

	return NewMux(name, port)
}

// TestablePort implements Porter with configurable behaviour for unit tests:
// scripted reads, captured writes, and injectable errors.
type TestablePort struct {
	mu sync.Mutex

	readBuffer  bytes.Buffer
	writeBuffer bytes.Buffer

	// ReadError is returned by the next Read call if set.
	ReadError error

	// WriteError is returned by the next Write call if set.
	WriteError error

	// ShortWrite makes Write report one byte fewer than requested.
	ShortWrite bool

	closed   bool
	readCond *sync.Cond
}

// NewTestablePort creates a TestablePort whose reads block until data is
// added or the port is closed, matching real serial semantics.
func NewTestablePort() *TestablePort {
	p := &TestablePort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

func (p *TestablePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}

	for !p.closed && p.readBuffer.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed && p.readBuffer.Len() == 0 {
		return 0, io.EOF
	}
	return p.readBuffer.Read(buf)
}

func (p *TestablePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}
	if p.ShortWrite && len(data) > 0 {
		n, _ := p.writeBuffer.Write(data[:len(data)-1])
		return n, nil
	}
	return p.writeBuffer.Write(data)
}

func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// FeedLine queues one status line (with terminator) for subsequent reads.
func (p *TestablePort) FeedLine(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readBuffer.WriteString(line + "\r")
	p.readCond.Signal()
}

// Written returns everything written to the port so far.
func (p *TestablePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuffer.String()
}
