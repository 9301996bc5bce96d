package serialmux

import (
	"context"
	"testing"
	"time"

	"github.com/torqueworks/driveguard/internal/monitoring"
)

func TestNewMockMuxEmitsStatusLines(t *testing.T) {
	monitoring.SetLogger(nil)
	defer monitoring.SetLogger(nil)

	mux := NewMockMux("left", "OK", 10*time.Millisecond)
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	id, c := mux.Subscribe()
	defer mux.Unsubscribe(id)

	select {
	case line := <-c:
		if line != "OK" {
			t.Errorf("received %q, want OK", line)
		}
	case <-time.After(time.Second):
		t.Fatal("mock mux emitted no status line")
	}
}

func TestMockControllerPortDiscardsCommands(t *testing.T) {
	var logged string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = format })
	defer monitoring.SetLogger(nil)

	mux := NewMockMux("right", "", 0)
	defer mux.Close()

	if err := mux.SendCommand("JV=500"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if logged == "" {
		t.Error("mock port should log received commands")
	}
}

func TestDisabledMuxLifecycle(t *testing.T) {
	d := NewDisabledMux("left")

	id, ch := d.Subscribe()
	if err := d.SendCommand("ST"); err != nil {
		t.Errorf("SendCommand on disabled mux: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Monitor(ctx) }()
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Monitor = %v, want context.Canceled", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should close on Close")
	}
	_ = id

	// subscriptions after Close come back already closed
	_, ch2 := d.Subscribe()
	if _, ok := <-ch2; ok {
		t.Error("post-Close subscription should return a closed channel")
	}
}
