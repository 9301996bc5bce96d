package serialmux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledMux is a no-op Mux implementation used when a motor channel is
// absent (bench setups with one controller unplugged). It tracks subscribers
// so their channels can be deterministically closed on Unsubscribe or Close,
// letting readers unblock predictably during shutdown.
type DisabledMux struct {
	name string

	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
}

func NewDisabledMux(name string) *DisabledMux {
	return &DisabledMux{
		name:        name,
		subscribers: make(map[string]chan string),
	}
}

func (d *DisabledMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)

	d.mu.Lock()
	if d.closing {
		// already closing: hand back a closed channel so callers don't block
		close(ch)
		d.mu.Unlock()
		return id, ch
	}
	d.subscribers[id] = ch
	d.mu.Unlock()
	return id, ch
}

func (d *DisabledMux) Unsubscribe(id string) {
	d.mu.Lock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
}

func (d *DisabledMux) SendCommand(string) error { return nil }

func (d *DisabledMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledMux) Close() error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
	return nil
}

func (d *DisabledMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/"+d.name+"-serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("serial disabled"))
	})
}
