package eventlog

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/torqueworks/driveguard/internal/monitoring"
)

// DB is a sqlite-backed event recorder. Inserts happen on a background
// writer goroutine so Record never blocks the control loop; if the queue is
// full the event is dropped with a diagnostic rather than stalling safety
// handling.
type DB struct {
	db *sql.DB

	queue chan Event
	done  chan struct{}
	once  sync.Once
}

const writeQueueDepth = 256

// NewDB opens (creating if needed) the event database at path and starts
// the background writer.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			event_id          TEXT PRIMARY KEY,
			kind              TEXT NOT NULL,
			channel           TEXT,
			detail            TEXT,
			at                TIMESTAMP NOT NULL
		);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	d := &DB{
		db:    db,
		queue: make(chan Event, writeQueueDepth),
		done:  make(chan struct{}),
	}
	go d.writer()
	return d, nil
}

func (d *DB) writer() {
	defer close(d.done)
	for e := range d.queue {
		_, err := d.db.Exec(
			`INSERT INTO events (event_id, kind, channel, detail, at) VALUES (?, ?, ?, ?, ?)`,
			e.ID, string(e.Kind), e.Channel, e.Detail, e.At,
		)
		if err != nil {
			monitoring.Logf("eventlog: failed to record %s event: %v", e.Kind, err)
		}
	}
}

// Record queues an event for insertion.
func (d *DB) Record(e Event) {
	select {
	case d.queue <- e:
	default:
		monitoring.Logf("eventlog: write queue full, dropping %s event", e.Kind)
	}
}

// Close drains the write queue and closes the database.
func (d *DB) Close() error {
	d.once.Do(func() {
		close(d.queue)
		select {
		case <-d.done:
		case <-time.After(5 * time.Second):
			monitoring.Logf("eventlog: writer did not drain in time")
		}
	})
	return d.db.Close()
}

// Recent returns up to limit events, newest first.
func (d *DB) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT event_id, kind, channel, detail, at FROM events ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.Channel, &e.Detail, &e.At); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountSince returns how many events of the given kind were recorded at or
// after t.
func (d *DB) CountSince(kind Kind, t time.Time) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM events WHERE kind = ? AND at >= ?`, string(kind), t).Scan(&n)
	return n, err
}

// AttachAdminRoutes mounts a /debug/events endpoint returning recent events
// as JSON. Accessible only over localhost or Tailscale.
func (d *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleSilentFunc("events", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := d.Recent(limit)
		if err != nil {
			http.Error(w, "Failed to query events", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(events)
	})
}
