// Package api serves the supervisor's HTTP status surface.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/torqueworks/driveguard/internal/actuator"
	"github.com/torqueworks/driveguard/internal/eventlog"
	"github.com/torqueworks/driveguard/internal/kinematics"
	"github.com/torqueworks/driveguard/internal/watchdog"
)

// ANSI escape codes for request log colouring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// EventStore is the slice of the event log the API reads.
type EventStore interface {
	Recent(limit int) ([]eventlog.Event, error)
}

type Server struct {
	loop   *watchdog.Loop
	pair   *actuator.Pair
	events EventStore
	drive  kinematics.Config
}

// NewServer builds the status server. events may be nil when no persistent
// log is configured; /api/events then returns an empty list.
func NewServer(loop *watchdog.Loop, pair *actuator.Pair, events EventStore, drive kinematics.Config) *Server {
	return &Server{
		loop:   loop,
		pair:   pair,
		events: events,
		drive:  drive,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusResponse is the /api/status payload.
type statusResponse struct {
	Motors        string                     `json:"motors"`
	Loop          string                     `json:"loop"`
	CommandFresh  bool                       `json:"command_fresh"`
	LastCommand   kinematics.VelocityCommand `json:"last_command"`
	LastCommandAt *time.Time                 `json:"last_command_at,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	fresh, last, at := s.loop.CommandState().Snapshot()
	resp := statusResponse{
		Motors:       s.pair.State().String(),
		Loop:         s.loop.State().String(),
		CommandFresh: fresh,
		LastCommand:  last,
	}
	if !at.IsZero() {
		resp.LastCommandAt = &at
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write status")
		return
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 50 // default value
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	events := []eventlog.Event{}
	if s.events != nil {
		var err error
		events, err = s.events.Recent(limit)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError,
				fmt.Sprintf("Failed to retrieve events: %v", err))
			return
		}
	}

	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
		return
	}
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	config := map[string]interface{}{
		"top_speed":    s.drive.TopSpeed,
		"wheel_radius": s.drive.WheelRadius,
		"robot_radius": s.drive.RobotRadius,
		"ticks_per_ms": s.drive.TicksPerMeterSecond(),
	}

	if err := json.NewEncoder(w).Encode(config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
