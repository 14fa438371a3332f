// Package monitor exposes the bridge state over HTTP: transmitter and drop
// counters as JSON, and a websocket feed of every record as it is handled.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"serial2mqtt/txmap"
)

const (
	writeWait       = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Event is one record as sent to websocket clients.
type Event struct {
	Time      time.Time       `json:"time"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Published bool            `json:"published"`
	Kind      string          `json:"kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Status is the bridge-wide part of /stats.
type Status struct {
	Connected bool   `json:"connected"`
	Lines     uint64 `json:"lines"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

type stats struct {
	Status
	Drops        map[string]uint64 `json:"drops"`
	Transmitters int               `json:"transmitters"`
	Clients      int               `json:"ws_clients"`
}

// Server serves the monitor endpoints.
type Server struct {
	tx       *txmap.Map
	status   func() Status
	hub      *hub
	upgrader websocket.Upgrader
	done     chan struct{}
	logger   zerolog.Logger
}

// New returns a Server reading transmitter data from tx and bridge status
// from status.
func New(tx *txmap.Map, status func() Status, logger zerolog.Logger) *Server {
	return &Server{
		tx:     tx,
		status: status,
		hub:    newHub(),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "monitor").Logger(),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/transmitters", s.handleTransmitters).Methods(http.MethodGet)
	r.HandleFunc("/transmitters/{topic:.+}", s.handleTransmitter).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	return r
}

// Broadcast sends ev to every connected websocket client without blocking.
func (s *Server) Broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode event")
		return
	}
	if missed := s.hub.broadcast(msg); missed > 0 {
		s.logger.Debug().Int("clients", missed).Msg("slow websocket clients skipped an event")
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("monitor listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	close(s.done)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status()
	code := http.StatusOK
	if !st.Connected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]bool{"connected": st.Connected})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stats{
		Status:       s.status(),
		Drops:        s.tx.Drops(),
		Transmitters: len(s.tx.List()),
		Clients:      s.hub.count(),
	})
}

func (s *Server) handleTransmitters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.tx.List())
}

func (s *Server) handleTransmitter(w http.ResponseWriter, r *http.Request) {
	e, ok := s.tx.Get(mux.Vars(r)["topic"])
	if !ok {
		http.Error(w, "unknown transmitter", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := s.hub.register()
	s.logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")
	defer func() {
		s.hub.unregister(c)
		conn.Close()
		s.logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket client disconnected")
	}()

	// The feed is one-way; reading only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
