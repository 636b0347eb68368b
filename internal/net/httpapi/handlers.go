package httpapi

import (
	"encoding/json"
	"log"
	nethttp "net/http"
	"time"

	"maps-and-minis/server/internal/session"
)

// Config carries optional collaborators for the HTTP surface.
type Config struct {
	Logger *log.Logger
}

// Diagnostics is implemented by the websocket layer so the HTTP surface can
// report connection counts without importing it.
type Diagnostics interface {
	Count() int
	SessionCount(sessionID string) int
}

type sessionDiagnostics struct {
	SessionID   string `json:"sessionId"`
	GameID      string `json:"gameId"`
	Tick        uint64 `json:"tick"`
	Sequence    uint64 `json:"sequence"`
	Paused      bool   `json:"paused"`
	PauseReason string `json:"pauseReason,omitempty"`
	Clients     int    `json:"clients"`
	Players     int    `json:"players"`
}

// NewHandler builds the HTTP mux: health, diagnostics, and the websocket
// endpoint supplied by the caller.
func NewHandler(sessions *session.Manager, diag Diagnostics, wsHandler nethttp.HandlerFunc, cfg Config) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/healthz", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			nethttp.Error(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}

		live := sessions.Sessions()
		details := make([]sessionDiagnostics, 0, len(live))
		for _, s := range live {
			paused, reason := s.Paused()
			details = append(details, sessionDiagnostics{
				SessionID:   s.ID(),
				GameID:      s.GameID(),
				Tick:        s.Tick(),
				Sequence:    s.Sequence(),
				Paused:      paused,
				PauseReason: reason,
				Clients:     diag.SessionCount(s.ID()),
				Players:     len(s.Participants()),
			})
		}

		payload := struct {
			Status      string               `json:"status"`
			ServerTime  int64                `json:"serverTime"`
			TickRate    int                  `json:"tickRate"`
			Connections int                  `json:"connections"`
			Sessions    []sessionDiagnostics `json:"sessions"`
		}{
			Status:      "ok",
			ServerTime:  time.Now().UnixMilli(),
			TickRate:    session.TickRate,
			Connections: diag.Count(),
			Sessions:    details,
		}

		data, err := json.Marshal(payload)
		if err != nil {
			nethttp.Error(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	if wsHandler != nil {
		mux.HandleFunc("/ws", wsHandler)
	}

	return mux
}
