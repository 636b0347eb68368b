package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"maps-and-minis/server/internal/session"
	"maps-and-minis/server/internal/statesync"
	"maps-and-minis/server/internal/store"
)

type fakeDiag struct {
	total      int
	perSession map[string]int
}

func (f fakeDiag) Count() int { return f.total }

func (f fakeDiag) SessionCount(sessionID string) int { return f.perSession[sessionID] }

func TestHealthz(t *testing.T) {
	handler := NewHandler(session.NewManager(store.New(), nil, 0), fakeDiag{}, nil, Config{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestDiagnosticsReportsSessions(t *testing.T) {
	sessions := session.NewManager(store.New(), nil, 0)
	s := sessions.GetOrCreate("g1")
	if _, err := s.Join(statesync.Participant{ID: "gm", Role: statesync.RoleGameMaster}); err != nil {
		t.Fatalf("join: %v", err)
	}
	s.Pause("gm disconnected")

	diag := fakeDiag{total: 3, perSession: map[string]int{s.ID(): 2}}
	handler := NewHandler(sessions, diag, nil, Config{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/diagnostics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var payload struct {
		Status      string `json:"status"`
		TickRate    int    `json:"tickRate"`
		Connections int    `json:"connections"`
		Sessions    []struct {
			GameID  string `json:"gameId"`
			Paused  bool   `json:"paused"`
			Clients int    `json:"clients"`
			Players int    `json:"players"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if payload.Status != "ok" || payload.TickRate != session.TickRate || payload.Connections != 3 {
		t.Fatalf("payload header = %+v", payload)
	}
	if len(payload.Sessions) != 1 {
		t.Fatalf("sessions = %+v", payload.Sessions)
	}
	got := payload.Sessions[0]
	if got.GameID != "g1" || !got.Paused || got.Clients != 2 || got.Players != 1 {
		t.Fatalf("session diagnostics = %+v", got)
	}
}

func TestDiagnosticsRejectsPost(t *testing.T) {
	handler := NewHandler(session.NewManager(store.New(), nil, 0), fakeDiag{}, nil, Config{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/diagnostics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
