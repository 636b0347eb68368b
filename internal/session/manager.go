package session

import (
	"context"
	"sync"
	"time"

	"maps-and-minis/server/internal/statesync"
	"maps-and-minis/server/internal/store"
	"maps-and-minis/server/logging"
)

// TickRate is the fixed simulation frequency.
const TickRate = 60

// Manager owns the live sessions of the process, one per game id.
type Manager struct {
	mu        sync.Mutex
	records   *store.Store
	publisher logging.Publisher
	maxQueue  int
	sessions  map[string]*Session
}

// NewManager constructs a session manager. maxQueue bounds each session's
// update log; zero selects the default.
func NewManager(records *store.Store, pub logging.Publisher, maxQueue int) *Manager {
	if records == nil {
		records = store.New()
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if maxQueue <= 0 {
		maxQueue = statesync.DefaultMaxQueue
	}
	return &Manager{
		records:   records,
		publisher: pub,
		maxQueue:  maxQueue,
		sessions:  make(map[string]*Session),
	}
}

// GetOrCreate returns the session for a game, creating it with a default
// scene on first join.
func (m *Manager) GetOrCreate(gameID string) *Session {
	if m == nil || gameID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[gameID]; ok {
		return s
	}
	s := newSession(gameID, m.records, m.publisher, m.maxQueue)
	m.sessions[gameID] = s
	return s
}

// Get returns the session for a game, if one is live.
func (m *Manager) Get(gameID string) (*Session, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[gameID]
	return s, ok
}

// BySessionID resolves a session by its session id rather than game id.
func (m *Manager) BySessionID(sessionID string) (*Session, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID() == sessionID {
			return s, true
		}
	}
	return nil, false
}

// Remove tears down a session and its scene records.
func (m *Manager) Remove(gameID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	s, ok := m.sessions[gameID]
	delete(m.sessions, gameID)
	m.mu.Unlock()
	if ok {
		m.records.RemoveScene(s.SceneID())
	}
}

// Sessions returns the live sessions.
func (m *Manager) Sessions() []*Session {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// RunTicks advances every live session on the fixed simulation cadence
// until the context is cancelled. Each tick uses the wall-clock interval so
// a delayed tick does not compress effect motion.
func (m *Manager) RunTicks(ctx context.Context) {
	interval := time.Second / TickRate
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			for _, s := range m.Sessions() {
				s.Advance(now, dt)
			}
		}
	}
}
