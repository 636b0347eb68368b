package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"maps-and-minis/server/internal/statesync"
)

// conn is the subset of *websocket.Conn the client needs; tests substitute
// an in-memory implementation.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// writeWait bounds every frame write so one stalled peer cannot wedge the
// broadcast loop. A variable so tests can shorten it.
var writeWait = 10 * time.Second

// client is one live websocket connection. The write mutex serializes
// frames from the read loop, the delta broadcaster, and session-wide
// announcements.
type client struct {
	id          string
	userID      string
	displayName string
	conn        conn

	writeMu sync.Mutex

	mu             sync.Mutex
	closed         bool
	gameID         string
	sessionID      string
	role           statesync.Role
	lastActivity   time.Time
	lastSeq        uint64
	lastCommandSeq uint64
	rtt            time.Duration
}

func (c *client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// markClosed flips the client into the closed state. It returns false if
// the client was already closed, so teardown runs exactly once even when
// the read loop and the sweeper race.
func (c *client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *client) touch(now time.Time) {
	c.mu.Lock()
	c.lastActivity = now
	c.mu.Unlock()
}

func (c *client) idleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

func (c *client) session() (string, string, statesync.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gameID, c.sessionID, c.role
}

func (c *client) joinSession(gameID, sessionID string, role statesync.Role, seq uint64) {
	c.mu.Lock()
	c.gameID = gameID
	c.sessionID = sessionID
	c.role = role
	c.lastSeq = seq
	c.mu.Unlock()
}

func (c *client) leaveSession() {
	c.mu.Lock()
	c.gameID = ""
	c.sessionID = ""
	c.role = ""
	c.lastSeq = 0
	c.mu.Unlock()
}

func (c *client) deltaCursor() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

func (c *client) storeDeltaCursor(seq uint64) {
	c.mu.Lock()
	if seq > c.lastSeq {
		c.lastSeq = seq
	}
	c.mu.Unlock()
}

func (c *client) isDuplicateCommand(seq uint64) bool {
	if seq == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommandSeq > 0 && seq <= c.lastCommandSeq
}

func (c *client) storeCommandSeq(seq uint64) {
	if seq == 0 {
		return
	}
	c.mu.Lock()
	if seq > c.lastCommandSeq {
		c.lastCommandSeq = seq
	}
	c.mu.Unlock()
}

func (c *client) storeRTT(rtt time.Duration) {
	c.mu.Lock()
	c.rtt = rtt
	c.mu.Unlock()
}
