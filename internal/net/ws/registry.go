package ws

import "sync"

// Registry tracks every live connection and its session membership so
// broadcasts and evictions can address clients without touching the
// sessions themselves.
type Registry struct {
	mu        sync.Mutex
	clients   map[string]*client
	byUser    map[string]map[string]*client
	bySession map[string]map[string]*client
}

func NewRegistry() *Registry {
	return &Registry{
		clients:   make(map[string]*client),
		byUser:    make(map[string]map[string]*client),
		bySession: make(map[string]map[string]*client),
	}
}

func (r *Registry) add(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.id] = c
	if r.byUser[c.userID] == nil {
		r.byUser[c.userID] = make(map[string]*client)
	}
	r.byUser[c.userID][c.id] = c
}

// bind records the client's session membership after a successful join.
func (r *Registry) bind(c *client, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bySession[sessionID] == nil {
		r.bySession[sessionID] = make(map[string]*client)
	}
	r.bySession[sessionID][c.id] = c
}

func (r *Registry) unbind(c *client, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.bySession[sessionID]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}

func (r *Registry) remove(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c.id)
	if conns, ok := r.byUser[c.userID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(r.byUser, c.userID)
		}
	}
	for sessionID, members := range r.bySession {
		delete(members, c.id)
		if len(members) == 0 {
			delete(r.bySession, sessionID)
		}
	}
}

// Count reports the number of live connections.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// SessionCount reports the number of connections bound to a session.
func (r *Registry) SessionCount(sessionID string) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySession[sessionID])
}

func (r *Registry) all() []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *Registry) inSession(sessionID string) []*client {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.bySession[sessionID]
	out := make([]*client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// sendToUser writes a frame to every connection the user has in the
// session, so a player open in two tabs sees the event on both.
func (r *Registry) sendToUser(sessionID, userID string, data []byte) {
	r.mu.Lock()
	conns := make([]*client, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		conns = append(conns, c)
	}
	r.mu.Unlock()
	for _, c := range conns {
		if _, sid, _ := c.session(); sid != sessionID {
			continue
		}
		c.send(data)
	}
}

// broadcastToSession writes a frame to every connection in a session,
// skipping the excluded client id if non-empty.
func (r *Registry) broadcastToSession(sessionID, excludeClientID string, data []byte) {
	for _, c := range r.inSession(sessionID) {
		if c.id == excludeClientID {
			continue
		}
		c.send(data)
	}
}
