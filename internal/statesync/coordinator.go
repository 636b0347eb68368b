package statesync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"maps-and-minis/server/logging"
	loggingsync "maps-and-minis/server/logging/sync"
)

// ErrUnknownParticipant is returned when a sync is requested for a player
// that never joined the session.
var ErrUnknownParticipant = errors.New("statesync: unknown participant")

// DefaultMaxQueue bounds the in-memory update log. When the log is full the
// oldest entries are dropped; late joiners past the horizon fall back to a
// full sync.
const DefaultMaxQueue = 1000

// Target is the state the coordinator applies updates against. The owning
// session implements it; calls arrive under the session's mutex, so
// implementations must not re-lock.
type Target interface {
	ApplyEntity(playerID string, p EntityPayload) bool
	ApplyCombat(playerID string, p CombatPayload) bool
	ApplyEffect(playerID string, p EffectPayload) bool
	ApplySettings(playerID string, p SettingsPayload) bool
	// StateFor returns the full state visible to the given participant.
	StateFor(viewer Participant) FullState
}

// Coordinator assigns sequence ids, keeps the bounded ordered update log,
// and produces full and delta sync messages filtered per participant. All
// mutations funnel through it so every client observes the same order.
type Coordinator struct {
	mu        sync.Mutex
	sessionID string
	target    Target
	publisher logging.Publisher
	tick      func() uint64

	maxQueue     int
	updates      []Update
	seq          uint64
	lastApplied  uint64
	dropped      uint64
	participants map[string]Participant

	now func() time.Time
}

// NewCoordinator constructs a coordinator for one session. maxQueue <= 0
// selects DefaultMaxQueue; the tick func supplies the simulation tick for
// log events and may be nil.
func NewCoordinator(sessionID string, target Target, pub logging.Publisher, tick func() uint64, maxQueue int) *Coordinator {
	if pub == nil {
		pub = logging.NopPublisher()
	}
	if tick == nil {
		tick = func() uint64 { return 0 }
	}
	if maxQueue <= 0 {
		maxQueue = DefaultMaxQueue
	}
	return &Coordinator{
		sessionID:    sessionID,
		target:       target,
		publisher:    pub,
		tick:         tick,
		maxQueue:     maxQueue,
		updates:      make([]Update, 0, 64),
		participants: make(map[string]Participant),
		now:          time.Now,
	}
}

// AddParticipant registers or refreshes a session member.
func (c *Coordinator) AddParticipant(p Participant) {
	if c == nil || p.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.Role == "" {
		p.Role = RolePlayer
	}
	c.participants[p.ID] = p
}

// RemoveParticipant drops a member. Their past updates stay in the log.
func (c *Coordinator) RemoveParticipant(id string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.participants, id)
}

// Participant looks up a member by id.
func (c *Coordinator) Participant(id string) (Participant, bool) {
	if c == nil {
		return Participant{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.participants[id]
	return p, ok
}

// Participants returns the members ordered by id.
func (c *Coordinator) Participants() []Participant {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantsLocked()
}

func (c *Coordinator) participantsLocked() []Participant {
	out := make([]Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// QueueUpdate stamps the update with the next sequence id and a timestamp
// and appends it to the log, evicting the oldest entries past the cap. The
// stamped update is returned for the caller to apply and broadcast.
func (c *Coordinator) QueueUpdate(u Update) Update {
	if c == nil {
		return u
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	u.SequenceID = c.seq
	if u.Timestamp == 0 {
		u.Timestamp = c.now().UnixMilli()
	}
	c.updates = append(c.updates, u)
	if over := len(c.updates) - c.maxQueue; over > 0 {
		c.updates = append(c.updates[:0], c.updates[over:]...)
		first := c.dropped == 0
		c.dropped += uint64(over)
		if first || c.dropped%256 == 0 {
			loggingsync.QueueOverflow(context.Background(), c.publisher, c.tick(), c.dropped)
		}
	}
	return u
}

// ApplyUpdate validates and applies one update against the target. It
// returns false for unknown types, unknown participants, permission
// failures, duplicate sequence ids, and target rejections; the caller logs
// and drops rejected updates without aborting the tick.
func (c *Coordinator) ApplyUpdate(u Update) bool {
	if c == nil || c.target == nil {
		return false
	}
	c.mu.Lock()
	sender, known := c.participants[u.PlayerID]
	duplicate := u.SequenceID != 0 && u.SequenceID <= c.lastApplied
	c.mu.Unlock()

	if duplicate {
		return false
	}
	if !known {
		c.rejectUpdate(u, "unknown participant")
		return false
	}
	if sender.Role == RoleSpectator && u.Type != UpdateTypeChat {
		c.rejectUpdate(u, "spectators cannot mutate state")
		return false
	}

	ok := false
	switch u.Type {
	case UpdateTypeEntity:
		if u.Entity != nil {
			ok = c.target.ApplyEntity(u.PlayerID, *u.Entity)
		}
	case UpdateTypeCombat:
		if u.Combat != nil {
			ok = c.target.ApplyCombat(u.PlayerID, *u.Combat)
		}
	case UpdateTypeEffect:
		if u.Effect != nil {
			ok = c.target.ApplyEffect(u.PlayerID, *u.Effect)
		}
	case UpdateTypeSettings:
		if u.Settings == nil {
			break
		}
		if sender.Role != RoleGameMaster {
			c.rejectUpdate(u, "settings changes require the game master")
			return false
		}
		ok = c.target.ApplySettings(u.PlayerID, *u.Settings)
	case UpdateTypeChat:
		ok = u.Chat != nil && u.Chat.Text != ""
	case UpdateTypeDice:
		ok = u.Dice != nil && u.Dice.Expression != ""
	default:
		c.rejectUpdate(u, "unknown update type")
		return false
	}

	if !ok {
		c.rejectUpdate(u, "target rejected payload")
		return false
	}
	if u.SequenceID != 0 {
		c.mu.Lock()
		if u.SequenceID > c.lastApplied {
			c.lastApplied = u.SequenceID
		}
		c.mu.Unlock()
	}
	return true
}

// FullSync builds a complete snapshot message for one participant: the
// member roster, the state visible to them, and the current sequence head
// to resume deltas from.
func (c *Coordinator) FullSync(playerID string) (Message, error) {
	if c == nil || c.target == nil {
		return Message{}, ErrUnknownParticipant
	}
	c.mu.Lock()
	viewer, ok := c.participants[playerID]
	players := c.participantsLocked()
	seq := c.seq
	retained := len(c.updates)
	sessionID := c.sessionID
	c.mu.Unlock()
	if !ok {
		return Message{}, ErrUnknownParticipant
	}

	state := c.target.StateFor(viewer)
	loggingsync.FullSync(context.Background(), c.publisher, c.tick(),
		logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer}, retained)
	return Message{
		Kind:      KindFullSync,
		SessionID: sessionID,
		Data: MessageData{
			Players:  players,
			State:    &state,
			Sequence: seq,
		},
	}, nil
}

// DeltaSync returns the updates after the given sequence id that the
// participant may see, in log order. A false second return means the
// requested horizon has been evicted and the caller should full sync.
func (c *Coordinator) DeltaSync(playerID string, since uint64) (Message, bool) {
	if c == nil {
		return Message{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	viewer, ok := c.participants[playerID]
	if !ok {
		return Message{}, false
	}
	if len(c.updates) > 0 && since+1 < c.updates[0].SequenceID && since < c.seq {
		// The cursor points before the retained window.
		return Message{}, false
	}

	var visible []Update
	for _, u := range c.updates {
		if u.SequenceID <= since {
			continue
		}
		if u.VisibleTo(viewer) {
			visible = append(visible, u)
		}
	}
	return Message{
		Kind:      KindDeltaSync,
		SessionID: c.sessionID,
		Data: MessageData{
			Updates:  visible,
			Sequence: c.seq,
		},
	}, true
}

// Sequence returns the last assigned sequence id.
func (c *Coordinator) Sequence() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// QueueLen reports the number of retained updates.
func (c *Coordinator) QueueLen() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

// Dropped reports how many updates have been evicted from the log.
func (c *Coordinator) Dropped() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Coordinator) rejectUpdate(u Update, reason string) {
	loggingsync.UpdateRejected(context.Background(), c.publisher, c.tick(), loggingsync.RejectPayload{
		UpdateType: string(u.Type),
		PlayerID:   u.PlayerID,
		Reason:     reason,
	})
}
