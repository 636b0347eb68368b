package logging

import (
	"context"
	"time"
)

type EventType string

type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

type EntityKind string

const (
	EntityKindUnknown   EntityKind = "unknown"
	EntityKindClient    EntityKind = "client"
	EntityKindPlayer    EntityKind = "player"
	EntityKindToken     EntityKind = "token"
	EntityKindEffect    EntityKind = "effect"
	EntityKindCombatant EntityKind = "combatant"
	EntityKindSession   EntityKind = "session"
)

// Event is the structured record emitted by every subsystem. Tick is the
// session simulation tick at publish time; Session scopes the event to the
// game session that produced it.
type Event struct {
	Type     EventType      `json:"type"`
	Tick     uint64         `json:"tick"`
	Time     time.Time      `json:"time"`
	Session  string         `json:"session,omitempty"`
	Actor    EntityRef      `json:"actor"`
	Targets  []EntityRef    `json:"targets,omitempty"`
	Severity Severity       `json:"severity"`
	Category string         `json:"category,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

type EntityRef struct {
	ID   string     `json:"id"`
	Kind EntityKind `json:"kind"`
}

const (
	CategoryCombat  = "combat"
	CategoryEffects = "effects"
	CategoryNetwork = "network"
	CategorySync    = "sync"
	CategorySystem  = "system"
)

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type PublisherFunc func(ctx context.Context, event Event)

func (f PublisherFunc) Publish(ctx context.Context, event Event) {
	if f == nil {
		return
	}
	f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}

func NopPublisher() Publisher {
	return nopPublisher{}
}

// WithSession returns a publisher that stamps every event with the session id
// before forwarding it. Sessions hand this to their subsystems so leaf code
// never threads the id explicitly.
func WithSession(p Publisher, sessionID string) Publisher {
	if p == nil {
		return NopPublisher()
	}
	if sessionID == "" {
		return p
	}
	return PublisherFunc(func(ctx context.Context, event Event) {
		if event.Session == "" {
			event.Session = sessionID
		}
		p.Publish(ctx, event)
	})
}

// WithFields returns a publisher that merges static fields into each event's
// Extra map, without overriding keys the event already carries.
func WithFields(p Publisher, fields map[string]any) Publisher {
	if p == nil {
		return NopPublisher()
	}
	if len(fields) == 0 {
		return p
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return PublisherFunc(func(ctx context.Context, event Event) {
		event = cloneEvent(event)
		if event.Extra == nil {
			event.Extra = make(map[string]any, len(copied))
		}
		for k, v := range copied {
			if _, exists := event.Extra[k]; !exists {
				event.Extra[k] = v
			}
		}
		p.Publish(ctx, event)
	})
}

func cloneEvent(event Event) Event {
	cloned := event
	if len(event.Targets) > 0 {
		cloned.Targets = append([]EntityRef(nil), event.Targets...)
	}
	if event.Extra != nil {
		copied := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			copied[k] = v
		}
		cloned.Extra = copied
	}
	return cloned
}
