package effects

import (
	"context"

	"maps-and-minis/server/logging"
)

const (
	SpawnedEventType   logging.EventType = "effects.spawned"
	ExpiredEventType   logging.EventType = "effects.expired"
	CollisionEventType logging.EventType = "effects.collision"
	RejectedEventType  logging.EventType = "effects.rejected"
)

type SpawnPayload struct {
	Kind    string `json:"kind"`
	SceneID string `json:"sceneId"`
	OwnerID string `json:"ownerId,omitempty"`
}

func Spawned(ctx context.Context, pub logging.Publisher, tick uint64, effect logging.EntityRef, payload SpawnPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     SpawnedEventType,
		Tick:     tick,
		Actor:    effect,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryEffects,
		Payload:  payload,
	})
}

func Expired(ctx context.Context, pub logging.Publisher, tick uint64, effect logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     ExpiredEventType,
		Tick:     tick,
		Actor:    effect,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryEffects,
	})
}

func Collision(ctx context.Context, pub logging.Publisher, tick uint64, effect, token logging.EntityRef) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     CollisionEventType,
		Tick:     tick,
		Actor:    effect,
		Targets:  []logging.EntityRef{token},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryEffects,
	})
}

// Rejected records a malformed effect dropped at creation time.
func Rejected(ctx context.Context, pub logging.Publisher, tick uint64, payload SpawnPayload, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     RejectedEventType,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryEffects,
		Payload:  payload,
		Extra:    map[string]any{"reason": reason},
	})
}
