package combat

import (
	"context"

	"maps-and-minis/server/logging"
)

const (
	StartedEventType          logging.EventType = "combat.started"
	EndedEventType            logging.EventType = "combat.ended"
	TurnAdvancedEventType     logging.EventType = "combat.turn_advanced"
	DamageAppliedEventType    logging.EventType = "combat.damage_applied"
	HealingAppliedEventType   logging.EventType = "combat.healing_applied"
	ConditionAppliedEventType logging.EventType = "combat.condition_applied"
	ConditionExpiredEventType logging.EventType = "combat.condition_expired"
)

type TurnAdvancedPayload struct {
	Round       int    `json:"round"`
	TurnIndex   int    `json:"turnIndex"`
	CombatantID string `json:"combatantId"`
}

type HealthDeltaPayload struct {
	Amount    int    `json:"amount"`
	Remaining int    `json:"remaining"`
	SourceID  string `json:"sourceId,omitempty"`
}

type ConditionPayload struct {
	Condition string `json:"condition"`
	Rounds    int    `json:"rounds"`
	SourceID  string `json:"sourceId,omitempty"`
}

func Started(ctx context.Context, pub logging.Publisher, tick uint64, combatants int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     StartedEventType,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  map[string]any{"combatants": combatants},
	})
}

func Ended(ctx context.Context, pub logging.Publisher, tick uint64, rounds int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EndedEventType,
		Tick:     tick,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  map[string]any{"rounds": rounds},
	})
}

func TurnAdvanced(ctx context.Context, pub logging.Publisher, tick uint64, payload TurnAdvancedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     TurnAdvancedEventType,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: payload.CombatantID, Kind: logging.EntityKindCombatant},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

func DamageApplied(ctx context.Context, pub logging.Publisher, tick uint64, target logging.EntityRef, payload HealthDeltaPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     DamageAppliedEventType,
		Tick:     tick,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

func HealingApplied(ctx context.Context, pub logging.Publisher, tick uint64, target logging.EntityRef, payload HealthDeltaPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     HealingAppliedEventType,
		Tick:     tick,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

func ConditionApplied(ctx context.Context, pub logging.Publisher, tick uint64, target logging.EntityRef, payload ConditionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     ConditionAppliedEventType,
		Tick:     tick,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryCombat,
		Payload:  payload,
	})
}

func ConditionExpired(ctx context.Context, pub logging.Publisher, tick uint64, target logging.EntityRef, condition string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     ConditionExpiredEventType,
		Tick:     tick,
		Targets:  []logging.EntityRef{target},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryCombat,
		Payload:  ConditionPayload{Condition: condition},
	})
}
