package sync

import (
	"context"

	"maps-and-minis/server/logging"
)

const (
	UpdateRejectedEventType logging.EventType = "sync.update_rejected"
	QueueOverflowEventType  logging.EventType = "sync.queue_overflow"
	FullSyncEventType       logging.EventType = "sync.full_sync"
)

type RejectPayload struct {
	UpdateType string `json:"updateType"`
	PlayerID   string `json:"playerId,omitempty"`
	Reason     string `json:"reason"`
}

func UpdateRejected(ctx context.Context, pub logging.Publisher, tick uint64, payload RejectPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     UpdateRejectedEventType,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySync,
		Payload:  payload,
	})
}

func QueueOverflow(ctx context.Context, pub logging.Publisher, tick uint64, dropped uint64) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     QueueOverflowEventType,
		Tick:     tick,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySync,
		Extra:    map[string]any{"dropped": dropped},
	})
}

func FullSync(ctx context.Context, pub logging.Publisher, tick uint64, player logging.EntityRef, updates int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     FullSyncEventType,
		Tick:     tick,
		Actor:    player,
		Severity: logging.SeverityDebug,
		Category: logging.CategorySync,
		Extra:    map[string]any{"updates": updates},
	})
}
