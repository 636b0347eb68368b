package network

import (
	"context"

	"maps-and-minis/server/logging"
)

const (
	ClientConnectedEventType    logging.EventType = "network.client_connected"
	ClientDisconnectedEventType logging.EventType = "network.client_disconnected"
	StaleEvictedEventType       logging.EventType = "network.stale_evicted"
	SendFailedEventType         logging.EventType = "network.send_failed"
	UnknownMessageEventType     logging.EventType = "network.unknown_message"
)

type ClientPayload struct {
	UserID string `json:"userId,omitempty"`
	GameID string `json:"gameId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func ClientConnected(ctx context.Context, pub logging.Publisher, client logging.EntityRef, payload ClientPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     ClientConnectedEventType,
		Actor:    client,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func ClientDisconnected(ctx context.Context, pub logging.Publisher, client logging.EntityRef, payload ClientPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     ClientDisconnectedEventType,
		Actor:    client,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func StaleEvicted(ctx context.Context, pub logging.Publisher, client logging.EntityRef, payload ClientPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     StaleEvictedEventType,
		Actor:    client,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func SendFailed(ctx context.Context, pub logging.Publisher, client logging.EntityRef, reason string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     SendFailedEventType,
		Actor:    client,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  ClientPayload{Reason: reason},
	})
}

func UnknownMessage(ctx context.Context, pub logging.Publisher, client logging.EntityRef, messageType string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     UnknownMessageEventType,
		Actor:    client,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Extra:    map[string]any{"messageType": messageType},
	})
}
