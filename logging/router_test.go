package logging_test

import (
	"context"
	"testing"
	"time"

	"maps-and-minis/server/logging"
	"maps-and-minis/server/logging/sinks"
)

func TestRouterForwardsToSinks(t *testing.T) {
	memory := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	router, err := logging.NewRouter(nil, cfg, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	router.Publish(context.Background(), logging.Event{
		Type:    "test.event",
		Session: "s1",
		Tick:    7,
	})

	deadline := time.Now().Add(time.Second)
	for len(memory.Events()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}

	events := memory.Events()
	if events[0].Type != "test.event" || events[0].Session != "s1" || events[0].Tick != 7 {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if events[0].Time.IsZero() {
		t.Fatal("router should stamp event time")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	memory := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	router, err := logging.NewRouter(nil, cfg, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	router.Publish(context.Background(), logging.Event{Type: "debug.event", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "warn.event", Severity: logging.SeverityWarn})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events := memory.Events()
	if len(events) != 1 || events[0].Type != "warn.event" {
		t.Fatalf("expected only the warn event, got %+v", events)
	}
}

func TestWithSessionStampsEvents(t *testing.T) {
	memory := sinks.NewMemorySink()
	pub := logging.WithSession(memory, "session-9")
	pub.Publish(context.Background(), logging.Event{Type: "test.event"})

	events := memory.Events()
	if len(events) != 1 || events[0].Session != "session-9" {
		t.Fatalf("session not stamped: %+v", events)
	}
}
