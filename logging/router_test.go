package logging_test

import (
	"context"
	"testing"
	"time"

	"pixel-canvas/server/logging"
	"pixel-canvas/server/logging/sinks"
)

func TestRouterDeliversToMemorySink(t *testing.T) {
	memory := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityDebug

	router, err := logging.NewRouter(nil, cfg, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	router.Publish(context.Background(), logging.Event{
		Type:     logging.EventPlacementAccepted,
		Sequence: 7,
		Actor:    logging.EntityRef{ID: "p1", Kind: logging.EntityKindParticipant},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPlacement,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.Type != logging.EventPlacementAccepted || got.Sequence != 7 {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.Time.IsZero() {
		t.Fatalf("router should stamp event time")
	}

	stats := router.Stats()
	if stats.EventsTotal != 1 || stats.DroppedTotal != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	memory := sinks.NewMemorySink()
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn

	router, err := logging.NewRouter(nil, cfg, []logging.NamedSink{{Name: "memory", Sink: memory}})
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}

	router.Publish(context.Background(), logging.Event{
		Type:     logging.EventObserverJoined,
		Severity: logging.SeverityInfo,
	})
	router.Publish(context.Background(), logging.Event{
		Type:     logging.EventObserverLagged,
		Severity: logging.SeverityWarn,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := memory.Events()
	if len(events) != 1 || events[0].Type != logging.EventObserverLagged {
		t.Fatalf("expected only the warn event, got %+v", events)
	}
}

func TestWithFieldsDoesNotOverrideExisting(t *testing.T) {
	var captured []logging.Event
	base := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		captured = append(captured, event)
	})

	p := logging.WithFields(base, map[string]any{"node": "a", "region": "eu"})
	p.Publish(context.Background(), logging.Event{
		Type:  logging.EventCanvasReset,
		Extra: map[string]any{"node": "b"},
	})

	if len(captured) != 1 {
		t.Fatalf("expected 1 event, got %d", len(captured))
	}
	if captured[0].Extra["node"] != "b" {
		t.Fatalf("existing extra overridden: %+v", captured[0].Extra)
	}
	if captured[0].Extra["region"] != "eu" {
		t.Fatalf("missing injected field: %+v", captured[0].Extra)
	}
}
