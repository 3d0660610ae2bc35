package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pixel-canvas/server/internal/cooldown"
	"pixel-canvas/server/internal/grid"
	"pixel-canvas/server/internal/history"
	"pixel-canvas/server/internal/presence"
	"pixel-canvas/server/logging"
)

// Hub is the placement authority. It owns the canvas, enforces the
// cooldown, assigns the sequence number every accepted placement carries
// through history and broadcast, and fans change events out to
// subscribed observers.
//
// Three serialization domains keep it fast under load: the grid stripes
// locks per coordinate, the ledger locks per participant, and the hub
// holds one short global mutex only for sequence assignment plus the
// in-memory upsert, history append and queue hand-off. Observer delivery
// and persistence always happen outside that mutex.
type Hub struct {
	cfg       HubConfig
	grid      *grid.Store
	history   *history.Log
	ledger    *cooldown.Ledger
	presence  *presence.Tracker
	publisher logging.Publisher
	persister Persister

	mu  sync.Mutex
	seq uint64

	subMu       sync.Mutex
	subscribers map[string]*Subscriber

	persistMu    sync.RWMutex
	persistCh    chan persistOp
	persistWG    sync.WaitGroup
	persistDrops atomic.Uint64

	closed atomic.Bool
}

// Subscriber is one observer's handle on the live event stream. Events()
// closes when the hub drops the observer for lagging or shuts down; the
// observer must then resubscribe and re-fetch a snapshot.
type Subscriber struct {
	id     string
	events chan Event
	closed bool // guarded by hub.subMu
}

func (s *Subscriber) ID() string { return s.id }

func (s *Subscriber) Events() <-chan Event { return s.events }

// NewHub constructs a hub with empty state.
func NewHub(cfg HubConfig) (*Hub, error) {
	cfg = cfg.withDefaults()
	store, err := grid.New(cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		cfg:         cfg,
		grid:        store,
		history:     history.NewLog(),
		ledger:      cooldown.NewLedger(cfg.BaseCooldown, cfg.CooldownScale, cfg.MaxBank),
		presence:    presence.NewTracker(cfg.PresenceWindow),
		publisher:   cfg.Publisher,
		persister:   cfg.Persister,
		subscribers: make(map[string]*Subscriber),
		persistCh:   make(chan persistOp, cfg.PersistQueue),
	}
	h.startPersistWorker()
	return h, nil
}

// PlaceResult reports an accepted placement together with the caller's
// refreshed cooldown state.
type PlaceResult struct {
	Sequence        uint64
	X               int
	Y               int
	Color           grid.Color
	PlacedAt        time.Time
	NextEligibleAt  time.Time
	BankedRemaining int
	TotalPlaced     uint64
}

// Place runs one placement end to end: structural validation, presence
// read, atomic cooldown consume, then sequence assignment + upsert +
// history append under the hub mutex, and finally fan-out/persistence
// outside it. A failure at any step before the mutex leaves every
// component untouched.
func (h *Hub) Place(participantID string, x, y int, colorHex string, now time.Time) (PlaceResult, error) {
	if h.closed.Load() {
		return PlaceResult{}, ErrHubClosed
	}
	color, err := grid.ParseColor(colorHex)
	if err != nil {
		return PlaceResult{}, err
	}
	if err := h.grid.ValidateCoord(x, y); err != nil {
		return PlaceResult{}, err
	}

	activeCount := h.presence.ActiveCount(now)
	decision := h.ledger.TryConsume(participantID, now, activeCount)
	if !decision.Allowed {
		h.publisher.Publish(context.Background(), logging.Event{
			Type:     logging.EventPlacementDenied,
			Time:     now,
			Actor:    logging.EntityRef{ID: participantID, Kind: logging.EntityKindParticipant},
			Severity: logging.SeverityDebug,
			Category: logging.CategoryPlacement,
			Payload:  map[string]any{"x": x, "y": y, "nextEligibleAt": decision.NextEligibleAt},
		})
		return PlaceResult{}, &CooldownError{
			NextEligibleAt:  decision.NextEligibleAt,
			BankedRemaining: decision.BankedRemaining,
		}
	}

	h.mu.Lock()
	h.seq++
	seq := h.seq
	if _, _, err := h.grid.Upsert(x, y, color, participantID, now); err != nil {
		// Coordinates were validated above; this path means the atomicity
		// contract broke somewhere.
		h.mu.Unlock()
		panic(fmt.Sprintf("hub: upsert failed after validation: %v", err))
	}
	entry := history.Entry{
		Sequence: seq,
		X:        x,
		Y:        y,
		Color:    color,
		PlacedBy: participantID,
		PlacedAt: now,
	}
	h.history.Append(entry)
	lagged := h.enqueueEventLocked(Event{
		Kind:     EventCell,
		Sequence: seq,
		X:        x,
		Y:        y,
		Color:    color,
		At:       now,
	})
	h.mu.Unlock()

	h.reportLagged(lagged)
	h.enqueuePersist(persistOp{label: "cell", apply: func(ctx context.Context) error {
		return h.persister.SaveCell(ctx, x, y, grid.Cell{Color: color, PlacedBy: participantID, PlacedAt: now})
	}})
	h.enqueuePersist(persistOp{label: "history", apply: func(ctx context.Context) error {
		return h.persister.AppendHistory(ctx, entry)
	}})
	state := cooldown.State{
		NextEligibleAt: decision.NextEligibleAt,
		Banked:         decision.BankedRemaining,
		TotalPlaced:    decision.TotalPlaced,
	}
	h.enqueuePersist(persistOp{label: "cooldown", apply: func(ctx context.Context) error {
		return h.persister.SaveCooldown(ctx, participantID, state)
	}})

	h.publisher.Publish(context.Background(), logging.Event{
		Type:     logging.EventPlacementAccepted,
		Sequence: seq,
		Time:     now,
		Actor:    logging.EntityRef{ID: participantID, Kind: logging.EntityKindParticipant},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryPlacement,
		Payload:  map[string]any{"x": x, "y": y, "color": color.String()},
	})

	return PlaceResult{
		Sequence:        seq,
		X:               x,
		Y:               y,
		Color:           color,
		PlacedAt:        now,
		NextEligibleAt:  decision.NextEligibleAt,
		BankedRemaining: decision.BankedRemaining,
		TotalPlaced:     decision.TotalPlaced,
	}, nil
}

// Status reports a participant's cooldown state without consuming
// anything. Unknown participants read as immediately eligible.
type Status struct {
	NextEligibleAt  time.Time
	BankedRemaining int
	CanPlaceNow     bool
	TotalPlaced     uint64
}

func (h *Hub) Status(participantID string, now time.Time) Status {
	dec := h.ledger.Status(participantID, now)
	return Status{
		NextEligibleAt:  dec.NextEligibleAt,
		BankedRemaining: dec.BankedRemaining,
		CanPlaceNow:     dec.Allowed,
		TotalPlaced:     dec.TotalPlaced,
	}
}

// GrantBank credits banked placements, clamped at MaxBank. The accrual
// policy itself (when and why credits are granted) lives outside the
// core.
func (h *Hub) GrantBank(participantID string, n int) int {
	banked := h.ledger.IncrementBank(participantID, n)
	if h.persister != nil {
		state := h.ledger.Snapshot(participantID)
		h.enqueuePersist(persistOp{label: "cooldown", apply: func(ctx context.Context) error {
			return h.persister.SaveCooldown(ctx, participantID, state)
		}})
	}
	return banked
}

// RecordActivity feeds the presence tracker. The session layer calls this
// for every authenticated request, not only placements.
func (h *Hub) RecordActivity(participantID string, now time.Time) {
	h.presence.RecordActivity(participantID, now)
}

func (h *Hub) ActiveCount(now time.Time) int {
	return h.presence.ActiveCount(now)
}

// Subscribe registers an observer and returns the snapshot it should
// start from. Snapshot and sequence are taken under the hub mutex, and
// the subscriber is registered before the mutex is released, so the
// stream delivers exactly the events after the snapshot's sequence with
// no gap and no duplicate.
func (h *Hub) Subscribe() (*Subscriber, []grid.CellState, uint64, error) {
	if h.closed.Load() {
		return nil, nil, 0, ErrHubClosed
	}
	sub := &Subscriber{
		id:     uuid.NewString(),
		events: make(chan Event, h.cfg.SubscriberQueue),
	}

	h.mu.Lock()
	cells := h.grid.Snapshot()
	at := h.seq
	h.subMu.Lock()
	h.subscribers[sub.id] = sub
	h.subMu.Unlock()
	h.mu.Unlock()

	h.publisher.Publish(context.Background(), logging.Event{
		Type:     logging.EventObserverJoined,
		Actor:    logging.EntityRef{ID: sub.id, Kind: logging.EntityKindObserver},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  map[string]any{"sequence": at, "cells": len(cells)},
	})
	return sub, cells, at, nil
}

// Unsubscribe removes an observer. Safe to call after the hub already
// dropped the subscriber for lagging.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.subMu.Lock()
	removed := false
	if !sub.closed {
		delete(h.subscribers, sub.id)
		close(sub.events)
		sub.closed = true
		removed = true
	}
	h.subMu.Unlock()

	if removed {
		h.publisher.Publish(context.Background(), logging.Event{
			Type:     logging.EventObserverLeft,
			Actor:    logging.EntityRef{ID: sub.id, Kind: logging.EntityKindObserver},
			Severity: logging.SeverityDebug,
			Category: logging.CategoryNetwork,
		})
	}
}

// enqueueEventLocked hands the event to every subscriber queue while the
// hub mutex is held, which is what makes per-subscriber delivery order
// equal sequence order. The hand-off is a non-blocking channel send; a
// full queue drops that subscriber instead of stalling the stream.
func (h *Hub) enqueueEventLocked(evt Event) []string {
	var lagged []string
	h.subMu.Lock()
	for id, sub := range h.subscribers {
		select {
		case sub.events <- evt:
		default:
			delete(h.subscribers, id)
			close(sub.events)
			sub.closed = true
			lagged = append(lagged, id)
		}
	}
	h.subMu.Unlock()
	return lagged
}

func (h *Hub) reportLagged(ids []string) {
	for _, id := range ids {
		h.publisher.Publish(context.Background(), logging.Event{
			Type:     logging.EventObserverLagged,
			Actor:    logging.EntityRef{ID: id, Kind: logging.EntityKindObserver},
			Severity: logging.SeverityWarn,
			Category: logging.CategoryNetwork,
		})
	}
}

// SnapshotState returns the current cells and the sequence they reflect.
func (h *Hub) SnapshotState() ([]grid.CellState, uint64) {
	h.mu.Lock()
	cells := h.grid.Snapshot()
	at := h.seq
	h.mu.Unlock()
	return cells, at
}

// Cell exposes read-only single-cell lookups.
func (h *Hub) Cell(x, y int) (grid.Cell, bool, error) {
	return h.grid.Get(x, y)
}

// History exposes provenance queries.
func (h *Hub) History(f history.Filter) []history.Entry {
	return h.history.Query(f)
}

// Width and Height report the canvas dimensions.
func (h *Hub) Width() int  { return h.grid.Width() }
func (h *Hub) Height() int { return h.grid.Height() }

// Sequence reports the latest assigned sequence number.
func (h *Hub) Sequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Reset clears every cell and emits the reset marker in sequence order.
// History is untouched; the audit trail outlives the canvas.
func (h *Hub) Reset(now time.Time) (uint64, error) {
	if h.closed.Load() {
		return 0, ErrHubClosed
	}
	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.grid.Reset()
	lagged := h.enqueueEventLocked(Event{Kind: EventReset, Sequence: seq, At: now})
	h.mu.Unlock()

	h.reportLagged(lagged)
	h.enqueuePersist(persistOp{label: "reset", apply: func(ctx context.Context) error {
		return h.persister.Reset(ctx)
	}})
	h.publisher.Publish(context.Background(), logging.Event{
		Type:     logging.EventCanvasReset,
		Sequence: seq,
		Time:     now,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySystem,
	})
	return seq, nil
}

// Restore seeds hub state from persistence. Must be called before the hub
// is shared with request handlers; the broadcast sequence resumes after
// the newest restored history entry.
func (h *Hub) Restore(cells map[[2]int]grid.Cell, entries []history.Entry, cooldowns map[string]cooldown.State) error {
	if err := h.grid.Restore(cells); err != nil {
		return err
	}
	if err := h.history.Restore(entries); err != nil {
		return err
	}
	for id, state := range cooldowns {
		if err := h.ledger.Restore(id, state); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.seq = h.history.LastSequence()
	h.mu.Unlock()
	return nil
}

// DiagnosticsSnapshot feeds the diagnostics endpoint.
type DiagnosticsSnapshot struct {
	Sequence     uint64 `json:"sequence"`
	Cells        int    `json:"cells"`
	Placements   int    `json:"placements"`
	Subscribers  int    `json:"subscribers"`
	Active       int    `json:"activeParticipants"`
	PersistDrops uint64 `json:"persistDrops"`
}

func (h *Hub) Diagnostics(now time.Time) DiagnosticsSnapshot {
	h.subMu.Lock()
	subs := len(h.subscribers)
	h.subMu.Unlock()
	return DiagnosticsSnapshot{
		Sequence:     h.Sequence(),
		Cells:        h.grid.Count(),
		Placements:   h.history.Len(),
		Subscribers:  subs,
		Active:       h.presence.ActiveCount(now),
		PersistDrops: h.persistDrops.Load(),
	}
}

// Close stops the persistence worker and disconnects every subscriber.
func (h *Hub) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.subMu.Lock()
	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.events)
		sub.closed = true
	}
	h.subMu.Unlock()

	h.persistMu.Lock()
	close(h.persistCh)
	h.persistMu.Unlock()

	done := make(chan struct{})
	go func() {
		h.persistWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
