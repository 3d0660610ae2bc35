package server

import (
	"context"

	"pixel-canvas/server/internal/cooldown"
	"pixel-canvas/server/internal/grid"
	"pixel-canvas/server/internal/history"
	"pixel-canvas/server/logging"
)

// Persister receives state transitions after they have been applied in
// memory. Implementations must tolerate being called from a single
// background worker; the hub never calls them while holding a lock.
type Persister interface {
	SaveCell(ctx context.Context, x, y int, cell grid.Cell) error
	AppendHistory(ctx context.Context, entry history.Entry) error
	SaveCooldown(ctx context.Context, participantID string, state cooldown.State) error
	Reset(ctx context.Context) error
}

type persistOp struct {
	label string
	apply func(ctx context.Context) error
}

func (h *Hub) startPersistWorker() {
	if h.persister == nil {
		return
	}
	h.persistWG.Add(1)
	go func() {
		defer h.persistWG.Done()
		ctx := context.Background()
		for op := range h.persistCh {
			if err := op.apply(ctx); err != nil {
				h.publisher.Publish(ctx, logging.Event{
					Type:     logging.EventPersistenceError,
					Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
					Severity: logging.SeverityError,
					Category: logging.CategorySystem,
					Payload:  map[string]any{"op": op.label, "error": err.Error()},
				})
			}
		}
	}()
}

// enqueuePersist hands an operation to the worker without ever blocking a
// placement. Overflow drops the write: in-memory state stays correct and
// the loss is reported.
func (h *Hub) enqueuePersist(op persistOp) {
	if h.persister == nil {
		return
	}
	// The read lock pairs with the write lock in Close so the channel is
	// never closed mid-send.
	h.persistMu.RLock()
	defer h.persistMu.RUnlock()
	if h.closed.Load() {
		return
	}
	select {
	case h.persistCh <- op:
	default:
		h.persistDrops.Add(1)
		h.publisher.Publish(context.Background(), logging.Event{
			Type:     logging.EventPersistenceError,
			Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
			Severity: logging.SeverityWarn,
			Category: logging.CategorySystem,
			Payload:  map[string]any{"op": op.label, "error": "persist queue full"},
		})
	}
}
