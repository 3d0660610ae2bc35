// Package history keeps the append-only provenance log of accepted
// placements. Entries share the sequence numbers the broadcast layer
// emits, so the log is the durable form of the event stream.
package history

import (
	"fmt"
	"sync"
	"time"

	"pixel-canvas/server/internal/grid"
)

// Entry records one accepted placement. Entries are never mutated or
// deleted; a coordinate accumulates one entry per accepted placement.
type Entry struct {
	Sequence uint64     `json:"sequence"`
	X        int        `json:"x"`
	Y        int        `json:"y"`
	Color    grid.Color `json:"color"`
	PlacedBy string     `json:"placedBy"`
	PlacedAt time.Time  `json:"placedAt"`
}

// Coordinate narrows a query to a single cell.
type Coordinate struct {
	X int
	Y int
}

// Filter selects entries for Query. Zero values match everything; Limit 0
// means no limit.
type Filter struct {
	Coordinate  *Coordinate
	Participant string
	After       time.Time
	Before      time.Time
	Limit       int
}

// Log is the in-memory append-only record. Retention is an external
// concern; the log itself never drops or reorders entries.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	lastSeq uint64
}

func NewLog() *Log {
	return &Log{entries: make([]Entry, 0, 256)}
}

// Append records an entry. Sequence numbers must arrive strictly
// increasing; anything else means the caller's ordering contract broke,
// which is a programming defect rather than a recoverable condition.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.Sequence <= l.lastSeq {
		panic(fmt.Sprintf("history: sequence %d not after %d", e.Sequence, l.lastSeq))
	}
	l.lastSeq = e.Sequence
	l.entries = append(l.entries, e)
}

// Restore seeds the log from persisted entries, which must already be in
// ascending sequence order. Only safe before the log is shared.
func (l *Log) Restore(entries []Entry) error {
	for _, e := range entries {
		if e.Sequence <= l.lastSeq {
			return fmt.Errorf("history: restore sequence %d not after %d", e.Sequence, l.lastSeq)
		}
		l.lastSeq = e.Sequence
		l.entries = append(l.entries, e)
	}
	return nil
}

// LastSequence reports the sequence of the newest entry, or 0.
func (l *Log) LastSequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

// Len reports the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Query returns matching entries newest first.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]Entry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if f.Coordinate != nil && (e.X != f.Coordinate.X || e.Y != f.Coordinate.Y) {
			continue
		}
		if f.Participant != "" && e.PlacedBy != f.Participant {
			continue
		}
		if !f.After.IsZero() && e.PlacedAt.Before(f.After) {
			continue
		}
		if !f.Before.IsZero() && e.PlacedAt.After(f.Before) {
			continue
		}
		matched = append(matched, e)
		if f.Limit > 0 && len(matched) >= f.Limit {
			break
		}
	}
	return matched
}
