package server

import (
	"time"

	"pixel-canvas/server/internal/grid"
)

// EventKind distinguishes ordinary cell updates from the full-canvas
// reset marker.
type EventKind string

const (
	// EventCell announces one accepted placement.
	EventCell EventKind = "cell"
	// EventReset tells subscribers to discard their local canvas and
	// fetch a fresh snapshot.
	EventReset EventKind = "reset"
)

// Event is one entry of the totally ordered change stream. Sequence
// numbers are assigned once, strictly increasing, and shared with the
// history log. Every subscriber sees events in sequence order with no
// gaps relative to its snapshot.
type Event struct {
	Kind     EventKind
	Sequence uint64
	X        int
	Y        int
	Color    grid.Color
	At       time.Time
}
