// Package grid owns the authoritative cell state of the canvas. It is the
// only component that mutates cells; history and broadcast read the values
// it returns from Upsert.
package grid

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrOutOfBounds reports a coordinate outside [0,W)x[0,H). It is a caller
// error and is never clamped.
var ErrOutOfBounds = errors.New("coordinate out of bounds")

// Cell is the latest accepted placement at one coordinate.
type Cell struct {
	Color    Color
	PlacedBy string
	PlacedAt time.Time
}

// CellState pairs a coordinate with its color for snapshot transfer.
type CellState struct {
	X     int   `json:"x"`
	Y     int   `json:"y"`
	Color Color `json:"color"`
}

const shardCount = 64

type shard struct {
	mu    sync.RWMutex
	cells map[uint64]Cell
}

// Store maps coordinates to cells. Lock striping keeps concurrent upserts
// on distinct coordinates from contending; only writers touching the same
// shard serialize.
type Store struct {
	width  int
	height int
	shards [shardCount]shard
}

// New constructs an empty store for a width x height canvas.
func New(width, height int) (*Store, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("grid dimensions must be positive, got %dx%d", width, height)
	}
	s := &Store{width: width, height: height}
	for i := range s.shards {
		s.shards[i].cells = make(map[uint64]Cell)
	}
	return s, nil
}

func (s *Store) Width() int  { return s.width }
func (s *Store) Height() int { return s.height }

// ValidateCoord rejects coordinates outside the canvas.
func (s *Store) ValidateCoord(x, y int) error {
	if x < 0 || x >= s.width || y < 0 || y >= s.height {
		return fmt.Errorf("%w: (%d,%d) not in [0,%d)x[0,%d)", ErrOutOfBounds, x, y, s.width, s.height)
	}
	return nil
}

func (s *Store) key(x, y int) uint64 {
	return uint64(y)*uint64(s.width) + uint64(x)
}

func (s *Store) shardFor(key uint64) *shard {
	return &s.shards[key%shardCount]
}

// Get returns the cell at (x,y) if one has been placed.
func (s *Store) Get(x, y int) (Cell, bool, error) {
	if err := s.ValidateCoord(x, y); err != nil {
		return Cell{}, false, err
	}
	key := s.key(x, y)
	sh := s.shardFor(key)
	sh.mu.RLock()
	cell, ok := sh.cells[key]
	sh.mu.RUnlock()
	return cell, ok, nil
}

// Upsert replaces the cell at (x,y) and returns the previous cell, if any.
// Calls on the same coordinate serialize on the shard lock so exactly one
// caller observes any given predecessor.
func (s *Store) Upsert(x, y int, color Color, participantID string, at time.Time) (Cell, bool, error) {
	if err := s.ValidateCoord(x, y); err != nil {
		return Cell{}, false, err
	}
	key := s.key(x, y)
	sh := s.shardFor(key)
	sh.mu.Lock()
	prev, had := sh.cells[key]
	sh.cells[key] = Cell{Color: color, PlacedBy: participantID, PlacedAt: at}
	sh.mu.Unlock()
	return prev, had, nil
}

// Restore seeds the store from persisted state. It is only safe to call
// before the store is shared with concurrent writers.
func (s *Store) Restore(cells map[[2]int]Cell) error {
	for coord, cell := range cells {
		if err := s.ValidateCoord(coord[0], coord[1]); err != nil {
			return err
		}
		key := s.key(coord[0], coord[1])
		sh := s.shardFor(key)
		sh.cells[key] = cell
	}
	return nil
}

// Snapshot returns a point-in-time copy of every placed cell in row-major
// order. All shard locks are held for the duration of the copy so the
// result never mixes states from before and after a concurrent upsert.
func (s *Store) Snapshot() []CellState {
	for i := range s.shards {
		s.shards[i].mu.RLock()
	}
	total := 0
	for i := range s.shards {
		total += len(s.shards[i].cells)
	}
	states := make([]CellState, 0, total)
	for i := range s.shards {
		for key, cell := range s.shards[i].cells {
			states = append(states, CellState{
				X:     int(key % uint64(s.width)),
				Y:     int(key / uint64(s.width)),
				Color: cell.Color,
			})
		}
	}
	for i := range s.shards {
		s.shards[i].mu.RUnlock()
	}
	sort.Slice(states, func(a, b int) bool {
		if states[a].Y != states[b].Y {
			return states[a].Y < states[b].Y
		}
		return states[a].X < states[b].X
	})
	return states
}

// Count reports how many cells currently hold a color.
func (s *Store) Count() int {
	total := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		total += len(s.shards[i].cells)
		s.shards[i].mu.RUnlock()
	}
	return total
}

// Reset clears every cell. Individual cells are never deleted; this is the
// only way color leaves the canvas.
func (s *Store) Reset() {
	for i := range s.shards {
		s.shards[i].mu.Lock()
	}
	for i := range s.shards {
		s.shards[i].cells = make(map[uint64]Cell)
	}
	for i := range s.shards {
		s.shards[i].mu.Unlock()
	}
}
