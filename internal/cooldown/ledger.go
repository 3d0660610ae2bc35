// Package cooldown enforces the per-participant placement rate limit. The
// whole contract hinges on TryConsume being atomic per participant: the
// original service read the state, computed, and wrote it back in separate
// store calls, which let concurrent requests from one participant slip
// through the cooldown. Here every decision runs under that participant's
// mutex.
package cooldown

import (
	"fmt"
	"sync"
	"time"
)

// Decision is the outcome of a consume attempt or a status read.
type Decision struct {
	Allowed         bool
	NextEligibleAt  time.Time
	BankedRemaining int
	TotalPlaced     uint64
}

// State is the persisted form of one participant's ledger entry.
type State struct {
	NextEligibleAt time.Time `json:"nextEligibleAt"`
	Banked         int       `json:"banked"`
	TotalPlaced    uint64    `json:"totalPlaced"`
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Ledger holds cooldown state for every participant seen so far. Entries
// are created lazily; an unknown participant is simply eligible.
type Ledger struct {
	base    time.Duration
	scale   int
	maxBank int

	mu      sync.Mutex
	entries map[string]*entry
}

func NewLedger(base time.Duration, scale, maxBank int) *Ledger {
	if base <= 0 {
		base = 30 * time.Second
	}
	if scale <= 0 {
		scale = 100
	}
	if maxBank < 0 {
		maxBank = 0
	}
	return &Ledger{
		base:    base,
		scale:   scale,
		maxBank: maxBank,
		entries: make(map[string]*entry),
	}
}

// Duration computes the cooldown applied after an ordinary placement:
// base * (1 + activeCount/scale), so a busier canvas slows everyone down.
func (l *Ledger) Duration(activeCount int) time.Duration {
	if activeCount < 0 {
		activeCount = 0
	}
	factor := 1 + float64(activeCount)/float64(l.scale)
	return time.Duration(float64(l.base) * factor)
}

func (l *Ledger) entryFor(id string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		e = &entry{}
		l.entries[id] = e
	}
	return e
}

// TryConsume evaluates one placement attempt at the given instant. A
// banked placement is spent first and leaves the ordinary cooldown timer
// untouched; otherwise the participant must be past nextEligibleAt, and
// allowing reschedules the timer using the current active count. A denial
// changes nothing.
func (l *Ledger) TryConsume(id string, now time.Time, activeCount int) Decision {
	e := l.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.state
	if st.Banked < 0 || st.Banked > l.maxBank {
		panic(fmt.Sprintf("cooldown: bank %d outside [0,%d] for %q", st.Banked, l.maxBank, id))
	}

	switch {
	case st.Banked > 0:
		st.Banked--
	case !now.Before(st.NextEligibleAt):
		st.NextEligibleAt = now.Add(l.Duration(activeCount))
	default:
		return Decision{
			Allowed:         false,
			NextEligibleAt:  st.NextEligibleAt,
			BankedRemaining: st.Banked,
			TotalPlaced:     st.TotalPlaced,
		}
	}

	st.TotalPlaced++
	return Decision{
		Allowed:         true,
		NextEligibleAt:  st.NextEligibleAt,
		BankedRemaining: st.Banked,
		TotalPlaced:     st.TotalPlaced,
	}
}

// IncrementBank credits up to n banked placements, silently clamping at
// the cap; overshoot is dropped, not an error. Returns the bank after the
// credit.
func (l *Ledger) IncrementBank(id string, n int) int {
	e := l.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if n > 0 {
		e.state.Banked += n
		if e.state.Banked > l.maxBank {
			e.state.Banked = l.maxBank
		}
	}
	return e.state.Banked
}

// Status reports the current state without consuming anything.
func (l *Ledger) Status(id string, now time.Time) Decision {
	e := l.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	return Decision{
		Allowed:         e.state.Banked > 0 || !now.Before(e.state.NextEligibleAt),
		NextEligibleAt:  e.state.NextEligibleAt,
		BankedRemaining: e.state.Banked,
		TotalPlaced:     e.state.TotalPlaced,
	}
}

// Restore seeds a participant's state from persistence. Only safe before
// the ledger is shared.
func (l *Ledger) Restore(id string, st State) error {
	if st.Banked < 0 {
		return fmt.Errorf("cooldown: negative bank %d for %q", st.Banked, id)
	}
	if st.Banked > l.maxBank {
		st.Banked = l.maxBank
	}
	e := l.entryFor(id)
	e.state = st
	return nil
}

// Snapshot returns the persisted form of one participant's entry.
func (l *Ledger) Snapshot(id string) State {
	e := l.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
