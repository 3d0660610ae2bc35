// Package presence tracks how many distinct participants have been active
// recently. The count only tunes the cooldown duration; it is an
// approximate signal and is kept cheap enough that recording activity
// never stalls a placement.
package presence

import (
	"sync"
	"time"
)

// Tracker counts distinct participants seen within a trailing window.
type Tracker struct {
	window   time.Duration
	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Tracker{
		window:   window,
		lastSeen: make(map[string]time.Time),
	}
}

// RecordActivity marks the participant active at the given instant. Stale
// timestamps never move the marker backwards.
func (t *Tracker) RecordActivity(participantID string, now time.Time) {
	if participantID == "" {
		return
	}
	t.mu.Lock()
	if prev, ok := t.lastSeen[participantID]; !ok || now.After(prev) {
		t.lastSeen[participantID] = now
	}
	t.mu.Unlock()
}

// ActiveCount returns the number of distinct participants active within
// the window ending at now. Expired entries are dropped as a side effect.
func (t *Tracker) ActiveCount(now time.Time) int {
	cutoff := now.Add(-t.window)
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for id, seen := range t.lastSeen {
		if seen.Before(cutoff) {
			delete(t.lastSeen, id)
			continue
		}
		count++
	}
	return count
}

// Window reports the configured trailing window.
func (t *Tracker) Window() time.Duration {
	return t.window
}
