package cooldown

import (
	"sync"
	"testing"
	"time"
)

func TestFreshParticipantEligibleImmediately(t *testing.T) {
	l := NewLedger(30*time.Second, 100, 6)
	now := time.Unix(0, 0)

	dec := l.TryConsume("nobody-has-seen-me", now, 0)
	if !dec.Allowed {
		t.Fatalf("expected fresh participant to be allowed, got %+v", dec)
	}
	if dec.TotalPlaced != 1 {
		t.Fatalf("expected totalPlaced 1, got %d", dec.TotalPlaced)
	}
}

func TestCooldownScheduleAndDenial(t *testing.T) {
	l := NewLedger(30*time.Second, 100, 6)
	t0 := time.Unix(0, 0)

	first := l.TryConsume("p1", t0, 0)
	if !first.Allowed {
		t.Fatalf("first placement should be allowed")
	}
	if want := t0.Add(30 * time.Second); !first.NextEligibleAt.Equal(want) {
		t.Fatalf("expected nextEligibleAt %v, got %v", want, first.NextEligibleAt)
	}

	second := l.TryConsume("p1", t0.Add(time.Millisecond), 0)
	if second.Allowed {
		t.Fatalf("second placement inside cooldown should be denied")
	}
	if !second.NextEligibleAt.Equal(first.NextEligibleAt) {
		t.Fatalf("denial must not move nextEligibleAt: %v vs %v", second.NextEligibleAt, first.NextEligibleAt)
	}

	third := l.TryConsume("p1", first.NextEligibleAt, 0)
	if !third.Allowed {
		t.Fatalf("placement at nextEligibleAt should be allowed")
	}
}

func TestDurationScalesWithActiveCount(t *testing.T) {
	l := NewLedger(30*time.Second, 100, 6)
	if got := l.Duration(0); got != 30*time.Second {
		t.Fatalf("expected 30s at zero load, got %v", got)
	}
	if got := l.Duration(100); got != 60*time.Second {
		t.Fatalf("expected 60s at 100 active, got %v", got)
	}
	if got := l.Duration(50); got != 45*time.Second {
		t.Fatalf("expected 45s at 50 active, got %v", got)
	}
	if got := l.Duration(-5); got != 30*time.Second {
		t.Fatalf("negative active count should clamp to base, got %v", got)
	}
}

// Banked placements are spent before the timer is consulted and leave
// nextEligibleAt exactly as it was.
func TestBankedPlacementsLeaveTimerUntouched(t *testing.T) {
	l := NewLedger(30*time.Second, 100, 6)
	t0 := time.Unix(0, 0)

	first := l.TryConsume("p1", t0, 0)
	if !first.Allowed {
		t.Fatalf("first placement should be allowed")
	}
	deadline := first.NextEligibleAt

	if got := l.IncrementBank("p1", 2); got != 2 {
		t.Fatalf("expected bank 2, got %d", got)
	}

	banked1 := l.TryConsume("p1", t0.Add(time.Millisecond), 0)
	if !banked1.Allowed || banked1.BankedRemaining != 1 {
		t.Fatalf("expected banked placement with 1 remaining, got %+v", banked1)
	}
	if !banked1.NextEligibleAt.Equal(deadline) {
		t.Fatalf("banked placement moved nextEligibleAt: %v vs %v", banked1.NextEligibleAt, deadline)
	}

	banked2 := l.TryConsume("p1", t0.Add(2*time.Millisecond), 0)
	if !banked2.Allowed || banked2.BankedRemaining != 0 {
		t.Fatalf("expected banked placement with 0 remaining, got %+v", banked2)
	}

	// Bank empty: the third attempt is evaluated against the deadline set
	// before any banked placement was spent.
	third := l.TryConsume("p1", t0.Add(3*time.Millisecond), 0)
	if third.Allowed {
		t.Fatalf("expected denial once bank is empty, got %+v", third)
	}
	if !third.NextEligibleAt.Equal(deadline) {
		t.Fatalf("expected original deadline %v, got %v", deadline, third.NextEligibleAt)
	}
}

func TestIncrementBankClampsSilently(t *testing.T) {
	l := NewLedger(30*time.Second, 100, 6)
	if got := l.IncrementBank("p1", 4); got != 4 {
		t.Fatalf("expected bank 4, got %d", got)
	}
	if got := l.IncrementBank("p1", 10); got != 6 {
		t.Fatalf("expected bank clamped at 6, got %d", got)
	}
	if got := l.IncrementBank("p1", 1); got != 6 {
		t.Fatalf("expected bank to stay at cap, got %d", got)
	}
	if got := l.IncrementBank("p1", 0); got != 6 {
		t.Fatalf("crediting zero should be a no-op, got %d", got)
	}
}

// Concurrent attempts from one participant must serialize: with no bank
// and one cooldown slot, exactly one of N simultaneous requests wins.
func TestConcurrentConsumeSameParticipant(t *testing.T) {
	l := NewLedger(30*time.Second, 100, 6)
	now := time.Unix(0, 0)

	const attempts = 64
	var wg sync.WaitGroup
	allowed := make(chan Decision, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if dec := l.TryConsume("p1", now, 0); dec.Allowed {
				allowed <- dec
			}
		}()
	}
	wg.Wait()
	close(allowed)

	wins := 0
	for range allowed {
		wins++
	}
	if wins != 1 {
		t.Fatalf("expected exactly one allowed placement, got %d", wins)
	}

	st := l.Status("p1", now)
	if st.TotalPlaced != 1 {
		t.Fatalf("expected totalPlaced 1, got %d", st.TotalPlaced)
	}
}

func TestStatusDoesNotConsume(t *testing.T) {
	l := NewLedger(30*time.Second, 100, 6)
	now := time.Unix(0, 0)
	l.IncrementBank("p1", 1)

	for i := 0; i < 3; i++ {
		st := l.Status("p1", now)
		if !st.Allowed || st.BankedRemaining != 1 {
			t.Fatalf("status mutated state on read %d: %+v", i, st)
		}
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	l := NewLedger(30*time.Second, 100, 6)
	saved := State{NextEligibleAt: time.Unix(500, 0), Banked: 3, TotalPlaced: 42}
	if err := l.Restore("p1", saved); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	got := l.Snapshot("p1")
	if !got.NextEligibleAt.Equal(saved.NextEligibleAt) || got.Banked != 3 || got.TotalPlaced != 42 {
		t.Fatalf("unexpected restored state %+v", got)
	}
	if err := l.Restore("p2", State{Banked: -1}); err == nil {
		t.Fatalf("expected restore to reject negative bank")
	}
}
