package grid

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestParseColor(t *testing.T) {
	cases := []struct {
		input string
		want  Color
		ok    bool
	}{
		{"#FF0000", 0xFF0000, true},
		{"#00ff00", 0x00FF00, true},
		{"#AbCdEf", 0xABCDEF, true},
		{"#000000", 0x000000, true},
		{"FF0000", 0, false},
		{"#FF000", 0, false},
		{"#FF00000", 0, false},
		{"#GG0000", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseColor(tc.input)
		if tc.ok {
			if err != nil {
				t.Fatalf("ParseColor(%q) returned error: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("ParseColor(%q) = %v, want %v", tc.input, got, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidColor) {
			t.Fatalf("ParseColor(%q) expected ErrInvalidColor, got %v", tc.input, err)
		}
	}
}

func TestColorRoundTrip(t *testing.T) {
	c, err := ParseColor("#1a2b3c")
	if err != nil {
		t.Fatalf("ParseColor failed: %v", err)
	}
	if got := c.String(); got != "#1A2B3C" {
		t.Fatalf("expected normalized #1A2B3C, got %s", got)
	}
}

func TestUpsertReturnsPrevious(t *testing.T) {
	s, err := New(4, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	now := time.Now()

	_, had, err := s.Upsert(1, 1, 0xFF0000, "p1", now)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if had {
		t.Fatalf("expected no previous cell on first upsert")
	}

	prev, had, err := s.Upsert(1, 1, 0x00FF00, "p2", now.Add(time.Second))
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if !had {
		t.Fatalf("expected previous cell on overwrite")
	}
	if prev.Color != 0xFF0000 || prev.PlacedBy != "p1" {
		t.Fatalf("unexpected previous cell %+v", prev)
	}

	cell, ok, err := s.Get(1, 1)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if cell.Color != 0x00FF00 || cell.PlacedBy != "p2" {
		t.Fatalf("overwrite not applied, got %+v", cell)
	}
	if s.Count() != 1 {
		t.Fatalf("expected a single cell after overwrite, got %d", s.Count())
	}
}

func TestOutOfBoundsRejected(t *testing.T) {
	s, err := New(4, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, coord := range [][2]int{{-1, 0}, {0, -1}, {4, 0}, {0, 4}, {100, 100}} {
		if _, _, err := s.Upsert(coord[0], coord[1], 0, "p1", time.Now()); !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("Upsert(%d,%d) expected ErrOutOfBounds, got %v", coord[0], coord[1], err)
		}
		if _, _, err := s.Get(coord[0], coord[1]); !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("Get(%d,%d) expected ErrOutOfBounds, got %v", coord[0], coord[1], err)
		}
	}
}

func TestSnapshotOrderedAndComplete(t *testing.T) {
	s, err := New(8, 8)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	now := time.Now()
	placed := [][2]int{{7, 0}, {0, 0}, {3, 5}, {2, 1}}
	for i, coord := range placed {
		if _, _, err := s.Upsert(coord[0], coord[1], Color(i+1), "p1", now); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	snap := s.Snapshot()
	if len(snap) != len(placed) {
		t.Fatalf("expected %d cells in snapshot, got %d", len(placed), len(snap))
	}
	for i := 1; i < len(snap); i++ {
		prev, cur := snap[i-1], snap[i]
		if cur.Y < prev.Y || (cur.Y == prev.Y && cur.X <= prev.X) {
			t.Fatalf("snapshot not in row-major order: %+v before %+v", prev, cur)
		}
	}
}

func TestConcurrentUpsertsDistinctCoords(t *testing.T) {
	s, err := New(64, 64)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	now := time.Now()

	var wg sync.WaitGroup
	for x := 0; x < 64; x++ {
		wg.Add(1)
		go func(x int) {
			defer wg.Done()
			for y := 0; y < 64; y++ {
				if _, _, err := s.Upsert(x, y, Color(x), "p1", now); err != nil {
					t.Errorf("upsert (%d,%d) failed: %v", x, y, err)
					return
				}
			}
		}(x)
	}
	wg.Wait()

	if got := s.Count(); got != 64*64 {
		t.Fatalf("expected %d cells, got %d", 64*64, got)
	}
}

func TestResetClearsAllCells(t *testing.T) {
	s, err := New(4, 4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for x := 0; x < 4; x++ {
		if _, _, err := s.Upsert(x, 0, 0xFFFFFF, "p1", time.Now()); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	s.Reset()
	if s.Count() != 0 {
		t.Fatalf("expected empty store after reset, got %d cells", s.Count())
	}
	if _, ok, _ := s.Get(0, 0); ok {
		t.Fatalf("expected cell (0,0) to be cleared")
	}
}
