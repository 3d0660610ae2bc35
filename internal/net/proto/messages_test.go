package proto

import (
	"encoding/json"
	"strings"
	"testing"

	"pixel-canvas/server/internal/grid"
)

func TestDecodeClientMessage(t *testing.T) {
	t.Run("place message", func(t *testing.T) {
		msg, err := DecodeClientMessage([]byte(`{"type":"place","x":12,"y":7,"color":"#FF8800","seq":3}`))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != TypePlace {
			t.Fatalf("expected place type, got %q", msg.Type)
		}
		if msg.X != 12 || msg.Y != 7 {
			t.Fatalf("unexpected coordinates: %+v", msg)
		}
		if msg.Color != "#FF8800" {
			t.Fatalf("unexpected color %q", msg.Color)
		}
		if msg.Seq == nil || *msg.Seq != 3 {
			t.Fatalf("unexpected seq: %+v", msg.Seq)
		}
	})

	t.Run("version defaults to current", func(t *testing.T) {
		msg, err := DecodeClientMessage([]byte(`{"type":"heartbeat","sentAt":42}`))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Ver != Version {
			t.Fatalf("expected version %d, got %d", Version, msg.Ver)
		}
	})

	t.Run("future version rejected", func(t *testing.T) {
		if _, err := DecodeClientMessage([]byte(`{"ver":2,"type":"place"}`)); err == nil {
			t.Fatalf("expected version mismatch error")
		}
	})

	t.Run("malformed payload rejected", func(t *testing.T) {
		if _, err := DecodeClientMessage([]byte(`{"type":`)); err == nil {
			t.Fatalf("expected decode error")
		}
	})
}

func TestEncodeSnapshotV1(t *testing.T) {
	payload, err := EncodeSnapshotV1(SnapshotV1{
		Width:    4,
		Height:   4,
		Cells:    []grid.CellState{{X: 1, Y: 2, Color: 0xFF8800}},
		Sequence: 9,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["ver"].(float64) != Version {
		t.Fatalf("expected ver %d, got %v", Version, decoded["ver"])
	}
	if decoded["type"] != TypeSnapshot {
		t.Fatalf("expected snapshot type, got %v", decoded["type"])
	}
	if decoded["sequence"].(float64) != 9 {
		t.Fatalf("expected sequence 9, got %v", decoded["sequence"])
	}
	if !strings.Contains(string(payload), `"#FF8800"`) {
		t.Fatalf("expected hex color on the wire, got %s", payload)
	}
}

func TestEncodeSnapshotV1EmptyCanvas(t *testing.T) {
	payload, err := EncodeSnapshotV1(SnapshotV1{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(payload), `"cells":[]`) {
		t.Fatalf("expected empty cells array, got %s", payload)
	}
}

func TestEncodePlaceReject(t *testing.T) {
	payload, err := EncodePlaceReject(PlaceReject{
		Seq:            11,
		Reason:         ReasonCooldown,
		NextEligibleAt: 1700000030000,
		Retry:          true,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != TypePlaceReject {
		t.Fatalf("expected reject type, got %v", decoded["type"])
	}
	if decoded["reason"] != ReasonCooldown {
		t.Fatalf("expected cooldown reason, got %v", decoded["reason"])
	}
	if decoded["retry"] != true {
		t.Fatalf("expected retry flag, got %v", decoded["retry"])
	}
}

func TestEncodeCellUpdateV1(t *testing.T) {
	payload, err := EncodeCellUpdateV1(CellUpdateV1{Sequence: 5, X: 3, Y: 4, Color: 0x123456})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != TypeCell {
		t.Fatalf("expected cell type, got %v", decoded["type"])
	}
	if decoded["color"] != "#123456" {
		t.Fatalf("expected hex color, got %v", decoded["color"])
	}
}
