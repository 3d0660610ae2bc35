package proto

import (
	"encoding/json"
	"fmt"

	"pixel-canvas/server/internal/grid"
	"pixel-canvas/server/internal/history"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for outbound websocket payloads.
	typeSnapshot    = "snapshot"
	typeCell        = "cell"
	typeReset       = "reset"
	typeHeartbeat   = "heartbeat"
	typePlaceAck    = "placeAck"
	typePlaceReject = "placeReject"
	typeResync      = "resync"
)

// Client message type identifiers.
const (
	TypePlace     = "place"
	TypeHeartbeat = "heartbeat"
)

// Exported aliases for outbound message type identifiers.
const (
	TypeSnapshot    = typeSnapshot
	TypeCell        = typeCell
	TypeReset       = typeReset
	TypePlaceAck    = typePlaceAck
	TypePlaceReject = typePlaceReject
	TypeResync      = typeResync
)

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver    int     `json:"ver,omitempty"`
	Type   string  `json:"type"`
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Color  string  `json:"color"`
	SentAt int64   `json:"sentAt"`
	Seq    *uint64 `json:"seq,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// SnapshotV1 captures the version 1 canvas snapshot payload layout. Clients
// apply the cells, remember the sequence, and expect the stream to continue
// from the next number.
type SnapshotV1 struct {
	Ver        int              `json:"ver"`
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Cells      []grid.CellState `json:"cells"`
	Sequence   uint64           `json:"sequence"`
	ServerTime int64            `json:"serverTime"`
	Resync     bool             `json:"resync,omitempty"`
}

// EncodeSnapshotV1 renders a versioned snapshot payload.
func EncodeSnapshotV1(msg SnapshotV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeSnapshot
	}
	msg.Ver = Version
	if msg.Cells == nil {
		msg.Cells = []grid.CellState{}
	}
	return json.Marshal(msg)
}

// CellUpdateV1 announces one accepted placement to subscribers.
type CellUpdateV1 struct {
	Ver      int        `json:"ver"`
	Type     string     `json:"type"`
	Sequence uint64     `json:"sequence"`
	X        int        `json:"x"`
	Y        int        `json:"y"`
	Color    grid.Color `json:"color"`
	PlacedAt int64      `json:"placedAt"`
}

// EncodeCellUpdateV1 renders a cell update payload.
func EncodeCellUpdateV1(msg CellUpdateV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeCell
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// ResetV1 tells subscribers to discard their canvas and resume from the
// carried sequence.
type ResetV1 struct {
	Ver      int    `json:"ver"`
	Type     string `json:"type"`
	Sequence uint64 `json:"sequence"`
}

// EncodeResetV1 renders a canvas reset payload.
func EncodeResetV1(msg ResetV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeReset
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// PlaceAck acknowledges an accepted placement on the socket that issued it.
type PlaceAck struct {
	Seq             uint64
	Sequence        uint64
	NextEligibleAt  int64
	BankedRemaining int
	TotalPlaced     uint64
}

// EncodePlaceAck renders a placement acknowledgement payload.
func EncodePlaceAck(msg PlaceAck) ([]byte, error) {
	frame := struct {
		Ver             int    `json:"ver"`
		Type            string `json:"type"`
		Seq             uint64 `json:"seq"`
		Sequence        uint64 `json:"sequence"`
		NextEligibleAt  int64  `json:"nextEligibleAt"`
		BankedRemaining int    `json:"banked"`
		TotalPlaced     uint64 `json:"totalPlaced"`
	}{
		Ver:             Version,
		Type:            typePlaceAck,
		Seq:             msg.Seq,
		Sequence:        msg.Sequence,
		NextEligibleAt:  msg.NextEligibleAt,
		BankedRemaining: msg.BankedRemaining,
		TotalPlaced:     msg.TotalPlaced,
	}
	return json.Marshal(frame)
}

// PlaceReject notifies the client that a placement was refused.
type PlaceReject struct {
	Seq            uint64
	Reason         string
	NextEligibleAt int64
	Retry          bool
}

// Reject reason identifiers.
const (
	ReasonCooldown     = "cooldown"
	ReasonOutOfBounds  = "out_of_bounds"
	ReasonInvalidColor = "invalid_color"
	ReasonUnavailable  = "unavailable"
)

// EncodePlaceReject renders a placement rejection payload.
func EncodePlaceReject(msg PlaceReject) ([]byte, error) {
	frame := struct {
		Ver            int    `json:"ver"`
		Type           string `json:"type"`
		Seq            uint64 `json:"seq"`
		Reason         string `json:"reason"`
		NextEligibleAt int64  `json:"nextEligibleAt,omitempty"`
		Retry          bool   `json:"retry,omitempty"`
	}{
		Ver:    Version,
		Type:   typePlaceReject,
		Seq:    msg.Seq,
		Reason: msg.Reason,
	}
	if msg.NextEligibleAt > 0 {
		frame.NextEligibleAt = msg.NextEligibleAt
	}
	if msg.Retry {
		frame.Retry = true
	}
	return json.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
		RTTMillis  int64  `json:"rtt"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	}
	return json.Marshal(frame)
}

// Resync tells a lagged subscriber its stream was cut and it must fetch a
// fresh snapshot before resuming.
type Resync struct {
	Reason string
}

// EncodeResync renders a resync directive payload.
func EncodeResync(msg Resync) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver"`
		Type   string `json:"type"`
		Reason string `json:"reason,omitempty"`
	}{
		Ver:    Version,
		Type:   typeResync,
		Reason: msg.Reason,
	}
	return json.Marshal(frame)
}

// CellDetailV1 is the REST payload for single-cell lookups: the current cell
// plus its most recent provenance entries, newest first.
type CellDetailV1 struct {
	X       int             `json:"x"`
	Y       int             `json:"y"`
	Cell    *CellRecord     `json:"cell"`
	History []history.Entry `json:"history"`
}

// CellRecord mirrors a stored cell with its attribution.
type CellRecord struct {
	Color    grid.Color `json:"color"`
	PlacedBy string     `json:"placedBy"`
	PlacedAt int64      `json:"placedAt"`
}
