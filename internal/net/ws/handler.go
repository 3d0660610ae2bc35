package ws

import (
	"errors"
	"log"
	nethttp "net/http"
	"time"

	"github.com/gorilla/websocket"

	"pixel-canvas/server"
	"pixel-canvas/server/internal/net/proto"
)

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	Logger       *log.Logger
	WriteTimeout time.Duration
}

// Handler upgrades HTTP requests into live canvas sessions: it delivers the
// initial snapshot, pumps the ordered event stream, and services place and
// heartbeat messages on the same connection.
type Handler struct {
	hub          *server.Hub
	logger       *log.Logger
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
}

// NewHandler constructs a websocket handler for the given hub.
func NewHandler(hub *server.Hub, cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		hub:          hub,
		logger:       logger,
		upgrader:     upgrader,
		writeTimeout: writeTimeout,
	}
}

func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	participantID := r.URL.Query().Get("id")
	if participantID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}
	h.hub.RecordActivity(participantID, time.Now())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed for %s: %v", participantID, err)
		return
	}
	sess := newSession(conn, h.writeTimeout)

	sub, cells, sequence, err := h.hub.Subscribe()
	if err != nil {
		sess.closeWith(websocket.CloseGoingAway, "shutting down")
		return
	}

	snapshot, err := proto.EncodeSnapshotV1(proto.SnapshotV1{
		Width:      h.hub.Width(),
		Height:     h.hub.Height(),
		Cells:      cells,
		Sequence:   sequence,
		ServerTime: time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Printf("failed to marshal snapshot for %s: %v", participantID, err)
		h.hub.Unsubscribe(sub)
		sess.closeWith(websocket.CloseInternalServerErr, "snapshot failed")
		return
	}
	if err := sess.write(snapshot); err != nil {
		h.hub.Unsubscribe(sub)
		conn.Close()
		return
	}

	go sess.pumpEvents(sub, func() {
		h.hub.Unsubscribe(sub)
		conn.Close()
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.hub.Unsubscribe(sub)
			conn.Close()
			return
		}

		msg, err := proto.DecodeClientMessage(payload)
		if err != nil {
			h.logger.Printf("discarding malformed message from %s: %v", participantID, err)
			continue
		}

		now := time.Now()
		h.hub.RecordActivity(participantID, now)

		normalizedSeq := uint64(0)
		if msg.Seq != nil && *msg.Seq > 0 {
			normalizedSeq = *msg.Seq
		}

		writeFrame := func(data []byte, err error) bool {
			if err != nil {
				h.logger.Printf("failed to marshal response for %s: %v", participantID, err)
				return true
			}
			if err := sess.write(data); err != nil {
				h.hub.Unsubscribe(sub)
				conn.Close()
				return false
			}
			return true
		}

		switch msg.Type {
		case proto.TypePlace:
			res, placeErr := h.hub.Place(participantID, msg.X, msg.Y, msg.Color, now)
			if placeErr == nil {
				if !writeFrame(proto.EncodePlaceAck(proto.PlaceAck{
					Seq:             normalizedSeq,
					Sequence:        res.Sequence,
					NextEligibleAt:  res.NextEligibleAt.UnixMilli(),
					BankedRemaining: res.BankedRemaining,
					TotalPlaced:     res.TotalPlaced,
				})) {
					return
				}
				continue
			}

			reject := proto.PlaceReject{Seq: normalizedSeq, Reason: rejectReason(placeErr)}
			if cdErr, ok := server.AsCooldownError(placeErr); ok {
				reject.NextEligibleAt = cdErr.NextEligibleAt.UnixMilli()
				reject.Retry = true
			}
			if !writeFrame(proto.EncodePlaceReject(reject)) {
				return
			}
		case proto.TypeHeartbeat:
			rtt := int64(0)
			if msg.SentAt > 0 {
				rtt = now.UnixMilli() - msg.SentAt
				if rtt < 0 {
					rtt = 0
				}
			}
			if !writeFrame(proto.EncodeHeartbeat(proto.Heartbeat{
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
				RTTMillis:  rtt,
			})) {
				return
			}
		default:
			h.logger.Printf("unknown message type %q from %s", msg.Type, participantID)
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, server.ErrOutOfBounds):
		return proto.ReasonOutOfBounds
	case errors.Is(err, server.ErrInvalidColor):
		return proto.ReasonInvalidColor
	case errors.Is(err, server.ErrHubClosed):
		return proto.ReasonUnavailable
	default:
		if _, ok := server.AsCooldownError(err); ok {
			return proto.ReasonCooldown
		}
		return proto.ReasonUnavailable
	}
}
