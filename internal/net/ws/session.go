package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pixel-canvas/server"
	"pixel-canvas/server/internal/net/proto"
)

// session wraps one websocket connection. The read loop and the event pump
// both write acknowledgements and stream frames, so every write goes through
// the session mutex; gorilla connections do not allow concurrent writers.
type session struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	failed bool
}

func newSession(conn *websocket.Conn, writeTimeout time.Duration) *session {
	return &session{conn: conn, writeTimeout: writeTimeout}
}

func (s *session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	err := s.conn.WriteMessage(websocket.TextMessage, data)
	if err != nil {
		s.failed = true
	}
	return err
}

func (s *session) closeWith(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failed {
		message := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage, message, deadline)
	}
	s.conn.Close()
}

// pumpEvents forwards hub events to the connection until the subscriber
// channel closes. A closed channel means either the hub dropped this
// observer for lagging or the hub shut down; both end with a resync
// directive so the client knows to reconnect and re-fetch a snapshot.
func (s *session) pumpEvents(sub *server.Subscriber, onWriteError func()) {
	for evt := range sub.Events() {
		var (
			data []byte
			err  error
		)
		switch evt.Kind {
		case server.EventReset:
			data, err = proto.EncodeResetV1(proto.ResetV1{Sequence: evt.Sequence})
		default:
			data, err = proto.EncodeCellUpdateV1(proto.CellUpdateV1{
				Sequence: evt.Sequence,
				X:        evt.X,
				Y:        evt.Y,
				Color:    evt.Color,
				PlacedAt: evt.At.UnixMilli(),
			})
		}
		if err != nil {
			continue
		}
		if err := s.write(data); err != nil {
			onWriteError()
			return
		}
	}

	if data, err := proto.EncodeResync(proto.Resync{Reason: "stream_cut"}); err == nil {
		s.write(data)
	}
	s.closeWith(websocket.CloseTryAgainLater, "resync required")
}
