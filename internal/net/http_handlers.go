package net

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	nethttp "net/http"
	"strconv"
	"time"

	"pixel-canvas/server"
	"pixel-canvas/server/internal/history"
	"pixel-canvas/server/internal/net/proto"
	"pixel-canvas/server/internal/net/ws"
)

// ParticipantHeader carries the caller's identity on REST requests. The
// session layer in front of this server is expected to fill it in.
const ParticipantHeader = "X-Participant-ID"

// recentHistoryLimit bounds the provenance entries returned with a single
// cell lookup.
const recentHistoryLimit = 10

type HTTPHandlerConfig struct {
	Logger *log.Logger
}

func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("GET /health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("GET /diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string                     `json:"status"`
			ServerTime int64                      `json:"serverTime"`
			Canvas     server.DiagnosticsSnapshot `json:"canvas"`
		}{
			Status:     "ok",
			ServerTime: time.Now().UnixMilli(),
			Canvas:     hub.Diagnostics(time.Now()),
		}
		writeJSON(w, payload)
	})

	mux.HandleFunc("GET /canvas", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		recordParticipant(hub, r)

		cells, sequence := hub.SnapshotState()
		data, err := proto.EncodeSnapshotV1(proto.SnapshotV1{
			Width:      hub.Width(),
			Height:     hub.Height(),
			Cells:      cells,
			Sequence:   sequence,
			ServerTime: time.Now().UnixMilli(),
		})
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("POST /canvas/pixel", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		participantID := recordParticipant(hub, r)
		if participantID == "" {
			httpError(w, "missing participant", nethttp.StatusUnauthorized)
			return
		}

		type placeRequest struct {
			X     int    `json:"x"`
			Y     int    `json:"y"`
			Color string `json:"color"`
		}
		var req placeRequest
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			httpError(w, "invalid payload", nethttp.StatusBadRequest)
			return
		}

		res, err := hub.Place(participantID, req.X, req.Y, req.Color, time.Now())
		if err != nil {
			writePlaceError(w, err)
			return
		}

		payload := struct {
			Sequence        uint64 `json:"sequence"`
			X               int    `json:"x"`
			Y               int    `json:"y"`
			Color           string `json:"color"`
			PlacedAt        int64  `json:"placedAt"`
			NextEligibleAt  int64  `json:"nextEligibleAt"`
			BankedRemaining int    `json:"banked"`
			TotalPlaced     uint64 `json:"totalPlaced"`
		}{
			Sequence:        res.Sequence,
			X:               res.X,
			Y:               res.Y,
			Color:           res.Color.String(),
			PlacedAt:        res.PlacedAt.UnixMilli(),
			NextEligibleAt:  res.NextEligibleAt.UnixMilli(),
			BankedRemaining: res.BankedRemaining,
			TotalPlaced:     res.TotalPlaced,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(nethttp.StatusCreated)
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		w.Write(data)
	})

	mux.HandleFunc("GET /canvas/pixel/{x}/{y}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		recordParticipant(hub, r)

		x, errX := strconv.Atoi(r.PathValue("x"))
		y, errY := strconv.Atoi(r.PathValue("y"))
		if errX != nil || errY != nil {
			httpError(w, "invalid coordinate", nethttp.StatusBadRequest)
			return
		}

		cell, found, err := hub.Cell(x, y)
		if err != nil {
			httpError(w, "coordinate out of bounds", nethttp.StatusBadRequest)
			return
		}

		detail := proto.CellDetailV1{
			X: x,
			Y: y,
			History: hub.History(history.Filter{
				Coordinate: &history.Coordinate{X: x, Y: y},
				Limit:      recentHistoryLimit,
			}),
		}
		if detail.History == nil {
			detail.History = []history.Entry{}
		}
		if found {
			detail.Cell = &proto.CellRecord{
				Color:    cell.Color,
				PlacedBy: cell.PlacedBy,
				PlacedAt: cell.PlacedAt.UnixMilli(),
			}
		}
		writeJSON(w, detail)
	})

	mux.HandleFunc("GET /canvas/cooldown", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		participantID := recordParticipant(hub, r)
		if participantID == "" {
			httpError(w, "missing participant", nethttp.StatusUnauthorized)
			return
		}

		now := time.Now()
		status := hub.Status(participantID, now)
		payload := struct {
			CanPlaceNow     bool   `json:"canPlaceNow"`
			NextEligibleAt  int64  `json:"nextEligibleAt"`
			BankedRemaining int    `json:"banked"`
			TotalPlaced     uint64 `json:"totalPlaced"`
			ServerTime      int64  `json:"serverTime"`
		}{
			CanPlaceNow:     status.CanPlaceNow,
			NextEligibleAt:  status.NextEligibleAt.UnixMilli(),
			BankedRemaining: status.BankedRemaining,
			TotalPlaced:     status.TotalPlaced,
			ServerTime:      now.UnixMilli(),
		}
		writeJSON(w, payload)
	})

	mux.HandleFunc("POST /canvas/reset", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		sequence, err := hub.Reset(time.Now())
		if err != nil {
			httpError(w, "unavailable", nethttp.StatusServiceUnavailable)
			return
		}
		payload := struct {
			Status   string `json:"status"`
			Sequence uint64 `json:"sequence"`
		}{Status: "ok", Sequence: sequence}
		writeJSON(w, payload)
	})

	wsHandler := ws.NewHandler(hub, ws.HandlerConfig{Logger: logger})
	mux.HandleFunc("/ws", wsHandler.Handle)

	return mux
}

func recordParticipant(hub *server.Hub, r *nethttp.Request) string {
	participantID := r.Header.Get(ParticipantHeader)
	if participantID != "" {
		hub.RecordActivity(participantID, time.Now())
	}
	return participantID
}

func writePlaceError(w nethttp.ResponseWriter, err error) {
	if cdErr, ok := server.AsCooldownError(err); ok {
		payload := struct {
			Error           string `json:"error"`
			NextEligibleAt  int64  `json:"nextEligibleAt"`
			BankedRemaining int    `json:"banked"`
		}{
			Error:           "cooldown active",
			NextEligibleAt:  cdErr.NextEligibleAt.UnixMilli(),
			BankedRemaining: cdErr.BankedRemaining,
		}
		data, merr := json.Marshal(payload)
		if merr != nil {
			httpError(w, "cooldown active", nethttp.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(nethttp.StatusTooManyRequests)
		w.Write(data)
		return
	}

	switch {
	case errors.Is(err, server.ErrOutOfBounds):
		httpError(w, "coordinate out of bounds", nethttp.StatusBadRequest)
	case errors.Is(err, server.ErrInvalidColor):
		httpError(w, "invalid color", nethttp.StatusBadRequest)
	case errors.Is(err, server.ErrHubClosed):
		httpError(w, "unavailable", nethttp.StatusServiceUnavailable)
	default:
		httpError(w, "internal error", nethttp.StatusInternalServerError)
	}
}

func writeJSON(w nethttp.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
