package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"run-route/internal/run-service/companion"
	"run-route/internal/run-service/service"
	"run-route/internal/run-service/tracking"
	"run-route/pkg/auth"
	"run-route/pkg/logger"
	"run-route/pkg/websocket"
)

// Frame types exchanged on the runner socket. Speech frames are sent by the
// voice package over the same connections.
const (
	MsgTypeLocation   = "location"
	MsgTypeAction     = "action"
	MsgTypeSpeechDone = "speech_done"
	MsgTypeStatus     = "status"
	MsgTypeError      = "error"
)

const messageTimeout = 10 * time.Second

// inboundMessage is a location fix or a watch action, told apart by Type.
type inboundMessage struct {
	Type string `json:"type"`
	tracking.Fix
	Action companion.ActionKind `json:"action,omitempty"`
}

type statusMessage struct {
	Type string            `json:"type"`
	Data service.RunStatus `json:"data"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var errRunnerMismatch = errors.New("runner_id does not match token")

// Socket serves GET /ws/runners/{runner_id}. The phone streams fixes and
// receives speech and status frames; a companion token may only send actions.
func (h *Handler) Socket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("runner_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "runner_id is required")
		return
	}

	ws := websocket.NewHandler(h.log, h.jwt, func(conn *websocket.Connection, r *http.Request) {
		log := h.log.WithFields(logger.LogFields{"runner_id": id})
		if conn.Claims.UserID != id {
			log.WithFields(logger.LogFields{"token_user_id": conn.Claims.UserID}).Error("websocket_runner_mismatch", errRunnerMismatch)
			conn.WriteJSON(errorMessage{Type: MsgTypeError, Message: errRunnerMismatch.Error()})
			conn.Close()
			return
		}

		h.sockets.AddConnection(id, conn)
		conn.ReadPump(
			func(_ int, payload []byte) {
				h.handleFrame(conn, id, payload)
			},
			func() {
				h.sockets.RemoveConnection(id, conn)
			},
		)
	}, auth.RoleRunner, auth.RoleCompanion)

	ws.ServeHTTP(w, r)
}

func (h *Handler) handleFrame(conn *websocket.Connection, runnerID string, payload []byte) {
	log := h.log.WithFields(logger.LogFields{"runner_id": runnerID})

	var msg inboundMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Debug("websocket_bad_frame", "Discarding malformed frame")
		conn.WriteJSON(errorMessage{Type: MsgTypeError, Message: "invalid message format"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MsgTypeLocation:
		if conn.Claims.Role != auth.RoleRunner {
			conn.WriteJSON(errorMessage{Type: MsgTypeError, Message: "only the runner may send locations"})
			return
		}
		if !h.allowFix(runnerID) {
			conn.WriteJSON(errorMessage{Type: MsgTypeError, Message: errTooManyFixes.Error()})
			return
		}
		var status service.RunStatus
		status, err = h.svc.RecordLocation(ctx, runnerID, msg.Fix)
		if err == nil {
			conn.WriteJSON(statusMessage{Type: MsgTypeStatus, Data: status})
			return
		}
	case MsgTypeSpeechDone:
		// Sent by the phone when its speech engine finishes an utterance.
		if conn.Claims.Role == auth.RoleRunner {
			h.svc.SpeechDone(runnerID)
		}
		return
	case MsgTypeAction:
		err = h.svc.HandleCompanionAction(ctx, companion.Action{RunnerID: runnerID, Action: msg.Action})
		if err == nil {
			h.sendStatus(conn, runnerID)
			return
		}
	default:
		conn.WriteJSON(errorMessage{Type: MsgTypeError, Message: "unknown message type"})
		return
	}

	if statusFor(err) == http.StatusInternalServerError {
		log.Error("websocket_"+msg.Type+"_failed", err)
	}
	conn.WriteJSON(errorMessage{Type: MsgTypeError, Message: err.Error()})
}

// sendStatus reports the run after an action; a stopped run reads as idle.
func (h *Handler) sendStatus(conn *websocket.Connection, runnerID string) {
	status, err := h.svc.RunState(runnerID)
	if err != nil && !errors.Is(err, service.ErrNoActiveRun) {
		return
	}
	conn.WriteJSON(statusMessage{Type: MsgTypeStatus, Data: status})
}
