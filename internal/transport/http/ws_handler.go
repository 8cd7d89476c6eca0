package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"quizlive/internal/app"
	"quizlive/internal/bus"
)

// WSHandler serves the bidirectional player channel: answers inbound,
// session events outbound.
type WSHandler struct {
	coordinator *app.Coordinator
	log         *slog.Logger
	upgrader    websocket.Upgrader
}

func NewWSHandler(coordinator *app.Coordinator, log *slog.Logger) *WSHandler {
	return &WSHandler{
		coordinator: coordinator,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wsConn is the subset of *websocket.Conn the session pump needs.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
}

// ServeWS upgrades the connection and wires it into the session. A
// connection either joins as a new player (name given) or reattaches
// an existing one (playerId given); disconnecting only cancels the
// subscription, never an in-flight command.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	playerID := r.URL.Query().Get("playerId")
	name := r.URL.Query().Get("name")
	if quizID == "" || (playerID == "" && name == "") {
		http.Error(w, "missing quizId and playerId or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if playerID == "" {
		player, err := h.coordinator.JoinPlayer(r.Context(), quizID, name)
		if err != nil {
			_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
		playerID = player.ID
		if err := conn.WriteJSON(outboundMessage{Type: "joined", Payload: player}); err != nil {
			return
		}
	}

	sub, err := h.coordinator.Subscribe(r.Context(), quizID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer sub.Unsubscribe()

	h.pump(r.Context(), conn, quizID, playerID, sub)
}

// pump runs the connection's read loop, event forwarder and single
// writer until the peer disconnects or the writer fails. Every send
// into the writer's queue also watches for writer exit, so a dead
// writer can never block the other goroutines on a full queue.
func (h *WSHandler) pump(ctx context.Context, conn wsConn, quizID, playerID string, sub *bus.Subscription) {
	send := make(chan outboundMessage, 16)
	done := make(chan struct{})
	writerDone := make(chan struct{})
	forwardDone := make(chan struct{})

	// Single writer goroutine; gorilla connections do not allow
	// concurrent writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write failed", "quizId", quizID, "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(forwardDone)
		for {
			select {
			case ev, open := <-sub.Events():
				if !open {
					return
				}
				select {
				case send <- outboundMessage{Type: ev.Name(), Payload: ev}:
				case <-done:
					return
				case <-writerDone:
					return
				}
			case <-done:
				return
			}
		}
	}()

	enqueue := func(msg outboundMessage) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

readLoop:
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				if !enqueue(outboundMessage{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}) {
					break readLoop
				}
				continue
			}
			result, err := h.coordinator.SubmitAnswer(ctx, quizID, playerID, payload.QuestionID, payload.Answer)
			if err != nil {
				if !enqueue(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}) {
					break readLoop
				}
				continue
			}
			if !enqueue(outboundMessage{Type: "answerResult", Payload: result}) {
				break readLoop
			}
		default:
			if !enqueue(outboundMessage{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}) {
				break readLoop
			}
		}
	}

	close(done)
	<-forwardDone
	close(send)
	<-writerDone
}
