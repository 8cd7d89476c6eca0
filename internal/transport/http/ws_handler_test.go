package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quizlive/internal/app"
	"quizlive/internal/bus"
	"quizlive/internal/domain"
	"quizlive/internal/infra/memory"
)

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}

func TestWebSocketAnswerFlow(t *testing.T) {
	server, coordinator := newTestServer(t, bus.Options{})
	ctx := context.Background()

	quiz, err := coordinator.CreateQuiz(ctx, "Geo", "owner-1")
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	question, err := coordinator.AddQuestion(ctx, quiz.ID, "Capital of France?", []string{"Paris", "Rome"}, "Paris", 0)
	if err != nil {
		t.Fatalf("add question: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws?quizId=" + quiz.ID + "&name=Alice"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Joined confirmation first, carrying the assigned player id.
	_, payload := readNext(conn, t, "joined")
	if payload["name"] != "Alice" {
		t.Fatalf("joined payload: %+v", payload)
	}

	// Then the state and leaderboard snapshot.
	readNext(conn, t, domain.EventNameQuizStateChanged)
	readNext(conn, t, domain.EventNameLeaderboardChanged)

	if err := coordinator.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	readNext(conn, t, domain.EventNameQuizStateChanged)

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId": question.ID,
			"answer":     "Paris",
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	// answerResult is the command reply; answer.recorded and the new
	// leaderboard arrive on the subscription.
	resultSeen := false
	leaderboardSeen := false
	for i := 0; i < 4; i++ {
		typ, payload := readNext(conn, t, "")
		switch typ {
		case "answerResult":
			if payload["correct"] != true {
				t.Fatalf("answerResult payload: %+v", payload)
			}
			resultSeen = true
		case domain.EventNameLeaderboardChanged:
			leaderboardSeen = true
		}
		if resultSeen && leaderboardSeen {
			break
		}
	}
	if !resultSeen || !leaderboardSeen {
		t.Fatalf("expected answerResult and leaderboard, got answerResult=%v leaderboard=%v", resultSeen, leaderboardSeen)
	}
}

func TestWebSocketDuplicateAnswerGetsError(t *testing.T) {
	server, coordinator := newTestServer(t, bus.Options{})
	ctx := context.Background()

	quiz, err := coordinator.CreateQuiz(ctx, "Geo", "owner-1")
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	question, err := coordinator.AddQuestion(ctx, quiz.ID, "?", []string{"a", "b"}, "a", 0)
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	player, err := coordinator.JoinPlayer(ctx, quiz.ID, "Alice")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := coordinator.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	u := "ws" + server.URL[len("http"):] + "/ws?quizId=" + quiz.ID + "&playerId=" + player.ID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readNext(conn, t, domain.EventNameQuizStateChanged)
	readNext(conn, t, domain.EventNameLeaderboardChanged)

	answer := map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionId": question.ID, "answer": "b"},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write duplicate: %v", err)
	}

	errorSeen := false
	for i := 0; i < 5; i++ {
		typ, _ := readNext(conn, t, "")
		if typ == "error" {
			errorSeen = true
			break
		}
	}
	if !errorSeen {
		t.Fatalf("duplicate submission never produced an error message")
	}
}

// scriptedConn feeds canned inbound messages and fails every write,
// standing in for a peer whose connection broke mid-session.
type scriptedConn struct {
	inbound  <-chan inboundMessage
	writeErr error
}

func (c *scriptedConn) ReadJSON(v any) error {
	msg, ok := <-c.inbound
	if !ok {
		return errors.New("connection closed")
	}
	*(v.(*inboundMessage)) = msg
	return nil
}

func (c *scriptedConn) WriteJSON(any) error { return c.writeErr }

func TestDeadWriterDoesNotBlockReads(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := app.NewCoordinator(memory.NewEntityStore(), bus.New(bus.Options{}), app.WithLogger(log))
	h := NewWSHandler(coordinator, log)

	eventBus := bus.New(bus.Options{})
	sub := eventBus.Subscribe("quiz-1", domain.Keepalive{})
	defer sub.Unsubscribe()

	// Arbitrarily many inbound answers; each produces an outbound reply
	// that the failed writer will never drain.
	inbound := make(chan inboundMessage)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		msg := inboundMessage{Type: "answer", Payload: json.RawMessage(`{"questionId":"q1","answer":"a"}`)}
		for {
			select {
			case inbound <- msg:
			case <-stop:
				return
			}
		}
	}()

	conn := &scriptedConn{inbound: inbound, writeErr: errors.New("broken pipe")}

	finished := make(chan struct{})
	go func() {
		h.pump(context.Background(), conn, "quiz-1", "p1", sub)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("pump kept running after the writer failed")
	}
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	server, _ := newTestServer(t, bus.Options{})
	u := "ws" + server.URL[len("http"):] + "/ws?quizId=quiz-1"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 handshake response, got %+v", resp)
	}
}
