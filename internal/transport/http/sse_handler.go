package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"quizlive/internal/app"
	"quizlive/internal/domain"
)

// SSEHandler streams session events as text/event-stream. A new
// subscriber first receives the state and leaderboard snapshot, then
// ordered diffs; keepalives are sent as comment lines so proxies do
// not drop idle connections.
type SSEHandler struct {
	coordinator *app.Coordinator
	log         *slog.Logger
}

func NewSSEHandler(coordinator *app.Coordinator, log *slog.Logger) *SSEHandler {
	return &SSEHandler{coordinator: coordinator, log: log}
}

func (h *SSEHandler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	quizID := chi.URLParam(r, "quizID")
	sub, err := h.coordinator.Subscribe(r.Context(), quizID)
	if err != nil {
		h.writeSubscribeError(w, err)
		return
	}
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSEEvent(w, ev); err != nil {
				h.log.Debug("sse write failed", "quizId", quizID, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev domain.Event) error {
	if ev.Name() == domain.EventNameKeepalive {
		_, err := fmt.Fprint(w, ": keepalive\n\n")
		return err
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name(), data)
	return err
}

func (h *SSEHandler) writeSubscribeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("subscribe failed", "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
