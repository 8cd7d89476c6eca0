// Package http exposes the engine's command surface over REST, SSE and
// websockets.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"quizlive/internal/app"
)

// APIHandler serves the JSON command endpoints consumed by the UI
// layer.
type APIHandler struct {
	coordinator *app.Coordinator
	log         *slog.Logger
}

func NewAPIHandler(coordinator *app.Coordinator, log *slog.Logger) *APIHandler {
	return &APIHandler{coordinator: coordinator, log: log}
}

type createQuizRequest struct {
	Title   string `json:"title"`
	OwnerID string `json:"ownerId"`
}

type addQuestionRequest struct {
	Prompt           string   `json:"prompt"`
	Options          []string `json:"options"`
	CorrectAnswer    string   `json:"correctAnswer"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
}

type joinPlayerRequest struct {
	Name string `json:"name"`
}

type submitAnswerRequest struct {
	PlayerID   string `json:"playerId"`
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

func (h *APIHandler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req createQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	quiz, err := h.coordinator.CreateQuiz(r.Context(), req.Title, req.OwnerID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *APIHandler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	var req addQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	question, err := h.coordinator.AddQuestion(r.Context(), chi.URLParam(r, "quizID"),
		req.Prompt, req.Options, req.CorrectAnswer, req.TimeLimitSeconds)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

func (h *APIHandler) JoinPlayer(w http.ResponseWriter, r *http.Request) {
	var req joinPlayerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	player, err := h.coordinator.JoinPlayer(r.Context(), chi.URLParam(r, "quizID"), req.Name)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, player)
}

func (h *APIHandler) StartQuiz(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.StartQuiz(r.Context(), chi.URLParam(r, "quizID")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) AdvanceQuestion(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.AdvanceQuestion(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *APIHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.coordinator.SubmitAnswer(r.Context(), chi.URLParam(r, "quizID"),
		req.PlayerID, req.QuestionID, req.Answer)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.coordinator.Snapshot(r.Context(), chi.URLParam(r, "quizID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// GetLeaderboard caps the board at limit (default 10); limit=0 returns
// the full board for organizer tooling.
func (h *APIHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	lb, err := h.coordinator.Leaderboard(r.Context(), chi.URLParam(r, "quizID"), limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *APIHandler) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("command failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
