package domain

const (
	EventNameQuizStateChanged   = "quiz.state_changed"
	EventNameLeaderboardChanged = "leaderboard.changed"
	EventNameAnswerRecorded     = "answer.recorded"
	EventNameKeepalive          = "keepalive"
)

// Event is a session state-change notification fanned out to
// subscribers.
type Event interface {
	Name() string
}

// QuizStateChanged is emitted on every successful lifecycle
// transition.
type QuizStateChanged struct {
	Status               Status `json:"status"`
	CurrentQuestionIndex int    `json:"currentQuestionIndex"`
}

func (QuizStateChanged) Name() string { return EventNameQuizStateChanged }

// LeaderboardChanged carries the full recomputed ranking.
type LeaderboardChanged struct {
	Leaderboard Leaderboard `json:"leaderboard"`
}

func (LeaderboardChanged) Name() string { return EventNameLeaderboardChanged }

// AnswerRecorded is emitted after a scored submission, primarily for
// the submitting player's own view.
type AnswerRecorded struct {
	PlayerID   string `json:"playerId"`
	QuestionID string `json:"questionId"`
	IsCorrect  bool   `json:"isCorrect"`
	NewScore   int    `json:"newScore"`
}

func (AnswerRecorded) Name() string { return EventNameAnswerRecorded }

// Keepalive carries no payload; it only keeps idle subscriber
// connections open through network intermediaries.
type Keepalive struct{}

func (Keepalive) Name() string { return EventNameKeepalive }
