package domain

import "time"

// Status is the lifecycle state of a quiz session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Quiz is one live session from creation to finished.
type Quiz struct {
	ID                   string    `json:"id"`
	Title                string    `json:"title"`
	OwnerID              string    `json:"ownerId"`
	Status               Status    `json:"status"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Question is an MCQ question. Immutable once added; the question set
// is fixed before the quiz leaves waiting.
type Question struct {
	ID               string    `json:"id"`
	QuizID           string    `json:"quizId"`
	Position         int       `json:"position"`
	Prompt           string    `json:"prompt"`
	Options          []string  `json:"options"`
	CorrectAnswer    string    `json:"correctAnswer"`
	TimeLimitSeconds int       `json:"timeLimitSeconds"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Player is one participant row. Joining twice creates two players;
// there is no identity de-duplication.
type Player struct {
	ID           string    `json:"id"`
	QuizID       string    `json:"quizId"`
	Name         string    `json:"name"`
	Score        int       `json:"score"`
	JoinSeq      int       `json:"joinSeq"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastAnswerAt time.Time `json:"lastAnswerAt"`
}

// Answer is an append-only submission record, at most one per
// (player, question).
type Answer struct {
	ID             string    `json:"id"`
	PlayerID       string    `json:"playerId"`
	QuestionID     string    `json:"questionId"`
	AnswerText     string    `json:"answerText"`
	IsCorrect      bool      `json:"isCorrect"`
	ResponseTimeMS int64     `json:"responseTimeMs"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// LeaderboardEntry is a snapshot-friendly view of a player's rank.
type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for a quiz session.
type Leaderboard struct {
	QuizID    string             `json:"quizId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// AnswerResult summarizes the outcome of a submission for one player.
type AnswerResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	NewScore   int    `json:"newScore"`
}

// Snapshot is the consistent view handed to a newly connected
// subscriber: lifecycle state plus the current leaderboard.
type Snapshot struct {
	Quiz        Quiz        `json:"quiz"`
	Questions   []Question  `json:"questions"`
	Leaderboard Leaderboard `json:"leaderboard"`
}
