package app

import (
	"context"
	"time"

	"quizlive/internal/domain"
)

// EntityStore is typed access to the durable quiz records. It applies
// no business rules; the coordinator decides, the store persists.
type EntityStore interface {
	CreateQuiz(ctx context.Context, quiz *domain.Quiz) error
	GetQuiz(ctx context.Context, id string) (domain.Quiz, error)
	UpdateQuizState(ctx context.Context, id string, status domain.Status, index int) error

	CreateQuestion(ctx context.Context, question *domain.Question) error
	// QuestionsByQuiz returns the quiz's questions ordered by position.
	QuestionsByQuiz(ctx context.Context, quizID string) ([]domain.Question, error)

	CreatePlayer(ctx context.Context, player *domain.Player) error
	// PlayersByQuiz returns the quiz's players ordered by join sequence.
	PlayersByQuiz(ctx context.Context, quizID string) ([]domain.Player, error)

	// RecordAnswer persists the answer and the player's new score as
	// one atomic write, so a failure leaves neither behind.
	RecordAnswer(ctx context.Context, answer *domain.Answer, newScore int, lastAnswerAt time.Time) error
	AnswersByQuiz(ctx context.Context, quizID string) ([]domain.Answer, error)
}

// LeaderboardCache receives best-effort projections of session state
// for cross-process readers. Failures never fail a command.
type LeaderboardCache interface {
	StoreLeaderboard(ctx context.Context, lb domain.Leaderboard) error
	MarkLive(ctx context.Context, quizID string) error
	Remove(ctx context.Context, quizID string) error
}
