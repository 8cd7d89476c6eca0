// Package postgres is the durable EntityStore backed by pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizlive/internal/domain"
)

// EntityStore persists quiz records in four relational tables. The
// answers table carries a UNIQUE(player_id, question_id) constraint as
// the last line of defense for the one-answer-per-question invariant.
type EntityStore struct {
	pool *pgxpool.Pool
}

func NewEntityStore(pool *pgxpool.Pool) *EntityStore {
	return &EntityStore{pool: pool}
}

func (s *EntityStore) CreateQuiz(ctx context.Context, quiz *domain.Quiz) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quizzes (id, title, owner_id, status, current_question_index, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		quiz.ID, quiz.Title, quiz.OwnerID, string(quiz.Status), quiz.CurrentQuestionIndex, quiz.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}
	return nil
}

func (s *EntityStore) GetQuiz(ctx context.Context, id string) (domain.Quiz, error) {
	var quiz domain.Quiz
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, owner_id, status, current_question_index, created_at
		 FROM quizzes WHERE id = $1`, id).
		Scan(&quiz.ID, &quiz.Title, &quiz.OwnerID, &status, &quiz.CurrentQuestionIndex, &quiz.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("select quiz: %w", err)
	}
	quiz.Status = domain.Status(status)
	return quiz, nil
}

func (s *EntityStore) UpdateQuizState(ctx context.Context, id string, status domain.Status, index int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quizzes SET status = $2, current_question_index = $3 WHERE id = $1`,
		id, string(status), index)
	if err != nil {
		return fmt.Errorf("update quiz state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrQuizNotFound
	}
	return nil
}

func (s *EntityStore) CreateQuestion(ctx context.Context, question *domain.Question) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, quiz_id, position, prompt, options, correct_answer, time_limit_seconds, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		question.ID, question.QuizID, question.Position, question.Prompt,
		question.Options, question.CorrectAnswer, question.TimeLimitSeconds, question.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *EntityStore) QuestionsByQuiz(ctx context.Context, quizID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, quiz_id, position, prompt, options, correct_answer, time_limit_seconds, created_at
		 FROM questions WHERE quiz_id = $1 ORDER BY position`, quizID)
	if err != nil {
		return nil, fmt.Errorf("select questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Position, &q.Prompt, &q.Options, &q.CorrectAnswer, &q.TimeLimitSeconds, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *EntityStore) CreatePlayer(ctx context.Context, player *domain.Player) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (id, quiz_id, name, score, join_seq, joined_at, last_answer_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		player.ID, player.QuizID, player.Name, player.Score, player.JoinSeq, player.JoinedAt, nullableTime(player.LastAnswerAt))
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	return nil
}

func (s *EntityStore) PlayersByQuiz(ctx context.Context, quizID string) ([]domain.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, quiz_id, name, score, join_seq, joined_at, last_answer_at
		 FROM players WHERE quiz_id = $1 ORDER BY join_seq`, quizID)
	if err != nil {
		return nil, fmt.Errorf("select players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		var p domain.Player
		var last *time.Time
		if err := rows.Scan(&p.ID, &p.QuizID, &p.Name, &p.Score, &p.JoinSeq, &p.JoinedAt, &last); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		if last != nil {
			p.LastAnswerAt = *last
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// RecordAnswer writes the answer row and the player's new score in one
// transaction; a unique violation on (player_id, question_id) surfaces
// as ErrDuplicateSubmission.
func (s *EntityStore) RecordAnswer(ctx context.Context, answer *domain.Answer, newScore int, lastAnswerAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record answer: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO answers (id, player_id, question_id, answer_text, is_correct, response_time_ms, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		answer.ID, answer.PlayerID, answer.QuestionID, answer.AnswerText, answer.IsCorrect, answer.ResponseTimeMS, answer.SubmittedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSubmission
		}
		return fmt.Errorf("insert answer: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE players SET score = $2, last_answer_at = $3 WHERE id = $1`,
		answer.PlayerID, newScore, lastAnswerAt)
	if err != nil {
		return fmt.Errorf("update player score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}

	return tx.Commit(ctx)
}

func (s *EntityStore) AnswersByQuiz(ctx context.Context, quizID string) ([]domain.Answer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.player_id, a.question_id, a.answer_text, a.is_correct, a.response_time_ms, a.submitted_at
		 FROM answers a JOIN players p ON p.id = a.player_id
		 WHERE p.quiz_id = $1 ORDER BY a.submitted_at`, quizID)
	if err != nil {
		return nil, fmt.Errorf("select answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.ID, &a.PlayerID, &a.QuestionID, &a.AnswerText, &a.IsCorrect, &a.ResponseTimeMS, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
