// Package memory provides the in-memory EntityStore, used standalone
// when no postgres is configured and as the test store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"quizlive/internal/domain"
)

// EntityStore keeps all records in process memory. It mirrors the
// durable store's contract including the (player, question) answer
// uniqueness constraint.
type EntityStore struct {
	mu        sync.RWMutex
	quizzes   map[string]domain.Quiz
	questions map[string][]domain.Question // by quiz id, position order
	players   map[string]domain.Player
	answers   map[string][]domain.Answer // by quiz id
	playerIdx map[string]string          // player id -> quiz id
	answered  map[[2]string]struct{}     // (player, question)
}

func NewEntityStore() *EntityStore {
	return &EntityStore{
		quizzes:   make(map[string]domain.Quiz),
		questions: make(map[string][]domain.Question),
		players:   make(map[string]domain.Player),
		answers:   make(map[string][]domain.Answer),
		playerIdx: make(map[string]string),
		answered:  make(map[[2]string]struct{}),
	}
}

func (s *EntityStore) CreateQuiz(_ context.Context, quiz *domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[quiz.ID] = *quiz
	return nil
}

func (s *EntityStore) GetQuiz(_ context.Context, id string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[id]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return quiz, nil
}

func (s *EntityStore) UpdateQuizState(_ context.Context, id string, status domain.Status, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[id]
	if !ok {
		return domain.ErrQuizNotFound
	}
	quiz.Status = status
	quiz.CurrentQuestionIndex = index
	s.quizzes[id] = quiz
	return nil
}

func (s *EntityStore) CreateQuestion(_ context.Context, question *domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[question.QuizID]; !ok {
		return domain.ErrQuizNotFound
	}
	s.questions[question.QuizID] = append(s.questions[question.QuizID], *question)
	return nil
}

func (s *EntityStore) QuestionsByQuiz(_ context.Context, quizID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	questions := make([]domain.Question, len(s.questions[quizID]))
	copy(questions, s.questions[quizID])
	sort.Slice(questions, func(i, j int) bool { return questions[i].Position < questions[j].Position })
	return questions, nil
}

func (s *EntityStore) CreatePlayer(_ context.Context, player *domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.quizzes[player.QuizID]; !ok {
		return domain.ErrQuizNotFound
	}
	s.players[player.ID] = *player
	s.playerIdx[player.ID] = player.QuizID
	return nil
}

func (s *EntityStore) PlayersByQuiz(_ context.Context, quizID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var players []domain.Player
	for _, p := range s.players {
		if p.QuizID == quizID {
			players = append(players, p)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].JoinSeq < players[j].JoinSeq })
	return players, nil
}

func (s *EntityStore) RecordAnswer(_ context.Context, answer *domain.Answer, newScore int, lastAnswerAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{answer.PlayerID, answer.QuestionID}
	if _, dup := s.answered[key]; dup {
		return domain.ErrDuplicateSubmission
	}
	player, ok := s.players[answer.PlayerID]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	player.Score = newScore
	player.LastAnswerAt = lastAnswerAt
	s.players[answer.PlayerID] = player
	s.answered[key] = struct{}{}
	s.answers[player.QuizID] = append(s.answers[player.QuizID], *answer)
	return nil
}

func (s *EntityStore) AnswersByQuiz(_ context.Context, quizID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answers := make([]domain.Answer, len(s.answers[quizID]))
	copy(answers, s.answers[quizID])
	return answers, nil
}
