package app

import (
	"sync"
	"time"

	"quizlive/internal/domain"
)

// session holds the authoritative in-memory state of one quiz. Every
// mutating command runs under its write lock, which is what serializes
// the state machine, scoring and leaderboard recomputation for a
// single quiz while leaving other quizzes fully parallel.
//
// Mutations stage new state, call the persist callback, and commit to
// the session only after the store accepted the write. A failed write
// therefore leaves memory and store in agreement and emits nothing.
//
// The publish callbacks run before the write lock is released, so
// events reach the bus in commit order and a late subscriber can never
// observe a frame older than the snapshot it was seeded with.
type session struct {
	quizID string
	now    func() time.Time

	mu        sync.RWMutex
	quiz      domain.Quiz
	questions []domain.Question
	players   map[string]*domain.Player
	joinSeq   int
	answered  map[answerKey]struct{}
}

type answerKey struct {
	playerID   string
	questionID string
}

func newSession(quiz domain.Quiz, now func() time.Time) *session {
	return &session{
		quizID:   quiz.ID,
		now:      now,
		quiz:     quiz,
		players:  make(map[string]*domain.Player),
		answered: make(map[answerKey]struct{}),
	}
}

// restore rebuilds session state from store records, typically after a
// process restart. Answers repopulate the duplicate-submission set.
func (s *session) restore(questions []domain.Question, players []domain.Player, answers []domain.Answer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = questions
	for i := range players {
		p := players[i]
		s.players[p.ID] = &p
		if p.JoinSeq >= s.joinSeq {
			s.joinSeq = p.JoinSeq + 1
		}
	}
	for _, a := range answers {
		s.answered[answerKey{playerID: a.PlayerID, questionID: a.QuestionID}] = struct{}{}
	}
}

func (s *session) addQuestion(q domain.Question, persist func(*domain.Question) error) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quiz.Status != domain.StatusWaiting {
		return domain.Question{}, domain.ErrQuizAlreadyStarted
	}

	q.Position = len(s.questions)
	if err := persist(&q); err != nil {
		return domain.Question{}, err
	}
	s.questions = append(s.questions, q)
	return q, nil
}

func (s *session) join(p domain.Player, persist func(*domain.Player) error, publish func(domain.Leaderboard)) (domain.Player, domain.Leaderboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quiz.Status != domain.StatusWaiting {
		return domain.Player{}, domain.Leaderboard{}, domain.ErrQuizAlreadyStarted
	}

	p.JoinSeq = s.joinSeq
	if err := persist(&p); err != nil {
		return domain.Player{}, domain.Leaderboard{}, err
	}
	s.joinSeq++
	s.players[p.ID] = &p

	lb := s.leaderboardLocked(0)
	if publish != nil {
		publish(lb)
	}
	return p, lb, nil
}

func (s *session) start(persist func(domain.Quiz) error, publish func(domain.QuizStateChanged)) (domain.QuizStateChanged, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quiz.Status != domain.StatusWaiting || len(s.questions) == 0 {
		return domain.QuizStateChanged{}, domain.ErrInvalidTransition
	}

	next := s.quiz
	next.Status = domain.StatusActive
	next.CurrentQuestionIndex = 0
	if err := persist(next); err != nil {
		return domain.QuizStateChanged{}, err
	}
	s.quiz = next

	ev := domain.QuizStateChanged{Status: next.Status, CurrentQuestionIndex: next.CurrentQuestionIndex}
	if publish != nil {
		publish(ev)
	}
	return ev, nil
}

func (s *session) advance(persist func(domain.Quiz) error, publish func(domain.QuizStateChanged)) (domain.QuizStateChanged, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quiz.Status != domain.StatusActive {
		return domain.QuizStateChanged{}, domain.ErrInvalidTransition
	}

	next := s.quiz
	if next.CurrentQuestionIndex+1 < len(s.questions) {
		next.CurrentQuestionIndex++
	} else {
		next.Status = domain.StatusFinished
	}
	if err := persist(next); err != nil {
		return domain.QuizStateChanged{}, err
	}
	s.quiz = next

	ev := domain.QuizStateChanged{Status: next.Status, CurrentQuestionIndex: next.CurrentQuestionIndex}
	if publish != nil {
		publish(ev)
	}
	return ev, nil
}

// scoreDelta is the extension seam for weighted scoring. Response
// latency is recorded on the answer row but deliberately does not feed
// the score.
func scoreDelta(correct bool) int {
	if correct {
		return 1
	}
	return 0
}

func (s *session) submitAnswer(answerID, playerID, questionID, answerText string, persist func(domain.Answer, domain.Player) error, publish func(domain.Answer, domain.Player, domain.Leaderboard)) (domain.Answer, domain.Player, domain.Leaderboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.quiz.Status != domain.StatusActive {
		return domain.Answer{}, domain.Player{}, domain.Leaderboard{}, domain.ErrQuizNotActive
	}

	current := s.questions[s.quiz.CurrentQuestionIndex]
	if questionID != current.ID {
		if s.questionExistsLocked(questionID) {
			return domain.Answer{}, domain.Player{}, domain.Leaderboard{}, domain.ErrStaleSubmission
		}
		return domain.Answer{}, domain.Player{}, domain.Leaderboard{}, domain.ErrQuestionNotFound
	}

	player, ok := s.players[playerID]
	if !ok {
		return domain.Answer{}, domain.Player{}, domain.Leaderboard{}, domain.ErrPlayerNotFound
	}

	key := answerKey{playerID: playerID, questionID: questionID}
	if _, dup := s.answered[key]; dup {
		return domain.Answer{}, domain.Player{}, domain.Leaderboard{}, domain.ErrDuplicateSubmission
	}

	now := s.now()
	correct := answerText == current.CorrectAnswer
	answer := domain.Answer{
		ID:             answerID,
		PlayerID:       playerID,
		QuestionID:     questionID,
		AnswerText:     answerText,
		IsCorrect:      correct,
		ResponseTimeMS: responseLatency(player.LastAnswerAt, now),
		SubmittedAt:    now,
	}

	updated := *player
	updated.Score += scoreDelta(correct)
	updated.LastAnswerAt = now

	if err := persist(answer, updated); err != nil {
		return domain.Answer{}, domain.Player{}, domain.Leaderboard{}, err
	}

	s.answered[key] = struct{}{}
	*player = updated

	lb := s.leaderboardLocked(0)
	if publish != nil {
		publish(answer, updated, lb)
	}
	return answer, updated, lb, nil
}

// responseLatency measures against the player's previous scored answer;
// the first answer of a session has no baseline.
func responseLatency(last, now time.Time) int64 {
	if last.IsZero() {
		return 0
	}
	return now.Sub(last).Milliseconds()
}

func (s *session) questionExistsLocked(questionID string) bool {
	for i := range s.questions {
		if s.questions[i].ID == questionID {
			return true
		}
	}
	return false
}

func (s *session) snapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	questions := make([]domain.Question, len(s.questions))
	copy(questions, s.questions)
	return domain.Snapshot{
		Quiz:        s.quiz,
		Questions:   questions,
		Leaderboard: s.leaderboardLocked(0),
	}
}

func (s *session) leaderboard(limit int) domain.Leaderboard {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaderboardLocked(limit)
}
