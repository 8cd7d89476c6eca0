// Package app contains the quiz session engine: the per-session state
// machine, scoring, leaderboard aggregation and the coordinator that
// serializes commands and publishes change events.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"quizlive/internal/bus"
	"quizlive/internal/domain"
)

const (
	readRetries      = 3
	readRetryBackoff = 50 * time.Millisecond

	minTimeLimitSeconds     = 5
	maxTimeLimitSeconds     = 300
	defaultTimeLimitSeconds = 30
)

// Metrics is the subset of instrumentation the coordinator reports.
type Metrics interface {
	RecordCommand(op string, err error)
	RecordAnswer(result string)
	SetActiveSessions(n int)
	SetSubscribers(n int)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) RecordCommand(string, error) {}
func (NopMetrics) RecordAnswer(string)         {}
func (NopMetrics) SetActiveSessions(int)       {}
func (NopMetrics) SetSubscribers(int)          {}

// Coordinator owns every live quiz session in this process. Commands
// for one quiz are serialized by that session's lock; commands for
// different quizzes run fully in parallel. Every successful mutation
// is persisted before it is committed in memory, and its events are
// handed to the bus before the session lock is released, so subscribers
// always receive them in commit order.
type Coordinator struct {
	store   EntityStore
	bus     *bus.Bus
	cache   LeaderboardCache // nil when redis is not configured
	metrics Metrics
	log     *slog.Logger
	topN    int

	newID func() string
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	sf       singleflight.Group
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLeaderboardCache(cache LeaderboardCache) Option {
	return func(c *Coordinator) { c.cache = cache }
}

func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithTopN caps the ranking carried on LeaderboardChanged events.
func WithTopN(n int) Option {
	return func(c *Coordinator) { c.topN = n }
}

// WithClock is test-only, for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator is test-only, for deterministic ids.
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newID = gen }
}

func NewCoordinator(store EntityStore, eventBus *bus.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		bus:      eventBus,
		metrics:  NopMetrics{},
		log:      slog.Default(),
		topN:     10,
		newID:    uuid.NewString,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateQuiz registers a new quiz in the waiting state.
func (c *Coordinator) CreateQuiz(ctx context.Context, title, ownerID string) (quiz domain.Quiz, err error) {
	defer func() { c.metrics.RecordCommand("create_quiz", err) }()

	if title == "" {
		return domain.Quiz{}, &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}

	quiz = domain.Quiz{
		ID:        c.newID(),
		Title:     title,
		OwnerID:   ownerID,
		Status:    domain.StatusWaiting,
		CreatedAt: c.now(),
	}
	if err = c.store.CreateQuiz(ctx, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("create quiz: %w", err)
	}

	c.mu.Lock()
	c.sessions[quiz.ID] = newSession(quiz, c.now)
	c.metrics.SetActiveSessions(len(c.sessions))
	c.mu.Unlock()

	c.markLive(ctx, quiz.ID)
	c.log.Info("quiz created", "quizId", quiz.ID, "title", title)
	return quiz, nil
}

// AddQuestion appends a question; legal only while the quiz is
// waiting.
func (c *Coordinator) AddQuestion(ctx context.Context, quizID, prompt string, options []string, correctAnswer string, timeLimitSeconds int) (q domain.Question, err error) {
	defer func() { c.metrics.RecordCommand("add_question", err) }()

	if prompt == "" {
		return domain.Question{}, &domain.ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if len(options) < 2 {
		return domain.Question{}, &domain.ValidationError{Field: "options", Reason: "at least two options required"}
	}
	if !contains(options, correctAnswer) {
		return domain.Question{}, &domain.ValidationError{Field: "correctAnswer", Reason: "must be one of the options"}
	}
	if timeLimitSeconds == 0 {
		timeLimitSeconds = defaultTimeLimitSeconds
	}
	if timeLimitSeconds < minTimeLimitSeconds || timeLimitSeconds > maxTimeLimitSeconds {
		return domain.Question{}, &domain.ValidationError{Field: "timeLimitSeconds", Reason: fmt.Sprintf("must be between %d and %d", minTimeLimitSeconds, maxTimeLimitSeconds)}
	}

	sess, err := c.getSession(ctx, quizID)
	if err != nil {
		return domain.Question{}, err
	}

	q = domain.Question{
		ID:               c.newID(),
		QuizID:           quizID,
		Prompt:           prompt,
		Options:          options,
		CorrectAnswer:    correctAnswer,
		TimeLimitSeconds: timeLimitSeconds,
		CreatedAt:        c.now(),
	}
	return sess.addQuestion(q, func(question *domain.Question) error {
		return c.store.CreateQuestion(ctx, question)
	})
}

// JoinPlayer adds a participant to a waiting quiz and announces the
// grown leaderboard.
func (c *Coordinator) JoinPlayer(ctx context.Context, quizID, name string) (player domain.Player, err error) {
	defer func() { c.metrics.RecordCommand("join_player", err) }()

	if name == "" {
		return domain.Player{}, &domain.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	sess, err := c.getSession(ctx, quizID)
	if err != nil {
		return domain.Player{}, err
	}

	p := domain.Player{
		ID:       c.newID(),
		QuizID:   quizID,
		Name:     name,
		JoinedAt: c.now(),
	}
	player, lb, err := sess.join(p, func(pl *domain.Player) error {
		return c.store.CreatePlayer(ctx, pl)
	}, func(lb domain.Leaderboard) {
		c.bus.Publish(quizID, domain.LeaderboardChanged{Leaderboard: c.capBoard(lb)})
	})
	if err != nil {
		return domain.Player{}, err
	}

	c.cacheLeaderboard(ctx, quizID, lb)
	return player, nil
}

// StartQuiz transitions waiting -> active(0). Requires at least one
// question.
func (c *Coordinator) StartQuiz(ctx context.Context, quizID string) (err error) {
	defer func() { c.metrics.RecordCommand("start_quiz", err) }()

	sess, err := c.getSession(ctx, quizID)
	if err != nil {
		return err
	}

	if _, err = sess.start(func(next domain.Quiz) error {
		return c.store.UpdateQuizState(ctx, next.ID, next.Status, next.CurrentQuestionIndex)
	}, func(ev domain.QuizStateChanged) {
		c.bus.Publish(quizID, ev)
	}); err != nil {
		return err
	}

	c.log.Info("quiz started", "quizId", quizID)
	return nil
}

// AdvanceQuestion moves active(i) -> active(i+1), or to finished past
// the last question.
func (c *Coordinator) AdvanceQuestion(ctx context.Context, quizID string) (state domain.QuizStateChanged, err error) {
	defer func() { c.metrics.RecordCommand("advance_question", err) }()

	sess, err := c.getSession(ctx, quizID)
	if err != nil {
		return domain.QuizStateChanged{}, err
	}

	ev, err := sess.advance(func(next domain.Quiz) error {
		return c.store.UpdateQuizState(ctx, next.ID, next.Status, next.CurrentQuestionIndex)
	}, func(ev domain.QuizStateChanged) {
		c.bus.Publish(quizID, ev)
	})
	if err != nil {
		return domain.QuizStateChanged{}, err
	}

	if ev.Status == domain.StatusFinished {
		c.log.Info("quiz finished", "quizId", quizID)
	}
	return ev, nil
}

// SubmitAnswer scores a player's answer for the current question.
// Duplicate and stale submissions are steady-state outcomes under
// concurrency, rejected without mutation or events.
func (c *Coordinator) SubmitAnswer(ctx context.Context, quizID, playerID, questionID, answerText string) (result domain.AnswerResult, err error) {
	defer func() { c.metrics.RecordCommand("submit_answer", err) }()

	sess, err := c.getSession(ctx, quizID)
	if err != nil {
		return domain.AnswerResult{}, err
	}

	answer, player, lb, err := sess.submitAnswer(c.newID(), playerID, questionID, answerText, func(a domain.Answer, p domain.Player) error {
		if err := c.store.RecordAnswer(ctx, &a, p.Score, p.LastAnswerAt); err != nil {
			return fmt.Errorf("persist answer: %w", err)
		}
		return nil
	}, func(a domain.Answer, p domain.Player, board domain.Leaderboard) {
		c.bus.Publish(quizID,
			domain.AnswerRecorded{
				PlayerID:   p.ID,
				QuestionID: questionID,
				IsCorrect:  a.IsCorrect,
				NewScore:   p.Score,
			},
			domain.LeaderboardChanged{Leaderboard: c.capBoard(board)},
		)
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrDuplicateSubmission):
			c.metrics.RecordAnswer("duplicate")
			c.log.Debug("duplicate submission", "quizId", quizID, "playerId", playerID, "questionId", questionID)
		case errors.Is(err, domain.ErrStaleSubmission):
			c.metrics.RecordAnswer("stale")
			c.log.Debug("stale submission", "quizId", quizID, "playerId", playerID, "questionId", questionID)
		}
		return domain.AnswerResult{}, err
	}

	if answer.IsCorrect {
		c.metrics.RecordAnswer("correct")
	} else {
		c.metrics.RecordAnswer("incorrect")
	}

	c.cacheLeaderboard(ctx, quizID, lb)

	return domain.AnswerResult{
		QuestionID: questionID,
		Correct:    answer.IsCorrect,
		NewScore:   player.Score,
	}, nil
}

// Snapshot returns a consistent point-in-time view of the session.
func (c *Coordinator) Snapshot(ctx context.Context, quizID string) (domain.Snapshot, error) {
	sess, err := c.getSession(ctx, quizID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return sess.snapshot(), nil
}

// Leaderboard returns the ranking; limit <= 0 yields the uncapped
// view for organizer tooling.
func (c *Coordinator) Leaderboard(ctx context.Context, quizID string, limit int) (domain.Leaderboard, error) {
	sess, err := c.getSession(ctx, quizID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return sess.leaderboard(limit), nil
}

// Subscribe registers a new subscriber and seeds it with the current
// state and leaderboard snapshot, so clients connecting mid-session do
// not race the next event. The caller must Unsubscribe the returned
// handle.
func (c *Coordinator) Subscribe(ctx context.Context, quizID string) (*bus.Subscription, error) {
	sess, err := c.getSession(ctx, quizID)
	if err != nil {
		return nil, err
	}

	// Registration happens under the session read lock: publication
	// holds the write lock, so the snapshot and the subscription are
	// atomic with respect to concurrent commands.
	sess.mu.RLock()
	sub := c.bus.Subscribe(quizID,
		domain.QuizStateChanged{Status: sess.quiz.Status, CurrentQuestionIndex: sess.quiz.CurrentQuestionIndex},
		domain.LeaderboardChanged{Leaderboard: sess.leaderboardLocked(c.topN)},
	)
	sess.mu.RUnlock()

	c.metrics.SetSubscribers(c.bus.TotalSubscribers())
	return sub, nil
}

// capBoard trims the ranking carried on events to the configured topN.
func (c *Coordinator) capBoard(lb domain.Leaderboard) domain.Leaderboard {
	if c.topN > 0 && len(lb.Entries) > c.topN {
		lb.Entries = lb.Entries[:c.topN]
	}
	return lb
}

// cacheLeaderboard mirrors the full board into redis, best effort,
// outside the session lock.
func (c *Coordinator) cacheLeaderboard(ctx context.Context, quizID string, lb domain.Leaderboard) {
	if c.cache == nil {
		return
	}
	if err := c.cache.StoreLeaderboard(ctx, lb); err != nil {
		c.log.Warn("leaderboard cache write failed", "quizId", quizID, "error", err)
	}
}

func (c *Coordinator) markLive(ctx context.Context, quizID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.MarkLive(ctx, quizID); err != nil {
		c.log.Warn("session liveness marker failed", "quizId", quizID, "error", err)
	}
}

// getSession returns the live session for the quiz, rehydrating it
// from the store if this process has not seen it yet. Rehydration is
// singleflighted so concurrent commands for a cold quiz load it once.
func (c *Coordinator) getSession(ctx context.Context, quizID string) (*session, error) {
	c.mu.RLock()
	sess, ok := c.sessions[quizID]
	c.mu.RUnlock()
	if ok {
		return sess, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		c.mu.RLock()
		if sess, ok := c.sessions[quizID]; ok {
			c.mu.RUnlock()
			return sess, nil
		}
		c.mu.RUnlock()

		sess, err := c.rehydrate(ctx, quizID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.sessions[quizID] = sess
		c.metrics.SetActiveSessions(len(c.sessions))
		c.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*session), nil
}

func (c *Coordinator) rehydrate(ctx context.Context, quizID string) (*session, error) {
	var quiz domain.Quiz
	err := c.readWithRetry(ctx, func() error {
		var err error
		quiz, err = c.store.GetQuiz(ctx, quizID)
		return err
	})
	if err != nil {
		return nil, err
	}

	var questions []domain.Question
	if err := c.readWithRetry(ctx, func() error {
		var err error
		questions, err = c.store.QuestionsByQuiz(ctx, quizID)
		return err
	}); err != nil {
		return nil, err
	}

	var players []domain.Player
	if err := c.readWithRetry(ctx, func() error {
		var err error
		players, err = c.store.PlayersByQuiz(ctx, quizID)
		return err
	}); err != nil {
		return nil, err
	}

	var answers []domain.Answer
	if err := c.readWithRetry(ctx, func() error {
		var err error
		answers, err = c.store.AnswersByQuiz(ctx, quizID)
		return err
	}); err != nil {
		return nil, err
	}

	sess := newSession(quiz, c.now)
	sess.restore(questions, players, answers)
	c.log.Info("session rehydrated", "quizId", quizID, "players", len(players), "answers", len(answers))
	return sess, nil
}

// readWithRetry retries transient store read failures a bounded number
// of times. Not-found is terminal, not transient.
func (c *Coordinator) readWithRetry(ctx context.Context, read func() error) error {
	var err error
	for attempt := 0; attempt < readRetries; attempt++ {
		if err = read(); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrQuizNotFound) ||
			errors.Is(err, domain.ErrPlayerNotFound) ||
			errors.Is(err, domain.ErrQuestionNotFound) {
			return err
		}
		if attempt == readRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readRetryBackoff << attempt):
		}
	}
	return err
}

func contains(options []string, want string) bool {
	for _, opt := range options {
		if opt == want {
			return true
		}
	}
	return false
}
