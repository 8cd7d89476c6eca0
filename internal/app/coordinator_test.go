package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"quizlive/internal/app"
	"quizlive/internal/bus"
	"quizlive/internal/domain"
	"quizlive/internal/infra/memory"
)

func newTestCoordinator(opts ...app.Option) *app.Coordinator {
	return app.NewCoordinator(memory.NewEntityStore(), bus.New(bus.Options{Buffer: 64}), opts...)
}

// geoQuiz builds the two-question fixture: Q1 correct="Paris",
// Q2 correct="Mercury", players A and B.
func geoQuiz(t *testing.T, c *app.Coordinator) (quiz domain.Quiz, q1, q2 domain.Question, a, b domain.Player) {
	t.Helper()
	ctx := context.Background()

	quiz, err := c.CreateQuiz(ctx, "Geo", "organizer-1")
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	q1, err = c.AddQuestion(ctx, quiz.ID, "Capital of France?", []string{"Paris", "London"}, "Paris", 30)
	if err != nil {
		t.Fatalf("add q1: %v", err)
	}
	q2, err = c.AddQuestion(ctx, quiz.ID, "Closest planet to the sun?", []string{"Venus", "Mercury"}, "Mercury", 30)
	if err != nil {
		t.Fatalf("add q2: %v", err)
	}
	a, err = c.JoinPlayer(ctx, quiz.ID, "A")
	if err != nil {
		t.Fatalf("join A: %v", err)
	}
	b, err = c.JoinPlayer(ctx, quiz.ID, "B")
	if err != nil {
		t.Fatalf("join B: %v", err)
	}
	return quiz, q1, q2, a, b
}

func TestQuizLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	quiz, q1, q2, a, b := geoQuiz(t, c)

	if err := c.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := c.Snapshot(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Quiz.Status != domain.StatusActive || snap.Quiz.CurrentQuestionIndex != 0 {
		t.Fatalf("expected active(0), got %s(%d)", snap.Quiz.Status, snap.Quiz.CurrentQuestionIndex)
	}

	result, err := c.SubmitAnswer(ctx, quiz.ID, a.ID, q1.ID, "Paris")
	if err != nil {
		t.Fatalf("A submit q1: %v", err)
	}
	if !result.Correct || result.NewScore != 1 {
		t.Fatalf("expected correct with score 1, got %+v", result)
	}

	result, err = c.SubmitAnswer(ctx, quiz.ID, b.ID, q1.ID, "London")
	if err != nil {
		t.Fatalf("B submit q1: %v", err)
	}
	if result.Correct || result.NewScore != 0 {
		t.Fatalf("expected incorrect with score 0, got %+v", result)
	}

	state, err := c.AdvanceQuestion(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if state.Status != domain.StatusActive || state.CurrentQuestionIndex != 1 {
		t.Fatalf("expected active(1), got %s(%d)", state.Status, state.CurrentQuestionIndex)
	}

	if _, err := c.SubmitAnswer(ctx, quiz.ID, a.ID, q1.ID, "Paris"); !errors.Is(err, domain.ErrStaleSubmission) {
		t.Fatalf("expected stale submission, got %v", err)
	}

	result, err = c.SubmitAnswer(ctx, quiz.ID, a.ID, q2.ID, "Mercury")
	if err != nil {
		t.Fatalf("A submit q2: %v", err)
	}
	if result.NewScore != 2 {
		t.Fatalf("expected A at 2, got %d", result.NewScore)
	}

	state, err = c.AdvanceQuestion(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("final advance: %v", err)
	}
	if state.Status != domain.StatusFinished {
		t.Fatalf("expected finished, got %s", state.Status)
	}

	lb, err := c.Leaderboard(ctx, quiz.ID, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 2 || lb.Entries[0].PlayerID != a.ID || lb.Entries[0].Score != 2 ||
		lb.Entries[1].PlayerID != b.ID || lb.Entries[1].Score != 0 {
		t.Fatalf("expected [A:2 B:0], got %+v", lb.Entries)
	}
}

func TestStartQuizWithoutQuestions(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	quiz, err := c.CreateQuiz(ctx, "Empty", "o")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.StartQuiz(ctx, quiz.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	snap, _ := c.Snapshot(ctx, quiz.ID)
	if snap.Quiz.Status != domain.StatusWaiting {
		t.Fatalf("status changed on failed start: %s", snap.Quiz.Status)
	}
}

func TestLifecycleOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	quiz, _, _, _, _ := geoQuiz(t, c)

	// Waiting: advance is not legal.
	if _, err := c.AdvanceQuestion(ctx, quiz.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on waiting advance, got %v", err)
	}

	if err := c.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Active: starting again is not legal.
	if err := c.StartQuiz(ctx, quiz.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double start, got %v", err)
	}

	if _, err := c.AdvanceQuestion(ctx, quiz.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := c.AdvanceQuestion(ctx, quiz.ID); err != nil {
		t.Fatalf("advance to finished: %v", err)
	}
	// Finished is terminal.
	if err := c.StartQuiz(ctx, quiz.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on finished start, got %v", err)
	}
	if _, err := c.AdvanceQuestion(ctx, quiz.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on finished advance, got %v", err)
	}
}

func TestJoinAndAddQuestionRejectedAfterStart(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	quiz, _, _, _, _ := geoQuiz(t, c)

	if err := c.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.JoinPlayer(ctx, quiz.ID, "late"); !errors.Is(err, domain.ErrQuizAlreadyStarted) {
		t.Fatalf("expected quiz already started, got %v", err)
	}
	if _, err := c.AddQuestion(ctx, quiz.ID, "Late?", []string{"y", "n"}, "y", 30); !errors.Is(err, domain.ErrQuizAlreadyStarted) {
		t.Fatalf("expected quiz already started, got %v", err)
	}
}

func TestDuplicateSubmissionLeavesScoreUnchanged(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	quiz, q1, _, a, _ := geoQuiz(t, c)

	if err := c.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.SubmitAnswer(ctx, quiz.ID, a.ID, q1.ID, "Paris"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := c.SubmitAnswer(ctx, quiz.ID, a.ID, q1.ID, "London"); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate, got %v", err)
	}

	lb, _ := c.Leaderboard(ctx, quiz.ID, 0)
	if lb.Entries[0].PlayerID != a.ID || lb.Entries[0].Score != 1 {
		t.Fatalf("duplicate changed score: %+v", lb.Entries)
	}
}

func TestSubmitAnswerUnknownQuestion(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	quiz, _, _, a, _ := geoQuiz(t, c)

	if err := c.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.SubmitAnswer(ctx, quiz.ID, a.ID, "nope", "Paris"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestSubmitAnswerBeforeStart(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()
	quiz, q1, _, a, _ := geoQuiz(t, c)

	if _, err := c.SubmitAnswer(ctx, quiz.ID, a.ID, q1.ID, "Paris"); !errors.Is(err, domain.ErrQuizNotActive) {
		t.Fatalf("expected quiz not active, got %v", err)
	}
}

func TestConcurrentSubmissionsLoseNoUpdates(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	quiz, err := c.CreateQuiz(ctx, "Rush", "o")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	question, err := c.AddQuestion(ctx, quiz.ID, "2+2?", []string{"3", "4"}, "4", 30)
	if err != nil {
		t.Fatalf("add question: %v", err)
	}

	const n = 32
	players := make([]domain.Player, n)
	for i := range players {
		players[i], err = c.JoinPlayer(ctx, quiz.ID, fmt.Sprintf("p%d", i))
		if err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if err := c.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := range players {
		wg.Add(1)
		go func(p domain.Player) {
			defer wg.Done()
			if _, err := c.SubmitAnswer(ctx, quiz.ID, p.ID, question.ID, "4"); err != nil {
				t.Errorf("submit for %s: %v", p.ID, err)
			}
		}(players[i])
	}
	wg.Wait()

	lb, err := c.Leaderboard(ctx, quiz.ID, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	total := 0
	for _, entry := range lb.Entries {
		total += entry.Score
	}
	if total != n {
		t.Fatalf("lost updates: expected total %d, got %d", n, total)
	}
}

func TestValidationErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	if _, err := c.CreateQuiz(ctx, "", "o"); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty title, got %v", err)
	}

	quiz, err := c.CreateQuiz(ctx, "V", "o")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cases := []struct {
		name    string
		prompt  string
		options []string
		correct string
		limit   int
	}{
		{"empty prompt", "", []string{"a", "b"}, "a", 30},
		{"one option", "Q?", []string{"a"}, "a", 30},
		{"correct not an option", "Q?", []string{"a", "b"}, "c", 30},
		{"limit too small", "Q?", []string{"a", "b"}, "a", 1},
		{"limit too large", "Q?", []string{"a", "b"}, "a", 3600},
	}
	for _, tc := range cases {
		if _, err := c.AddQuestion(ctx, quiz.ID, tc.prompt, tc.options, tc.correct, tc.limit); !domain.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	if _, err := c.JoinPlayer(ctx, quiz.ID, ""); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
}

func TestUnknownQuizIsNotFound(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator()

	if _, err := c.Snapshot(ctx, "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
	if err := c.StartQuiz(ctx, "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}

// failingStore wraps the memory store and fails RecordAnswer a set
// number of times.
type failingStore struct {
	app.EntityStore
	failures int
}

func (s *failingStore) RecordAnswer(ctx context.Context, answer *domain.Answer, newScore int, lastAnswerAt time.Time) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("store unavailable")
	}
	return s.EntityStore.RecordAnswer(ctx, answer, newScore, lastAnswerAt)
}

func TestSubmitRollsBackOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{EntityStore: memory.NewEntityStore(), failures: 1}
	eventBus := bus.New(bus.Options{Buffer: 64})
	c := app.NewCoordinator(store, eventBus)

	quiz, q1, _, a, _ := geoQuiz(t, c)
	if err := c.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	sub, err := c.Subscribe(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	drainEvents(sub) // initial snapshot

	if _, err := c.SubmitAnswer(ctx, quiz.ID, a.ID, q1.ID, "Paris"); err == nil {
		t.Fatalf("expected store failure to surface")
	}

	// No partial events, no partial score.
	if evs := drainEvents(sub); len(evs) != 0 {
		t.Fatalf("failed command emitted events: %v", evs)
	}
	lb, _ := c.Leaderboard(ctx, quiz.ID, 0)
	for _, entry := range lb.Entries {
		if entry.Score != 0 {
			t.Fatalf("failed command changed score: %+v", entry)
		}
	}

	// The rolled-back submission can be retried.
	result, err := c.SubmitAnswer(ctx, quiz.ID, a.ID, q1.ID, "Paris")
	if err != nil {
		t.Fatalf("retry submit: %v", err)
	}
	if !result.Correct || result.NewScore != 1 {
		t.Fatalf("expected retry to score, got %+v", result)
	}
}

func drainEvents(sub interface{ Events() <-chan domain.Event }) []domain.Event {
	var events []domain.Event
	for {
		select {
		case ev := <-sub.Events():
			events = append(events, ev)
		case <-time.After(50 * time.Millisecond):
			return events
		}
	}
}

func TestRehydrationRestoresSessionState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewEntityStore()

	first := app.NewCoordinator(store, bus.New(bus.Options{Buffer: 64}))
	quiz, q1, _, a, b := geoQuiz(t, first)
	if err := first.StartQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := first.SubmitAnswer(ctx, quiz.ID, a.ID, q1.ID, "Paris"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A fresh coordinator over the same store stands in for a process
	// restart.
	second := app.NewCoordinator(store, bus.New(bus.Options{Buffer: 64}))

	snap, err := second.Snapshot(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("snapshot after rehydration: %v", err)
	}
	if snap.Quiz.Status != domain.StatusActive || snap.Quiz.CurrentQuestionIndex != 0 {
		t.Fatalf("rehydrated state wrong: %s(%d)", snap.Quiz.Status, snap.Quiz.CurrentQuestionIndex)
	}

	// The duplicate-submission set survives the restart.
	if _, err := second.SubmitAnswer(ctx, quiz.ID, a.ID, q1.ID, "Paris"); !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate after rehydration, got %v", err)
	}

	// So do scores: B answering still ranks below A.
	if _, err := second.SubmitAnswer(ctx, quiz.ID, b.ID, q1.ID, "London"); err != nil {
		t.Fatalf("B submit: %v", err)
	}
	lb, _ := second.Leaderboard(ctx, quiz.ID, 0)
	if lb.Entries[0].PlayerID != a.ID || lb.Entries[0].Score != 1 {
		t.Fatalf("rehydrated leaderboard wrong: %+v", lb.Entries)
	}
}
