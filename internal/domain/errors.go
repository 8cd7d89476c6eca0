package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuizNotFound indicates the quiz id is unknown.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrPlayerNotFound indicates a player id is unknown to the session.
	ErrPlayerNotFound = errors.New("player not found in quiz")
	// ErrInvalidTransition is returned when an organizer command is not
	// legal in the quiz's current lifecycle state.
	ErrInvalidTransition = errors.New("invalid quiz state transition")
	// ErrQuizAlreadyStarted is returned when a player tries to join a
	// quiz that already left the waiting state.
	ErrQuizAlreadyStarted = errors.New("quiz already started")
	// ErrQuizNotActive is returned for answers submitted while the quiz
	// is not running.
	ErrQuizNotActive = errors.New("quiz is not active")
	// ErrDuplicateSubmission is returned when a player resubmits an
	// answer for a question they already answered. Expected under
	// concurrency; never an error-level condition.
	ErrDuplicateSubmission = errors.New("answer already submitted for question")
	// ErrStaleSubmission is returned for answers targeting a question
	// the quiz has already advanced past.
	ErrStaleSubmission = errors.New("question is no longer current")
)

// ValidationError reports malformed command input, rejected before any
// state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
