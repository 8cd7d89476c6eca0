package http

import (
	"errors"
	"net/http"

	"quizlive/internal/domain"
)

// statusFor maps domain errors onto HTTP status codes. Duplicate and
// stale submissions are conflicts, not server errors.
func statusFor(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrQuizAlreadyStarted),
		errors.Is(err, domain.ErrQuizNotActive),
		errors.Is(err, domain.ErrDuplicateSubmission),
		errors.Is(err, domain.ErrStaleSubmission):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
