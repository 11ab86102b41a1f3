package http

import (
	"errors"
	"net/http"

	"classquiz/internal/domain"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorTable = []errorMapping{
	{domain.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{domain.ErrParticipantNotFound, http.StatusNotFound, "participant_not_found"},
	{domain.ErrQuestionNotFound, http.StatusNotFound, "question_not_found"},
	{domain.ErrInvalidOption, http.StatusBadRequest, "invalid_option"},
	{domain.ErrInvalidQuestion, http.StatusBadRequest, "invalid_question"},
	{domain.ErrQuestionsLocked, http.StatusConflict, "questions_locked"},
	{domain.ErrEmptyName, http.StatusBadRequest, "empty_name"},
	{domain.ErrJoinClosed, http.StatusConflict, "join_closed"},
	{domain.ErrSessionFull, http.StatusConflict, "session_full"},
	{domain.ErrNotAcceptingAnswers, http.StatusConflict, "not_accepting_answers"},
	{domain.ErrAlreadyAnswered, http.StatusConflict, "already_answered"},
	{domain.ErrInvalidTransition, http.StatusBadRequest, "invalid_transition"},
	{domain.ErrInvalidTimeBudget, http.StatusBadRequest, "invalid_time_budget"},
	{domain.ErrPartialSubmit, http.StatusInternalServerError, "partial_submit"},
}

// ErrorCode maps err to an HTTP status and a stable code.
func ErrorCode(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// ErrorFromCode returns the sentinel a code stands for, or nil for unknown codes.
func ErrorFromCode(code string) error {
	for _, m := range errorTable {
		if m.code == code {
			return m.err
		}
	}
	return nil
}
