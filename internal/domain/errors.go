package domain

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when a call names a session that is not the active one.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a participant tries to act before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrInvalidOption indicates a selected option outside 0..3.
	ErrInvalidOption = errors.New("selected option out of range")
	// ErrInvalidQuestion indicates an authored question failed validation.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrQuestionsLocked is returned when authoring is attempted after the game started.
	ErrQuestionsLocked = errors.New("questions cannot change once the game has started")

	// ErrEmptyName rejects a join without a display name.
	ErrEmptyName = errors.New("name must not be empty")
	// ErrJoinClosed rejects joins outside the lobby.
	ErrJoinClosed = errors.New("session is not accepting joins")
	// ErrSessionFull rejects joins past MaxParticipants.
	ErrSessionFull = errors.New("session is full")
	// ErrNotAcceptingAnswers rejects submissions outside the QUIZ phase.
	ErrNotAcceptingAnswers = errors.New("answers are only accepted during a question")
	// ErrAlreadyAnswered rejects a second local submission for the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrTimeUp rejects submissions once the drift-corrected timer reached zero.
	ErrTimeUp = errors.New("time is up")
	// ErrNotJoined rejects player actions before a successful join.
	ErrNotJoined = errors.New("player has not joined")

	// ErrNotAuthenticated rejects host actions before Authenticate succeeded.
	ErrNotAuthenticated = errors.New("host is not authenticated")
	// ErrInvalidTransition is a programming error: the target phase is not reachable.
	ErrInvalidTransition = errors.New("phase transition not allowed")
	// ErrInvalidTimeBudget rejects budgets outside TimeBudgets.
	ErrInvalidTimeBudget = errors.New("invalid time budget")
	// ErrNoQuestions rejects starting a game without questions.
	ErrNoQuestions = errors.New("no questions loaded")
	// ErrNotEnoughParticipants rejects starting a game with an empty roster.
	ErrNotEnoughParticipants = errors.New("not enough participants")

	// ErrStaleSnapshot marks a polled snapshot older than what is already applied.
	ErrStaleSnapshot = errors.New("stale snapshot")
	// ErrPartialSubmit means the answer was recorded but the roster score was not updated.
	ErrPartialSubmit = errors.New("answer recorded but score update failed")
	// ErrUnavailable wraps transport failures reaching the shared store.
	ErrUnavailable = errors.New("session store unavailable")
)

var rejections = []error{
	ErrSessionNotFound, ErrParticipantNotFound, ErrQuestionNotFound, ErrInvalidOption,
	ErrInvalidQuestion, ErrQuestionsLocked, ErrEmptyName, ErrJoinClosed, ErrSessionFull,
	ErrNotAcceptingAnswers, ErrAlreadyAnswered, ErrTimeUp, ErrNotJoined, ErrNotAuthenticated,
	ErrInvalidTransition, ErrInvalidTimeBudget, ErrNoQuestions, ErrNotEnoughParticipants,
	ErrStaleSnapshot, ErrPartialSubmit,
}

// Retryable reports whether err is a connectivity failure worth resubmitting for.
// Validation rejections and cancellation are final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	for _, r := range rejections {
		if errors.Is(err, r) {
			return false
		}
	}
	return true
}
