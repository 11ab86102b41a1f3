package app

import (
	"context"

	"classquiz/internal/domain"
)

// SessionStore is the shared record every client reads and writes. Implementations must
// keep at most one Answer per (participant, question) and echo the stored result on replays.
type SessionStore interface {
	GetRoster(ctx context.Context, sessionID string) ([]domain.Participant, error)
	AddParticipant(ctx context.Context, name, sessionID string) (domain.Participant, error)
	GetQuestions(ctx context.Context) ([]domain.Question, error)
	SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.SubmitResult, error)
	GetAnswers(ctx context.Context, questionID, sessionID string) ([]domain.Answer, error)
	GetGameState(ctx context.Context) (domain.GameStateRecord, error)
	// SetGameState overwrites the whole record and returns it as stored (with its version).
	SetGameState(ctx context.Context, rec domain.GameStateRecord) (domain.GameStateRecord, error)
	// ResetSession clears roster, answers and state, and opens a fresh session id.
	ResetSession(ctx context.Context) error
}

// QuestionWriter persists authored questions (create when ID is empty, update otherwise).
type QuestionWriter interface {
	SaveQuestion(ctx context.Context, q domain.Question) (domain.Question, error)
}

// QuestionSource supplies the ordered question list a session plays through.
type QuestionSource interface {
	GetQuestions(ctx context.Context) ([]domain.Question, error)
}
