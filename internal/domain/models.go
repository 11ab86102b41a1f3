package domain

import "time"

// OptionCount is the number of choices every question carries.
const OptionCount = 4

// MaxParticipants caps the roster of a single session.
const MaxParticipants = 50

// TimeBudgets are the per-question budgets (seconds) a host may pick.
var TimeBudgets = []int{10, 15, 20, 30}

// DefaultTimeBudget is used until the host picks another budget.
const DefaultTimeBudget = 20

// Participant is a player who joined a session, with the score accumulated so far.
type Participant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SessionID string    `json:"sessionId"`
	Score     int       `json:"score"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Question models a four-option item with exactly one correct option.
type Question struct {
	ID           string              `json:"id"`
	Prompt       string              `json:"prompt"`
	Options      [OptionCount]string `json:"options"`
	CorrectIndex int                 `json:"correctOptionIndex"`
	TimeLimit    int                 `json:"timeLimit"` // seconds
}

// Answer is the stored, immutable outcome of one participant answering one question.
type Answer struct {
	ParticipantID  string    `json:"participantId"`
	QuestionID     string    `json:"questionId"`
	SessionID      string    `json:"sessionId"`
	SelectedOption int       `json:"selectedOption"`
	ResponseTime   float64   `json:"responseTime"`
	IsCorrect      bool      `json:"isCorrect"`
	Score          int       `json:"score"`
	AnsweredAt     time.Time `json:"answeredAt"`
}

// AnswerSubmission is what a player sends when picking an option.
type AnswerSubmission struct {
	ParticipantID  string  `json:"participantId"`
	QuestionID     string  `json:"questionId"`
	SessionID      string  `json:"sessionId"`
	SelectedOption int     `json:"selectedOption"`
	ResponseTime   float64 `json:"responseTime"`
}

// SubmitResult is returned by the store for a submission. Replayed is set when the
// (participant, question) pair was already answered and the original result is echoed back.
type SubmitResult struct {
	IsCorrect     bool `json:"isCorrect"`
	Score         int  `json:"score"`
	CorrectOption int  `json:"correctOptionIndex"`
	Replayed      bool `json:"replayed"`
}

// ResultOf builds the submission result view of a stored answer.
func ResultOf(a Answer, q Question, replayed bool) SubmitResult {
	return SubmitResult{
		IsCorrect:     a.IsCorrect,
		Score:         a.Score,
		CorrectOption: q.CorrectIndex,
		Replayed:      replayed,
	}
}

// GameStateRecord is the published phase snapshot every client polls.
// Version is assigned by the store and strictly increases per store instance.
type GameStateRecord struct {
	SessionID            string    `json:"sessionId"`
	Phase                Phase     `json:"phase"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	TimeBudget           int       `json:"timeBudget"`
	PhaseStartedAt       time.Time `json:"phaseStartedAt"`
	Version              int64     `json:"version"`
}

// Empty reports whether no session has been published yet.
func (r GameStateRecord) Empty() bool {
	return r.SessionID == ""
}
