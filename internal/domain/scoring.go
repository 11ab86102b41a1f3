package domain

import (
	"fmt"
	"math"
	"time"
)

const (
	// BaseScore is awarded for any correct answer.
	BaseScore = 500
	// MaxBonus is the largest speed bonus, earned by answering instantly.
	MaxBonus = 500
)

// Score returns the points for one answer. responseTime is clamped to [0, timeBudget]
// so the result always lies in [0, BaseScore+MaxBonus].
func Score(isCorrect bool, responseTime float64, timeBudget int) int {
	if !isCorrect {
		return 0
	}
	if timeBudget <= 0 {
		return BaseScore
	}
	budget := float64(timeBudget)
	rt := responseTime
	if math.IsNaN(rt) || rt > budget {
		rt = budget
	}
	if rt < 0 {
		rt = 0
	}
	bonus := math.Floor((budget - rt) / budget * MaxBonus)
	return BaseScore + int(bonus)
}

// GradeAnswer scores a submission against its question. budget is the published time
// budget; the question's own limit is used when it is not set.
func GradeAnswer(q Question, sub AnswerSubmission, budget int, at time.Time) (Answer, error) {
	if sub.SelectedOption < 0 || sub.SelectedOption >= OptionCount {
		return Answer{}, fmt.Errorf("option %d: %w", sub.SelectedOption, ErrInvalidOption)
	}
	if budget <= 0 {
		budget = q.TimeLimit
	}
	correct := sub.SelectedOption == q.CorrectIndex
	return Answer{
		ParticipantID:  sub.ParticipantID,
		QuestionID:     q.ID,
		SessionID:      sub.SessionID,
		SelectedOption: sub.SelectedOption,
		ResponseTime:   sub.ResponseTime,
		IsCorrect:      correct,
		Score:          Score(correct, sub.ResponseTime, budget),
		AnsweredAt:     at,
	}, nil
}

// FindQuestion looks a question up by ID.
func FindQuestion(questions []Question, id string) (Question, bool) {
	for _, q := range questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// ValidTimeBudget reports whether seconds is one of TimeBudgets.
func ValidTimeBudget(seconds int) bool {
	for _, b := range TimeBudgets {
		if b == seconds {
			return true
		}
	}
	return false
}

// Validate checks an authored question.
func (q Question) Validate() error {
	if q.Prompt == "" {
		return fmt.Errorf("%w: prompt is empty", ErrInvalidQuestion)
	}
	for i, opt := range q.Options {
		if opt == "" {
			return fmt.Errorf("%w: option %d is empty", ErrInvalidQuestion, i)
		}
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= OptionCount {
		return fmt.Errorf("%w: correct option %d out of range", ErrInvalidQuestion, q.CorrectIndex)
	}
	if !ValidTimeBudget(q.TimeLimit) {
		return fmt.Errorf("%w: time limit %ds", ErrInvalidQuestion, q.TimeLimit)
	}
	return nil
}
