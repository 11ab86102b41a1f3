package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"classquiz/internal/app"
	"classquiz/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// SessionStore is an in-process implementation of app.SessionStore.
type SessionStore struct {
	questions app.QuestionSource
	clock     clockwork.Clock

	mu      sync.RWMutex
	state   domain.GameStateRecord
	version int64
	roster  []*domain.Participant
	byID    map[string]*domain.Participant
	answers map[answerKey]domain.Answer
	order   []answerKey
}

type answerKey struct {
	participantID string
	questionID    string
}

func NewSessionStore(questions app.QuestionSource, clock clockwork.Clock) *SessionStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionStore{
		questions: questions,
		clock:     clock,
		byID:      make(map[string]*domain.Participant),
		answers:   make(map[answerKey]domain.Answer),
	}
}

func (s *SessionStore) GetRoster(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.current(sessionID) {
		return []domain.Participant{}, nil
	}
	out := make([]domain.Participant, 0, len(s.roster))
	for _, p := range s.roster {
		out = append(out, *p)
	}
	return out, nil
}

func (s *SessionStore) AddParticipant(_ context.Context, name, sessionID string) (domain.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Participant{}, domain.ErrEmptyName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Empty() || !s.current(sessionID) {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	if s.state.Phase != domain.PhaseLobby {
		return domain.Participant{}, domain.ErrJoinClosed
	}
	if len(s.roster) >= domain.MaxParticipants {
		return domain.Participant{}, domain.ErrSessionFull
	}
	p := &domain.Participant{
		ID:        uuid.NewString(),
		Name:      name,
		SessionID: s.state.SessionID,
		JoinedAt:  s.clock.Now(),
	}
	s.roster = append(s.roster, p)
	s.byID[p.ID] = p
	return *p, nil
}

func (s *SessionStore) GetQuestions(ctx context.Context) ([]domain.Question, error) {
	return s.questions.GetQuestions(ctx)
}

// SubmitAnswer grades and records a submission. A repeated (participant, question) pair
// echoes the stored result and never adds to the score again.
func (s *SessionStore) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.SubmitResult, error) {
	questions, err := s.questions.GetQuestions(ctx)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("load questions: %w", err)
	}
	q, ok := domain.FindQuestion(questions, sub.QuestionID)
	if !ok {
		return domain.SubmitResult{}, domain.ErrQuestionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Empty() || !s.current(sub.SessionID) {
		return domain.SubmitResult{}, domain.ErrSessionNotFound
	}
	p, ok := s.byID[sub.ParticipantID]
	if !ok {
		return domain.SubmitResult{}, domain.ErrParticipantNotFound
	}
	key := answerKey{participantID: sub.ParticipantID, questionID: sub.QuestionID}
	if prior, ok := s.answers[key]; ok {
		return domain.ResultOf(prior, q, true), nil
	}
	if !s.state.Phase.AcceptsAnswers() || !s.isCurrentQuestion(questions, sub.QuestionID) {
		return domain.SubmitResult{}, domain.ErrNotAcceptingAnswers
	}

	answer, err := domain.GradeAnswer(q, sub, s.state.TimeBudget, s.clock.Now())
	if err != nil {
		return domain.SubmitResult{}, err
	}
	answer.SessionID = s.state.SessionID
	s.answers[key] = answer
	s.order = append(s.order, key)
	p.Score += answer.Score
	return domain.ResultOf(answer, q, false), nil
}

func (s *SessionStore) GetAnswers(_ context.Context, questionID, sessionID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Answer{}
	if !s.current(sessionID) {
		return out, nil
	}
	for _, key := range s.order {
		if key.questionID == questionID {
			out = append(out, s.answers[key])
		}
	}
	return out, nil
}

func (s *SessionStore) GetGameState(_ context.Context) (domain.GameStateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

// SetGameState replaces the record. Writes naming another session are refused so a host
// holding a superseded session cannot clobber the new one.
func (s *SessionStore) SetGameState(_ context.Context, rec domain.GameStateRecord) (domain.GameStateRecord, error) {
	if !rec.Phase.Published() {
		return domain.GameStateRecord{}, fmt.Errorf("phase %q: %w", rec.Phase, domain.ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.SessionID == "" {
		rec.SessionID = s.state.SessionID
	}
	if rec.SessionID == "" || (!s.state.Empty() && rec.SessionID != s.state.SessionID) {
		return domain.GameStateRecord{}, domain.ErrSessionNotFound
	}
	s.version++
	rec.Version = s.version
	s.state = rec
	return rec, nil
}

// ResetSession drops roster and answers and opens a new session in WAITING.
func (s *SessionStore) ResetSession(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	s.state = domain.GameStateRecord{
		SessionID:      uuid.NewString(),
		Phase:          domain.PhaseWaiting,
		TimeBudget:     domain.DefaultTimeBudget,
		PhaseStartedAt: s.clock.Now(),
		Version:        s.version,
	}
	s.roster = nil
	s.byID = make(map[string]*domain.Participant)
	s.answers = make(map[answerKey]domain.Answer)
	s.order = nil
	return nil
}

// current reports whether sessionID names the active session; empty means "the active one".
func (s *SessionStore) current(sessionID string) bool {
	return sessionID == "" || sessionID == s.state.SessionID
}

func (s *SessionStore) isCurrentQuestion(questions []domain.Question, questionID string) bool {
	i := s.state.CurrentQuestionIndex
	return i >= 0 && i < len(questions) && questions[i].ID == questionID
}
