package app

import (
	"fmt"
	"sync"
	"time"

	"classquiz/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Snapshot is a consistent copy of a client's local view.
type Snapshot struct {
	State      domain.GameStateRecord `json:"state"`
	Phase      domain.Phase           `json:"phase"` // local phase; COUNTDOWN only ever exists here
	Roster     []domain.Participant   `json:"roster"`
	AnswersFor string                 `json:"answersFor,omitempty"`
	Answers    []domain.Answer        `json:"answers,omitempty"`
	Questions  []domain.Question      `json:"-"`
	Connected  bool                   `json:"connected"`
	LastSync   time.Time              `json:"lastSync"`
	LastError  string                 `json:"lastError,omitempty"`
}

// CurrentQuestion returns the question the published record points at.
func (s Snapshot) CurrentQuestion() (domain.Question, bool) {
	i := s.State.CurrentQuestionIndex
	if i < 0 || i >= len(s.Questions) {
		return domain.Question{}, false
	}
	return s.Questions[i], true
}

// AnswerSummary is the host-side aggregate for the current question.
type AnswerSummary struct {
	QuestionID   string              `json:"questionId"`
	Answered     int                 `json:"answered"`
	Total        int                 `json:"total"`
	Stats        []domain.OptionStat `json:"stats"`
	RecentScores map[string]int      `json:"recentScores"`
}

// Summarize aggregates the answers held in s for its current question.
func Summarize(s Snapshot) AnswerSummary {
	q, _ := s.CurrentQuestion()
	sum := AnswerSummary{
		QuestionID:   q.ID,
		Total:        len(s.Roster),
		RecentScores: make(map[string]int),
	}
	var answers []domain.Answer
	if s.AnswersFor == q.ID {
		answers = s.Answers
	}
	sum.Answered = len(answers)
	sum.Stats = domain.OptionStats(answers, q.CorrectIndex)
	for _, a := range answers {
		sum.RecentScores[a.ParticipantID] = a.Score
	}
	return sum
}

// View is the only place remote state enters a client. Roster and answers are replaced
// wholesale per poll; game state records are applied only when newer and not behind.
type View struct {
	clock  clockwork.Clock
	logger zerolog.Logger

	mu          sync.RWMutex
	state       domain.GameStateRecord
	hasState    bool
	phase       domain.Phase
	roster      map[string]domain.Participant
	order       []string
	answersFor  string
	answers     map[string]domain.Answer
	answerOrder []string
	questions   []domain.Question
	connected   bool
	lastSync    time.Time
	lastErr     string
	subscribers map[chan Snapshot]struct{}
}

// NewView builds an empty view in the WAITING phase.
func NewView(clock clockwork.Clock, logger zerolog.Logger) *View {
	return &View{
		clock:       clock,
		logger:      logger,
		phase:       domain.PhaseWaiting,
		roster:      make(map[string]domain.Participant),
		answers:     make(map[string]domain.Answer),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// ApplyGameState applies a polled record. Stale records and records whose phase cannot
// follow the applied one are dropped and reported as errors.
func (v *View) ApplyGameState(rec domain.GameStateRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !rec.Phase.Published() {
		v.logger.Warn().Str("phase", string(rec.Phase)).Msg("dropping record with unknown phase")
		return fmt.Errorf("phase %q: %w", rec.Phase, domain.ErrInvalidTransition)
	}
	if v.hasState {
		if sameRecord(rec, v.state) {
			return nil
		}
		if !rec.Newer(v.state) {
			v.logger.Warn().
				Int64("version", rec.Version).
				Int64("applied_version", v.state.Version).
				Time("phase_started_at", rec.PhaseStartedAt).
				Msg("dropping stale game state")
			return domain.ErrStaleSnapshot
		}
		if rec.Behind(v.state) {
			v.logger.Warn().
				Str("phase", string(rec.Phase)).
				Str("applied_phase", string(v.state.Phase)).
				Int("question", rec.CurrentQuestionIndex).
				Msg("dropping game state that moves backward")
			return domain.ErrStaleSnapshot
		}
		if rec.SessionID == v.state.SessionID && !domain.Reachable(v.state.Phase, rec.Phase) {
			v.logger.Warn().
				Str("phase", string(rec.Phase)).
				Str("applied_phase", string(v.state.Phase)).
				Msg("dropping unreachable game state")
			return fmt.Errorf("%s -> %s: %w", v.state.Phase, rec.Phase, domain.ErrInvalidTransition)
		}
	}
	v.installLocked(rec)
	return nil
}

// Acknowledge installs the record the store returned for this client's own write. The store
// accepted it, so it is what every other client will poll; no freshness check applies.
func (v *View) Acknowledge(rec domain.GameStateRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !rec.Phase.Published() {
		return fmt.Errorf("phase %q: %w", rec.Phase, domain.ErrInvalidTransition)
	}
	v.installLocked(rec)
	return nil
}

func (v *View) installLocked(rec domain.GameStateRecord) {
	if v.hasState && rec.VersionRegressed(v.state) {
		v.logger.Warn().
			Int64("version", rec.Version).
			Int64("applied_version", v.state.Version).
			Msg("store version went backwards, assuming the store restarted")
	}
	if !v.hasState || rec.SessionID != v.state.SessionID {
		v.clearSessionLocked()
	}
	v.state = rec
	v.hasState = true
	v.phase = rec.Phase
	v.broadcastLocked()
}

// SetLocalPhase records a phase that is never published (COUNTDOWN).
func (v *View) SetLocalPhase(p domain.Phase) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.phase = p
	v.broadcastLocked()
}

// ReplaceRoster swaps the roster for sessionID. Rosters of another session are dropped.
func (v *View) ReplaceRoster(sessionID string, participants []domain.Participant) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.hasState && sessionID != v.state.SessionID {
		v.logger.Debug().Str("session_id", sessionID).Msg("dropping roster of another session")
		return
	}
	roster := make(map[string]domain.Participant, len(participants))
	order := make([]string, 0, len(participants))
	for _, p := range participants {
		if _, dup := roster[p.ID]; !dup {
			order = append(order, p.ID)
		}
		roster[p.ID] = p
	}
	v.roster = roster
	v.order = order
	v.broadcastLocked()
}

// ReplaceAnswers swaps the answers held for questionID. Answers for any question other
// than the current one are dropped.
func (v *View) ReplaceAnswers(questionID string, answers []domain.Answer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if q, ok := v.currentQuestionLocked(); !ok || q.ID != questionID {
		v.logger.Debug().Str("question_id", questionID).Msg("dropping answers of another question")
		return
	}
	byID := make(map[string]domain.Answer, len(answers))
	order := make([]string, 0, len(answers))
	for _, a := range answers {
		if _, dup := byID[a.ParticipantID]; !dup {
			order = append(order, a.ParticipantID)
		}
		byID[a.ParticipantID] = a
	}
	v.answersFor = questionID
	v.answers = byID
	v.answerOrder = order
	v.broadcastLocked()
}

// SetQuestions installs the question list loaded at game start.
func (v *View) SetQuestions(questions []domain.Question) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.questions = append([]domain.Question(nil), questions...)
	v.broadcastLocked()
}

// MarkSync records the outcome of a store call. Failures keep the last good view and
// flag connectivity as degraded.
func (v *View) MarkSync(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		if v.connected || v.lastErr == "" {
			v.logger.Warn().Err(err).Msg("store unreachable, keeping last known state")
		}
		v.connected = false
		v.lastErr = err.Error()
		v.broadcastLocked()
		return
	}
	flipped := !v.connected
	if flipped && v.lastErr != "" {
		v.logger.Info().Msg("store reachable again")
	}
	v.connected = true
	v.lastErr = ""
	v.lastSync = v.clock.Now()
	if flipped {
		v.broadcastLocked()
	}
}

// Reset drops everything, returning the view to WAITING.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = domain.GameStateRecord{}
	v.hasState = false
	v.phase = domain.PhaseWaiting
	v.clearSessionLocked()
	v.broadcastLocked()
}

// Snapshot copies the view.
func (v *View) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every change. Slow readers only
// ever see the latest snapshot. The caller must invoke cancel.
func (v *View) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	v.mu.Lock()
	v.subscribers[ch] = struct{}{}
	ch <- v.snapshotLocked()
	v.mu.Unlock()

	cancel := func() {
		v.mu.Lock()
		if _, ok := v.subscribers[ch]; ok {
			delete(v.subscribers, ch)
			close(ch)
		}
		v.mu.Unlock()
	}
	return ch, cancel
}

func sameRecord(a, b domain.GameStateRecord) bool {
	return a.SessionID == b.SessionID &&
		a.Phase == b.Phase &&
		a.CurrentQuestionIndex == b.CurrentQuestionIndex &&
		a.TimeBudget == b.TimeBudget &&
		a.PhaseStartedAt.Equal(b.PhaseStartedAt) &&
		a.Version == b.Version
}

func (v *View) clearSessionLocked() {
	v.roster = make(map[string]domain.Participant)
	v.order = nil
	v.answersFor = ""
	v.answers = make(map[string]domain.Answer)
	v.answerOrder = nil
}

func (v *View) currentQuestionLocked() (domain.Question, bool) {
	i := v.state.CurrentQuestionIndex
	if i < 0 || i >= len(v.questions) {
		return domain.Question{}, false
	}
	return v.questions[i], true
}

func (v *View) snapshotLocked() Snapshot {
	s := Snapshot{
		State:     v.state,
		Phase:     v.phase,
		Roster:    make([]domain.Participant, 0, len(v.order)),
		Questions: v.questions,
		Connected: v.connected,
		LastSync:  v.lastSync,
		LastError: v.lastErr,
	}
	for _, id := range v.order {
		s.Roster = append(s.Roster, v.roster[id])
	}
	if q, ok := v.currentQuestionLocked(); ok && q.ID == v.answersFor {
		s.AnswersFor = v.answersFor
		s.Answers = make([]domain.Answer, 0, len(v.answerOrder))
		for _, id := range v.answerOrder {
			s.Answers = append(s.Answers, v.answers[id])
		}
	}
	return s
}

func (v *View) broadcastLocked() {
	if len(v.subscribers) == 0 {
		return
	}
	s := v.snapshotLocked()
	for ch := range v.subscribers {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}
