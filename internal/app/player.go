package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"classquiz/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultSubmitAttempts bounds resubmissions of one answer after connectivity failures.
const DefaultSubmitAttempts = 3

// PlayerOptions configures a Player. Zero values fall back to defaults.
type PlayerOptions struct {
	Cadence  Cadence
	Clock    clockwork.Clock
	Logger   *zerolog.Logger
	Attempts int
}

// Outcome is what a player sees for a question once it closed.
type Outcome struct {
	QuestionID string              `json:"questionId"`
	Answered   bool                `json:"answered"`
	Result     domain.SubmitResult `json:"result"`
}

// PlayerStatus is the player's own standing in the session.
type PlayerStatus struct {
	Participant domain.Participant `json:"participant"`
	Phase       domain.Phase       `json:"phase"`
	Rank        int                `json:"rank"`
	Total       int                `json:"total"`
	Remaining   int                `json:"remaining"`
	Answered    bool               `json:"answered"`
	Connected   bool               `json:"connected"`
}

// Player follows the host by polling the game state record and submits timed answers.
type Player struct {
	store    SessionStore
	cadence  Cadence
	clock    clockwork.Clock
	logger   zerolog.Logger
	attempts int

	view  *View
	loops *Reconciler

	replan     chan struct{}
	stopReplan context.CancelFunc

	mu       sync.Mutex
	me       domain.Participant
	joined   bool
	answered map[string]domain.SubmitResult
	pending  map[string]bool
}

// NewPlayer builds a player that has not joined yet.
func NewPlayer(store SessionStore, opts PlayerOptions) *Player {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("role", "player").Logger()
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = DefaultSubmitAttempts
	}
	return &Player{
		store:    store,
		cadence:  opts.Cadence.withDefaults(),
		clock:    clock,
		logger:   logger,
		attempts: attempts,
		view:     NewView(clock, logger),
		loops:    newReconciler(),
		replan:   make(chan struct{}, 1),
		answered: make(map[string]domain.SubmitResult),
		pending:  make(map[string]bool),
	}
}

// View exposes the player's local view.
func (p *Player) View() *View {
	return p.view
}

// Me returns the joined participant.
func (p *Player) Me() (domain.Participant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.me, p.joined
}

// Join adds the player to the open lobby.
func (p *Player) Join(ctx context.Context, name string) (domain.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Participant{}, domain.ErrEmptyName
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state, questions, err := p.readSession(ctx)
	if err != nil {
		return domain.Participant{}, err
	}
	if state.Empty() || state.Phase != domain.PhaseLobby {
		return domain.Participant{}, fmt.Errorf("join in %s: %w", state.Phase, domain.ErrJoinClosed)
	}

	participant, err := p.store.AddParticipant(ctx, name, state.SessionID)
	if err != nil {
		if domain.Retryable(err) {
			p.view.MarkSync(err)
		}
		return domain.Participant{}, fmt.Errorf("join: %w", err)
	}
	p.view.MarkSync(nil)
	p.logger.Info().
		Str("participant_id", participant.ID).
		Str("session_id", participant.SessionID).
		Msg("joined session")

	p.startLocked(ctx, participant, state, questions)
	return participant, nil
}

// Resume restores a participant remembered from an earlier join, e.g. after a reload.
func (p *Player) Resume(ctx context.Context, participant domain.Participant) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, questions, err := p.readSession(ctx)
	if err != nil {
		return err
	}
	if state.Empty() || state.SessionID != participant.SessionID {
		return domain.ErrSessionNotFound
	}
	roster, err := p.store.GetRoster(ctx, state.SessionID)
	if err != nil {
		p.view.MarkSync(err)
		return fmt.Errorf("read roster: %w", err)
	}
	found := false
	for _, r := range roster {
		if r.ID == participant.ID {
			participant = r
			found = true
			break
		}
	}
	if !found {
		return domain.ErrParticipantNotFound
	}

	p.startLocked(ctx, participant, state, questions)
	p.view.ReplaceRoster(state.SessionID, roster)

	// Restore the answered guard for the open question.
	if q, ok := p.view.Snapshot().CurrentQuestion(); ok {
		answers, err := p.store.GetAnswers(ctx, q.ID, state.SessionID)
		if err != nil {
			p.view.MarkSync(err)
			return nil
		}
		for _, a := range answers {
			if a.ParticipantID == participant.ID {
				p.answered[q.ID] = domain.ResultOf(a, q, true)
			}
		}
	}
	p.logger.Info().Str("participant_id", participant.ID).Msg("resumed session")
	return nil
}

func (p *Player) readSession(ctx context.Context) (domain.GameStateRecord, []domain.Question, error) {
	var (
		state     domain.GameStateRecord
		questions []domain.Question
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = p.store.GetGameState(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		questions, err = p.store.GetQuestions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		p.view.MarkSync(err)
		return state, nil, fmt.Errorf("read session: %w", err)
	}
	p.view.MarkSync(nil)
	return state, questions, nil
}

func (p *Player) startLocked(ctx context.Context, me domain.Participant, state domain.GameStateRecord, questions []domain.Question) {
	p.teardownLocked()
	p.me = me
	p.joined = true
	p.view.SetQuestions(questions)
	if err := p.view.ApplyGameState(state); err != nil {
		p.logger.Debug().Err(err).Msg("initial game state not applied")
	}

	rctx, cancel := context.WithCancel(context.Background())
	p.stopReplan = cancel
	go p.runReplan(rctx)
	p.reconcileLocked()
}

// Submit answers the open question. The response time is measured against the published
// phase start, so the host's clock sets the timing for everyone.
func (p *Player) Submit(ctx context.Context, option int) (domain.SubmitResult, error) {
	p.mu.Lock()
	if !p.joined {
		p.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrNotJoined
	}
	snap := p.view.Snapshot()
	if snap.State.SessionID != p.me.SessionID {
		p.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrSessionNotFound
	}
	if !snap.Phase.AcceptsAnswers() {
		p.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrNotAcceptingAnswers
	}
	q, ok := snap.CurrentQuestion()
	if !ok {
		p.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrQuestionNotFound
	}
	if option < 0 || option >= domain.OptionCount {
		p.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrInvalidOption
	}
	if _, done := p.answered[q.ID]; done || p.pending[q.ID] {
		p.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrAlreadyAnswered
	}
	now := p.clock.Now()
	if Remaining(now, snap.State.PhaseStartedAt, snap.State.TimeBudget) <= 0 {
		p.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrTimeUp
	}
	sub := domain.AnswerSubmission{
		ParticipantID:  p.me.ID,
		QuestionID:     q.ID,
		SessionID:      p.me.SessionID,
		SelectedOption: option,
		ResponseTime:   ResponseTime(now, snap.State.PhaseStartedAt),
	}
	p.pending[q.ID] = true
	p.mu.Unlock()

	res, err := p.submitWithRetry(ctx, sub)

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, q.ID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPartialSubmit):
		// The answer row exists; resubmitting would only replay it.
		p.logger.Error().Err(err).
			Str("participant_id", sub.ParticipantID).
			Str("question_id", sub.QuestionID).
			Msg("answer stored without score update")
	default:
		p.logger.Warn().Err(err).Str("question_id", sub.QuestionID).Msg("submission failed, answer can be retried")
		return domain.SubmitResult{}, err
	}
	p.answered[q.ID] = res
	p.logger.Info().
		Str("question_id", q.ID).
		Bool("correct", res.IsCorrect).
		Int("score", res.Score).
		Bool("replayed", res.Replayed).
		Float64("response_time", sub.ResponseTime).
		Msg("answer submitted")
	return res, err
}

func (p *Player) submitWithRetry(ctx context.Context, sub domain.AnswerSubmission) (domain.SubmitResult, error) {
	var (
		res domain.SubmitResult
		err error
	)
	for attempt := 1; attempt <= p.attempts; attempt++ {
		res, err = p.store.SubmitAnswer(ctx, sub)
		if err == nil || errors.Is(err, domain.ErrPartialSubmit) {
			p.view.MarkSync(nil)
			return res, err
		}
		if !domain.Retryable(err) {
			return res, err
		}
		p.view.MarkSync(err)
		p.logger.Warn().Err(err).Int("attempt", attempt).Msg("submit failed")
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}
	return res, fmt.Errorf("submit after %d attempts: %w", p.attempts, err)
}

// Outcome returns the player's result for the current question. A closed question the
// player never answered reads as a wrong answer worth nothing.
func (p *Player) Outcome() (Outcome, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.view.Snapshot()
	q, ok := snap.CurrentQuestion()
	if !ok {
		return Outcome{}, false
	}
	if res, done := p.answered[q.ID]; done {
		return Outcome{QuestionID: q.ID, Answered: true, Result: res}, true
	}
	switch snap.Phase {
	case domain.PhaseResult, domain.PhaseRanking, domain.PhaseFinal:
		return Outcome{QuestionID: q.ID, Result: domain.SubmitResult{CorrectOption: q.CorrectIndex}}, true
	}
	return Outcome{}, false
}

// Remaining is the drift-corrected time left on the open question.
func (p *Player) Remaining() int {
	snap := p.view.Snapshot()
	if !snap.Phase.AcceptsAnswers() {
		return 0
	}
	return Remaining(p.clock.Now(), snap.State.PhaseStartedAt, snap.State.TimeBudget)
}

// Status reports the player's rank in the polled roster.
func (p *Player) Status() (PlayerStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.joined {
		return PlayerStatus{}, domain.ErrNotJoined
	}
	snap := p.view.Snapshot()
	st := PlayerStatus{
		Participant: p.me,
		Phase:       snap.Phase,
		Total:       len(snap.Roster),
		Connected:   snap.Connected,
	}
	if snap.Phase.AcceptsAnswers() {
		st.Remaining = Remaining(p.clock.Now(), snap.State.PhaseStartedAt, snap.State.TimeBudget)
	}
	if q, ok := snap.CurrentQuestion(); ok {
		_, st.Answered = p.answered[q.ID]
	}
	for _, s := range Rank(snap.Roster, nil) {
		if s.ID == p.me.ID {
			st.Participant = s.Participant
			st.Rank = s.Rank
			break
		}
	}
	return st, nil
}

// Leave stops polling. The participant row stays in the store.
func (p *Player) Leave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
	p.joined = false
}

func (p *Player) teardownLocked() {
	if p.stopReplan != nil {
		p.stopReplan()
		p.stopReplan = nil
	}
	p.loops.StopAll()
	p.view.Reset()
	p.answered = make(map[string]domain.SubmitResult)
	p.pending = make(map[string]bool)
}

// signal asks for a replan. It runs inside loop callbacks, which must never touch the
// reconciler, so the replan happens on its own goroutine.
func (p *Player) signal() {
	select {
	case p.replan <- struct{}{}:
	default:
	}
}

func (p *Player) runReplan(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.replan:
			p.mu.Lock()
			if ctx.Err() == nil {
				p.reconcileLocked()
			}
			p.mu.Unlock()
		}
	}
}

func (p *Player) reconcileLocked() {
	snap := p.view.Snapshot()
	if snap.State.SessionID != p.me.SessionID {
		p.logger.Warn().
			Str("session_id", p.me.SessionID).
			Str("new_session_id", snap.State.SessionID).
			Msg("session superseded by reset")
		p.joined = false
	}

	plan := map[string]poller{
		"state": NewLoop("state", p.cadence.PlayerState, p.clock, p.logger,
			p.store.GetGameState,
			p.applyState,
			p.view.MarkSync,
		),
	}
	if p.joined {
		sessionID := p.me.SessionID
		roster := func(interval time.Duration) {
			plan["roster@"+interval.String()] = NewLoop("roster", interval, p.clock, p.logger,
				func(ctx context.Context) ([]domain.Participant, error) {
					return p.store.GetRoster(ctx, sessionID)
				},
				func(ps []domain.Participant) {
					p.view.ReplaceRoster(sessionID, ps)
				},
				p.view.MarkSync,
			)
		}
		switch snap.Phase {
		case domain.PhaseLobby:
			roster(p.cadence.Lobby)
		case domain.PhaseResult, domain.PhaseRanking, domain.PhaseFinal:
			roster(p.cadence.Result)
		}
	}
	p.loops.Set(context.Background(), plan)
}

func (p *Player) applyState(rec domain.GameStateRecord) {
	before := p.view.Snapshot().State
	if err := p.view.ApplyGameState(rec); err != nil {
		return
	}
	if before.SessionID != rec.SessionID || before.Phase != rec.Phase ||
		before.CurrentQuestionIndex != rec.CurrentQuestionIndex || rec.VersionRegressed(before) {
		p.signal()
	}
}
