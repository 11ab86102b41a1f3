package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"classquiz/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultCountdown is how long the host stays in COUNTDOWN before publishing QUIZ.
const DefaultCountdown = 3 * time.Second

// MinParticipants is the smallest roster a game can start with.
const MinParticipants = 1

// HostOptions configures a Host. Zero values fall back to defaults, except Countdown:
// zero publishes the first question right after COUNTDOWN.
type HostOptions struct {
	Password   string
	TimeBudget int
	Countdown  time.Duration
	Cadence    Cadence
	Clock      clockwork.Clock
	Logger     *zerolog.Logger
	// Questions persists authored questions; authoring is disabled when nil.
	Questions QuestionWriter
	// OnTick receives every presentation timer value.
	OnTick func(remaining int)
}

// Host is the single authoritative client. It is the only writer of the game state record
// and drives every phase change through Advance.
type Host struct {
	store     SessionStore
	questions QuestionWriter
	password  string
	countdown time.Duration
	cadence   Cadence
	clock     clockwork.Clock
	logger    zerolog.Logger

	view   *View
	loops  *Reconciler
	ranker *Ranker
	timer  *PresentationTimer

	mu            sync.Mutex
	authenticated bool
	budget        int
	standings     []Standing
}

// NewHost builds an unauthenticated host in the WAITING phase.
func NewHost(store SessionStore, opts HostOptions) *Host {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("role", "host").Logger()
	}
	budget := opts.TimeBudget
	if !domain.ValidTimeBudget(budget) {
		budget = domain.DefaultTimeBudget
	}
	countdown := opts.Countdown
	if countdown < 0 {
		countdown = 0
	}
	return &Host{
		store:     store,
		questions: opts.Questions,
		password:  opts.Password,
		countdown: countdown,
		cadence:   opts.Cadence.withDefaults(),
		clock:     clock,
		logger:    logger,
		view:      NewView(clock, logger),
		loops:     newReconciler(),
		ranker:    NewRanker(),
		timer:     NewPresentationTimer(clock, opts.OnTick),
		budget:    budget,
	}
}

// View exposes the host's local view.
func (h *Host) View() *View {
	return h.view
}

// Authenticate checks the host password.
func (h *Host) Authenticate(password string) bool {
	ok := h.password != "" && subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1
	h.mu.Lock()
	h.authenticated = ok
	h.mu.Unlock()
	if !ok {
		h.logger.Warn().Msg("host authentication failed")
	}
	return ok
}

// Authenticated reports whether Authenticate succeeded.
func (h *Host) Authenticated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.authenticated
}

// TimeBudget returns the per-question budget the host publishes.
func (h *Host) TimeBudget() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.budget
}

// Countdown returns the presentation timer value.
func (h *Host) Countdown() int {
	return h.timer.Remaining()
}

// Standings returns the ranking computed when RANKING was entered.
func (h *Host) Standings() []Standing {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Standing(nil), h.standings...)
}

// Summary aggregates answers for the current question.
func (h *Host) Summary() AnswerSummary {
	return Summarize(h.view.Snapshot())
}

// Enter joins the store as host. An in-progress session (one with participants) is adopted
// and its record republished unchanged; otherwise a fresh session is opened in LOBBY.
func (h *Host) Enter(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.authenticated {
		return domain.ErrNotAuthenticated
	}

	var (
		state     domain.GameStateRecord
		questions []domain.Question
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = h.store.GetGameState(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		questions, err = h.store.GetQuestions(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		h.view.MarkSync(err)
		return fmt.Errorf("read session: %w", err)
	}

	var roster []domain.Participant
	if !state.Empty() {
		var err error
		roster, err = h.store.GetRoster(ctx, state.SessionID)
		if err != nil {
			h.view.MarkSync(err)
			return fmt.Errorf("read roster: %w", err)
		}
	}

	if !state.Empty() && len(roster) > 0 {
		return h.adoptLocked(ctx, state, roster, questions)
	}
	return h.openLocked(ctx, questions)
}

func (h *Host) adoptLocked(ctx context.Context, state domain.GameStateRecord, roster []domain.Participant, questions []domain.Question) error {
	stored, err := h.store.SetGameState(ctx, state)
	if err != nil {
		h.view.MarkSync(err)
		return fmt.Errorf("republish %s: %w", state.Phase, err)
	}
	h.view.MarkSync(nil)
	if domain.ValidTimeBudget(stored.TimeBudget) {
		h.budget = stored.TimeBudget
	}

	h.view.Reset()
	h.view.SetQuestions(questions)
	if err := h.view.Acknowledge(stored); err != nil {
		return err
	}
	h.view.ReplaceRoster(stored.SessionID, roster)
	h.logger.Info().
		Str("session_id", stored.SessionID).
		Str("phase", string(stored.Phase)).
		Int("participants", len(roster)).
		Msg("adopted running session")

	if stored.Phase == domain.PhaseRanking || stored.Phase == domain.PhaseFinal {
		h.standings = h.ranker.Rank(roster)
	}
	if stored.Phase == domain.PhaseQuiz {
		h.timer.Start(Remaining(h.clock.Now(), stored.PhaseStartedAt, stored.TimeBudget))
	}
	h.reconcileLocked(ctx, stored.Phase)
	return nil
}

func (h *Host) openLocked(ctx context.Context, questions []domain.Question) error {
	if err := h.store.ResetSession(ctx); err != nil {
		h.view.MarkSync(err)
		return fmt.Errorf("open session: %w", err)
	}
	state, err := h.store.GetGameState(ctx)
	if err != nil {
		h.view.MarkSync(err)
		return fmt.Errorf("read new session: %w", err)
	}
	h.view.MarkSync(nil)
	h.teardownLocked()
	h.view.SetQuestions(questions)
	if err := h.view.Acknowledge(state); err != nil {
		return err
	}
	h.logger.Info().Str("session_id", state.SessionID).Msg("opened new session")
	if state.Phase == domain.PhaseWaiting {
		return h.advanceLocked(ctx, domain.PhaseLobby)
	}
	h.reconcileLocked(ctx, state.Phase)
	return nil
}

// SetTimeBudget picks the per-question budget before the game starts.
func (h *Host) SetTimeBudget(seconds int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !domain.ValidTimeBudget(seconds) {
		return fmt.Errorf("%ds: %w", seconds, domain.ErrInvalidTimeBudget)
	}
	if p := h.view.Snapshot().Phase; p != domain.PhaseWaiting && p != domain.PhaseLobby {
		return fmt.Errorf("budget in %s: %w", p, domain.ErrQuestionsLocked)
	}
	h.budget = seconds
	return nil
}

// SaveQuestion authors a question. Questions are immutable once the game started.
func (h *Host) SaveQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.authenticated {
		return domain.Question{}, domain.ErrNotAuthenticated
	}
	if h.questions == nil {
		return domain.Question{}, fmt.Errorf("question authoring not configured: %w", domain.ErrQuestionsLocked)
	}
	if p := h.view.Snapshot().Phase; p != domain.PhaseWaiting && p != domain.PhaseLobby {
		return domain.Question{}, domain.ErrQuestionsLocked
	}
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	saved, err := h.questions.SaveQuestion(ctx, q)
	if err != nil {
		return domain.Question{}, fmt.Errorf("save question: %w", err)
	}
	questions, err := h.store.GetQuestions(ctx)
	if err != nil {
		h.view.MarkSync(err)
		return saved, fmt.Errorf("reload questions: %w", err)
	}
	h.view.SetQuestions(questions)
	return saved, nil
}

// StartGame runs the local countdown and then publishes the first question.
func (h *Host) StartGame(ctx context.Context) error {
	if err := h.checkStart(ctx); err != nil {
		return err
	}
	if err := h.Advance(ctx, domain.PhaseCountdown); err != nil {
		return err
	}
	if h.countdown > 0 {
		select {
		case <-ctx.Done():
			h.abortCountdown()
			return ctx.Err()
		case <-h.clock.After(h.countdown):
		}
	}
	return h.Advance(ctx, domain.PhaseQuiz)
}

// abortCountdown returns a cancelled start to the lobby. Nothing was published for
// COUNTDOWN, so the store is still in LOBBY.
func (h *Host) abortCountdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.view.Snapshot().Phase != domain.PhaseCountdown {
		return
	}
	h.view.SetLocalPhase(domain.PhaseLobby)
	h.logger.Info().Msg("countdown cancelled, back to lobby")
	h.reconcileLocked(context.Background(), domain.PhaseLobby)
}

func (h *Host) checkStart(ctx context.Context) error {
	snap := h.view.Snapshot()
	if snap.Phase != domain.PhaseLobby {
		return fmt.Errorf("start from %s: %w", snap.Phase, domain.ErrInvalidTransition)
	}
	if len(snap.Questions) == 0 {
		return domain.ErrNoQuestions
	}
	roster, err := h.store.GetRoster(ctx, snap.State.SessionID)
	if err != nil {
		h.view.MarkSync(err)
		return fmt.Errorf("read roster: %w", err)
	}
	h.view.ReplaceRoster(snap.State.SessionID, roster)
	if len(roster) < MinParticipants {
		return domain.ErrNotEnoughParticipants
	}
	return nil
}

// RevealResult closes the current question.
func (h *Host) RevealResult(ctx context.Context) error {
	return h.Advance(ctx, domain.PhaseResult)
}

// RevealRanking shows standings after a result.
func (h *Host) RevealRanking(ctx context.Context) ([]Standing, error) {
	if err := h.Advance(ctx, domain.PhaseRanking); err != nil {
		return nil, err
	}
	return h.Standings(), nil
}

// Next moves from RANKING to the next question, or to FINAL after the last one.
func (h *Host) Next(ctx context.Context) error {
	snap := h.view.Snapshot()
	if snap.State.CurrentQuestionIndex+1 < len(snap.Questions) {
		return h.Advance(ctx, domain.PhaseQuiz)
	}
	return h.Advance(ctx, domain.PhaseFinal)
}

// Reset wipes the session in the store and reopens a fresh lobby.
func (h *Host) Reset(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.authenticated {
		return domain.ErrNotAuthenticated
	}
	questions, err := h.store.GetQuestions(ctx)
	if err != nil {
		h.view.MarkSync(err)
		return fmt.Errorf("read questions: %w", err)
	}
	if err := h.openLocked(ctx, questions); err != nil {
		return err
	}
	h.logger.Info().Msg("session reset")
	return nil
}

// Logout drops authentication and stops all polling. The shared record is left untouched.
func (h *Host) Logout() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.authenticated = false
	h.teardownLocked()
}

// Close stops all polling.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loops.StopAll()
	h.timer.Stop()
}

// Advance is the only way the phase changes. target must be a single legal step from the
// current local phase. COUNTDOWN stays local; every other phase is published as a whole
// record with a fresh PhaseStartedAt.
func (h *Host) Advance(ctx context.Context, target domain.Phase) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.advanceLocked(ctx, target)
}

func (h *Host) advanceLocked(ctx context.Context, target domain.Phase) error {
	if !h.authenticated {
		return domain.ErrNotAuthenticated
	}
	snap := h.view.Snapshot()
	from := snap.Phase
	if !domain.CanAdvance(from, target) {
		return fmt.Errorf("%s -> %s: %w", from, target, domain.ErrInvalidTransition)
	}

	if !target.Published() {
		h.view.SetLocalPhase(target)
		h.logger.Info().Str("from", string(from)).Str("to", string(target)).Msg("phase changed locally")
		h.reconcileLocked(ctx, target)
		return nil
	}

	rec := snap.State
	rec.Phase = target
	rec.TimeBudget = h.budget
	rec.PhaseStartedAt = h.clock.Now()
	if from == domain.PhaseRanking && target == domain.PhaseQuiz {
		rec.CurrentQuestionIndex++
	}

	stored, err := h.store.SetGameState(ctx, rec)
	if err != nil {
		h.view.MarkSync(err)
		return fmt.Errorf("publish %s: %w", target, err)
	}
	h.view.MarkSync(nil)
	if err := h.view.Acknowledge(stored); err != nil {
		return fmt.Errorf("apply %s: %w", target, err)
	}
	h.logger.Info().
		Str("from", string(from)).
		Str("to", string(target)).
		Int("question", stored.CurrentQuestionIndex).
		Int64("version", stored.Version).
		Msg("phase published")

	if from == domain.PhaseRanking {
		h.ranker.Commit(h.standings)
	}
	h.enterLocked(ctx, stored)
	h.reconcileLocked(ctx, target)
	return nil
}

func (h *Host) enterLocked(ctx context.Context, rec domain.GameStateRecord) {
	switch rec.Phase {
	case domain.PhaseQuiz:
		h.timer.Start(rec.TimeBudget)
	case domain.PhaseResult:
		h.timer.Stop()
	case domain.PhaseRanking, domain.PhaseFinal:
		// Rank on a fresh roster; fall back to the polled one.
		if roster, err := h.store.GetRoster(ctx, rec.SessionID); err == nil {
			h.view.ReplaceRoster(rec.SessionID, roster)
		} else {
			h.view.MarkSync(err)
		}
		h.standings = h.ranker.Rank(h.view.Snapshot().Roster)
	}
}

func (h *Host) teardownLocked() {
	h.loops.StopAll()
	h.timer.Stop()
	h.view.Reset()
	h.ranker.Reset()
	h.standings = nil
}

// reconcileLocked swaps the polling loops for phase. The loops outlive ctx-scoped calls,
// so they run on a background context and are torn down explicitly.
func (h *Host) reconcileLocked(_ context.Context, phase domain.Phase) {
	snap := h.view.Snapshot()
	sessionID := snap.State.SessionID
	plan := make(map[string]poller)

	roster := func(interval time.Duration) {
		plan["roster@"+interval.String()] = NewLoop("roster", interval, h.clock, h.logger,
			func(ctx context.Context) ([]domain.Participant, error) {
				return h.store.GetRoster(ctx, sessionID)
			},
			func(ps []domain.Participant) {
				h.view.ReplaceRoster(sessionID, ps)
			},
			h.view.MarkSync,
		)
	}
	answers := func(interval time.Duration) {
		q, ok := snap.CurrentQuestion()
		if !ok {
			return
		}
		plan["answers:"+q.ID+"@"+interval.String()] = NewLoop("answers", interval, h.clock, h.logger,
			func(ctx context.Context) ([]domain.Answer, error) {
				return h.store.GetAnswers(ctx, q.ID, sessionID)
			},
			func(as []domain.Answer) {
				h.view.ReplaceAnswers(q.ID, as)
			},
			h.view.MarkSync,
		)
	}

	switch phase {
	case domain.PhaseLobby, domain.PhaseCountdown:
		roster(h.cadence.Lobby)
	case domain.PhaseQuiz:
		roster(h.cadence.HostRoster)
		answers(h.cadence.HostAnswers)
	case domain.PhaseResult:
		roster(h.cadence.Result)
		answers(h.cadence.Result)
	case domain.PhaseRanking, domain.PhaseFinal:
		roster(h.cadence.Result)
	}
	h.loops.Set(context.Background(), plan)
}
