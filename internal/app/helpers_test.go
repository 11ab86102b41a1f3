package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"classquiz/internal/app"
	"classquiz/internal/domain"
	"classquiz/internal/infra/memory"
	"github.com/jonboulle/clockwork"
)

var epoch = time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:           "q1",
			Prompt:       "What is 2 + 2?",
			Options:      [domain.OptionCount]string{"3", "4", "5", "22"},
			CorrectIndex: 1,
			TimeLimit:    20,
		},
		{
			ID:           "q2",
			Prompt:       "Capital of France?",
			Options:      [domain.OptionCount]string{"Lyon", "Nice", "Paris", "Lille"},
			CorrectIndex: 2,
			TimeLimit:    10,
		},
	}
}

type fixture struct {
	clock     *clockwork.FakeClock
	questions *memory.QuestionRepository
	store     *memory.SessionStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(sampleQuestions()), time.Hour, clock)
	return fixture{
		clock:     clock,
		questions: questions,
		store:     memory.NewSessionStore(questions, clock),
	}
}

func fastCadence() app.Cadence {
	return app.Cadence{
		Lobby:       100 * time.Millisecond,
		HostRoster:  100 * time.Millisecond,
		HostAnswers: 100 * time.Millisecond,
		PlayerState: 100 * time.Millisecond,
		Result:      100 * time.Millisecond,
	}
}

func (f fixture) newHost(t *testing.T) *app.Host {
	t.Helper()
	host := app.NewHost(f.store, app.HostOptions{
		Password:  "secret",
		Cadence:   fastCadence(),
		Clock:     f.clock,
		Questions: f.questions,
	})
	t.Cleanup(host.Close)
	if !host.Authenticate("secret") {
		t.Fatalf("authenticate failed")
	}
	return host
}

func (f fixture) newPlayer(t *testing.T, store app.SessionStore, attempts int) *app.Player {
	t.Helper()
	player := app.NewPlayer(store, app.PlayerOptions{
		Cadence:  fastCadence(),
		Clock:    f.clock,
		Attempts: attempts,
	})
	t.Cleanup(player.Leave)
	return player
}

// eventually advances the fake clock one poll interval at a time until cond holds.
func (f fixture) eventually(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 400; i++ {
		if cond() {
			return
		}
		f.clock.Advance(100 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

// flakyStore fails SubmitAnswer a fixed number of times before delegating.
type flakyStore struct {
	app.SessionStore

	mu       sync.Mutex
	failures int
	calls    int
	seen     []domain.AnswerSubmission
}

func (s *flakyStore) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.SubmitResult, error) {
	s.mu.Lock()
	s.calls++
	s.seen = append(s.seen, sub)
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return domain.SubmitResult{}, domain.ErrUnavailable
	}
	return s.SessionStore.SubmitAnswer(ctx, sub)
}

func (s *flakyStore) submissions() []domain.AnswerSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AnswerSubmission(nil), s.seen...)
}

func (f fixture) hostOn(t *testing.T, store app.SessionStore) *app.Host {
	t.Helper()
	host := app.NewHost(store, app.HostOptions{
		Password:  "secret",
		Cadence:   fastCadence(),
		Clock:     f.clock,
		Questions: f.questions,
	})
	t.Cleanup(host.Close)
	if !host.Authenticate("secret") {
		t.Fatalf("authenticate failed")
	}
	return host
}

// restartableStore fronts a memory store that can be swapped for an empty one, the way a
// store process that restarts without persistence comes back with its version counter at zero.
type restartableStore struct {
	f   fixture
	mu  sync.Mutex
	cur app.SessionStore
}

func newRestartableStore(f fixture) *restartableStore {
	return &restartableStore{f: f, cur: f.store}
}

func (s *restartableStore) restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = memory.NewSessionStore(s.f.questions, s.f.clock)
}

func (s *restartableStore) store() app.SessionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *restartableStore) GetRoster(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return s.store().GetRoster(ctx, sessionID)
}

func (s *restartableStore) AddParticipant(ctx context.Context, name, sessionID string) (domain.Participant, error) {
	return s.store().AddParticipant(ctx, name, sessionID)
}

func (s *restartableStore) GetQuestions(ctx context.Context) ([]domain.Question, error) {
	return s.store().GetQuestions(ctx)
}

func (s *restartableStore) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.SubmitResult, error) {
	return s.store().SubmitAnswer(ctx, sub)
}

func (s *restartableStore) GetAnswers(ctx context.Context, questionID, sessionID string) ([]domain.Answer, error) {
	return s.store().GetAnswers(ctx, questionID, sessionID)
}

func (s *restartableStore) GetGameState(ctx context.Context) (domain.GameStateRecord, error) {
	return s.store().GetGameState(ctx)
}

func (s *restartableStore) SetGameState(ctx context.Context, rec domain.GameStateRecord) (domain.GameStateRecord, error) {
	return s.store().SetGameState(ctx, rec)
}

func (s *restartableStore) ResetSession(ctx context.Context) error {
	return s.store().ResetSession(ctx)
}

// partialStore stores answers but reports the score update as failed.
type partialStore struct {
	app.SessionStore

	mu    sync.Mutex
	calls int
}

func (s *partialStore) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.SubmitResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	res, err := s.SessionStore.SubmitAnswer(ctx, sub)
	if err != nil {
		return res, err
	}
	return res, fmt.Errorf("%w: score update lost", domain.ErrPartialSubmit)
}

func (s *partialStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
