package httpstore

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"classquiz/internal/app"
	"classquiz/internal/domain"
	"classquiz/internal/infra/memory"
	transport "classquiz/internal/transport/http"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func newServer(t *testing.T) (*Client, *clockwork.FakeClock) {
	t.Helper()
	return newServerWith(t, func(s app.SessionStore) app.SessionStore { return s })
}

func newServerWith(t *testing.T, wrap func(app.SessionStore) app.SessionStore) (*Client, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC))
	repo := memory.NewQuestionRepository(memory.NewStaticQuestionLoader([]domain.Question{
		{
			ID:           "q1",
			Prompt:       "What is 2 + 2?",
			Options:      [domain.OptionCount]string{"3", "4", "5", "22"},
			CorrectIndex: 1,
			TimeLimit:    20,
		},
	}), time.Minute, clock)
	store := wrap(memory.NewSessionStore(repo, clock))
	handler := transport.NewStoreHandler(store, repo, zerolog.Nop())
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)
	return NewClient(server.URL, time.Second), clock
}

func TestClientRoundTrip(t *testing.T) {
	client, clock := newServer(t)
	ctx := context.Background()

	if err := client.ResetSession(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	state, err := client.GetGameState(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.Phase != domain.PhaseWaiting {
		t.Fatalf("expected WAITING, got %s", state.Phase)
	}

	state.Phase = domain.PhaseLobby
	state.PhaseStartedAt = clock.Now()
	lobby, err := client.SetGameState(ctx, state)
	if err != nil {
		t.Fatalf("set state: %v", err)
	}
	if lobby.Version <= state.Version {
		t.Fatalf("expected store to assign a newer version")
	}

	p, err := client.AddParticipant(ctx, "ana", lobby.SessionID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	roster, err := client.GetRoster(ctx, lobby.SessionID)
	if err != nil || len(roster) != 1 || roster[0].ID != p.ID {
		t.Fatalf("unexpected roster %+v %v", roster, err)
	}

	quiz := lobby
	quiz.Phase = domain.PhaseQuiz
	quiz.PhaseStartedAt = clock.Now()
	if _, err := client.SetGameState(ctx, quiz); err != nil {
		t.Fatalf("set quiz: %v", err)
	}
	res, err := client.SubmitAnswer(ctx, domain.AnswerSubmission{
		ParticipantID: p.ID, QuestionID: "q1", SessionID: lobby.SessionID, SelectedOption: 1, ResponseTime: 5,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score != 875 {
		t.Fatalf("expected 875, got %d", res.Score)
	}
	answers, err := client.GetAnswers(ctx, "q1", lobby.SessionID)
	if err != nil || len(answers) != 1 {
		t.Fatalf("unexpected answers %+v %v", answers, err)
	}
}

func TestClientMapsSentinels(t *testing.T) {
	client, _ := newServer(t)
	ctx := context.Background()
	if err := client.ResetSession(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}

	_, err := client.AddParticipant(ctx, "ana", "")
	if !errors.Is(err, domain.ErrJoinClosed) {
		t.Fatalf("expected join closed, got %v", err)
	}
	if domain.Retryable(err) {
		t.Fatalf("validation rejection must not be retryable")
	}
	_, err = client.SaveQuestion(ctx, domain.Question{Prompt: "x"})
	if !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected invalid question, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := client.GetGameState(context.Background())
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if !domain.Retryable(err) {
		t.Fatalf("expected connectivity failure to be retryable")
	}
}

// scoreFailingStore stores answers but reports the score increment as failed.
type scoreFailingStore struct {
	app.SessionStore
}

func (s scoreFailingStore) SubmitAnswer(ctx context.Context, sub domain.AnswerSubmission) (domain.SubmitResult, error) {
	res, err := s.SessionStore.SubmitAnswer(ctx, sub)
	if err != nil {
		return res, err
	}
	return res, fmt.Errorf("%w: connection reset", domain.ErrPartialSubmit)
}

func TestClientPartialSubmitKeepsResult(t *testing.T) {
	client, clock := newServerWith(t, func(s app.SessionStore) app.SessionStore {
		return scoreFailingStore{SessionStore: s}
	})
	ctx := context.Background()
	if err := client.ResetSession(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	state, _ := client.GetGameState(ctx)
	state.Phase = domain.PhaseLobby
	lobby, err := client.SetGameState(ctx, state)
	if err != nil {
		t.Fatalf("lobby: %v", err)
	}
	p, err := client.AddParticipant(ctx, "ana", lobby.SessionID)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	quiz := lobby
	quiz.Phase = domain.PhaseQuiz
	quiz.PhaseStartedAt = clock.Now()
	if _, err := client.SetGameState(ctx, quiz); err != nil {
		t.Fatalf("quiz: %v", err)
	}

	res, err := client.SubmitAnswer(ctx, domain.AnswerSubmission{
		ParticipantID: p.ID, QuestionID: "q1", SessionID: lobby.SessionID, SelectedOption: 1, ResponseTime: 5,
	})
	if !errors.Is(err, domain.ErrPartialSubmit) {
		t.Fatalf("expected ErrPartialSubmit, got %v", err)
	}
	if domain.Retryable(err) {
		t.Fatalf("partial submit must not be retryable")
	}
	if !res.IsCorrect || res.Score != 875 || res.CorrectOption != 1 {
		t.Fatalf("expected the stored result to survive the round trip, got %+v", res)
	}
}
