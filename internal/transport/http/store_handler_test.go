package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"classquiz/internal/domain"
	"classquiz/internal/infra/memory"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := clockwork.NewFakeClock()
	repo := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(nil), time.Minute, clock)
	store := memory.NewSessionStore(repo, clock)
	server := httptest.NewServer(NewStoreHandler(store, repo, zerolog.Nop()).Routes())
	t.Cleanup(server.Close)
	return server
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestJoinWithoutSessionReturnsCode(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Post(server.URL+"/api/roster", "application/json", strings.NewReader(`{"name":"ana"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var env envelope[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success || env.Code != "session_not_found" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	server := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPut, server.URL+"/api/state", strings.NewReader("{"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestErrorCodesRoundTrip(t *testing.T) {
	for _, m := range errorTable {
		status, code := ErrorCode(m.err)
		if status != m.status || code != m.code {
			t.Fatalf("%v mapped to %d %s", m.err, status, code)
		}
		if ErrorFromCode(code) != m.err {
			t.Fatalf("code %s did not map back to %v", code, m.err)
		}
	}
	if status, code := ErrorCode(domain.ErrUnavailable); status != http.StatusInternalServerError || code != "internal" {
		t.Fatalf("unexpected mapping for unknown error: %d %s", status, code)
	}
}

func TestSaveQuestionRefusedAfterStart(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(nil), time.Minute, clock)
	store := memory.NewSessionStore(repo, clock)
	server := httptest.NewServer(NewStoreHandler(store, repo, zerolog.Nop()).Routes())
	t.Cleanup(server.Close)

	body := `{"prompt":"Largest ocean?","options":["Atlantic","Indian","Arctic","Pacific"],"correctOptionIndex":3,"timeLimit":15}`
	post := func() (int, envelope[domain.Question]) {
		t.Helper()
		resp, err := http.Post(server.URL+"/api/questions", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		defer resp.Body.Close()
		var env envelope[domain.Question]
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.StatusCode, env
	}

	ctx := context.Background()
	if err := store.ResetSession(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if status, env := post(); status != http.StatusOK || env.Data.ID == "" {
		t.Fatalf("expected save in WAITING, got %d %+v", status, env)
	}

	state, _ := store.GetGameState(ctx)
	state.Phase = domain.PhaseQuiz
	if _, err := store.SetGameState(ctx, state); err != nil {
		t.Fatalf("set quiz: %v", err)
	}
	status, env := post()
	if status != http.StatusConflict || env.Code != "questions_locked" {
		t.Fatalf("expected questions_locked during the game, got %d %+v", status, env)
	}
	if qs, _ := repo.GetQuestions(ctx); len(qs) != 1 {
		t.Fatalf("refused edit must not be stored, got %d questions", len(qs))
	}
}
