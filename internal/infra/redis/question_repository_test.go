package redis

import (
	"context"
	"testing"
	"time"

	"classquiz/internal/domain"
	"classquiz/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuestionRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{QuestionLoader: memory.NewStaticQuestionLoader(sampleQuestions())}
	repo := NewQuestionRepository(client, loader, time.Minute)

	qs, err := repo.GetQuestions(context.Background())
	if err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if len(qs) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(qs))
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists(questionsKey) {
		t.Fatalf("expected question list cached in redis")
	}

	// Second call should hit cache, loader not incremented.
	qs, _ = repo.GetQuestions(context.Background())
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if qs[1].Options[2] != "Paris" || qs[1].CorrectIndex != 2 {
		t.Fatalf("cached question lost fields: %+v", qs[1])
	}

	mr.FastForward(2 * time.Minute)
	_, _ = repo.GetQuestions(context.Background())
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, loader calls=%d", loader.calls)
	}
}

func TestQuestionRepositorySaveDropsCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	repo := NewQuestionRepository(newClient(mr), memory.NewStaticQuestionLoader(sampleQuestions()), time.Hour)
	ctx := context.Background()
	if _, err := repo.GetQuestions(ctx); err != nil {
		t.Fatalf("get questions: %v", err)
	}

	q := sampleQuestions()[0]
	q.Prompt = "What is 3 + 1?"
	if _, err := repo.SaveQuestion(ctx, q); err != nil {
		t.Fatalf("save: %v", err)
	}
	if mr.Exists(questionsKey) {
		t.Fatalf("expected cached list removed")
	}
	qs, _ := repo.GetQuestions(ctx)
	if qs[0].Prompt != "What is 3 + 1?" {
		t.Fatalf("expected updated prompt, got %q", qs[0].Prompt)
	}
}

type countingLoader struct {
	QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx)
}

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

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
