package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"classquiz/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

type questionSaver interface {
	SaveQuestion(ctx context.Context, q domain.Question) (domain.Question, error)
}

// QuestionRepository caches the question list in Redis and falls back to a loader on miss.
// The list is stored as: SET quiz:questions {json}
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

const questionsKey = "quiz:questions"

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestions(ctx context.Context) ([]domain.Question, error) {
	if qs, ok := r.cached(ctx); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(questionsKey, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if qs, ok := r.cached(ctx); ok {
			return qs, nil
		}

		qs, err := r.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(qs); err == nil {
			_ = r.client.Set(ctx, questionsKey, payload, r.ttlWithJitter()).Err()
		}
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

// SaveQuestion forwards to the loader and drops the cached list.
func (r *QuestionRepository) SaveQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	saver, ok := r.loader.(questionSaver)
	if !ok {
		return domain.Question{}, domain.ErrQuestionsLocked
	}
	saved, err := saver.SaveQuestion(ctx, q)
	if err != nil {
		return domain.Question{}, err
	}
	if err := r.client.Del(ctx, questionsKey).Err(); err != nil {
		return saved, err
	}
	return saved, nil
}

func (r *QuestionRepository) cached(ctx context.Context) ([]domain.Question, bool) {
	// a miss and an unreachable cache both fall through to the loader
	raw, err := r.client.Get(ctx, questionsKey).Bytes()
	if err != nil {
		return nil, false
	}
	var qs []domain.Question
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil, false
	}
	return qs, true
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
