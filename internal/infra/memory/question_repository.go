package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"classquiz/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
}

// QuestionSaver is implemented by loaders that also accept authored questions.
type QuestionSaver interface {
	SaveQuestion(ctx context.Context, q domain.Question) (domain.Question, error)
}

const questionsKey = "questions"

// QuestionRepository caches the question list with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  clockwork.Clock
	sf     singleflight.Group
	rnd    *rand.Rand

	mu        sync.RWMutex
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration, clock clockwork.Clock) *QuestionRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestions(ctx context.Context) ([]domain.Question, error) {
	if qs, ok := r.cached(r.clock.Now()); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do(questionsKey, func() (interface{}, error) {
		now := r.clock.Now()
		if qs, ok := r.cached(now); ok {
			return qs, nil
		}

		qs, err := r.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.questions = qs
		r.expiresAt = now.Add(r.ttlWithJitter())
		r.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

// SaveQuestion forwards to the loader when it can store questions, then drops the cache.
func (r *QuestionRepository) SaveQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	saver, ok := r.loader.(QuestionSaver)
	if !ok {
		return domain.Question{}, domain.ErrQuestionsLocked
	}
	saved, err := saver.SaveQuestion(ctx, q)
	if err != nil {
		return domain.Question{}, err
	}
	r.Invalidate()
	return saved, nil
}

// Invalidate forgets the cached list.
func (r *QuestionRepository) Invalidate() {
	r.mu.Lock()
	r.questions = nil
	r.expiresAt = time.Time{}
	r.mu.Unlock()
}

func (r *QuestionRepository) cached(now time.Time) ([]domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.questions != nil && r.expiresAt.After(now) {
		return append([]domain.Question(nil), r.questions...), true
	}
	return nil, false
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader keeps questions in memory (useful for tests/demos).
type StaticQuestionLoader struct {
	mu        sync.RWMutex
	questions []domain.Question
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: append([]domain.Question(nil), questions...)}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context) ([]domain.Question, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.Question{}, l.questions...), nil
}

// SaveQuestion appends q, or replaces the question with the same ID.
func (l *StaticQuestionLoader) SaveQuestion(_ context.Context, q domain.Question) (domain.Question, error) {
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if q.ID == "" {
		q.ID = uuid.NewString()
		l.questions = append(l.questions, q)
		return q, nil
	}
	for i := range l.questions {
		if l.questions[i].ID == q.ID {
			l.questions[i] = q
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
