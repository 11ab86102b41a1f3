package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"classquiz/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionLoader loads and stores questions in Postgres, ordered by insertion.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `SELECT id, prompt, options, correct_index, time_limit FROM questions ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	questions := []domain.Question{}
	for rows.Next() {
		var (
			q       domain.Question
			options []byte
		)
		if err := rows.Scan(&q.ID, &q.Prompt, &options, &q.CorrectIndex, &q.TimeLimit); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options of %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return questions, nil
}

// SaveQuestion inserts q when it has no ID and updates the existing row otherwise.
func (l *QuestionLoader) SaveQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	if err := q.Validate(); err != nil {
		return domain.Question{}, err
	}
	options, err := json.Marshal(q.Options)
	if err != nil {
		return domain.Question{}, fmt.Errorf("marshal options: %w", err)
	}

	if q.ID == "" {
		q.ID = uuid.NewString()
		_, err := l.pool.Exec(ctx,
			`INSERT INTO questions (id, prompt, options, correct_index, time_limit) VALUES ($1, $2, $3::jsonb, $4, $5)`,
			q.ID, q.Prompt, string(options), q.CorrectIndex, q.TimeLimit)
		if err != nil {
			return domain.Question{}, fmt.Errorf("insert question: %w", err)
		}
		return q, nil
	}

	var id string
	err = l.pool.QueryRow(ctx,
		`UPDATE questions SET prompt=$2, options=$3::jsonb, correct_index=$4, time_limit=$5, updated_at=NOW() WHERE id=$1 RETURNING id`,
		q.ID, q.Prompt, string(options), q.CorrectIndex, q.TimeLimit).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("update question: %w", err)
	}
	return q, nil
}
