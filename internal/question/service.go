package question

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/quizlive/internal/domain"
)

// Source supplies the question sequence for a session. It is called once
// per session when the game starts.
type Source interface {
	Random(ctx context.Context, n int) ([]domain.Question, error)
}

type Config struct {
	DB *pgxpool.Pool
}

// Service is the Postgres-backed question bank.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
	}
}

// Random draws n questions uniformly from the bank, in a fresh order
// each call.
func (s *Service) Random(ctx context.Context, n int) ([]domain.Question, error) {
	const stmt = `
SELECT prompt, options, correct_index
FROM questions
ORDER BY random()
LIMIT $1;`

	rows, err := s.db.Query(ctx, stmt, n)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}

	qs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		if err := r.Scan(&q.Prompt, &q.Options, &q.CorrectIndex); err != nil {
			return domain.Question{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect questions: %w", err)
	}

	if len(qs) < n {
		return nil, fmt.Errorf("question bank underflow: want %d, have %d", n, len(qs))
	}

	return qs, nil
}
