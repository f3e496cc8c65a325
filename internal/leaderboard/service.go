package leaderboard

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizlive/internal/domain"
	"github.com/victornm/quizlive/internal/errors"
	"github.com/victornm/quizlive/internal/event"
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service mirrors running totals of live sessions into Redis sorted
// sets. The mirror is pull-only and eventually consistent: standings are
// never pushed to participants mid-question, only read on demand.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateScore(ctx, e.(domain.EventScoreUpdated))
	})

	s.eb.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		return s.DropSession(ctx, e.(domain.EventSessionEnded))
	})

	return s
}

type GetLeaderboardRequest struct {
	Code string
}

// GetLeaderboard returns the live leaderboard for a session, all
// participants who scored so far with their running totals.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.key(req.Code), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("leaderboard not found: game=%s", req.Code))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Name:   z.Member.(string),
			Points: int64(z.Score),
		})
	}

	return &domain.Leaderboard{
		Code:    req.Code,
		Entries: entries,
	}, nil
}

// UpdateScore overwrites one participant's running total.
func (s *Service) UpdateScore(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	if err := s.redis.ZAdd(ctx, s.key(sc.Code), redis.Z{
		Score:  float64(sc.Points),
		Member: sc.Name,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return nil
}

// DropSession discards the mirror of a torn-down session. Nothing is
// kept across games; historical results are out of scope.
func (s *Service) DropSession(ctx context.Context, e domain.EventSessionEnded) error {
	if err := s.redis.Del(ctx, s.key(e.Code)).Err(); err != nil {
		return fmt.Errorf("drop leaderboard: %w", err)
	}

	return nil
}

func (s *Service) key(code string) string {
	return fmt.Sprintf("%s:game:%s:leaderboard", s.prefix, code)
}
