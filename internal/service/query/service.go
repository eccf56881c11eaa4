package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/pelada/internal/domain"
	redisx "github.com/kirinyoku/pelada/internal/redis"
	"github.com/kirinyoku/pelada/internal/repository"
	redisrepo "github.com/kirinyoku/pelada/internal/repository/redis"
	"github.com/kirinyoku/pelada/internal/service/policy"
)

type Config struct {
	EventSummaryTTL time.Duration
	Location        *time.Location
}

type Service struct {
	store repository.Store
	cache *redisrepo.Cache
	cfg   Config
}

// New builds the read side. cache may be nil, in which case every call
// reads the store.
func New(store repository.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 30 * time.Second
	}

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// EventSummary returns an event with its start instant, reservation
// counts and free slots.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: ID of the event.
//
// Returns:
//   - *domain.EventSummary: the summary, possibly served from cache.
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) EventSummary(ctx context.Context, id int64) (*domain.EventSummary, error) {
	const op = "service.query.EventSummary"

	if s.cache == nil {
		sum, err := s.loadSummary(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return &sum, nil
	}

	sum, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisx.KeyEventSummary(id),
		s.cfg.EventSummaryTTL,
		func(ctx context.Context) (domain.EventSummary, error) {
			return s.loadSummary(ctx, id)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &sum, nil
}

func (s *Service) loadSummary(ctx context.Context, id int64) (domain.EventSummary, error) {
	e, err := s.store.Events().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.EventSummary{}, ErrEventNotFound
		}
		return domain.EventSummary{}, err
	}

	startsAt, err := domain.StartsAt(e.Date, e.StartTime, s.cfg.Location)
	if err != nil {
		return domain.EventSummary{}, err
	}

	counts, err := s.store.Reservations().Counts(ctx, id)
	if err != nil {
		return domain.EventSummary{}, err
	}

	return domain.EventSummary{
		Event:    *e,
		StartsAt: startsAt,
		Counts:   *counts,
		Vacancy:  int64(policy.Vacancies(e.MaxSlots, int(counts.Confirmed))),
	}, nil
}
