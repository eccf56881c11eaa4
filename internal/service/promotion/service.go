package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/notifier"
	"github.com/kirinyoku/pelada/internal/repository"
	"github.com/kirinyoku/pelada/internal/service/policy"
	"github.com/kirinyoku/pelada/internal/uow"
)

const (
	DefaultLookahead = 24 * time.Hour
	DefaultThreshold = 4*time.Hour + 30*time.Minute
)

var ErrInvalidOptions = errors.New("lookahead and threshold must be positive")

type Charger interface {
	EnsureCharge(ctx context.Context, memberID, eventID, amountCents int64) *domain.PendingCharge
}

type Dispatcher interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}

type EventCache interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

type Config struct {
	Location *time.Location
	// Lookahead and Threshold apply when Options leaves them zero.
	Lookahead time.Duration
	Threshold time.Duration
}

type Deps struct {
	Store    repository.Store
	Charger  Charger
	Dispatch Dispatcher
	Notifier notifier.Notifier
	// Cache is optional.
	Cache EventCache
	Log   *slog.Logger
}

type Service struct {
	store    repository.Store
	uow      *uow.UoW
	charger  Charger
	dispatch Dispatcher
	notify   notifier.Notifier
	cache    EventCache
	log      *slog.Logger
	cfg      Config
}

func New(deps Deps, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = DefaultLookahead
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Nop{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	return &Service{
		store:    deps.Store,
		uow:      uow.NewUoW(deps.Store),
		charger:  deps.Charger,
		dispatch: deps.Dispatch,
		notify:   deps.Notifier,
		cache:    deps.Cache,
		log:      deps.Log,
		cfg:      cfg,
	}
}

type Options struct {
	// Lookahead bounds which events are loaded: from the start of today
	// up to now+Lookahead.
	Lookahead time.Duration
	// Threshold skips events starting further away than this.
	Threshold time.Duration
}

// Promote fills the vacancies of events about to start from their
// waitlists, oldest reservation first. Every run derives vacancies and
// queues from the stored state, so repeated or overlapping runs are safe.
//
// Returns:
//   - []domain.PromotionResult: one entry per event within the threshold,
//     including events with nothing to promote. A failing event carries
//     its error text and does not stop the others.
//   - error: promotion.ErrInvalidOptions for non-positive options, or the
//     error of the event listing.
func (s *Service) Promote(ctx context.Context, now time.Time, opts Options) ([]domain.PromotionResult, error) {
	const op = "service.promotion.Promote"

	if opts.Lookahead == 0 {
		opts.Lookahead = s.cfg.Lookahead
	}
	if opts.Threshold == 0 {
		opts.Threshold = s.cfg.Threshold
	}
	if opts.Lookahead < 0 || opts.Threshold < 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidOptions)
	}

	from := domain.StartOfDay(now, s.cfg.Location)
	to := now.Add(opts.Lookahead).In(s.cfg.Location)

	events, err := s.store.Events().ListActiveBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	thresholdHours := opts.Threshold.Hours()
	results := make([]domain.PromotionResult, 0, len(events))

	for _, ev := range events {
		startsAt, err := domain.StartsAt(ev.Date, ev.StartTime, s.cfg.Location)
		if err != nil {
			s.log.Warn("promote: bad event start", slog.Int64("event_id", ev.ID), slog.Any("err", err))
			continue
		}

		hours := domain.HoursUntil(startsAt, now)
		if hours <= 0 || hours > thresholdHours || startsAt.After(now.Add(opts.Lookahead)) {
			continue
		}

		res, err := s.promoteEvent(ctx, ev.ID)
		res.EventID = ev.ID
		res.StartsAt = startsAt
		res.HoursUntil = hours
		if err != nil {
			s.log.Error("promote: event failed", slog.Int64("event_id", ev.ID), slog.Any("err", err))
			res.Error = err.Error()
		}

		results = append(results, res)
	}

	var promoted []domain.PromotionResult
	for _, r := range results {
		if r.PromotedCount > 0 {
			promoted = append(promoted, r)
		}
	}
	if len(promoted) > 0 {
		s.dispatch.Go(ctx, "notify.waitlist_promoted", func(ctx context.Context) error {
			return s.notify.Send(ctx, notifier.EventWaitlistPromoted, promoted)
		})
	}

	return results, nil
}

// promoteEvent promotes the waitlist head of one event under its row lock.
func (s *Service) promoteEvent(ctx context.Context, eventID int64) (domain.PromotionResult, error) {
	const op = "service.promotion.promoteEvent"

	var res domain.PromotionResult

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx repository.Tx,
		after func(uow.AfterCommit),
	) error {
		res = domain.PromotionResult{Promoted: []domain.PromotedMember{}}

		ev, err := tx.Events().GetForUpdate(ctx, eventID)
		if err != nil {
			return err
		}

		counts, err := tx.Reservations().Counts(ctx, ev.ID)
		if err != nil {
			return err
		}

		res.Vacancies = policy.Vacancies(ev.MaxSlots, int(counts.Confirmed))
		if res.Vacancies == 0 {
			return nil
		}

		queue, err := tx.Reservations().ListWaitlisted(ctx, ev.ID, res.Vacancies)
		if err != nil {
			return err
		}

		for _, we := range queue {
			if err := tx.Reservations().Promote(ctx, we.Reservation.ID); err != nil {
				if errors.Is(err, repository.ErrStale) {
					continue
				}
				return err
			}

			res.Promoted = append(res.Promoted, domain.PromotedMember{
				ReservationID: we.Reservation.ID,
				MemberID:      we.Member.ID,
				Name:          we.Member.Name,
				Tier:          we.Member.Tier,
			})

			if !we.Member.Tier.IsPriority() {
				memberID, price := we.Member.ID, ev.PriceCents
				after(func(ctx context.Context) {
					s.dispatch.Go(ctx, "payment.ensure_charge", func(ctx context.Context) error {
						s.charger.EnsureCharge(ctx, memberID, eventID, price)
						return nil
					})
				})
			}
		}

		res.PromotedCount = len(res.Promoted)
		if res.PromotedCount > 0 {
			after(func(ctx context.Context) {
				if s.cache == nil {
					return
				}
				if err := s.cache.InvalidateEvent(ctx, eventID); err != nil {
					s.log.Warn("cache invalidation failed", slog.Int64("event_id", eventID), slog.Any("err", err))
				}
			})
		}

		return nil
	})
	if err != nil {
		return domain.PromotionResult{Promoted: []domain.PromotedMember{}}, fmt.Errorf("%s:%w", op, err)
	}

	return res, nil
}
