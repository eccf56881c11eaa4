package reservation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
	"github.com/kirinyoku/pelada/internal/service/policy"
	"github.com/kirinyoku/pelada/internal/uow"
)

const DefaultLateGrace = time.Hour

// Charger is the payment side effect of a confirmation.
type Charger interface {
	EnsureCharge(ctx context.Context, memberID, eventID, amountCents int64) *domain.PendingCharge
	CancelPending(ctx context.Context, memberID, eventID int64) (int64, error)
}

type Dispatcher interface {
	Go(ctx context.Context, name string, fn func(ctx context.Context) error)
}

type EventCache interface {
	InvalidateEvent(ctx context.Context, eventID int64) error
}

type ChangePublisher interface {
	PublishEventChanged(ctx context.Context, eventID int64, reason string) error
}

type Limiter interface {
	Allow(ctx context.Context, id string) (bool, int64, time.Duration, error)
}

type Config struct {
	Location *time.Location
	// LateGrace is how long after the start new confirmations are still
	// accepted.
	LateGrace time.Duration
	Now       func() time.Time
}

type Deps struct {
	Store    repository.Store
	Policy   *policy.Policy
	Charger  Charger
	Dispatch Dispatcher
	// Cache, Pubsub and Limiter are optional.
	Cache   EventCache
	Pubsub  ChangePublisher
	Limiter Limiter
	Log     *slog.Logger
}

type Service struct {
	store    repository.Store
	uow      *uow.UoW
	policy   *policy.Policy
	charger  Charger
	dispatch Dispatcher
	cache    EventCache
	pubsub   ChangePublisher
	limiter  Limiter
	log      *slog.Logger
	cfg      Config
}

func New(deps Deps, cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LateGrace <= 0 {
		cfg.LateGrace = DefaultLateGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Policy == nil {
		deps.Policy = policy.New(policy.Config{})
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	return &Service{
		store:    deps.Store,
		uow:      uow.NewUoW(deps.Store),
		policy:   deps.Policy,
		charger:  deps.Charger,
		dispatch: deps.Dispatch,
		cache:    deps.Cache,
		pubsub:   deps.Pubsub,
		limiter:  deps.Limiter,
		log:      deps.Log,
		cfg:      cfg,
	}
}

type RespondRequest struct {
	EventID   int64
	MemberID  int64
	State     domain.ReservationState
	GuestName *string
}

// Respond records a member's answer for an event.
//
// Parameters:
//   - ctx: request-scoped context.
//   - req: event, member, requested state (CONFIRMED or DECLINED) and an
//     optional guest name. A nil guest name keeps the stored one.
//
// Returns:
//   - *domain.Reservation: the reservation after the call.
//   - error: reservation.ErrEventNotFound if the event is missing or inactive.
//   - error: reservation.ErrMemberNotFound if the member is missing or inactive.
//   - error: reservation.ErrCapacityExceeded if the event is full.
//   - error: reservation.ErrInvalidState for any other requested state.
//   - error: reservation.ErrEventClosed if the event started too long ago.
//   - error: reservation.RateLimitedError if the member is sending too fast.
func (s *Service) Respond(ctx context.Context, req RespondRequest) (*domain.Reservation, error) {
	const op = "service.reservation.Respond"

	if req.State != domain.StateConfirmed && req.State != domain.StateDeclined {
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidState)
	}

	if err := s.allow(ctx, req.MemberID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var out *domain.Reservation

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx repository.Tx,
		after func(uow.AfterCommit),
	) error {
		event, err := tx.Events().GetForUpdate(ctx, req.EventID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrEventNotFound
			}
			return err
		}

		member, err := tx.Members().Get(ctx, req.MemberID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrMemberNotFound
			}
			return err
		}
		if !member.Active {
			return ErrMemberNotFound
		}

		current, err := tx.Reservations().Get(ctx, event.ID, member.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		startsAt, err := domain.StartsAt(event.Date, event.StartTime, s.cfg.Location)
		if err != nil {
			return err
		}
		now := s.cfg.Now()

		alreadyConfirmed := current != nil && current.State == domain.StateConfirmed
		if req.State == domain.StateConfirmed && !alreadyConfirmed &&
			now.After(startsAt.Add(s.cfg.LateGrace)) {
			return ErrEventClosed
		}

		counts, err := tx.Reservations().Counts(ctx, event.ID)
		if err != nil {
			return err
		}

		in := policy.Input{
			Tier:           member.Tier,
			Requested:      req.State,
			ConfirmedCount: int(counts.Confirmed),
			Capacity:       event.MaxSlots,
			HoursUntil:     domain.HoursUntil(startsAt, now),
		}
		if current != nil {
			in.Current = &current.State
		}

		next, err := s.policy.Decide(in)
		if err != nil {
			return err
		}

		guestName := req.GuestName
		if guestName == nil && current != nil {
			guestName = current.GuestName
		}

		var prev domain.ReservationState
		changed := true

		switch {
		case current == nil:
			res := &domain.Reservation{
				EventID:   event.ID,
				MemberID:  member.ID,
				GuestName: guestName,
				State:     next,
			}
			if err := tx.Reservations().Insert(ctx, res); err != nil {
				return err
			}
			out = res
		case current.State == next && sameName(current.GuestName, guestName):
			prev = current.State
			changed = false
			out = current
		default:
			prev = current.State
			res, err := tx.Reservations().SetState(ctx, current.ID, next, guestName)
			if err != nil {
				return err
			}
			out = res
		}

		if changed {
			after(func(ctx context.Context) {
				s.eventChanged(ctx, event.ID, "respond")
			})
		}

		if next == domain.StateConfirmed && !member.Tier.IsPriority() {
			memberID, eventID, price := member.ID, event.ID, event.PriceCents
			after(func(ctx context.Context) {
				s.dispatch.Go(ctx, "payment.ensure_charge", func(ctx context.Context) error {
					s.charger.EnsureCharge(ctx, memberID, eventID, price)
					return nil
				})
			})
		}

		if prev == domain.StateConfirmed && next == domain.StateDeclined {
			memberID, eventID := member.ID, event.ID
			after(func(ctx context.Context) {
				s.dispatch.Go(ctx, "payment.cancel_pending", func(ctx context.Context) error {
					_, err := s.charger.CancelPending(ctx, memberID, eventID)
					return err
				})
			})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Withdraw removes a member's reservation and then cancels its pending
// charges for the event. A cancellation failure is logged and does not
// undo the withdrawal.
//
// Returns:
//   - error: reservation.ErrReservationNotFound if there was nothing to withdraw.
func (s *Service) Withdraw(ctx context.Context, eventID, memberID int64) error {
	const op = "service.reservation.Withdraw"

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx repository.Tx,
		after func(uow.AfterCommit),
	) error {
		// serializes with a charge being stored for this event
		if _, err := tx.Events().GetForUpdate(ctx, eventID); err != nil &&
			!errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if err := tx.Reservations().Delete(ctx, eventID, memberID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrReservationNotFound
			}
			return err
		}

		after(func(ctx context.Context) {
			if _, err := s.charger.CancelPending(ctx, memberID, eventID); err != nil {
				s.log.Warn("withdraw: pending charge not cancelled",
					slog.Int64("event_id", eventID),
					slog.Int64("member_id", memberID),
					slog.Any("err", err),
				)
			}
			s.eventChanged(ctx, eventID, "withdraw")
		})

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Roster lists the reservations of an event: confirmed first, then the
// waitlist in FIFO order.
func (s *Service) Roster(ctx context.Context, eventID int64) ([]domain.Reservation, error) {
	const op = "service.reservation.Roster"

	if _, err := s.store.Events().Get(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, ErrEventNotFound)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	list, err := s.store.Reservations().ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return list, nil
}

func (s *Service) allow(ctx context.Context, memberID int64) error {
	if s.limiter == nil {
		return nil
	}

	ok, _, retry, err := s.limiter.Allow(ctx, strconv.FormatInt(memberID, 10))
	if err != nil {
		// limiter errors fail open
		s.log.Warn("rate limiter unavailable", slog.Any("err", err))
		return nil
	}
	if !ok {
		return RateLimitedError{RetryAfter: retry}
	}

	return nil
}

func (s *Service) eventChanged(ctx context.Context, eventID int64, reason string) {
	if s.cache != nil {
		if err := s.cache.InvalidateEvent(ctx, eventID); err != nil {
			s.log.Warn("cache invalidation failed", slog.Int64("event_id", eventID), slog.Any("err", err))
		}
	}
	if s.pubsub != nil {
		if err := s.pubsub.PublishEventChanged(ctx, eventID, reason); err != nil {
			s.log.Warn("event change publish failed", slog.Int64("event_id", eventID), slog.Any("err", err))
		}
	}
}

func sameName(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
