package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
	"github.com/kirinyoku/pelada/internal/uow"
)

const MaxSeriesWeeks = 52

type ChangePublisher interface {
	PublishEventChanged(ctx context.Context, eventID int64, reason string) error
}

type Service struct {
	store  repository.Store
	pubsub ChangePublisher
	uow    *uow.UoW
}

// New builds the admin service. pubsub may be nil.
func New(store repository.Store, pubsub ChangePublisher) *Service {
	return &Service{
		store:  store,
		pubsub: pubsub,
		uow:    uow.NewUoW(store),
	}
}

type MemberInput struct {
	Name              string
	Email             string
	Phone             string
	Tier              domain.Tier
	Role              string
	GatewayCustomerID string
}

// CreateMember registers an active member.
//
// Returns:
//   - *domain.Member: the stored member with its ID.
//   - error: admin.ErrInvalidInput if the name, tier or role is invalid.
//   - error: admin.ErrMemberConflict if the email is already registered.
func (s *Service) CreateMember(ctx context.Context, in MemberInput) (*domain.Member, error) {
	const op = "service.admin.CreateMember"

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%s: %w: name is required", op, ErrInvalidInput)
	}
	if !in.Tier.Valid() {
		return nil, fmt.Errorf("%s: %w: unknown tier %q", op, ErrInvalidInput, in.Tier)
	}

	role := in.Role
	if role == "" {
		role = domain.RoleMember
	}
	if role != domain.RoleMember && role != domain.RoleAdmin {
		return nil, fmt.Errorf("%s: %w: unknown role %q", op, ErrInvalidInput, role)
	}

	m := &domain.Member{
		Name:              name,
		Email:             strings.TrimSpace(in.Email),
		Phone:             strings.TrimSpace(in.Phone),
		Tier:              in.Tier,
		Role:              role,
		Active:            true,
		GatewayCustomerID: in.GatewayCustomerID,
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		if err := tx.Admin().CreateMember(ctx, m); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s: %w", op, ErrMemberConflict)
			}
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

type SeriesRequest struct {
	Title      string
	FirstDate  time.Time
	StartTime  string
	MaxSlots   int
	PriceCents int64
	// Weeks is the number of weekly occurrences, starting at FirstDate.
	Weeks int
}

// CreateEventSeries creates Weeks weekly events sharing one recurrence
// id. A single week creates a standalone event with no recurrence id.
//
// Returns:
//   - []domain.Event: the created events in date order.
//   - error: admin.ErrInvalidInput if the request is malformed.
func (s *Service) CreateEventSeries(ctx context.Context, req SeriesRequest) ([]domain.Event, error) {
	const op = "service.admin.CreateEventSeries"

	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var recurrence *string
	if req.Weeks > 1 {
		id := uuid.NewString()
		recurrence = &id
	}

	first := time.Date(req.FirstDate.Year(), req.FirstDate.Month(), req.FirstDate.Day(), 0, 0, 0, 0, time.UTC)

	events := make([]domain.Event, req.Weeks)
	for i := range events {
		events[i] = domain.Event{
			Title:        strings.TrimSpace(req.Title),
			Date:         first.AddDate(0, 0, 7*i),
			StartTime:    req.StartTime,
			MaxSlots:     req.MaxSlots,
			PriceCents:   req.PriceCents,
			Active:       true,
			RecurrenceID: recurrence,
		}
	}

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Tx, after func(uow.AfterCommit)) error {
		if err := tx.Admin().CreateEvents(ctx, events); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		if s.pubsub != nil {
			after(func(ctx context.Context) {
				for _, e := range events {
					_ = s.pubsub.PublishEventChanged(ctx, e.ID, "created")
				}
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return events, nil
}

func (r SeriesRequest) validate() error {
	switch {
	case r.FirstDate.IsZero():
		return fmt.Errorf("%w: first date is required", ErrInvalidInput)
	case r.MaxSlots <= 0:
		return fmt.Errorf("%w: max slots must be positive", ErrInvalidInput)
	case r.PriceCents < 0:
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	case r.Weeks < 1 || r.Weeks > MaxSeriesWeeks:
		return fmt.Errorf("%w: weeks must be between 1 and %d", ErrInvalidInput, MaxSeriesWeeks)
	}

	if _, err := domain.StartsAt(r.FirstDate, r.StartTime, time.UTC); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	return nil
}
