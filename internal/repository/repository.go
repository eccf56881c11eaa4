package repository

import (
	"context"
	"time"

	"github.com/kirinyoku/pelada/internal/domain"
)

type EventRepo interface {
	Get(ctx context.Context, id int64) (*domain.Event, error)
	// GetForUpdate loads an active event and holds its row lock until
	// the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Event, error)
	ListActiveBetween(ctx context.Context, fromDate, toDate time.Time) ([]domain.Event, error)
}

type MemberRepo interface {
	Get(ctx context.Context, id int64) (*domain.Member, error)
	ListActiveByTier(ctx context.Context, tier domain.Tier) ([]domain.Member, error)
}

type ReservationRepo interface {
	Get(ctx context.Context, eventID, memberID int64) (*domain.Reservation, error)
	Counts(ctx context.Context, eventID int64) (*domain.EventCounts, error)
	Insert(ctx context.Context, r *domain.Reservation) error
	SetState(ctx context.Context, id int64, state domain.ReservationState, guestName *string) (*domain.Reservation, error)
	// Promote moves a WAITLISTED reservation to CONFIRMED and returns
	// ErrStale if it is no longer waitlisted.
	Promote(ctx context.Context, id int64) error
	Delete(ctx context.Context, eventID, memberID int64) error
	ListWaitlisted(ctx context.Context, eventID int64, limit int) ([]domain.WaitlistEntry, error)
	ListByEvent(ctx context.Context, eventID int64) ([]domain.Reservation, error)
}

type ChargeRepo interface {
	FindActiveForEvent(ctx context.Context, memberID, eventID int64) (*domain.PendingCharge, error)
	FindActiveForPeriod(ctx context.Context, memberID int64, period string) (*domain.PendingCharge, error)
	Create(ctx context.Context, c *domain.PendingCharge) error
	CancelPendingForEvent(ctx context.Context, memberID, eventID int64) (int64, error)
}

type AdminRepo interface {
	CreateMember(ctx context.Context, m *domain.Member) error
	CreateEvents(ctx context.Context, events []domain.Event) error
}

// Tx exposes the repositories bound to one transaction (or to the pool
// when used outside of RunTx).
type Tx interface {
	Events() EventRepo
	Members() MemberRepo
	Reservations() ReservationRepo
	Charges() ChargeRepo
	Admin() AdminRepo
}

type Store interface {
	Tx
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
