package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
)

type eventRepo struct{ v view }

func (r eventRepo) Get(_ context.Context, id int64) (*domain.Event, error) {
	const op = "memory.EventRepo.Get"

	var out *domain.Event
	err := r.v.do(func(st *state) error {
		e, ok := st.events[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	return out, nil
}

// GetForUpdate only differs from Get by rejecting inactive events; the
// store lock held by RunTx already serializes writers.
func (r eventRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "memory.EventRepo.GetForUpdate"

	e, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !e.Active {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	return e, nil
}

func (r eventRepo) ListActiveBetween(_ context.Context, fromDate, toDate time.Time) ([]domain.Event, error) {
	from := fromDate.Format(time.DateOnly)
	to := toDate.Format(time.DateOnly)

	var out []domain.Event
	_ = r.v.do(func(st *state) error {
		for _, e := range st.events {
			d := e.Date.Format(time.DateOnly)
			if e.Active && d >= from && d <= to {
				out = append(out, e)
			}
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Date.Format(time.DateOnly), out[j].Date.Format(time.DateOnly)
		if di != dj {
			return di < dj
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

type memberRepo struct{ v view }

func (r memberRepo) Get(_ context.Context, id int64) (*domain.Member, error) {
	const op = "memory.MemberRepo.Get"

	var out *domain.Member
	err := r.v.do(func(st *state) error {
		m, ok := st.members[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = &m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	return out, nil
}

func (r memberRepo) ListActiveByTier(_ context.Context, tier domain.Tier) ([]domain.Member, error) {
	var out []domain.Member
	_ = r.v.do(func(st *state) error {
		for _, m := range st.members {
			if m.Active && m.Tier == tier {
				out = append(out, m)
			}
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type reservationRepo struct{ v view }

func (r reservationRepo) Get(_ context.Context, eventID, memberID int64) (*domain.Reservation, error) {
	const op = "memory.ReservationRepo.Get"

	var out *domain.Reservation
	err := r.v.do(func(st *state) error {
		res, ok := st.findReservation(eventID, memberID)
		if !ok {
			return repository.ErrNotFound
		}
		out = &res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	return out, nil
}

func (r reservationRepo) Counts(_ context.Context, eventID int64) (*domain.EventCounts, error) {
	var ec domain.EventCounts
	_ = r.v.do(func(st *state) error {
		for _, res := range st.reservations {
			if res.EventID != eventID {
				continue
			}
			switch res.State {
			case domain.StateConfirmed:
				ec.Confirmed++
			case domain.StateWaitlisted:
				ec.Waitlisted++
			case domain.StateDeclined:
				ec.Declined++
			case domain.StatePending:
				ec.Pending++
			}
		}
		return nil
	})
	return &ec, nil
}

func (r reservationRepo) Insert(_ context.Context, res *domain.Reservation) error {
	const op = "memory.ReservationRepo.Insert"

	err := r.v.do(func(st *state) error {
		if _, ok := st.findReservation(res.EventID, res.MemberID); ok {
			return repository.ErrConflict
		}
		st.nextReservationID++
		res.ID = st.nextReservationID
		res.CreatedAt = st.stamp()
		res.UpdatedAt = res.CreatedAt
		st.reservations[res.ID] = *res
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	return nil
}

func (r reservationRepo) SetState(
	_ context.Context,
	id int64,
	newState domain.ReservationState,
	guestName *string,
) (*domain.Reservation, error) {
	const op = "memory.ReservationRepo.SetState"

	var out *domain.Reservation
	err := r.v.do(func(st *state) error {
		res, ok := st.reservations[id]
		if !ok {
			return repository.ErrNotFound
		}
		res.State = newState
		res.GuestName = guestName
		res.UpdatedAt = st.stamp()
		st.reservations[id] = res
		out = &res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}
	return out, nil
}

func (r reservationRepo) Promote(_ context.Context, id int64) error {
	const op = "memory.ReservationRepo.Promote"

	err := r.v.do(func(st *state) error {
		res, ok := st.reservations[id]
		if !ok || res.State != domain.StateWaitlisted {
			return repository.ErrStale
		}
		res.State = domain.StateConfirmed
		res.UpdatedAt = st.stamp()
		st.reservations[id] = res
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	return nil
}

func (r reservationRepo) Delete(_ context.Context, eventID, memberID int64) error {
	const op = "memory.ReservationRepo.Delete"

	err := r.v.do(func(st *state) error {
		res, ok := st.findReservation(eventID, memberID)
		if !ok {
			return repository.ErrNotFound
		}
		delete(st.reservations, res.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	return nil
}

func (r reservationRepo) ListWaitlisted(_ context.Context, eventID int64, limit int) ([]domain.WaitlistEntry, error) {
	var out []domain.WaitlistEntry
	_ = r.v.do(func(st *state) error {
		for _, res := range st.reservations {
			if res.EventID != eventID || res.State != domain.StateWaitlisted {
				continue
			}
			m, ok := st.members[res.MemberID]
			if !ok || !m.Active {
				continue
			}
			out = append(out, domain.WaitlistEntry{Reservation: res, Member: m})
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool {
		return fifoLess(out[i].Reservation, out[j].Reservation)
	})

	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r reservationRepo) ListByEvent(_ context.Context, eventID int64) ([]domain.Reservation, error) {
	var out []domain.Reservation
	_ = r.v.do(func(st *state) error {
		for _, res := range st.reservations {
			if res.EventID == eventID {
				out = append(out, res)
			}
		}
		return nil
	})

	sort.Slice(out, func(i, j int) bool {
		ri, rj := stateRank(out[i].State), stateRank(out[j].State)
		if ri != rj {
			return ri < rj
		}
		return fifoLess(out[i], out[j])
	})
	return out, nil
}

func (st *state) findReservation(eventID, memberID int64) (domain.Reservation, bool) {
	for _, res := range st.reservations {
		if res.EventID == eventID && res.MemberID == memberID {
			return res, true
		}
	}
	return domain.Reservation{}, false
}

func fifoLess(a, b domain.Reservation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func stateRank(s domain.ReservationState) int {
	switch s {
	case domain.StateConfirmed:
		return 0
	case domain.StateWaitlisted:
		return 1
	case domain.StatePending:
		return 2
	}
	return 3
}

type chargeRepo struct{ v view }

func (r chargeRepo) FindActiveForEvent(_ context.Context, memberID, eventID int64) (*domain.PendingCharge, error) {
	const op = "memory.ChargeRepo.FindActiveForEvent"

	var out *domain.PendingCharge
	_ = r.v.do(func(st *state) error {
		out = st.findActiveCharge(func(c domain.PendingCharge) bool {
			return c.MemberID == memberID && c.EventID != nil && *c.EventID == eventID
		})
		return nil
	})
	if out == nil {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	return out, nil
}

func (r chargeRepo) FindActiveForPeriod(_ context.Context, memberID int64, period string) (*domain.PendingCharge, error) {
	const op = "memory.ChargeRepo.FindActiveForPeriod"

	var out *domain.PendingCharge
	_ = r.v.do(func(st *state) error {
		out = st.findActiveCharge(func(c domain.PendingCharge) bool {
			return c.MemberID == memberID && c.BillingPeriod != nil && *c.BillingPeriod == period
		})
		return nil
	})
	if out == nil {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	return out, nil
}

// Create enforces the same uniqueness as the partial indexes of the
// charges table: one active charge per (member, event) and per
// (member, period).
func (r chargeRepo) Create(_ context.Context, c *domain.PendingCharge) error {
	const op = "memory.ChargeRepo.Create"

	err := r.v.do(func(st *state) error {
		if _, ok := st.charges[c.ID]; ok {
			return repository.ErrConflict
		}
		if c.Status.Active() {
			dup := st.findActiveCharge(func(o domain.PendingCharge) bool {
				if o.MemberID != c.MemberID {
					return false
				}
				if c.EventID != nil && o.EventID != nil && *o.EventID == *c.EventID {
					return true
				}
				return c.BillingPeriod != nil && o.BillingPeriod != nil && *o.BillingPeriod == *c.BillingPeriod
			})
			if dup != nil {
				return repository.ErrConflict
			}
		}
		c.CreatedAt = st.stamp()
		st.charges[c.ID] = *c
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}
	return nil
}

func (r chargeRepo) CancelPendingForEvent(_ context.Context, memberID, eventID int64) (int64, error) {
	var n int64
	_ = r.v.do(func(st *state) error {
		for id, c := range st.charges {
			if c.MemberID == memberID && c.EventID != nil && *c.EventID == eventID &&
				c.Status == domain.ChargePending {
				c.Status = domain.ChargeCancelled
				st.charges[id] = c
				n++
			}
		}
		return nil
	})
	return n, nil
}

func (st *state) findActiveCharge(match func(domain.PendingCharge) bool) *domain.PendingCharge {
	var best *domain.PendingCharge
	for _, c := range st.charges {
		if !c.Status.Active() || !match(c) {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			cp := c
			best = &cp
		}
	}
	return best
}
