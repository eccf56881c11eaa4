package policy

import (
	"errors"

	"github.com/kirinyoku/pelada/internal/domain"
)

var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrInvalidState     = errors.New("requested state must be CONFIRMED or DECLINED")
)

const DefaultCasualWindowHours = 4.0

type Config struct {
	// CasualWindowHours is how close to the start non-priority members
	// may take a slot directly. Further out they are waitlisted.
	CasualWindowHours float64
}

type Policy struct {
	cfg Config
}

func New(cfg Config) *Policy {
	if cfg.CasualWindowHours <= 0 {
		cfg.CasualWindowHours = DefaultCasualWindowHours
	}

	return &Policy{cfg: cfg}
}

type Input struct {
	Tier           domain.Tier
	Requested      domain.ReservationState
	Current        *domain.ReservationState
	ConfirmedCount int
	Capacity       int
	HoursUntil     float64
}

// Decide returns the state a reservation request should land in.
//
// Parameters:
//   - in: member tier, requested and current state, occupancy and the
//     hours remaining until the event starts.
//
// Returns:
//   - domain.ReservationState: DECLINED, WAITLISTED or CONFIRMED.
//   - error: policy.ErrCapacityExceeded if the event is full and the
//     member does not already hold a confirmed slot.
//   - error: policy.ErrInvalidState for any other requested state.
func (p *Policy) Decide(in Input) (domain.ReservationState, error) {
	switch in.Requested {
	case domain.StateDeclined:
		return domain.StateDeclined, nil
	case domain.StateConfirmed:
	default:
		return "", ErrInvalidState
	}

	if in.Current != nil && *in.Current == domain.StateConfirmed {
		return domain.StateConfirmed, nil
	}

	// exactly on the boundary counts as inside the window
	if !in.Tier.IsPriority() && in.HoursUntil > p.cfg.CasualWindowHours {
		return domain.StateWaitlisted, nil
	}

	if in.ConfirmedCount >= in.Capacity {
		return "", ErrCapacityExceeded
	}

	return domain.StateConfirmed, nil
}

// Vacancies is the number of confirmed slots still free.
func Vacancies(capacity, confirmed int) int {
	if v := capacity - confirmed; v > 0 {
		return v
	}
	return 0
}
