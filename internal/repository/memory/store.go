// Package memory is a process-local implementation of the repository
// interfaces. RunTx holds a store-wide lock, so transactions are fully
// serialized, and a failed transaction restores the state it started from.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
)

type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	events       map[int64]domain.Event
	members      map[int64]domain.Member
	reservations map[int64]domain.Reservation
	charges      map[uuid.UUID]domain.PendingCharge

	nextEventID       int64
	nextMemberID      int64
	nextReservationID int64
	lastStamp         time.Time
	now               func() time.Time
}

func NewStore() *Store {
	return &Store{
		st: &state{
			events:       make(map[int64]domain.Event),
			members:      make(map[int64]domain.Member),
			reservations: make(map[int64]domain.Reservation),
			charges:      make(map[uuid.UUID]domain.PendingCharge),
			now:          time.Now,
		},
	}
}

// RunTx runs fn while holding the store lock. Any error rolls the store
// back to the state it had when fn started.
func (s *Store) RunTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()

	if err := fn(ctx, view{s: s, locked: true}); err != nil {
		s.st = snapshot
		return err
	}

	return nil
}

func (s *Store) Events() repository.EventRepo             { return eventRepo{view{s: s}} }
func (s *Store) Members() repository.MemberRepo           { return memberRepo{view{s: s}} }
func (s *Store) Reservations() repository.ReservationRepo { return reservationRepo{view{s: s}} }
func (s *Store) Charges() repository.ChargeRepo           { return chargeRepo{view{s: s}} }
func (s *Store) Admin() repository.AdminRepo              { return adminRepo{view{s: s}} }

// AddEvent stores e, assigning an ID when it has none.
func (s *Store) AddEvent(e domain.Event) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == 0 {
		s.st.nextEventID++
		e.ID = s.st.nextEventID
	} else if e.ID > s.st.nextEventID {
		s.st.nextEventID = e.ID
	}
	s.st.events[e.ID] = e
	return e
}

// AddMember stores m, assigning an ID when it has none.
func (s *Store) AddMember(m domain.Member) domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		s.st.nextMemberID++
		m.ID = s.st.nextMemberID
	} else if m.ID > s.st.nextMemberID {
		s.st.nextMemberID = m.ID
	}
	if m.Role == "" {
		m.Role = domain.RoleMember
	}
	s.st.members[m.ID] = m
	return m
}

// SetChargeStatus overrides the status of a stored charge, standing in for
// the gateway callback that settles charges.
func (s *Store) SetChargeStatus(id uuid.UUID, status domain.ChargeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.st.charges[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Status = status
	s.st.charges[id] = c
	return nil
}

// AllCharges returns a copy of every stored charge.
func (s *Store) AllCharges() []domain.PendingCharge {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.PendingCharge, 0, len(s.st.charges))
	for _, c := range s.st.charges {
		out = append(out, c)
	}
	return out
}

// SetClock replaces the source of reservation timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.now = now
}

type seedFile struct {
	Events  []domain.Event  `json:"events"`
	Members []domain.Member `json:"members"`
}

// LoadSeed reads a JSON document of the form {"events": [...], "members": [...]}
// and adds its contents to the store.
func (s *Store) LoadSeed(r io.Reader) error {
	const op = "memory.Store.LoadSeed"

	var sf seedFile
	if err := json.NewDecoder(r).Decode(&sf); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	for _, e := range sf.Events {
		s.AddEvent(e)
	}
	for _, m := range sf.Members {
		s.AddMember(m)
	}

	return nil
}

func (st *state) clone() *state {
	cp := *st
	cp.events = make(map[int64]domain.Event, len(st.events))
	for k, v := range st.events {
		cp.events[k] = v
	}
	cp.members = make(map[int64]domain.Member, len(st.members))
	for k, v := range st.members {
		cp.members[k] = v
	}
	cp.reservations = make(map[int64]domain.Reservation, len(st.reservations))
	for k, v := range st.reservations {
		cp.reservations[k] = v
	}
	cp.charges = make(map[uuid.UUID]domain.PendingCharge, len(st.charges))
	for k, v := range st.charges {
		cp.charges[k] = v
	}
	return &cp
}

// stamp returns a strictly increasing timestamp so insertion order is
// preserved even when the clock does not advance.
func (st *state) stamp() time.Time {
	t := st.now().UTC()
	if !t.After(st.lastStamp) {
		t = st.lastStamp.Add(time.Microsecond)
	}
	st.lastStamp = t
	return t
}

// view gives repositories access to the state, taking the store lock per
// call unless it is already held by RunTx.
type view struct {
	s      *Store
	locked bool
}

func (v view) do(fn func(st *state) error) error {
	if !v.locked {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
	}
	return fn(v.s.st)
}

func (v view) Events() repository.EventRepo             { return eventRepo{v} }
func (v view) Members() repository.MemberRepo           { return memberRepo{v} }
func (v view) Reservations() repository.ReservationRepo { return reservationRepo{v} }
func (v view) Charges() repository.ChargeRepo           { return chargeRepo{v} }
func (v view) Admin() repository.AdminRepo              { return adminRepo{v} }

var (
	_ repository.Store = (*Store)(nil)
	_ repository.Tx    = view{}
)
