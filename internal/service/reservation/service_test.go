package reservation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/pelada/internal/dispatch"
	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/gateway/gatewaytest"
	"github.com/kirinyoku/pelada/internal/notifier/notifiertest"
	"github.com/kirinyoku/pelada/internal/repository"
	"github.com/kirinyoku/pelada/internal/repository/memory"
	"github.com/kirinyoku/pelada/internal/service/payment"
	"github.com/kirinyoku/pelada/internal/service/policy"
)

var eventStart = time.Date(2026, 10, 22, 20, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	gw    *gatewaytest.Fake
	disp  *dispatch.Dispatcher
	svc   *Service
	event domain.Event

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, capacity int, before time.Duration) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		store: memory.NewStore(),
		gw:    &gatewaytest.Fake{},
		now:   eventStart.Add(-before),
	}
	f.disp = dispatch.New(dispatch.Config{}, log)
	f.event = f.store.AddEvent(domain.Event{
		Title: "Thursday", Date: time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC),
		StartTime: "20:00", MaxSlots: capacity, PriceCents: 2500, Active: true,
	})

	trig := payment.New(f.store, f.gw, &notifiertest.Recorder{}, nil, payment.Config{}, log)
	f.svc = New(Deps{
		Store:    f.store,
		Policy:   policy.New(policy.Config{}),
		Charger:  trig,
		Dispatch: f.disp,
		Log:      log,
	}, Config{Location: time.UTC, Now: f.clock})

	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setBefore(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = eventStart.Add(-d)
}

func (f *fixture) member(tier domain.Tier) domain.Member {
	return f.store.AddMember(domain.Member{Name: string(tier), Tier: tier, Active: true})
}

func (f *fixture) confirm(m domain.Member) (*domain.Reservation, error) {
	return f.svc.Respond(context.Background(), RespondRequest{
		EventID: f.event.ID, MemberID: m.ID, State: domain.StateConfirmed,
	})
}

func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.disp.Wait(ctx))
}

func TestRespond_PriorityBypassesWaitlist(t *testing.T) {
	f := newFixture(t, 10, 10*time.Hour)

	for _, tier := range []domain.Tier{domain.TierSubscriber, domain.TierKeeper} {
		res, err := f.confirm(f.member(tier))
		require.NoError(t, err)
		assert.Equal(t, domain.StateConfirmed, res.State, tier)
	}

	f.drain(t)
	assert.Zero(t, f.gw.ChargeCount())
}

func TestRespond_CasualWindowBoundary(t *testing.T) {
	f := newFixture(t, 10, 4*time.Hour)

	res, err := f.confirm(f.member(domain.TierCasual))
	require.NoError(t, err)
	assert.Equal(t, domain.StateConfirmed, res.State)

	f.setBefore(4*time.Hour + 36*time.Second)
	res, err = f.confirm(f.member(domain.TierCasual))
	require.NoError(t, err)
	assert.Equal(t, domain.StateWaitlisted, res.State)

	f.drain(t)
	assert.Equal(t, 1, f.gw.ChargeCount())
}

func TestRespond_IsIdempotent(t *testing.T) {
	f := newFixture(t, 10, 2*time.Hour)
	m := f.member(domain.TierCasual)

	first, err := f.confirm(m)
	require.NoError(t, err)
	f.drain(t)

	second, err := f.confirm(m)
	require.NoError(t, err)
	f.drain(t)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	list, err := f.svc.Roster(context.Background(), f.event.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.Len(t, f.store.AllCharges(), 1)
	assert.Equal(t, 1, f.gw.ChargeCount())
}

func TestRespond_CapacityOneScenario(t *testing.T) {
	f := newFixture(t, 1, 2*time.Hour)

	_, err := f.confirm(f.member(domain.TierCasual))
	require.NoError(t, err)

	_, err = f.confirm(f.member(domain.TierCasual))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestRespond_ReconfirmOnFullEventIsNoop(t *testing.T) {
	f := newFixture(t, 1, 2*time.Hour)
	m := f.member(domain.TierSubscriber)

	_, err := f.confirm(m)
	require.NoError(t, err)

	res, err := f.confirm(m)
	require.NoError(t, err)
	assert.Equal(t, domain.StateConfirmed, res.State)
}

func TestRespond_CapacityHoldsUnderConcurrency(t *testing.T) {
	const capacity, members = 10, 30
	f := newFixture(t, capacity, 2*time.Hour)

	ms := make([]domain.Member, members)
	for i := range ms {
		tier := domain.TierSubscriber
		if i%2 == 0 {
			tier = domain.TierCasual
		}
		ms[i] = f.member(tier)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, full int
	)
	for _, m := range ms {
		wg.Add(1)
		go func(m domain.Member) {
			defer wg.Done()
			_, err := f.confirm(m)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrCapacityExceeded):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(m)
	}
	wg.Wait()
	f.drain(t)

	assert.Equal(t, capacity, ok)
	assert.Equal(t, members-capacity, full)

	counts, err := f.store.Reservations().Counts(context.Background(), f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(capacity), counts.Confirmed)
}

func TestRespond_NotFound(t *testing.T) {
	f := newFixture(t, 10, 2*time.Hour)
	ctx := context.Background()
	m := f.member(domain.TierCasual)

	_, err := f.svc.Respond(ctx, RespondRequest{EventID: 999, MemberID: m.ID, State: domain.StateConfirmed})
	assert.ErrorIs(t, err, ErrEventNotFound)

	_, err = f.svc.Respond(ctx, RespondRequest{EventID: f.event.ID, MemberID: 999, State: domain.StateConfirmed})
	assert.ErrorIs(t, err, ErrMemberNotFound)

	inactive := f.store.AddMember(domain.Member{Name: "gone", Tier: domain.TierCasual})
	_, err = f.svc.Respond(ctx, RespondRequest{EventID: f.event.ID, MemberID: inactive.ID, State: domain.StateConfirmed})
	assert.ErrorIs(t, err, ErrMemberNotFound)

	closed := f.store.AddEvent(domain.Event{Date: f.event.Date, StartTime: "20:00", MaxSlots: 10})
	_, err = f.svc.Respond(ctx, RespondRequest{EventID: closed.ID, MemberID: m.ID, State: domain.StateConfirmed})
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRespond_InvalidState(t *testing.T) {
	f := newFixture(t, 10, 2*time.Hour)

	_, err := f.svc.Respond(context.Background(), RespondRequest{
		EventID: f.event.ID, MemberID: f.member(domain.TierCasual).ID, State: domain.StateWaitlisted,
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRespond_RejectsConfirmationLongAfterStart(t *testing.T) {
	f := newFixture(t, 10, -2*time.Hour)
	m := f.member(domain.TierSubscriber)

	_, err := f.confirm(m)
	assert.ErrorIs(t, err, ErrEventClosed)

	res, err := f.svc.Respond(context.Background(), RespondRequest{
		EventID: f.event.ID, MemberID: m.ID, State: domain.StateDeclined,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeclined, res.State)
}

func TestRespond_DeclineAfterConfirmCancelsCharge(t *testing.T) {
	f := newFixture(t, 10, 2*time.Hour)
	m := f.member(domain.TierGuest)

	_, err := f.confirm(m)
	require.NoError(t, err)
	f.drain(t)
	require.Len(t, f.store.AllCharges(), 1)

	res, err := f.svc.Respond(context.Background(), RespondRequest{
		EventID: f.event.ID, MemberID: m.ID, State: domain.StateDeclined,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeclined, res.State)
	f.drain(t)

	assert.Equal(t, domain.ChargeCancelled, f.store.AllCharges()[0].Status)
}

func TestRespond_GuestNameIsKeptWhenOmitted(t *testing.T) {
	f := newFixture(t, 10, 10*time.Hour)
	m := f.member(domain.TierSubscriber)
	name := "Rafa"

	_, err := f.svc.Respond(context.Background(), RespondRequest{
		EventID: f.event.ID, MemberID: m.ID, State: domain.StateConfirmed, GuestName: &name,
	})
	require.NoError(t, err)

	res, err := f.confirm(m)
	require.NoError(t, err)
	require.NotNil(t, res.GuestName)
	assert.Equal(t, "Rafa", *res.GuestName)
}

func TestWithdraw_CancelsPendingCharge(t *testing.T) {
	f := newFixture(t, 10, 2*time.Hour)
	m := f.member(domain.TierCasual)

	_, err := f.confirm(m)
	require.NoError(t, err)
	f.drain(t)
	require.Len(t, f.store.AllCharges(), 1)

	require.NoError(t, f.svc.Withdraw(context.Background(), f.event.ID, m.ID))

	assert.Equal(t, domain.ChargeCancelled, f.store.AllCharges()[0].Status)
	list, err := f.svc.Roster(context.Background(), f.event.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, f.svc.Withdraw(context.Background(), f.event.ID, m.ID), ErrReservationNotFound)
}

// holdCharge makes the next gateway charge block until the returned
// release func is called, and waits until it has started.
func (f *fixture) holdCharge(t *testing.T, m domain.Member) (release func()) {
	t.Helper()

	gate := make(chan struct{})
	f.gw.Gate = gate

	_, err := f.confirm(m)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.gw.Started() == 1 }, 2*time.Second, 5*time.Millisecond)

	return func() { close(gate) }
}

func (f *fixture) assertNoActiveCharge(t *testing.T, m domain.Member) {
	t.Helper()

	_, err := f.store.Charges().FindActiveForEvent(context.Background(), m.ID, f.event.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	for _, c := range f.store.AllCharges() {
		assert.Equal(t, domain.ChargeCancelled, c.Status)
	}
}

func TestWithdraw_WhileGatewayIsSlow(t *testing.T) {
	f := newFixture(t, 10, 2*time.Hour)
	m := f.member(domain.TierCasual)

	release := f.holdCharge(t, m)
	require.NoError(t, f.svc.Withdraw(context.Background(), f.event.ID, m.ID))
	release()
	f.drain(t)

	f.assertNoActiveCharge(t, m)
}

func TestRespond_DeclineWhileGatewayIsSlow(t *testing.T) {
	f := newFixture(t, 10, 2*time.Hour)
	m := f.member(domain.TierCasual)

	release := f.holdCharge(t, m)
	res, err := f.svc.Respond(context.Background(), RespondRequest{
		EventID: f.event.ID, MemberID: m.ID, State: domain.StateDeclined,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeclined, res.State)
	release()
	f.drain(t)

	f.assertNoActiveCharge(t, m)
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string) (bool, int64, time.Duration, error) {
	return false, 11, 3 * time.Second, nil
}

func TestRespond_RateLimited(t *testing.T) {
	f := newFixture(t, 10, 2*time.Hour)
	f.svc.limiter = denyLimiter{}

	_, err := f.confirm(f.member(domain.TierCasual))

	var rl RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
}
