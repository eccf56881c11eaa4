package payment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/gateway/gatewaytest"
	"github.com/kirinyoku/pelada/internal/notifier"
	"github.com/kirinyoku/pelada/internal/notifier/notifiertest"
	"github.com/kirinyoku/pelada/internal/repository/memory"
)

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

type fixture struct {
	store  *memory.Store
	gw     *gatewaytest.Fake
	rec    *notifiertest.Recorder
	trig   *Trigger
	event  domain.Event
	member domain.Member
}

func newFixture(t *testing.T, cfg Config, lock Locker) *fixture {
	t.Helper()

	f := &fixture{
		store: memory.NewStore(),
		gw:    &gatewaytest.Fake{},
		rec:   &notifiertest.Recorder{},
	}
	f.event = f.store.AddEvent(domain.Event{
		Title: "Thursday", Date: time.Date(2026, 10, 22, 0, 0, 0, 0, time.UTC),
		StartTime: "20:00", MaxSlots: 14, PriceCents: 2500, Active: true,
	})
	f.member = f.store.AddMember(domain.Member{Name: "Caio", Email: "caio@example.com", Tier: domain.TierCasual, Active: true})
	require.NoError(t, f.store.Reservations().Insert(context.Background(), &domain.Reservation{
		EventID: f.event.ID, MemberID: f.member.ID, State: domain.StateConfirmed,
	}))
	f.trig = New(f.store, f.gw, f.rec, lock, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func TestEnsureCharge_CreatesOnce(t *testing.T) {
	f := newFixture(t, Config{CardFeePercent: 4.99, CardLinks: true}, nil)
	ctx := context.Background()

	first := f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500)
	require.NotNil(t, first)
	assert.Equal(t, domain.ChargePending, first.Status)
	assert.Equal(t, int64(2500), first.AmountCents)
	assert.Equal(t, int64(2625), first.CardAmountCents)
	require.NotNil(t, first.PaymentLink)
	assert.Equal(t, "PIX-1", first.Code)

	second := f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, f.gw.ChargeCount())
	assert.Len(t, f.store.AllCharges(), 1)

	msgs := f.rec.ByEvent(notifier.EventPaymentRequested)
	require.Len(t, msgs, 1)
	req := msgs[0].Payload.(Request)
	assert.Equal(t, "Caio", req.MemberName)
	assert.Equal(t, "Thursday", req.EventTitle)
	assert.Equal(t, "PIX-1", req.Code)
}

func TestEnsureCharge_ConcurrentCallsCreateOneCharge(t *testing.T) {
	f := newFixture(t, Config{}, &memLocker{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500)
		}()
	}
	wg.Wait()

	assert.Len(t, f.store.AllCharges(), 1)
	assert.Equal(t, 1, f.gw.ChargeCount())
	assert.Len(t, f.rec.ByEvent(notifier.EventPaymentRequested), 1)
}

func TestEnsureCharge_ConcurrentWithoutLockStillOneRow(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500)
		}()
	}
	wg.Wait()

	assert.Len(t, f.store.AllCharges(), 1)
	assert.Len(t, f.rec.ByEvent(notifier.EventPaymentRequested), 1)
}

func TestEnsureCharge_GatewayFailureIsAbsorbed(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	f.gw.SetFailCharges(true)

	assert.Nil(t, f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500))
	assert.Empty(t, f.store.AllCharges())
	assert.Empty(t, f.rec.Messages())

	f.gw.SetFailCharges(false)
	assert.NotNil(t, f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500))
	assert.Len(t, f.store.AllCharges(), 1)
}

func TestEnsureCharge_LinkFailureKeepsCharge(t *testing.T) {
	f := newFixture(t, Config{CardLinks: true}, nil)
	f.gw.FailLinks = true

	c := f.trig.EnsureCharge(context.Background(), f.member.ID, f.event.ID, 2500)
	require.NotNil(t, c)
	assert.Nil(t, c.PaymentLink)
}

func TestEnsureCharge_NotifierFailureKeepsCharge(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	f.rec.Fail()

	assert.NotNil(t, f.trig.EnsureCharge(context.Background(), f.member.ID, f.event.ID, 2500))
	assert.Len(t, f.store.AllCharges(), 1)
}

func TestEnsureCharge_ReservationGoneStoresCancelled(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Reservations().Delete(ctx, f.event.ID, f.member.ID))

	assert.Nil(t, f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500))

	charges := f.store.AllCharges()
	require.Len(t, charges, 1)
	assert.Equal(t, domain.ChargeCancelled, charges[0].Status)
	assert.Equal(t, "ch_1", charges[0].ExternalRef)
	assert.Empty(t, f.rec.Messages())
}

func TestEnsureCharge_DeclinedReservationIsNotCharged(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	res, err := f.store.Reservations().Get(ctx, f.event.ID, f.member.ID)
	require.NoError(t, err)
	_, err = f.store.Reservations().SetState(ctx, res.ID, domain.StateDeclined, nil)
	require.NoError(t, err)

	assert.Nil(t, f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500))

	_, err = f.store.Charges().FindActiveForEvent(ctx, f.member.ID, f.event.ID)
	assert.Error(t, err)
	assert.Empty(t, f.rec.ByEvent(notifier.EventPaymentRequested))
}

func TestEnsureCharge_SkipsWhenLockHeldElsewhere(t *testing.T) {
	lock := &memLocker{}
	f := newFixture(t, Config{}, lock)
	ctx := context.Background()

	_, _ = lock.AcquireLock(ctx, "pelada:v1:lock:charge:event:1:member:1", time.Minute)

	assert.Nil(t, f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500))
	assert.Equal(t, 0, f.gw.ChargeCount())
}

func TestCancelPending(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	require.NotNil(t, f.trig.EnsureCharge(ctx, f.member.ID, f.event.ID, 2500))

	n, err := f.trig.CancelPending(ctx, f.member.ID, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, domain.ChargeCancelled, f.store.AllCharges()[0].Status)

	n, err = f.trig.CancelPending(ctx, f.member.ID, f.event.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnsureMonthly_ReusesActiveCharge(t *testing.T) {
	f := newFixture(t, Config{}, nil)
	ctx := context.Background()

	c1, created, err := f.trig.EnsureMonthly(ctx, &f.member, "2026-10", 12000)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, c1.BillingPeriod)
	assert.Nil(t, c1.EventID)

	c2, created, err := f.trig.EnsureMonthly(ctx, &f.member, "2026-10", 12000)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID)

	assert.Empty(t, f.rec.Messages())
}

func TestSurcharge(t *testing.T) {
	assert.Equal(t, int64(2500), Surcharge(2500, 0))
	assert.Equal(t, int64(2625), Surcharge(2500, 4.99))
	assert.Equal(t, int64(2600), Surcharge(2500, 4))
	assert.Equal(t, int64(1), Surcharge(1, 10))
}
