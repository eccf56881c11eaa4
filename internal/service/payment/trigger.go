package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/gateway"
	"github.com/kirinyoku/pelada/internal/notifier"
	redisx "github.com/kirinyoku/pelada/internal/redis"
	"github.com/kirinyoku/pelada/internal/repository"
)

const DefaultLockTTL = 30 * time.Second

// Locker is a best-effort distributed mutex. The unique indexes on the
// charges table stay authoritative when it is unavailable.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Config struct {
	// CardFeePercent is the surcharge applied to the card amount.
	CardFeePercent float64
	// CardLinks enables payment links for the card amount.
	CardLinks bool
	LockTTL   time.Duration
	Location  *time.Location
}

// Trigger creates at most one active charge per member and event (or
// billing period) and announces it through the notifier.
type Trigger struct {
	store  repository.Store
	gw     gateway.Gateway
	notify notifier.Notifier
	lock   Locker
	cfg    Config
	log    *slog.Logger
}

// New builds a Trigger. lock may be nil.
func New(
	store repository.Store,
	gw gateway.Gateway,
	notify notifier.Notifier,
	lock Locker,
	cfg Config,
	log *slog.Logger,
) *Trigger {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if notify == nil {
		notify = notifier.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Trigger{
		store:  store,
		gw:     gw,
		notify: notify,
		lock:   lock,
		cfg:    cfg,
		log:    log,
	}
}

// Request is the payment.requested payload.
type Request struct {
	ChargeID        uuid.UUID  `json:"charge_id"`
	MemberID        int64      `json:"member_id"`
	MemberName      string     `json:"member_name"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	EventID         *int64     `json:"event_id,omitempty"`
	EventTitle      string     `json:"event_title,omitempty"`
	StartsAt        *time.Time `json:"starts_at,omitempty"`
	BillingPeriod   *string    `json:"billing_period,omitempty"`
	AmountCents     int64      `json:"amount_cents"`
	CardAmountCents int64      `json:"card_amount_cents"`
	Code            string     `json:"code"`
	PaymentLink     *string    `json:"payment_link,omitempty"`
}

// target describes one idempotency slot: a (member, event) or a
// (member, period) pair.
type target struct {
	member      *domain.Member
	event       *domain.Event
	period      *string
	amountCents int64
	description string
	lockKey     string
}

func (t target) find(ctx context.Context, charges repository.ChargeRepo) (*domain.PendingCharge, error) {
	if t.event != nil {
		return charges.FindActiveForEvent(ctx, t.member.ID, t.event.ID)
	}
	return charges.FindActiveForPeriod(ctx, t.member.ID, *t.period)
}

// EnsureCharge makes sure the member has an active charge for the event
// and returns it. It returns nil when no charge exists afterwards; every
// failure is logged and absorbed.
func (t *Trigger) EnsureCharge(ctx context.Context, memberID, eventID, amountCents int64) *domain.PendingCharge {
	log := t.log.With(slog.Int64("member_id", memberID), slog.Int64("event_id", eventID))

	existing, err := t.store.Charges().FindActiveForEvent(ctx, memberID, eventID)
	switch {
	case err == nil:
		return existing
	case !errors.Is(err, repository.ErrNotFound):
		log.Error("charge lookup failed", slog.Any("err", err))
		return nil
	}

	member, err := t.store.Members().Get(ctx, memberID)
	if err != nil {
		log.Error("charge member lookup failed", slog.Any("err", err))
		return nil
	}

	event, err := t.store.Events().Get(ctx, eventID)
	if err != nil {
		log.Error("charge event lookup failed", slog.Any("err", err))
		return nil
	}

	tg := target{
		member:      member,
		event:       event,
		amountCents: amountCents,
		description: fmt.Sprintf("%s %s %s", event.Title, event.Date.Format(time.DateOnly), event.StartTime),
		lockKey:     redisx.KeyChargeLock(fmt.Sprintf("event:%d:member:%d", eventID, memberID)),
	}

	c, created, err := t.ensure(ctx, tg)
	if err != nil {
		switch {
		case errors.Is(err, ErrInFlight):
			log.Info("charge creation in flight elsewhere")
		case errors.Is(err, ErrNotConfirmed):
			log.Info("charge skipped, reservation no longer confirmed")
		default:
			log.Warn("charge not created", slog.Any("err", err))
		}
		return nil
	}

	if created {
		if err := t.notify.Send(ctx, notifier.EventPaymentRequested, t.requestPayload(member, event, c)); err != nil {
			log.Warn("payment notification failed", slog.Any("err", err))
		}
		log.Info("charge created", slog.String("charge_id", c.ID.String()), slog.Int64("amount_cents", c.AmountCents))
	}

	return c
}

// EnsureMonthly makes sure the member has an active charge for the
// billing period. created is false when an existing charge was returned.
// No notification is sent; the caller batches payloads.
func (t *Trigger) EnsureMonthly(
	ctx context.Context,
	member *domain.Member,
	period string,
	amountCents int64,
) (*domain.PendingCharge, bool, error) {
	const op = "payment.Trigger.EnsureMonthly"

	tg := target{
		member:      member,
		period:      &period,
		amountCents: amountCents,
		description: "Monthly fee " + period,
		lockKey:     redisx.KeyChargeLock(fmt.Sprintf("period:%s:member:%d", period, member.ID)),
	}

	existing, err := tg.find(ctx, t.store.Charges())
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, fmt.Errorf("%s:%w", op, err)
	}

	c, created, err := t.ensure(ctx, tg)
	if err != nil {
		return nil, false, fmt.Errorf("%s:%w", op, err)
	}

	return c, created, nil
}

// CancelPending cancels the PENDING charges of a member for an event.
func (t *Trigger) CancelPending(ctx context.Context, memberID, eventID int64) (int64, error) {
	const op = "payment.Trigger.CancelPending"

	n, err := t.store.Charges().CancelPendingForEvent(ctx, memberID, eventID)
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	if n > 0 {
		t.log.Info("pending charges cancelled",
			slog.Int64("member_id", memberID),
			slog.Int64("event_id", eventID),
			slog.Int64("count", n),
		)
	}

	return n, nil
}

// RequestPayload builds the payment.requested payload of a charge.
func (t *Trigger) RequestPayload(member *domain.Member, c *domain.PendingCharge) Request {
	return t.requestPayload(member, nil, c)
}

func (t *Trigger) requestPayload(member *domain.Member, event *domain.Event, c *domain.PendingCharge) Request {
	req := Request{
		ChargeID:        c.ID,
		MemberID:        member.ID,
		MemberName:      member.Name,
		Email:           member.Email,
		Phone:           member.Phone,
		EventID:         c.EventID,
		BillingPeriod:   c.BillingPeriod,
		AmountCents:     c.AmountCents,
		CardAmountCents: c.CardAmountCents,
		Code:            c.Code,
		PaymentLink:     c.PaymentLink,
	}

	if event != nil {
		req.EventTitle = event.Title
		if startsAt, err := domain.StartsAt(event.Date, event.StartTime, t.cfg.Location); err == nil {
			req.StartsAt = &startsAt
		}
	}

	return req
}

func (t *Trigger) ensure(ctx context.Context, tg target) (*domain.PendingCharge, bool, error) {
	if t.lock != nil {
		ok, err := t.lock.AcquireLock(ctx, tg.lockKey, t.cfg.LockTTL)
		switch {
		case err != nil:
			t.log.Warn("charge lock unavailable", slog.String("key", tg.lockKey), slog.Any("err", err))
		case !ok:
			if c, err := tg.find(ctx, t.store.Charges()); err == nil {
				return c, false, nil
			}
			return nil, false, ErrInFlight
		default:
			defer func() {
				if err := t.lock.Release(context.WithoutCancel(ctx), tg.lockKey); err != nil {
					t.log.Warn("charge lock release failed", slog.String("key", tg.lockKey), slog.Any("err", err))
				}
			}()

			// the previous holder may have finished between our lookup and the lock
			if c, err := tg.find(ctx, t.store.Charges()); err == nil {
				return c, false, nil
			}
		}
	}

	id := uuid.New()
	cardAmount := Surcharge(tg.amountCents, t.cfg.CardFeePercent)

	ch, err := t.gw.CreateCharge(ctx, gateway.ChargeRequest{
		ReferenceID: id.String(),
		CustomerID:  tg.member.GatewayCustomerID,
		Name:        tg.member.Name,
		Email:       tg.member.Email,
		Phone:       tg.member.Phone,
		AmountCents: tg.amountCents,
		Description: tg.description,
	})
	if err != nil {
		return nil, false, err
	}

	var link *string
	if t.cfg.CardLinks {
		url, err := t.gw.CreatePaymentLink(ctx, gateway.LinkRequest{
			ReferenceID: id.String(),
			AmountCents: cardAmount,
			Description: tg.description,
		})
		if err != nil {
			t.log.Warn("payment link not created", slog.String("charge_id", id.String()), slog.Any("err", err))
		} else {
			link = &url
		}
	}

	c := &domain.PendingCharge{
		ID:              id,
		MemberID:        tg.member.ID,
		AmountCents:     tg.amountCents,
		CardAmountCents: cardAmount,
		Method:          domain.MethodPix,
		Status:          domain.ChargePending,
		ExternalRef:     ch.ID,
		Code:            ch.Code,
		PaymentLink:     link,
		BillingPeriod:   tg.period,
	}
	if tg.event != nil {
		eventID := tg.event.ID
		c.EventID = &eventID
	}

	var dropped bool
	err = t.store.RunTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if tg.event != nil {
			ok, err := stillConfirmed(ctx, tx, tg.member.ID, tg.event.ID)
			if err != nil {
				return err
			}
			if !ok {
				// keep the gateway reference, but never as an active charge
				c.Status = domain.ChargeCancelled
				dropped = true
			}
		}
		return tx.Charges().Create(ctx, c)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			winner, ferr := tg.find(ctx, t.store.Charges())
			if ferr == nil {
				t.log.Warn("charge lost creation race",
					slog.String("external_ref", ch.ID),
					slog.String("winner_id", winner.ID.String()),
				)
				return winner, false, nil
			}
		}
		return nil, false, err
	}
	if dropped {
		t.log.Warn("reservation left while charging, charge stored as cancelled",
			slog.String("charge_id", id.String()),
			slog.String("external_ref", ch.ID),
		)
		return nil, false, ErrNotConfirmed
	}

	return c, true, nil
}

// stillConfirmed locks the event row, the same lock Respond and Withdraw
// take, and reports whether the member still holds a confirmed slot.
func stillConfirmed(ctx context.Context, tx repository.Tx, memberID, eventID int64) (bool, error) {
	if _, err := tx.Events().GetForUpdate(ctx, eventID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	res, err := tx.Reservations().Get(ctx, eventID, memberID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	return res.State == domain.StateConfirmed, nil
}

// Surcharge applies a percentage fee to an amount in cents, rounding half
// away from zero.
func Surcharge(amountCents int64, feePercent float64) int64 {
	return int64(math.Round(float64(amountCents) * (1 + feePercent/100)))
}
