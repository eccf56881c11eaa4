package postgresrepo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
)

const chargeColumns = `id, member_id, event_id, amount_cents, card_amount_cents, method, status,
	external_ref, code, payment_link, billing_period, created_at`

type ChargeRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ChargeRepo) With(db DB) *ChargeRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ChargeRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// FindActiveForEvent returns the PENDING or CONFIRMED charge of a member
// for an event.
//
// Returns:
//   - error: repository.ErrNotFound if no active charge exists.
func (r *ChargeRepo) FindActiveForEvent(ctx context.Context, memberID, eventID int64) (*domain.PendingCharge, error) {
	const op = "postgresrepo.ChargeRepo.FindActiveForEvent"

	db := r.handle()

	c, err := scanCharge(db.QueryRow(ctx,
		`SELECT `+chargeColumns+`
		 FROM charges
		 WHERE member_id = $1 AND event_id = $2 AND status IN ('PENDING', 'CONFIRMED')
		 ORDER BY created_at DESC
		 LIMIT 1`,
		memberID, eventID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return c, nil
}

// FindActiveForPeriod returns the PENDING or CONFIRMED charge of a member
// for a billing period.
//
// Returns:
//   - error: repository.ErrNotFound if no active charge exists.
func (r *ChargeRepo) FindActiveForPeriod(ctx context.Context, memberID int64, period string) (*domain.PendingCharge, error) {
	const op = "postgresrepo.ChargeRepo.FindActiveForPeriod"

	db := r.handle()

	c, err := scanCharge(db.QueryRow(ctx,
		`SELECT `+chargeColumns+`
		 FROM charges
		 WHERE member_id = $1 AND billing_period = $2 AND status IN ('PENDING', 'CONFIRMED')
		 ORDER BY created_at DESC
		 LIMIT 1`,
		memberID, period,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return c, nil
}

// Create stores a new charge.
//
// Returns:
//   - error: repository.ErrConflict if an active charge already exists
//     for the same (member, event) or (member, period) key.
func (r *ChargeRepo) Create(ctx context.Context, c *domain.PendingCharge) error {
	const op = "postgresrepo.ChargeRepo.Create"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO charges(id, member_id, event_id, amount_cents, card_amount_cents, method, status,
		                     external_ref, code, payment_link, billing_period)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING created_at`,
		c.ID, c.MemberID, c.EventID, c.AmountCents, c.CardAmountCents, string(c.Method), string(c.Status),
		c.ExternalRef, c.Code, c.PaymentLink, c.BillingPeriod,
	).Scan(&c.CreatedAt); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// CancelPendingForEvent cancels the PENDING charges of a member for an
// event. Confirmed charges are left untouched.
func (r *ChargeRepo) CancelPendingForEvent(ctx context.Context, memberID, eventID int64) (int64, error) {
	const op = "postgresrepo.ChargeRepo.CancelPendingForEvent"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE charges
		 SET status = 'CANCELLED', updated_at = now()
		 WHERE member_id = $1 AND event_id = $2 AND status = 'PENDING'`,
		memberID, eventID,
	)
	if err != nil {
		return 0, wrapDBErr(op, err)
	}

	return tag.RowsAffected(), nil
}

func scanCharge(row rowScanner) (*domain.PendingCharge, error) {
	var (
		c      domain.PendingCharge
		method string
		status string
	)
	if err := row.Scan(
		&c.ID,
		&c.MemberID,
		&c.EventID,
		&c.AmountCents,
		&c.CardAmountCents,
		&method,
		&status,
		&c.ExternalRef,
		&c.Code,
		&c.PaymentLink,
		&c.BillingPeriod,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}

	c.Method = domain.PaymentMethod(method)
	c.Status = domain.ChargeStatus(status)
	return &c, nil
}

var _ repository.ChargeRepo = (*ChargeRepo)(nil)
