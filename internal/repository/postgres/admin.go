package postgresrepo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
)

type AdminRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *AdminRepo) With(db DB) *AdminRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *AdminRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// CreateMember stores a member and fills in its ID.
//
// Returns:
//   - error: repository.ErrConflict if the email is already taken.
func (r *AdminRepo) CreateMember(ctx context.Context, m *domain.Member) error {
	const op = "postgresrepo.AdminRepo.CreateMember"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO members(name, email, phone, tier, role, active, gateway_customer_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		m.Name, m.Email, m.Phone, string(m.Tier), m.Role, m.Active, m.GatewayCustomerID,
	).Scan(&m.ID); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// CreateEvents inserts events in one round trip and fills in their IDs.
func (r *AdminRepo) CreateEvents(ctx context.Context, events []domain.Event) error {
	const op = "postgresrepo.AdminRepo.CreateEvents"

	if len(events) == 0 {
		return nil
	}

	db := r.handle()

	batch := &pgx.Batch{}
	for i := range events {
		e := &events[i]
		batch.Queue(
			`INSERT INTO events(title, event_date, start_time, max_slots, price_cents, active, recurrence_id)
			 VALUES ($1, $2::date, $3::time, $4, $5, $6, $7)
			 RETURNING id`,
			e.Title, e.Date.Format("2006-01-02"), e.StartTime, e.MaxSlots, e.PriceCents, e.Active, e.RecurrenceID,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&e.ID)
		})
	}

	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

var _ repository.AdminRepo = (*AdminRepo)(nil)
