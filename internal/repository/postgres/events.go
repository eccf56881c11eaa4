package postgresrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
)

const eventColumns = `id, title, event_date, to_char(start_time, 'HH24:MI'), max_slots, price_cents, active, recurrence_id`

type EventRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *EventRepo) With(db DB) *EventRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *EventRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Get retrieves an event by its ID, active or not.
//
// Returns:
//   - *domain.Event: the event when found.
//   - error: repository.ErrNotFound if the event is not found.
func (r *EventRepo) Get(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgresrepo.EventRepo.Get"

	db := r.handle()

	e, err := scanEvent(db.QueryRow(ctx,
		`SELECT `+eventColumns+`
		 FROM events WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return e, nil
}

// GetForUpdate locks the row of an active event for the rest of the
// transaction. Every write that depends on the confirmed count of the
// event must go through this lock first.
//
// Returns:
//   - *domain.Event: the locked event.
//   - error: repository.ErrNotFound if the event is missing or inactive.
func (r *EventRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "postgresrepo.EventRepo.GetForUpdate"

	db := r.handle()

	e, err := scanEvent(db.QueryRow(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE id = $1 AND active
		 FOR UPDATE`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return e, nil
}

// ListActiveBetween lists active events whose date falls within
// [fromDate, toDate], ordered by date and start time.
func (r *EventRepo) ListActiveBetween(ctx context.Context, fromDate, toDate time.Time) ([]domain.Event, error) {
	const op = "postgresrepo.EventRepo.ListActiveBetween"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE active AND event_date BETWEEN $1::date AND $2::date
		 ORDER BY event_date, start_time, id`,
		fromDate.Format(time.DateOnly), toDate.Format(time.DateOnly),
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var e domain.Event
	if err := row.Scan(
		&e.ID,
		&e.Title,
		&e.Date,
		&e.StartTime,
		&e.MaxSlots,
		&e.PriceCents,
		&e.Active,
		&e.RecurrenceID,
	); err != nil {
		return nil, err
	}

	return &e, nil
}

var _ repository.EventRepo = (*EventRepo)(nil)
