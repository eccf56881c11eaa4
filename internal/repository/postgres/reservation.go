package postgresrepo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
)

const reservationColumns = `id, event_id, member_id, guest_name, state, created_at, updated_at`

type ReservationRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ReservationRepo) With(db DB) *ReservationRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ReservationRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Get retrieves the reservation of a member for an event.
//
// Returns:
//   - *domain.Reservation: the reservation when found.
//   - error: repository.ErrNotFound if the member has not responded yet.
func (r *ReservationRepo) Get(ctx context.Context, eventID, memberID int64) (*domain.Reservation, error) {
	const op = "postgresrepo.ReservationRepo.Get"

	db := r.handle()

	res, err := scanReservation(db.QueryRow(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE event_id = $1 AND member_id = $2`,
		eventID, memberID,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return res, nil
}

// Counts counts reservations of an event by state.
func (r *ReservationRepo) Counts(ctx context.Context, eventID int64) (*domain.EventCounts, error) {
	const op = "postgresrepo.ReservationRepo.Counts"

	db := r.handle()

	var ec domain.EventCounts
	err := db.QueryRow(ctx,
		`SELECT
		 	COALESCE(SUM(CASE WHEN state = 'CONFIRMED' THEN 1 ELSE 0 END), 0),
		 	COALESCE(SUM(CASE WHEN state = 'WAITLISTED' THEN 1 ELSE 0 END), 0),
		 	COALESCE(SUM(CASE WHEN state = 'DECLINED' THEN 1 ELSE 0 END), 0),
		 	COALESCE(SUM(CASE WHEN state = 'PENDING' THEN 1 ELSE 0 END), 0)
		 FROM reservations
		 WHERE event_id = $1`,
		eventID,
	).Scan(&ec.Confirmed, &ec.Waitlisted, &ec.Declined, &ec.Pending)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return &ec, nil
}

// Insert creates a reservation and fills in its ID and timestamps.
// created_at comes from clock_timestamp() so rows inserted by the same
// transaction still get distinct waitlist positions.
//
// Returns:
//   - error: repository.ErrConflict if the member already has a
//     reservation for the event.
func (r *ReservationRepo) Insert(ctx context.Context, res *domain.Reservation) error {
	const op = "postgresrepo.ReservationRepo.Insert"

	db := r.handle()

	if err := db.QueryRow(ctx,
		`INSERT INTO reservations(event_id, member_id, guest_name, state)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		res.EventID, res.MemberID, res.GuestName, string(res.State),
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return nil
}

// SetState updates a reservation in place. created_at is left alone,
// so a member re-entering the waitlist keeps their original position.
func (r *ReservationRepo) SetState(
	ctx context.Context,
	id int64,
	state domain.ReservationState,
	guestName *string,
) (*domain.Reservation, error) {
	const op = "postgresrepo.ReservationRepo.SetState"

	db := r.handle()

	res, err := scanReservation(db.QueryRow(ctx,
		`UPDATE reservations
		 SET state = $2, guest_name = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING `+reservationColumns,
		id, string(state), guestName,
	))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	return res, nil
}

// Promote confirms a waitlisted reservation.
//
// Returns:
//   - error: repository.ErrStale if the reservation is no longer
//     waitlisted (withdrawn or already promoted).
func (r *ReservationRepo) Promote(ctx context.Context, id int64) error {
	const op = "postgresrepo.ReservationRepo.Promote"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE reservations
		 SET state = 'CONFIRMED', updated_at = now()
		 WHERE id = $1 AND state = 'WAITLISTED'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrStale)
	}

	return nil
}

// Delete removes the reservation of a member for an event.
//
// Returns:
//   - error: repository.ErrNotFound if there was nothing to delete.
func (r *ReservationRepo) Delete(ctx context.Context, eventID, memberID int64) error {
	const op = "postgresrepo.ReservationRepo.Delete"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`DELETE FROM reservations WHERE event_id = $1 AND member_id = $2`,
		eventID, memberID,
	)
	if err != nil {
		return fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

// ListWaitlisted returns the head of the waitlist of an event, oldest
// first. Ties on created_at are broken by id. Inactive members are
// skipped.
func (r *ReservationRepo) ListWaitlisted(
	ctx context.Context,
	eventID int64,
	limit int,
) ([]domain.WaitlistEntry, error) {
	const op = "postgresrepo.ReservationRepo.ListWaitlisted"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT r.id, r.event_id, r.member_id, r.guest_name, r.state, r.created_at, r.updated_at,
		        m.id, m.name, m.email, m.phone, m.tier, m.role, m.active, m.gateway_customer_id
		 FROM reservations r
		 JOIN members m ON m.id = r.member_id
		 WHERE r.event_id = $1 AND r.state = 'WAITLISTED' AND m.active
		 ORDER BY r.created_at, r.id
		 LIMIT $2`,
		eventID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.WaitlistEntry
	for rows.Next() {
		var (
			we    domain.WaitlistEntry
			state string
			tier  string
		)

		if err := rows.Scan(
			&we.Reservation.ID,
			&we.Reservation.EventID,
			&we.Reservation.MemberID,
			&we.Reservation.GuestName,
			&state,
			&we.Reservation.CreatedAt,
			&we.Reservation.UpdatedAt,
			&we.Member.ID,
			&we.Member.Name,
			&we.Member.Email,
			&we.Member.Phone,
			&tier,
			&we.Member.Role,
			&we.Member.Active,
			&we.Member.GatewayCustomerID,
		); err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}

		we.Reservation.State = domain.ReservationState(state)
		we.Member.Tier = domain.Tier(tier)
		out = append(out, we)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// ListByEvent lists every reservation of an event: confirmed first, then
// the waitlist in FIFO order, then the rest.
func (r *ReservationRepo) ListByEvent(ctx context.Context, eventID int64) ([]domain.Reservation, error) {
	const op = "postgresrepo.ReservationRepo.ListByEvent"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE event_id = $1
		 ORDER BY CASE state
		 	WHEN 'CONFIRMED' THEN 0
		 	WHEN 'WAITLISTED' THEN 1
		 	WHEN 'PENDING' THEN 2
		 	ELSE 3 END,
		 	created_at, id`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
	}

	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func scanReservation(row rowScanner) (*domain.Reservation, error) {
	var (
		res   domain.Reservation
		state string
	)
	if err := row.Scan(
		&res.ID,
		&res.EventID,
		&res.MemberID,
		&res.GuestName,
		&state,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		return nil, err
	}

	res.State = domain.ReservationState(state)
	return &res, nil
}

var _ repository.ReservationRepo = (*ReservationRepo)(nil)
