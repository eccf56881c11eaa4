package postgresrepo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kirinyoku/pelada/internal/domain"
	"github.com/kirinyoku/pelada/internal/repository"
)

const memberColumns = `id, name, email, phone, tier, role, active, gateway_customer_id`

type MemberRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *MemberRepo) With(db DB) *MemberRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *MemberRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *MemberRepo) Get(ctx context.Context, id int64) (*domain.Member, error) {
	const op = "postgresrepo.MemberRepo.Get"

	db := r.handle()

	m, err := scanMember(db.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return m, nil
}

func (r *MemberRepo) ListActiveByTier(ctx context.Context, tier domain.Tier) ([]domain.Member, error) {
	const op = "postgresrepo.MemberRepo.ListActiveByTier"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT `+memberColumns+`
		 FROM members
		 WHERE active AND tier = $1
		 ORDER BY id`,
		string(tier),
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func scanMember(row rowScanner) (*domain.Member, error) {
	var (
		m    domain.Member
		tier string
	)
	if err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Email,
		&m.Phone,
		&tier,
		&m.Role,
		&m.Active,
		&m.GatewayCustomerID,
	); err != nil {
		return nil, err
	}

	m.Tier = domain.Tier(tier)
	return &m, nil
}

var _ repository.MemberRepo = (*MemberRepo)(nil)
