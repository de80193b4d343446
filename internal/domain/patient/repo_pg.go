package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labflow/lims/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const patientCols = `id, full_name, gender, age, to_char(birth_date, 'YYYY-MM-DD'), deleted, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.FullName, &p.Gender, &p.Age, &p.BirthDate, &p.Deleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (full_name, gender, age, birth_date)
		VALUES ($1, $2, $3, $4::date)
		RETURNING id, created_at, updated_at`,
		p.FullName, p.Gender, p.Age, p.BirthDate,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id int64, lock Lock) (*Patient, error) {
	q := `SELECT ` + patientCols + ` FROM patients WHERE id = $1`
	switch lock {
	case LockShare:
		q += ` FOR SHARE`
	case LockUpdate:
		q += ` FOR UPDATE`
	}

	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %d: %w", id, err)
	}
	return p, nil
}

func (r *repoPG) Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	where := ` WHERE NOT deleted`
	var args []interface{}
	if query != "" {
		where += ` AND (full_name ILIKE $1 OR id::text LIKE $1)`
		args = append(args, "%"+query+"%")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	sql := fmt.Sprintf(`SELECT %s FROM patients%s ORDER BY full_name, id LIMIT $%d OFFSET $%d`,
		patientCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, sql, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE patients
		SET full_name = $2, gender = $3, age = $4, birth_date = $5::date, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FullName, p.Gender, p.Age, p.BirthDate,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update patient %d: %w", p.ID, err)
	}
	return nil
}

func (r *repoPG) MarkDeleted(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET deleted = TRUE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete patient %d: %w", id, err)
	}
	return nil
}
