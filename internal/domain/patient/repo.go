package patient

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Lock selects the row lock taken by Repository.Get inside a transaction.
type Lock int

const (
	LockNone Lock = iota
	LockShare
	LockUpdate
)

// Repository returns (nil, nil) from Get when no row has the id.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id int64, lock Lock) (*Patient, error)
	Search(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error)
	Update(ctx context.Context, p *Patient) error
	MarkDeleted(ctx context.Context, id int64) error
}

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
