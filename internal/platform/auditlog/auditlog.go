// Package auditlog is the append-only record of every mutation made to lab
// requests, test records and patients. Rows are only ever inserted; nothing
// in the service issues UPDATE or DELETE against audit_log.
package auditlog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labflow/lims/internal/platform/db"
)

// Action labels.
const (
	ActionCreateRequest   = "Created test request"
	ActionApproveRequest  = "Approved test request"
	ActionRejectRequest   = "Rejected test request"
	ActionRecallRequest   = "Moved request to pending"
	ActionCreateTest      = "Created test record"
	ActionUpdateTest      = "Updated test result"
	ActionDeleteTest      = "Deleted test record"
	ActionRegisterPatient = "Registered patient"
	ActionUpdatePatient   = "Updated patient"
	ActionDeletePatient   = "Deleted patient"
)

// Entry is one audit_log row. OldValue is nil for creations and NewValue is
// nil for deletions.
type Entry struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Action    string          `json:"action"`
	TableName string          `json:"table_name"`
	RecordID  int64           `json:"record_id"`
	OldValue  json.RawMessage `json:"old_value,omitempty"`
	NewValue  json.RawMessage `json:"new_value,omitempty"`
	IPAddress string          `json:"ip_address"`
	CreatedAt time.Time       `json:"created_at"`
}

// Snapshot marshals v for OldValue/NewValue. A nil v yields a nil snapshot.
func Snapshot(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("audit snapshot: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Logger writes to and searches the audit_log table of the current site.
type Logger struct {
	pool *pgxpool.Pool
}

func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

func (l *Logger) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return l.pool
}

// Append inserts e using the transaction in ctx when there is one, so the
// entry commits or rolls back together with the change it describes.
func (l *Logger) Append(ctx context.Context, e *Entry) error {
	if e.UserID == "" || e.Action == "" || e.TableName == "" {
		return fmt.Errorf("audit entry requires user, action and table")
	}
	err := l.conn(ctx).QueryRow(ctx, `
		INSERT INTO audit_log (user_id, action, table_name, record_id, old_value, new_value, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		e.UserID, e.Action, e.TableName, e.RecordID,
		nullJSON(e.OldValue), nullJSON(e.NewValue), e.IPAddress,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// nullJSON keeps an empty snapshot as SQL NULL rather than invalid JSONB.
func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// SearchParams filters audit entries. Zero values do not filter.
type SearchParams struct {
	TableName string
	RecordID  int64
	UserID    string
	Action    string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// SearchResult is one page of entries, newest first.
type SearchResult struct {
	Entries []*Entry `json:"entries"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

func (p *SearchParams) applyDefaults() {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// whereClause renders the filters as SQL with positional arguments.
func (p SearchParams) whereClause() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if p.TableName != "" {
		add("table_name = $%d", p.TableName)
	}
	if p.RecordID > 0 {
		add("record_id = $%d", p.RecordID)
	}
	if p.UserID != "" {
		add("user_id = $%d", p.UserID)
	}
	if p.Action != "" {
		add("action = $%d", p.Action)
	}
	if p.StartTime != nil {
		add("created_at >= $%d", *p.StartTime)
	}
	if p.EndTime != nil {
		add("created_at <= $%d", *p.EndTime)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (l *Logger) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	params.applyDefaults()
	where, args := params.whereClause()
	q := l.conn(ctx)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit entries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, action, table_name, record_id, old_value, new_value, ip_address, created_at
		FROM audit_log%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := q.Query(ctx, query, append(args, params.Limit, params.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("search audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		var (
			e              Entry
			oldVal, newVal []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.TableName, &e.RecordID,
			&oldVal, &newVal, &e.IPAddress, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.OldValue, e.NewValue = oldVal, newVal
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search audit entries: %w", err)
	}

	return &SearchResult{Entries: entries, Total: total, Limit: params.Limit, Offset: params.Offset}, nil
}
