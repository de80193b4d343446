package labrequest

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labflow/lims/internal/platform/db"
)

type pgStore struct {
	pool *pgxpool.Pool
}

func (s pgStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s pgStore) exists(ctx context.Context, sql string, args ...interface{}) (bool, error) {
	var ok bool
	err := s.conn(ctx).QueryRow(ctx, `SELECT EXISTS (`+sql+`)`, args...).Scan(&ok)
	return ok, err
}

// -- Requests --

type requestRepoPG struct {
	pgStore
}

func NewRequestRepo(pool *pgxpool.Pool) RequestRepository {
	return &requestRepoPG{pgStore{pool: pool}}
}

const pendingCols = `id, request_date, patient_id, sample_id, full_name, station, gender, age,
	to_char(birth_date, 'YYYY-MM-DD'), test_name, clinical_info, physician, status, requested_by,
	urgency, payment_status, processed_at, processed_by, reject_reason, created_at`

func scanPending(row pgx.Row) (*PendingRequest, error) {
	var p PendingRequest
	err := row.Scan(&p.ID, &p.RequestDate, &p.PatientID, &p.SampleID, &p.FullName, &p.Station,
		&p.Gender, &p.Age, &p.BirthDate, &p.TestName, &p.ClinicalInfo, &p.Physician, &p.Status,
		&p.RequestedBy, &p.Urgency, &p.PaymentStatus, &p.ProcessedAt, &p.ProcessedBy,
		&p.RejectReason, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPending(rows pgx.Rows) ([]*PendingRequest, error) {
	defer rows.Close()
	var out []*PendingRequest
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const approvedCols = `id, pending_id, patient_id, sample_id, patient_name, station_ward, gender, age,
	to_char(birth_date, 'YYYY-MM-DD'), request_date, test_name, clinical_info, physician, urgency,
	payment_status, requested_by, status, approved_by, approved_at, created_at`

func scanApproved(row pgx.Row) (*ApprovedRequest, error) {
	var a ApprovedRequest
	err := row.Scan(&a.ID, &a.PendingID, &a.PatientID, &a.SampleID, &a.PatientName, &a.StationWard,
		&a.Gender, &a.Age, &a.BirthDate, &a.RequestDate, &a.TestName, &a.ClinicalInfo, &a.Physician,
		&a.Urgency, &a.PaymentStatus, &a.RequestedBy, &a.Status, &a.ApprovedBy, &a.ApprovedAt,
		&a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectApproved(rows pgx.Rows) ([]*ApprovedRequest, error) {
	defer rows.Close()
	var out []*ApprovedRequest
	for rows.Next() {
		a, err := scanApproved(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approved request: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *requestRepoPG) CreatePending(ctx context.Context, p *PendingRequest) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO pending_requests (request_date, patient_id, sample_id, full_name, station, gender,
			age, birth_date, test_name, clinical_info, physician, status, requested_by, urgency, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at`,
		p.RequestDate, p.PatientID, p.SampleID, p.FullName, p.Station, p.Gender,
		p.Age, p.BirthDate, p.TestName, p.ClinicalInfo, p.Physician, p.Status, p.RequestedBy,
		p.Urgency, p.PaymentStatus,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pending request: %w", err)
	}
	return nil
}

func (r *requestRepoPG) GetPending(ctx context.Context, id int64) (*PendingRequest, error) {
	p, err := scanPending(r.conn(ctx).QueryRow(ctx,
		`SELECT `+pendingCols+` FROM pending_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending request %d: %w", id, err)
	}
	return p, nil
}

func (r *requestRepoPG) GetPendingBySampleID(ctx context.Context, sampleID string, lock Lock) (*PendingRequest, error) {
	p, err := scanPending(r.conn(ctx).QueryRow(ctx,
		`SELECT `+pendingCols+` FROM pending_requests WHERE sample_id = $1`+lock.clause(), sampleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending request %s: %w", sampleID, err)
	}
	return p, nil
}

func (r *requestRepoPG) SampleIDTaken(ctx context.Context, sampleID string) (bool, error) {
	taken, err := r.exists(ctx, `
		SELECT 1 FROM pending_requests WHERE sample_id = $1
		UNION ALL
		SELECT 1 FROM approved_requests WHERE sample_id = $1`, sampleID)
	if err != nil {
		return false, fmt.Errorf("check sample id %s: %w", sampleID, err)
	}
	return taken, nil
}

func (r *requestRepoPG) PendingForPatient(ctx context.Context, patientID int64) ([]*PendingRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+pendingCols+` FROM pending_requests
		WHERE patient_id = $1 AND status = 'Pending'
		ORDER BY request_date, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests for patient %d: %w", patientID, err)
	}
	return collectPending(rows)
}

func (r *requestRepoPG) ClaimPending(ctx context.Context, c Claim) (*PendingRequest, error) {
	p, err := scanPending(r.conn(ctx).QueryRow(ctx, `
		UPDATE pending_requests
		SET status = $2, processed_at = $3, processed_by = $4, reject_reason = $5
		WHERE id = $1 AND status = 'Pending'
		RETURNING `+pendingCols,
		c.ID, c.Status, c.At, c.ProcessedBy, c.Reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim pending request %d: %w", c.ID, err)
	}
	return p, nil
}

func (r *requestRepoPG) ResetPending(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pending_requests
		SET status = 'Pending', processed_at = NULL, processed_by = NULL, reject_reason = NULL
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("reset pending request %d: %w", id, err)
	}
	return nil
}

func (r *requestRepoPG) ListPending(ctx context.Context, status string, limit, offset int) ([]*PendingRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM pending_requests WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pending requests: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+pendingCols+` FROM pending_requests
		WHERE status = $1 ORDER BY request_date DESC, id DESC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending requests: %w", err)
	}
	out, err := collectPending(rows)
	return out, total, err
}

func (r *requestRepoPG) SearchPending(ctx context.Context, query string, limit int) ([]*PendingRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+pendingCols+` FROM pending_requests
		WHERE full_name ILIKE $1 OR sample_id ILIKE $1 OR patient_id::text LIKE $1
		ORDER BY request_date DESC, id DESC LIMIT $2`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search pending requests: %w", err)
	}
	return collectPending(rows)
}

func (r *requestRepoPG) CreateApproved(ctx context.Context, a *ApprovedRequest) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO approved_requests (pending_id, patient_id, sample_id, patient_name, station_ward,
			gender, age, birth_date, request_date, test_name, clinical_info, physician, urgency,
			payment_status, requested_by, status, approved_by, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, created_at`,
		a.PendingID, a.PatientID, a.SampleID, a.PatientName, a.StationWard,
		a.Gender, a.Age, a.BirthDate, a.RequestDate, a.TestName, a.ClinicalInfo, a.Physician, a.Urgency,
		a.PaymentStatus, a.RequestedBy, a.Status, a.ApprovedBy, a.ApprovedAt,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert approved request: %w", err)
	}
	return nil
}

func (r *requestRepoPG) GetApproved(ctx context.Context, id int64, lock Lock) (*ApprovedRequest, error) {
	a, err := scanApproved(r.conn(ctx).QueryRow(ctx,
		`SELECT `+approvedCols+` FROM approved_requests WHERE id = $1`+lock.clause(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approved request %d: %w", id, err)
	}
	return a, nil
}

func (r *requestRepoPG) GetApprovedBySampleTest(ctx context.Context, sampleID, testName string, lock Lock) (*ApprovedRequest, error) {
	a, err := scanApproved(r.conn(ctx).QueryRow(ctx,
		`SELECT `+approvedCols+` FROM approved_requests WHERE sample_id = $1 AND test_name = $2`+lock.clause(),
		sampleID, testName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approved request %s/%s: %w", sampleID, testName, err)
	}
	return a, nil
}

func (r *requestRepoPG) DeleteApproved(ctx context.Context, id int64) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM approved_requests WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete approved request %d: %w", id, err)
	}
	return nil
}

func (r *requestRepoPG) MarkApprovedCompleted(ctx context.Context, sampleID, testName string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE approved_requests SET status = 'Completed'
		WHERE sample_id = $1 AND test_name = $2`, sampleID, testName)
	if err != nil {
		return 0, fmt.Errorf("complete approved request %s/%s: %w", sampleID, testName, err)
	}
	return tag.RowsAffected(), nil
}

func (r *requestRepoPG) ListApproved(ctx context.Context, limit, offset int) ([]*ApprovedRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM approved_requests`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count approved requests: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+approvedCols+` FROM approved_requests
		ORDER BY approved_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list approved requests: %w", err)
	}
	out, err := collectApproved(rows)
	return out, total, err
}

func (r *requestRepoPG) SearchApproved(ctx context.Context, query string, limit int) ([]*ApprovedRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+approvedCols+` FROM approved_requests
		WHERE patient_name ILIKE $1 OR sample_id ILIKE $1 OR patient_id::text LIKE $1
		ORDER BY request_date DESC, id DESC LIMIT $2`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search approved requests: %w", err)
	}
	return collectApproved(rows)
}

func (r *requestRepoPG) CreateRejected(ctx context.Context, rj *RejectedRequest) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO rejected_requests (request_id, patient_id, sample_id, rejection_reason, rejected_by, rejected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		rj.RequestID, rj.PatientID, rj.SampleID, rj.RejectionReason, rj.RejectedBy, rj.RejectedAt,
	).Scan(&rj.ID)
	if err != nil {
		return fmt.Errorf("insert rejected request: %w", err)
	}
	return nil
}

func (r *requestRepoPG) PatientHasRequests(ctx context.Context, patientID int64) (bool, error) {
	ok, err := r.exists(ctx, `
		SELECT 1 FROM pending_requests WHERE patient_id = $1
		UNION ALL
		SELECT 1 FROM approved_requests WHERE patient_id = $1`, patientID)
	if err != nil {
		return false, fmt.Errorf("check requests for patient %d: %w", patientID, err)
	}
	return ok, nil
}

// -- Test records --

type testRepoPG struct {
	pgStore
}

func NewTestRecordRepo(pool *pgxpool.Pool) TestRecordRepository {
	return &testRepoPG{pgStore{pool: pool}}
}

const testCols = `id, patient_id, patient_name, sample_id, test_name, section, test_date, result,
	status, remarks, performed_by, created_at, updated_at`

func scanTest(row pgx.Row) (*TestRecord, error) {
	var t TestRecord
	err := row.Scan(&t.ID, &t.PatientID, &t.PatientName, &t.SampleID, &t.TestName, &t.Section,
		&t.TestDate, &t.Result, &t.Status, &t.Remarks, &t.PerformedBy, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *testRepoPG) Create(ctx context.Context, t *TestRecord) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_records (patient_id, patient_name, sample_id, test_name, section, test_date,
			result, status, remarks, performed_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		t.PatientID, t.PatientName, t.SampleID, t.TestName, t.Section, t.TestDate,
		t.Result, t.Status, t.Remarks, t.PerformedBy,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert test record: %w", err)
	}
	return nil
}

func (r *testRepoPG) Get(ctx context.Context, id int64, lock Lock) (*TestRecord, error) {
	t, err := scanTest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+testCols+` FROM test_records WHERE id = $1`+lock.clause(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get test record %d: %w", id, err)
	}
	return t, nil
}

func (r *testRepoPG) GetBySampleTest(ctx context.Context, sampleID, testName string) (*TestRecord, error) {
	t, err := scanTest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+testCols+` FROM test_records WHERE sample_id = $1 AND test_name = $2`,
		sampleID, testName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get test record %s/%s: %w", sampleID, testName, err)
	}
	return t, nil
}

func (r *testRepoPG) ExistsForSample(ctx context.Context, sampleID string) (bool, error) {
	ok, err := r.exists(ctx, `SELECT 1 FROM test_records WHERE sample_id = $1`, sampleID)
	if err != nil {
		return false, fmt.Errorf("check test records for %s: %w", sampleID, err)
	}
	return ok, nil
}

func (r *testRepoPG) UpdateResult(ctx context.Context, t *TestRecord) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE test_records
		SET result = $2, status = $3, remarks = $4, performed_by = $5, updated_at = $6
		WHERE id = $1`,
		t.ID, t.Result, t.Status, t.Remarks, t.PerformedBy, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update test record %d: %w", t.ID, err)
	}
	return nil
}

func (r *testRepoPG) Delete(ctx context.Context, id int64) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM test_records WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete test record %d: %w", id, err)
	}
	return nil
}

func (r *testRepoPG) Search(ctx context.Context, query string, limit int) ([]*TestRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+testCols+` FROM test_records
		WHERE patient_name ILIKE $1 OR sample_id ILIKE $1 OR test_name ILIKE $1
		ORDER BY test_date DESC, id DESC LIMIT $2`,
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search test records: %w", err)
	}
	defer rows.Close()

	var out []*TestRecord
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test record: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *testRepoPG) PatientHasRecords(ctx context.Context, patientID int64) (bool, error) {
	ok, err := r.exists(ctx, `SELECT 1 FROM test_records WHERE patient_id = $1`, patientID)
	if err != nil {
		return false, fmt.Errorf("check test records for patient %d: %w", patientID, err)
	}
	return ok, nil
}
