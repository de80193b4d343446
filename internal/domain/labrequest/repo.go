package labrequest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Lock selects the row lock a Get takes inside a transaction.
type Lock int

const (
	LockNone Lock = iota
	LockShare
	LockUpdate
)

func (l Lock) clause() string {
	switch l {
	case LockShare:
		return ` FOR SHARE`
	case LockUpdate:
		return ` FOR UPDATE`
	}
	return ""
}

// Claim moves one Pending row to a processed status. It applies only while
// the row still reads Pending.
type Claim struct {
	ID          int64
	Status      string
	ProcessedBy string
	Reason      *string
	At          time.Time
}

// RequestRepository stores the pending, approved and rejected sets. Getters
// return (nil, nil) when no row matches.
type RequestRepository interface {
	CreatePending(ctx context.Context, p *PendingRequest) error
	GetPending(ctx context.Context, id int64) (*PendingRequest, error)
	GetPendingBySampleID(ctx context.Context, sampleID string, lock Lock) (*PendingRequest, error)
	// SampleIDTaken checks every pending row, whatever its status, and the
	// approved set.
	SampleIDTaken(ctx context.Context, sampleID string) (bool, error)
	// PendingForPatient lists the patient's rows that still read Pending,
	// oldest first.
	PendingForPatient(ctx context.Context, patientID int64) ([]*PendingRequest, error)
	// ClaimPending returns nil when the row is missing or already processed.
	ClaimPending(ctx context.Context, c Claim) (*PendingRequest, error)
	ResetPending(ctx context.Context, id int64) error
	ListPending(ctx context.Context, status string, limit, offset int) ([]*PendingRequest, int, error)
	SearchPending(ctx context.Context, query string, limit int) ([]*PendingRequest, error)

	CreateApproved(ctx context.Context, a *ApprovedRequest) error
	GetApproved(ctx context.Context, id int64, lock Lock) (*ApprovedRequest, error)
	GetApprovedBySampleTest(ctx context.Context, sampleID, testName string, lock Lock) (*ApprovedRequest, error)
	DeleteApproved(ctx context.Context, id int64) error
	// MarkApprovedCompleted returns the number of approved rows updated.
	MarkApprovedCompleted(ctx context.Context, sampleID, testName string) (int64, error)
	ListApproved(ctx context.Context, limit, offset int) ([]*ApprovedRequest, int, error)
	SearchApproved(ctx context.Context, query string, limit int) ([]*ApprovedRequest, error)

	CreateRejected(ctx context.Context, r *RejectedRequest) error

	PatientHasRequests(ctx context.Context, patientID int64) (bool, error)
}

// TestRecordRepository stores test records. Getters return (nil, nil) when
// no row matches.
type TestRecordRepository interface {
	Create(ctx context.Context, t *TestRecord) error
	Get(ctx context.Context, id int64, lock Lock) (*TestRecord, error)
	GetBySampleTest(ctx context.Context, sampleID, testName string) (*TestRecord, error)
	ExistsForSample(ctx context.Context, sampleID string) (bool, error)
	UpdateResult(ctx context.Context, t *TestRecord) error
	Delete(ctx context.Context, id int64) error
	Search(ctx context.Context, query string, limit int) ([]*TestRecord, error)
	PatientHasRecords(ctx context.Context, patientID int64) (bool, error)
}

type queryable interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
