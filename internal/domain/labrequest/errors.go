package labrequest

import (
	"errors"

	"github.com/labflow/lims/internal/platform/db"
)

// Kind tells callers what to do about an error: fix the input, re-read
// state, retry, or give up.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindTransient
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindInternal:
		return "internal"
	}
	return "ok"
}

// Error is returned by every Service operation. Two errors with the same
// Code match under errors.Is, so a detailed error still matches its sentinel.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind >= KindTransient {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidSampleIDFormat = newError(KindValidation, "invalid_sample_id_format", "sample ID must be LAB- followed by six digits")
	ErrMissingRequiredField  = newError(KindValidation, "missing_required_field", "missing required field")
	ErrMissingReason         = newError(KindValidation, "missing_reason", "a rejection reason is required")
	ErrInvalidStatus         = newError(KindValidation, "invalid_status", "status must be In Progress or Completed")
	ErrInvalidUrgency        = newError(KindValidation, "invalid_urgency", "urgency must be Routine, Urgent or STAT")
	ErrInvalidPaymentStatus  = newError(KindValidation, "invalid_payment_status", "payment status must be Unpaid or Paid")
	ErrInvalidStage          = newError(KindValidation, "invalid_stage", "stage must be pending, approved or rejected")
	ErrEmptyQuery            = newError(KindValidation, "empty_query", "search query must not be empty")

	ErrDuplicateSampleID         = newError(KindConflict, "duplicate_sample_id", "sample ID already exists")
	ErrNoPendingRequest          = newError(KindConflict, "no_pending_request", "no pending request found")
	ErrAmbiguousPendingRequest   = newError(KindConflict, "ambiguous_pending_request", "patient has several pending requests; request_id is required")
	ErrNoApprovedRequest         = newError(KindConflict, "no_approved_request", "no approved request found")
	ErrTestRecordExists          = newError(KindConflict, "test_record_exists", "request already has a test record and cannot be recalled")
	ErrDuplicateTestRecord       = newError(KindConflict, "duplicate_test_record", "a test record already exists for this sample and test")
	ErrCannotDeleteCompletedTest = newError(KindConflict, "cannot_delete_completed_test", "cannot delete a completed test")
	ErrCannotModifyCompletedTest = newError(KindConflict, "cannot_modify_completed_test", "cannot modify a completed test")

	ErrPatientNotFound = newError(KindNotFound, "patient_not_found", "patient not found")
	ErrRequestNotFound = newError(KindNotFound, "request_not_found", "request not found")
	ErrTestNotFound    = newError(KindNotFound, "test_not_found", "test not found")
)

func missingField(name string) error {
	return &Error{Kind: KindValidation, Code: ErrMissingRequiredField.Code, Message: name + " is required"}
}

// KindOf reports the Kind of err; nil has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if db.IsTransient(err) {
		return KindTransient
	}
	return KindInternal
}

const (
	constraintPendingSampleID  = "pending_requests_sample_id_key"
	constraintApprovedSampleID = "approved_requests_sample_id_key"
	constraintTestSampleTest   = "test_records_sample_test_key"
)

// classify turns a storage error escaping a transaction into an *Error.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case db.IsUniqueViolation(err, constraintPendingSampleID), db.IsUniqueViolation(err, constraintApprovedSampleID):
		return ErrDuplicateSampleID
	case db.IsUniqueViolation(err, constraintTestSampleTest):
		return ErrDuplicateTestRecord
	case db.IsTransient(err):
		return &Error{Kind: KindTransient, Code: "transient", Message: "storage temporarily unavailable, retry the operation", Err: err}
	}
	return &Error{Kind: KindInternal, Code: "internal", Message: "internal error", Err: err}
}
