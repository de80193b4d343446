package labrequest

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/labflow/lims/internal/platform/auditlog"
	"github.com/labflow/lims/internal/platform/auth"
	"github.com/labflow/lims/internal/platform/db"
	"github.com/labflow/lims/internal/platform/events"
)

// Operation names, used for metrics and logs.
const (
	OpCreateRequest     = "create_request"
	OpApproveRequest    = "approve_request"
	OpRejectRequest     = "reject_request"
	OpRecallToPending   = "recall_to_pending"
	OpGetRequestDetails = "get_request_details"
	OpListRequests      = "list_requests"
	OpSearchRequests    = "search_requests"
	OpSaveResult        = "save_result"
	OpDeleteTestRecord  = "delete_test_record"
	OpGetTestRecord     = "get_test_record"
	OpSearchTestRecords = "search_test_records"
)

// Listing stages accepted by ListRequests.
const (
	StagePending  = "pending"
	StageApproved = "approved"
	StageRejected = "rejected"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultSearchLimit = 10
	notApplicable      = "N/A"
)

// Transactor runs fn in one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PatientResolver snapshots a live patient. It returns ErrPatientNotFound
// for missing or soft-deleted patients.
type PatientResolver interface {
	Resolve(ctx context.Context, patientID int64) (PatientSnapshot, error)
}

type AuditSink interface {
	Append(ctx context.Context, e *auditlog.Entry) error
}

// Metrics observes each operation with its outcome: "ok" or an error Kind.
type Metrics interface {
	ObserveOperation(operation, outcome string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}

// Service is the request lifecycle engine. Every mutation of the request
// and test record stores goes through it, one transaction per operation.
type Service struct {
	requests RequestRepository
	tests    TestRecordRepository
	tx       Transactor
	patients PatientResolver
	audit    AuditSink
	catalog  *Catalog

	publisher   events.Publisher
	metrics     Metrics
	log         zerolog.Logger
	timeout     time.Duration
	searchLimit int
	now         func() time.Time
}

func NewService(requests RequestRepository, tests TestRecordRepository, tx Transactor,
	patients PatientResolver, audit AuditSink, catalog *Catalog) *Service {
	return &Service{
		requests:    requests,
		tests:       tests,
		tx:          tx,
		patients:    patients,
		audit:       audit,
		catalog:     catalog,
		publisher:   events.Nop{},
		metrics:     nopMetrics{},
		log:         zerolog.Nop(),
		timeout:     defaultTimeout,
		searchLimit: defaultSearchLimit,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetPublisher(p events.Publisher) { s.publisher = p }

func (s *Service) SetMetrics(m Metrics) { s.metrics = m }

func (s *Service) SetLogger(l zerolog.Logger) { s.log = l }

// SetTimeout bounds each operation, including its commit.
func (s *Service) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// SetSearchLimit caps each collection a search reads.
func (s *Service) SetSearchLimit(n int) {
	if n > 0 {
		s.searchLimit = n
	}
}

func (s *Service) Catalog() *Catalog { return s.catalog }

// unit collects what an operation wants published once it has committed.
type unit struct {
	events []events.Event
}

func (u *unit) emit(e events.Event) { u.events = append(u.events, e) }

// run executes fn in one transaction under the operation timeout. Errors
// come back classified; events go out only after a successful commit.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, u *unit) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	u := &unit{}
	err := classify(s.tx.InTx(ctx, func(ctx context.Context) error {
		u.events = u.events[:0]
		return fn(ctx, u)
	}))

	kind := KindOf(err)
	s.metrics.ObserveOperation(op, kind.String(), time.Since(start))
	if err != nil {
		if kind >= KindTransient {
			s.log.Error().Err(err).
				Str("operation", op).
				Str("site", db.SiteFromContext(ctx)).
				Str("kind", kind.String()).
				Msg("lifecycle operation failed")
		}
		return err
	}

	site := db.SiteFromContext(ctx)
	for _, e := range u.events {
		e.Site = site
		s.publisher.Publish(ctx, e)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor auth.Actor, action, table string, id int64, before, after interface{}) error {
	oldVal, err := auditlog.Snapshot(before)
	if err != nil {
		return err
	}
	newVal, err := auditlog.Snapshot(after)
	if err != nil {
		return err
	}
	return s.audit.Append(ctx, &auditlog.Entry{
		UserID:    actor.UserID,
		Action:    action,
		TableName: table,
		RecordID:  id,
		OldValue:  oldVal,
		NewValue:  newVal,
		IPAddress: actor.RemoteAddr,
	})
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func (in *CreateRequestInput) normalize() error {
	in.Station = strings.TrimSpace(in.Station)
	in.TestName = strings.TrimSpace(in.TestName)
	// Sample IDs are matched as given; surrounding spaces make them invalid.
	switch {
	case in.PatientID <= 0:
		return missingField("patient_id")
	case strings.TrimSpace(in.SampleID) == "":
		return missingField("sample_id")
	case in.Station == "":
		return missingField("station")
	case in.TestName == "":
		return missingField("test_name")
	}
	if err := ValidateSampleID(in.SampleID); err != nil {
		return err
	}

	in.ClinicalInfo = orDefault(in.ClinicalInfo, notApplicable)
	in.Physician = orDefault(in.Physician, notApplicable)
	in.Urgency = orDefault(in.Urgency, "Routine")
	in.PaymentStatus = orDefault(in.PaymentStatus, "Unpaid")
	if !validUrgency[in.Urgency] {
		return ErrInvalidUrgency
	}
	if !validPaymentStatus[in.PaymentStatus] {
		return ErrInvalidPaymentStatus
	}
	return nil
}

// CreateRequest raises a new Pending request with a snapshot of the
// patient's demographics.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput, actor auth.Actor) (*PendingRequest, error) {
	if err := in.normalize(); err != nil {
		s.metrics.ObserveOperation(OpCreateRequest, KindOf(err).String(), 0)
		return nil, err
	}

	var created *PendingRequest
	err := s.run(ctx, OpCreateRequest, func(ctx context.Context, u *unit) error {
		taken, err := s.requests.SampleIDTaken(ctx, in.SampleID)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicateSampleID
		}

		snap, err := s.patients.Resolve(ctx, in.PatientID)
		if err != nil {
			return err
		}

		p := &PendingRequest{
			RequestDate:   s.now(),
			PatientID:     snap.ID,
			SampleID:      in.SampleID,
			FullName:      snap.FullName,
			Station:       in.Station,
			Gender:        snap.Gender,
			Age:           snap.Age,
			BirthDate:     snap.BirthDate,
			TestName:      in.TestName,
			ClinicalInfo:  in.ClinicalInfo,
			Physician:     in.Physician,
			Status:        StatusPending,
			RequestedBy:   actor.Username,
			Urgency:       in.Urgency,
			PaymentStatus: in.PaymentStatus,
		}
		if err := s.requests.CreatePending(ctx, p); err != nil {
			return err
		}
		if err := s.record(ctx, actor, auditlog.ActionCreateRequest, "pending_requests", p.ID, nil, p); err != nil {
			return err
		}

		u.emit(events.Event{
			Type:      events.RequestCreated,
			Actor:     actor.Username,
			SampleID:  p.SampleID,
			TestName:  p.TestName,
			PatientID: p.PatientID,
			RequestID: p.ID,
			Data:      map[string]interface{}{"urgency": p.Urgency},
		})
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ApproveRequest approves the patient's Pending request. requestID may be
// nil only while the patient has exactly one Pending request.
func (s *Service) ApproveRequest(ctx context.Context, patientID int64, requestID *int64, actor auth.Actor) (*ApprovedRequest, error) {
	var approved *ApprovedRequest
	err := s.run(ctx, OpApproveRequest, func(ctx context.Context, u *unit) error {
		id, err := s.selectPending(ctx, patientID, requestID)
		if err != nil {
			return err
		}

		at := s.now()
		p, err := s.requests.ClaimPending(ctx, Claim{
			ID:          id,
			Status:      StatusApproved,
			ProcessedBy: actor.UserID,
			At:          at,
		})
		if err != nil {
			return err
		}
		// A row claimed for the wrong patient is rolled back with the error.
		if p == nil || p.PatientID != patientID {
			return ErrNoPendingRequest
		}

		a := approvedFrom(p, actor.Username, at)
		if err := s.requests.CreateApproved(ctx, a); err != nil {
			return err
		}
		err = s.record(ctx, actor, auditlog.ActionApproveRequest, "pending_requests", p.ID,
			map[string]interface{}{"status": StatusPending},
			map[string]interface{}{"status": StatusApproved, "approved_request_id": a.ID, "approved_by": a.ApprovedBy})
		if err != nil {
			return err
		}

		u.emit(events.Event{
			Type:      events.RequestApproved,
			Actor:     actor.Username,
			SampleID:  a.SampleID,
			TestName:  a.TestName,
			PatientID: a.PatientID,
			RequestID: a.ID,
			Data:      map[string]interface{}{"pending_id": p.ID},
		})
		approved = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

func (s *Service) selectPending(ctx context.Context, patientID int64, requestID *int64) (int64, error) {
	if requestID != nil {
		return *requestID, nil
	}
	candidates, err := s.requests.PendingForPatient(ctx, patientID)
	if err != nil {
		return 0, err
	}
	switch len(candidates) {
	case 0:
		return 0, ErrNoPendingRequest
	case 1:
		return candidates[0].ID, nil
	}
	return 0, ErrAmbiguousPendingRequest
}

// RejectRequest rejects a Pending request. Rejection is terminal.
func (s *Service) RejectRequest(ctx context.Context, requestID int64, reason string, actor auth.Actor) (*RejectedRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		s.metrics.ObserveOperation(OpRejectRequest, KindValidation.String(), 0)
		return nil, ErrMissingReason
	}

	var rejected *RejectedRequest
	err := s.run(ctx, OpRejectRequest, func(ctx context.Context, u *unit) error {
		at := s.now()
		p, err := s.requests.ClaimPending(ctx, Claim{
			ID:          requestID,
			Status:      StatusRejected,
			ProcessedBy: actor.UserID,
			Reason:      &reason,
			At:          at,
		})
		if err != nil {
			return err
		}
		if p == nil {
			return ErrNoPendingRequest
		}

		rj := &RejectedRequest{
			RequestID:       p.ID,
			PatientID:       p.PatientID,
			SampleID:        p.SampleID,
			RejectionReason: reason,
			RejectedBy:      actor.Username,
			RejectedAt:      at,
		}
		if err := s.requests.CreateRejected(ctx, rj); err != nil {
			return err
		}
		err = s.record(ctx, actor, auditlog.ActionRejectRequest, "pending_requests", p.ID,
			map[string]interface{}{"status": StatusPending},
			map[string]interface{}{"status": StatusRejected, "reject_reason": reason})
		if err != nil {
			return err
		}

		u.emit(events.Event{
			Type:      events.RequestRejected,
			Actor:     actor.Username,
			SampleID:  p.SampleID,
			TestName:  p.TestName,
			PatientID: p.PatientID,
			RequestID: p.ID,
			Data:      map[string]interface{}{"reason": reason},
		})
		rejected = rj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// RecallToPending moves an Approved request back to Pending. It is refused
// once any test record exists for the sample.
func (s *Service) RecallToPending(ctx context.Context, approvedID int64, actor auth.Actor) (*PendingRequest, error) {
	var restored *PendingRequest
	err := s.run(ctx, OpRecallToPending, func(ctx context.Context, u *unit) error {
		a, err := s.requests.GetApproved(ctx, approvedID, LockUpdate)
		if err != nil {
			return err
		}
		if a == nil {
			return ErrNoApprovedRequest
		}

		// Any test record blocks the recall, whatever its status.
		hasTests, err := s.tests.ExistsForSample(ctx, a.SampleID)
		if err != nil {
			return err
		}
		if hasTests {
			return ErrTestRecordExists
		}
		if a.Status != StatusApproved {
			return ErrNoApprovedRequest
		}

		p, err := s.requests.GetPendingBySampleID(ctx, a.SampleID, LockUpdate)
		if err != nil {
			return err
		}
		if p != nil {
			if err := s.requests.ResetPending(ctx, p.ID); err != nil {
				return err
			}
			p.Status = StatusPending
			p.ProcessedAt, p.ProcessedBy, p.RejectReason = nil, nil, nil
		} else {
			p = pendingFrom(a)
			if err := s.requests.CreatePending(ctx, p); err != nil {
				return err
			}
		}

		if err := s.requests.DeleteApproved(ctx, a.ID); err != nil {
			return err
		}
		err = s.record(ctx, actor, auditlog.ActionRecallRequest, "approved_requests", a.ID, a,
			map[string]interface{}{"status": StatusPending, "pending_id": p.ID})
		if err != nil {
			return err
		}

		u.emit(events.Event{
			Type:      events.RequestRecalled,
			Actor:     actor.Username,
			SampleID:  a.SampleID,
			TestName:  a.TestName,
			PatientID: a.PatientID,
			RequestID: p.ID,
			Data:      map[string]interface{}{"approved_id": a.ID},
		})
		restored = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

// GetRequestDetails reads the pending set first, then the approved set.
func (s *Service) GetRequestDetails(ctx context.Context, id int64) (RequestView, error) {
	var view RequestView
	err := s.run(ctx, OpGetRequestDetails, func(ctx context.Context, _ *unit) error {
		p, err := s.requests.GetPending(ctx, id)
		if err != nil {
			return err
		}
		if p != nil {
			view = p.View()
			return nil
		}
		a, err := s.requests.GetApproved(ctx, id, LockNone)
		if err != nil {
			return err
		}
		if a == nil {
			return ErrRequestNotFound
		}
		view = a.View()
		return nil
	})
	return view, err
}

// ListRequests pages through one stage, newest first. An empty stage lists
// pending requests.
func (s *Service) ListRequests(ctx context.Context, stage string, limit, offset int) ([]RequestView, int, error) {
	var (
		views []RequestView
		total int
	)
	err := s.run(ctx, OpListRequests, func(ctx context.Context, _ *unit) error {
		switch strings.ToLower(strings.TrimSpace(stage)) {
		case "", StagePending:
			return s.listPending(ctx, StatusPending, limit, offset, &views, &total)
		case StageRejected:
			return s.listPending(ctx, StatusRejected, limit, offset, &views, &total)
		case StageApproved:
			rows, n, err := s.requests.ListApproved(ctx, limit, offset)
			if err != nil {
				return err
			}
			views, total = make([]RequestView, 0, len(rows)), n
			for _, a := range rows {
				views = append(views, a.View())
			}
			return nil
		}
		return ErrInvalidStage
	})
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

func (s *Service) listPending(ctx context.Context, status string, limit, offset int, views *[]RequestView, total *int) error {
	rows, n, err := s.requests.ListPending(ctx, status, limit, offset)
	if err != nil {
		return err
	}
	out := make([]RequestView, 0, len(rows))
	for _, p := range rows {
		out = append(out, p.View())
	}
	*views, *total = out, n
	return nil
}

// SearchRequests matches patient name, sample ID and patient ID across the
// pending and approved sets and merges the hits, newest first.
func (s *Service) SearchRequests(ctx context.Context, query string) ([]RequestView, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		s.metrics.ObserveOperation(OpSearchRequests, KindValidation.String(), 0)
		return nil, ErrEmptyQuery
	}

	var views []RequestView
	err := s.run(ctx, OpSearchRequests, func(ctx context.Context, _ *unit) error {
		pending, err := s.requests.SearchPending(ctx, query, s.searchLimit)
		if err != nil {
			return err
		}
		approved, err := s.requests.SearchApproved(ctx, query, s.searchLimit)
		if err != nil {
			return err
		}

		views = make([]RequestView, 0, len(pending)+len(approved))
		for _, p := range pending {
			views = append(views, p.View())
		}
		for _, a := range approved {
			views = append(views, a.View())
		}
		sort.SliceStable(views, func(i, j int) bool {
			return views[i].RequestDate.After(views[j].RequestDate)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (in *SaveResultInput) normalize() error {
	in.Status = orDefault(in.Status, TestInProgress)
	if !validTestStatus[in.Status] {
		return ErrInvalidStatus
	}
	if in.TestID != nil {
		return nil
	}

	in.TestName = strings.TrimSpace(in.TestName)
	switch {
	case in.PatientID <= 0:
		return missingField("patient_id")
	case strings.TrimSpace(in.SampleID) == "":
		return missingField("sample_id")
	case in.TestName == "":
		return missingField("test_name")
	}
	return ValidateSampleID(in.SampleID)
}

// SaveOrUpdateResult creates the test record for an approved request, or
// updates the record in.TestID names. A record saved as Completed also
// marks its approved request Completed, in the same transaction.
func (s *Service) SaveOrUpdateResult(ctx context.Context, in SaveResultInput, actor auth.Actor) (*TestRecord, error) {
	if err := in.normalize(); err != nil {
		s.metrics.ObserveOperation(OpSaveResult, KindOf(err).String(), 0)
		return nil, err
	}

	var saved *TestRecord
	err := s.run(ctx, OpSaveResult, func(ctx context.Context, u *unit) error {
		var (
			t   *TestRecord
			err error
		)
		if in.TestID != nil {
			t, err = s.updateResult(ctx, in, actor)
		} else {
			t, err = s.createResult(ctx, in, actor)
		}
		if err != nil {
			return err
		}

		if t.Status == TestCompleted {
			if _, err := s.requests.MarkApprovedCompleted(ctx, t.SampleID, t.TestName); err != nil {
				return err
			}
		}

		evt := events.Event{
			Type:      events.TestRecordSaved,
			Actor:     actor.Username,
			SampleID:  t.SampleID,
			TestName:  t.TestName,
			PatientID: t.PatientID,
			TestID:    t.ID,
			Data:      map[string]interface{}{"status": t.Status, "section": t.Section},
		}
		u.emit(evt)
		if t.Status == TestCompleted {
			evt.Type = events.TestCompleted
			u.emit(evt)
		}
		saved = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Service) createResult(ctx context.Context, in SaveResultInput, actor auth.Actor) (*TestRecord, error) {
	a, err := s.requests.GetApprovedBySampleTest(ctx, in.SampleID, in.TestName, LockShare)
	if err != nil {
		return nil, err
	}
	if a == nil || a.PatientID != in.PatientID {
		return nil, ErrNoApprovedRequest
	}

	existing, err := s.tests.GetBySampleTest(ctx, in.SampleID, in.TestName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateTestRecord
	}

	name := strings.TrimSpace(in.PatientName)
	if name == "" {
		snap, err := s.patients.Resolve(ctx, in.PatientID)
		if err != nil {
			return nil, err
		}
		name = snap.FullName
	}

	t := &TestRecord{
		PatientID:   in.PatientID,
		PatientName: name,
		SampleID:    in.SampleID,
		TestName:    in.TestName,
		Section:     s.catalog.SectionFor(in.TestName),
		TestDate:    s.now(),
		Result:      in.resultText(),
		Status:      in.Status,
		Remarks:     strings.TrimSpace(in.Remarks),
		PerformedBy: orDefault(in.PerformedBy, actor.Username),
	}
	if err := s.tests.Create(ctx, t); err != nil {
		return nil, err
	}
	if err := s.record(ctx, actor, auditlog.ActionCreateTest, "test_records", t.ID, nil, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) updateResult(ctx context.Context, in SaveResultInput, actor auth.Actor) (*TestRecord, error) {
	t, err := s.tests.Get(ctx, *in.TestID, LockUpdate)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTestNotFound
	}
	if t.Status == TestCompleted {
		return nil, ErrCannotModifyCompletedTest
	}

	before := *t
	if result := in.resultText(); result != "" {
		t.Result = result
	}
	t.Status = in.Status
	t.Remarks = strings.TrimSpace(in.Remarks)
	t.PerformedBy = orDefault(in.PerformedBy, actor.Username)
	now := s.now()
	t.UpdatedAt = &now

	if err := s.tests.UpdateResult(ctx, t); err != nil {
		return nil, err
	}
	if err := s.record(ctx, actor, auditlog.ActionUpdateTest, "test_records", t.ID, &before, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTestRecord removes an unfinished test record. Completed records
// are kept permanently.
func (s *Service) DeleteTestRecord(ctx context.Context, id int64, actor auth.Actor) error {
	return s.run(ctx, OpDeleteTestRecord, func(ctx context.Context, u *unit) error {
		t, err := s.tests.Get(ctx, id, LockUpdate)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrTestNotFound
		}
		if t.Status == TestCompleted {
			return ErrCannotDeleteCompletedTest
		}

		if err := s.tests.Delete(ctx, id); err != nil {
			return err
		}
		if err := s.record(ctx, actor, auditlog.ActionDeleteTest, "test_records", id, t, nil); err != nil {
			return err
		}

		u.emit(events.Event{
			Type:      events.TestRecordDeleted,
			Actor:     actor.Username,
			SampleID:  t.SampleID,
			TestName:  t.TestName,
			PatientID: t.PatientID,
			TestID:    t.ID,
		})
		return nil
	})
}

// GetTestRecord returns the record with the patient's current
// demographics. They are left empty if the patient can no longer be read.
func (s *Service) GetTestRecord(ctx context.Context, id int64) (*TestRecordDetail, error) {
	var detail *TestRecordDetail
	err := s.run(ctx, OpGetTestRecord, func(ctx context.Context, _ *unit) error {
		t, err := s.tests.Get(ctx, id, LockNone)
		if err != nil {
			return err
		}
		if t == nil {
			return ErrTestNotFound
		}

		detail = &TestRecordDetail{TestRecord: *t}
		snap, err := s.patients.Resolve(ctx, t.PatientID)
		switch {
		case err == nil:
			detail.Gender, detail.Age, detail.BirthDate = snap.Gender, snap.Age, snap.BirthDate
		case KindOf(err) != KindNotFound:
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// SearchTestRecords matches patient name, sample ID and test name.
func (s *Service) SearchTestRecords(ctx context.Context, query string) ([]*TestRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		s.metrics.ObserveOperation(OpSearchTestRecords, KindValidation.String(), 0)
		return nil, ErrEmptyQuery
	}

	var out []*TestRecord
	err := s.run(ctx, OpSearchTestRecords, func(ctx context.Context, _ *unit) error {
		var err error
		out, err = s.tests.Search(ctx, query, s.searchLimit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PatientReferenced reports whether any request or test record points at
// the patient. It joins the caller's transaction.
func (s *Service) PatientReferenced(ctx context.Context, patientID int64) (bool, error) {
	ok, err := s.requests.PatientHasRequests(ctx, patientID)
	if err != nil || ok {
		return ok, err
	}
	return s.tests.PatientHasRecords(ctx, patientID)
}
