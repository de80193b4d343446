package labrequest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labflow/lims/internal/platform/auditlog"
	"github.com/labflow/lims/internal/platform/events"
)

// -- In-memory store --

// memStore implements both repositories, the transactor, the audit sink and
// the patient resolver. Transactions are serialized; a failed one restores
// the state it started from.
type memStore struct {
	txMu sync.Mutex

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]PendingRequest
	approved map[int64]ApprovedRequest
	rejected map[int64]RejectedRequest
	tests    map[int64]TestRecord
	patients map[int64]PatientSnapshot
	audit    []auditlog.Entry
	fail     map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		pending:  make(map[int64]PendingRequest),
		approved: make(map[int64]ApprovedRequest),
		rejected: make(map[int64]RejectedRequest),
		tests:    make(map[int64]TestRecord),
		patients: make(map[int64]PatientSnapshot),
		fail:     make(map[string]error),
	}
}

type memState struct {
	nextID   int64
	pending  map[int64]PendingRequest
	approved map[int64]ApprovedRequest
	rejected map[int64]RejectedRequest
	tests    map[int64]TestRecord
	audit    []auditlog.Entry
}

func (s *memStore) snapshot() memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := memState{
		nextID:   s.nextID,
		pending:  make(map[int64]PendingRequest, len(s.pending)),
		approved: make(map[int64]ApprovedRequest, len(s.approved)),
		rejected: make(map[int64]RejectedRequest, len(s.rejected)),
		tests:    make(map[int64]TestRecord, len(s.tests)),
		audit:    append([]auditlog.Entry(nil), s.audit...),
	}
	for k, v := range s.pending {
		st.pending[k] = v
	}
	for k, v := range s.approved {
		st.approved[k] = v
	}
	for k, v := range s.rejected {
		st.rejected[k] = v
	}
	for k, v := range s.tests {
		st.tests[k] = v
	}
	return st
}

func (s *memStore) restore(st memState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = st.nextID
	s.pending, s.approved, s.rejected, s.tests = st.pending, st.approved, st.rejected, st.tests
	s.audit = st.audit
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	before := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(before)
		return err
	}
	return nil
}

func (s *memStore) failWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) addPatient(p PatientSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

func (s *memStore) Resolve(_ context.Context, id int64) (PatientSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["Resolve"]; err != nil {
		return PatientSnapshot{}, err
	}
	p, ok := s.patients[id]
	if !ok {
		return PatientSnapshot{}, ErrPatientNotFound
	}
	return p, nil
}

func (s *memStore) Append(_ context.Context, e *auditlog.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["Append"]; err != nil {
		return err
	}
	e.ID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, *e)
	return nil
}

func (s *memStore) auditEntries() []auditlog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auditlog.Entry(nil), s.audit...)
}

func (s *memStore) counts() (pending, approved, rejected, tests int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.Status == StatusPending {
			pending++
		}
	}
	return pending, len(s.approved), len(s.rejected), len(s.tests)
}

func matches(q string, fields ...string) bool {
	q = strings.ToLower(q)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// -- RequestRepository --

func (s *memStore) CreatePending(_ context.Context, p *PendingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["CreatePending"]; err != nil {
		return err
	}
	p.ID = s.id()
	p.CreatedAt = p.RequestDate
	s.pending[p.ID] = *p
	return nil
}

func (s *memStore) GetPending(_ context.Context, id int64) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) GetPendingBySampleID(_ context.Context, sampleID string, _ Lock) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.SampleID == sampleID {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (s *memStore) SampleIDTaken(_ context.Context, sampleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.SampleID == sampleID {
			return true, nil
		}
	}
	for _, a := range s.approved {
		if a.SampleID == sampleID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) PendingForPatient(_ context.Context, patientID int64) ([]*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PendingRequest
	for _, p := range s.pending {
		if p.PatientID == patientID && p.Status == StatusPending {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ClaimPending(_ context.Context, c Claim) (*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[c.ID]
	if !ok || p.Status != StatusPending {
		return nil, nil
	}
	at, by := c.At, c.ProcessedBy
	p.Status, p.ProcessedAt, p.ProcessedBy, p.RejectReason = c.Status, &at, &by, c.Reason
	s.pending[c.ID] = p
	return &p, nil
}

func (s *memStore) ResetPending(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending[id]
	p.Status, p.ProcessedAt, p.ProcessedBy, p.RejectReason = StatusPending, nil, nil, nil
	s.pending[id] = p
	return nil
}

func (s *memStore) ListPending(_ context.Context, status string, limit, offset int) ([]*PendingRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*PendingRequest
	for _, p := range s.pending {
		if p.Status == status {
			p := p
			all = append(all, &p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, limit, offset), len(all), nil
}

func (s *memStore) SearchPending(_ context.Context, query string, limit int) ([]*PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PendingRequest
	for _, p := range s.pending {
		if matches(query, p.FullName, p.SampleID, strconv.FormatInt(p.PatientID, 10)) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestDate.After(out[j].RequestDate) })
	return page(out, limit, 0), nil
}

func (s *memStore) CreateApproved(_ context.Context, a *ApprovedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["CreateApproved"]; err != nil {
		return err
	}
	a.ID = s.id()
	a.CreatedAt = a.ApprovedAt
	s.approved[a.ID] = *a
	return nil
}

func (s *memStore) GetApproved(_ context.Context, id int64, _ Lock) (*ApprovedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approved[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *memStore) GetApprovedBySampleTest(_ context.Context, sampleID, testName string, _ Lock) (*ApprovedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.approved {
		if a.SampleID == sampleID && a.TestName == testName {
			a := a
			return &a, nil
		}
	}
	return nil, nil
}

func (s *memStore) DeleteApproved(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["DeleteApproved"]; err != nil {
		return err
	}
	delete(s.approved, id)
	return nil
}

func (s *memStore) MarkApprovedCompleted(_ context.Context, sampleID, testName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["MarkApprovedCompleted"]; err != nil {
		return 0, err
	}
	var n int64
	for id, a := range s.approved {
		if a.SampleID == sampleID && a.TestName == testName {
			a.Status = StatusCompleted
			s.approved[id] = a
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListApproved(_ context.Context, limit, offset int) ([]*ApprovedRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*ApprovedRequest
	for _, a := range s.approved {
		a := a
		all = append(all, &a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, limit, offset), len(all), nil
}

func (s *memStore) SearchApproved(_ context.Context, query string, limit int) ([]*ApprovedRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ApprovedRequest
	for _, a := range s.approved {
		if matches(query, a.PatientName, a.SampleID, strconv.FormatInt(a.PatientID, 10)) {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestDate.After(out[j].RequestDate) })
	return page(out, limit, 0), nil
}

func (s *memStore) CreateRejected(_ context.Context, r *RejectedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["CreateRejected"]; err != nil {
		return err
	}
	r.ID = s.id()
	s.rejected[r.ID] = *r
	return nil
}

func (s *memStore) PatientHasRequests(_ context.Context, patientID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.PatientID == patientID {
			return true, nil
		}
	}
	for _, a := range s.approved {
		if a.PatientID == patientID {
			return true, nil
		}
	}
	return false, nil
}

// -- TestRecordRepository --

// memTests adapts memStore to TestRecordRepository; the method names
// Create, Get and Delete would otherwise be ambiguous.
type memTests struct{ s *memStore }

func (m memTests) Create(_ context.Context, t *TestRecord) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["CreateTest"]; err != nil {
		return err
	}
	t.ID = s.id()
	t.CreatedAt = t.TestDate
	s.tests[t.ID] = *t
	return nil
}

func (m memTests) Get(_ context.Context, id int64, _ Lock) (*TestRecord, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tests[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m memTests) GetBySampleTest(_ context.Context, sampleID, testName string) (*TestRecord, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tests {
		if t.SampleID == sampleID && t.TestName == testName {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (m memTests) ExistsForSample(_ context.Context, sampleID string) (bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tests {
		if t.SampleID == sampleID {
			return true, nil
		}
	}
	return false, nil
}

func (m memTests) UpdateResult(_ context.Context, t *TestRecord) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests[t.ID] = *t
	return nil
}

func (m memTests) Delete(_ context.Context, id int64) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tests, id)
	return nil
}

func (m memTests) Search(_ context.Context, query string, limit int) ([]*TestRecord, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*TestRecord
	for _, t := range s.tests {
		if matches(query, t.PatientName, t.SampleID, t.TestName) {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TestDate.After(out[j].TestDate) })
	return page(out, limit, 0), nil
}

func (m memTests) PatientHasRecords(_ context.Context, patientID int64) (bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tests {
		if t.PatientID == patientID {
			return true, nil
		}
	}
	return false, nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// -- Collaborators --

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (m *recordingMetrics) ObserveOperation(op, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string][]string)
	}
	m.outcomes[op] = append(m.outcomes[op], outcome)
}

func (m *recordingMetrics) get(op string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.outcomes[op]...)
}

// tickingClock returns a clock that advances one minute per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}
