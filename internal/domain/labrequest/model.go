package labrequest

import "time"

// Request statuses. A pending_requests row moves Pending → Approved or
// Pending → Rejected; approved_requests rows are Approved or Completed.
const (
	StatusPending   = "Pending"
	StatusApproved  = "Approved"
	StatusRejected  = "Rejected"
	StatusCompleted = "Completed"
)

// Test record statuses.
const (
	TestInProgress = "In Progress"
	TestCompleted  = "Completed"
)

var validUrgency = map[string]bool{"Routine": true, "Urgent": true, "STAT": true}

var validPaymentStatus = map[string]bool{"Unpaid": true, "Paid": true}

var validTestStatus = map[string]bool{TestInProgress: true, TestCompleted: true}

// PendingRequest is a pending_requests row. Every request ever raised keeps
// its row here; approval and rejection only change its status.
type PendingRequest struct {
	ID            int64      `json:"id"`
	RequestDate   time.Time  `json:"request_date"`
	PatientID     int64      `json:"patient_id"`
	SampleID      string     `json:"sample_id"`
	FullName      string     `json:"full_name"`
	Station       string     `json:"station"`
	Gender        string     `json:"gender"`
	Age           int        `json:"age"`
	BirthDate     string     `json:"birth_date"`
	TestName      string     `json:"test_name"`
	ClinicalInfo  string     `json:"clinical_info"`
	Physician     string     `json:"physician"`
	Status        string     `json:"status"`
	RequestedBy   string     `json:"requested_by"`
	Urgency       string     `json:"urgency"`
	PaymentStatus string     `json:"payment_status"`
	ProcessedAt   *time.Time `json:"processed_at"`
	ProcessedBy   *string    `json:"processed_by"`
	RejectReason  *string    `json:"reject_reason"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ApprovedRequest is an approved_requests row. The set holds only requests
// that are approved right now; a recall deletes the row.
type ApprovedRequest struct {
	ID            int64     `json:"id"`
	PendingID     *int64    `json:"pending_id"`
	PatientID     int64     `json:"patient_id"`
	SampleID      string    `json:"sample_id"`
	PatientName   string    `json:"patient_name"`
	StationWard   string    `json:"station_ward"`
	Gender        string    `json:"gender"`
	Age           int       `json:"age"`
	BirthDate     string    `json:"birth_date"`
	RequestDate   time.Time `json:"request_date"`
	TestName      string    `json:"test_name"`
	ClinicalInfo  string    `json:"clinical_info"`
	Physician     string    `json:"physician"`
	Urgency       string    `json:"urgency"`
	PaymentStatus string    `json:"payment_status"`
	RequestedBy   string    `json:"requested_by"`
	Status        string    `json:"status"`
	ApprovedBy    string    `json:"approved_by"`
	ApprovedAt    time.Time `json:"approved_at"`
	CreatedAt     time.Time `json:"created_at"`
}

type RejectedRequest struct {
	ID              int64     `json:"id"`
	RequestID       int64     `json:"request_id"`
	PatientID       int64     `json:"patient_id"`
	SampleID        string    `json:"sample_id"`
	RejectionReason string    `json:"rejection_reason"`
	RejectedBy      string    `json:"rejected_by"`
	RejectedAt      time.Time `json:"rejected_at"`
}

type TestRecord struct {
	ID          int64      `json:"id"`
	PatientID   int64      `json:"patient_id"`
	PatientName string     `json:"patient_name"`
	SampleID    string     `json:"sample_id"`
	TestName    string     `json:"test_name"`
	Section     string     `json:"section"`
	TestDate    time.Time  `json:"test_date"`
	Result      string     `json:"result"`
	Status      string     `json:"status"`
	Remarks     string     `json:"remarks"`
	PerformedBy string     `json:"performed_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

// TestRecordDetail adds the patient's demographics to a test record.
type TestRecordDetail struct {
	TestRecord
	Gender    string `json:"gender"`
	Age       int    `json:"age"`
	BirthDate string `json:"birth_date"`
}

// Sources a RequestView can come from.
const (
	SourcePending  = "pending"
	SourceApproved = "approved"
)

// RequestView is the one shape callers see for a request, whichever set it
// was read from. The two tables name some columns differently.
type RequestView struct {
	ID            int64      `json:"id"`
	Source        string     `json:"source"`
	PatientID     int64      `json:"patient_id"`
	SampleID      string     `json:"sample_id"`
	PatientName   string     `json:"patient_name"`
	Station       string     `json:"station"`
	Gender        string     `json:"gender"`
	Age           int        `json:"age"`
	BirthDate     string     `json:"birth_date"`
	TestName      string     `json:"test_name"`
	ClinicalInfo  string     `json:"clinical_info"`
	Physician     string     `json:"physician"`
	Urgency       string     `json:"urgency"`
	PaymentStatus string     `json:"payment_status"`
	Status        string     `json:"status"`
	RequestedBy   string     `json:"requested_by"`
	RequestDate   time.Time  `json:"request_date"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	ProcessedBy   *string    `json:"processed_by,omitempty"`
	RejectReason  *string    `json:"reject_reason,omitempty"`
	ApprovedBy    string     `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
}

func (p *PendingRequest) View() RequestView {
	return RequestView{
		ID:            p.ID,
		Source:        SourcePending,
		PatientID:     p.PatientID,
		SampleID:      p.SampleID,
		PatientName:   p.FullName,
		Station:       p.Station,
		Gender:        p.Gender,
		Age:           p.Age,
		BirthDate:     p.BirthDate,
		TestName:      p.TestName,
		ClinicalInfo:  p.ClinicalInfo,
		Physician:     p.Physician,
		Urgency:       p.Urgency,
		PaymentStatus: p.PaymentStatus,
		Status:        p.Status,
		RequestedBy:   p.RequestedBy,
		RequestDate:   p.RequestDate,
		ProcessedAt:   p.ProcessedAt,
		ProcessedBy:   p.ProcessedBy,
		RejectReason:  p.RejectReason,
	}
}

func (a *ApprovedRequest) View() RequestView {
	approvedAt := a.ApprovedAt
	return RequestView{
		ID:            a.ID,
		Source:        SourceApproved,
		PatientID:     a.PatientID,
		SampleID:      a.SampleID,
		PatientName:   a.PatientName,
		Station:       a.StationWard,
		Gender:        a.Gender,
		Age:           a.Age,
		BirthDate:     a.BirthDate,
		TestName:      a.TestName,
		ClinicalInfo:  a.ClinicalInfo,
		Physician:     a.Physician,
		Urgency:       a.Urgency,
		PaymentStatus: a.PaymentStatus,
		Status:        a.Status,
		RequestedBy:   a.RequestedBy,
		RequestDate:   a.RequestDate,
		ApprovedBy:    a.ApprovedBy,
		ApprovedAt:    &approvedAt,
	}
}

// approvedFrom copies a pending row into the approved set.
func approvedFrom(p *PendingRequest, approver string, at time.Time) *ApprovedRequest {
	pendingID := p.ID
	return &ApprovedRequest{
		PendingID:     &pendingID,
		PatientID:     p.PatientID,
		SampleID:      p.SampleID,
		PatientName:   p.FullName,
		StationWard:   p.Station,
		Gender:        p.Gender,
		Age:           p.Age,
		BirthDate:     p.BirthDate,
		RequestDate:   p.RequestDate,
		TestName:      p.TestName,
		ClinicalInfo:  p.ClinicalInfo,
		Physician:     p.Physician,
		Urgency:       p.Urgency,
		PaymentStatus: p.PaymentStatus,
		RequestedBy:   p.RequestedBy,
		Status:        StatusApproved,
		ApprovedBy:    approver,
		ApprovedAt:    at,
	}
}

// pendingFrom rebuilds a pending row from an approved one whose original
// pending row no longer exists.
func pendingFrom(a *ApprovedRequest) *PendingRequest {
	return &PendingRequest{
		RequestDate:   a.RequestDate,
		PatientID:     a.PatientID,
		SampleID:      a.SampleID,
		FullName:      a.PatientName,
		Station:       a.StationWard,
		Gender:        a.Gender,
		Age:           a.Age,
		BirthDate:     a.BirthDate,
		TestName:      a.TestName,
		ClinicalInfo:  a.ClinicalInfo,
		Physician:     a.Physician,
		Status:        StatusPending,
		RequestedBy:   a.RequestedBy,
		Urgency:       a.Urgency,
		PaymentStatus: a.PaymentStatus,
	}
}

// PatientSnapshot is the demographics copied onto a request at creation.
type PatientSnapshot struct {
	ID        int64
	FullName  string
	Gender    string
	Age       int
	BirthDate string
}

type CreateRequestInput struct {
	PatientID     int64  `json:"patient_id"`
	SampleID      string `json:"sample_id"`
	Station       string `json:"station"`
	TestName      string `json:"test_name"`
	ClinicalInfo  string `json:"clinical_info"`
	Physician     string `json:"physician"`
	Urgency       string `json:"urgency"`
	PaymentStatus string `json:"payment_status"`
}

// SaveResultInput creates a test record when TestID is nil and updates the
// record TestID names otherwise. Parameters, when present, replace Result.
type SaveResultInput struct {
	TestID      *int64     `json:"test_id,omitempty"`
	PatientID   int64      `json:"patient_id"`
	PatientName string     `json:"patient_name"`
	SampleID    string     `json:"sample_id"`
	TestName    string     `json:"test_name"`
	Parameters  Parameters `json:"parameters,omitempty"`
	Result      string     `json:"result"`
	Status      string     `json:"status"`
	Remarks     string     `json:"remarks"`
	PerformedBy string     `json:"performed_by"`
}

func (in SaveResultInput) resultText() string {
	if len(in.Parameters) > 0 {
		return in.Parameters.Render()
	}
	return in.Result
}
