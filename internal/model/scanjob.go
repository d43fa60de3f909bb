package model

import "time"

// ScanStatus is the lifecycle state of a scan job.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// Terminal reports whether the job has finished.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed || s == ScanCancelled
}

// ScanStats are the counters reported by a scan.
type ScanStats struct {
	OrganizationsScanned int `json:"organizations_scanned"`
	ContactsScanned      int `json:"contacts_scanned"`
	InvalidVariants      int `json:"invalid_variants"`
	GroupsEvaluated      int `json:"groups_evaluated"`
	CandidatesCreated    int `json:"candidates_created"`
	CandidatesUpdated    int `json:"candidates_updated"`
	ConflictsRaised      int `json:"conflicts_raised"`
	GroupErrors          int `json:"group_errors"`
}

// Add accumulates o into s.
func (s *ScanStats) Add(o ScanStats) {
	s.OrganizationsScanned += o.OrganizationsScanned
	s.ContactsScanned += o.ContactsScanned
	s.InvalidVariants += o.InvalidVariants
	s.GroupsEvaluated += o.GroupsEvaluated
	s.CandidatesCreated += o.CandidatesCreated
	s.CandidatesUpdated += o.CandidatesUpdated
	s.ConflictsRaised += o.ConflictsRaised
	s.GroupErrors += o.GroupErrors
}

// ScanJob is one execution of the cross-tenant matching scan.
type ScanJob struct {
	ID              string     `json:"id" db:"id"`
	Status          ScanStatus `json:"status" db:"status"`
	Stats           ScanStats  `json:"stats" db:"stats"`
	DevelopmentMode bool       `json:"development_mode" db:"development_mode"`
	CancelRequested bool       `json:"cancel_requested" db:"cancel_requested"`
	Error           string     `json:"error,omitempty" db:"error"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
