package store

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/webdomain"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrNotOpen is returned when a conditional update finds the record
	// already out of its open/running state.
	ErrNotOpen = eris.New("store: record no longer open")
	// ErrUnknownField is returned when a field update names a column outside
	// the editable whitelist.
	ErrUnknownField = eris.New("store: field not editable")
	// ErrDuplicate is returned when an open review already exists for the
	// same entity field.
	ErrDuplicate = eris.New("store: duplicate open record")
)

// EntityFilter selects companies or publications of one organization. By
// default reference and soft-deleted records are excluded.
type EntityFilter struct {
	OrganizationID   string  `json:"organization_id"`
	CompanyID        *string `json:"company_id,omitempty"` // publications only
	IncludeReference bool    `json:"include_reference,omitempty"`
	IncludeDeleted   bool    `json:"include_deleted,omitempty"`
}

// Page bounds a listing. A zero Limit means DefaultPageSize.
type Page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// DefaultPageSize is used when a Page has no limit.
const DefaultPageSize = 500

func (p Page) limit() int {
	if p.Limit <= 0 {
		return DefaultPageSize
	}
	return p.Limit
}

// CandidateFilter specifies criteria for listing matching candidates.
type CandidateFilter struct {
	Status     model.CandidateStatus `json:"status,omitempty"`
	EntityType model.EntityType      `json:"entity_type,omitempty"`
	Limit      int                   `json:"limit,omitempty"`
	Offset     int                   `json:"offset,omitempty"`
}

// ReviewFilter specifies criteria for listing conflict reviews.
type ReviewFilter struct {
	Status     model.ReviewStatus `json:"status,omitempty"`
	EntityType model.EntityType   `json:"entity_type,omitempty"`
	EntityID   string             `json:"entity_id,omitempty"`
	Field      string             `json:"field,omitempty"`
	Limit      int                `json:"limit,omitempty"`
}

// ScanJobFilter specifies criteria for listing scan jobs.
type ScanJobFilter struct {
	Status model.ScanStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
}

// FieldUpdate overwrites whitelisted fields of a company or publication.
type FieldUpdate struct {
	EntityType model.EntityType
	EntityID   string
	Fields     map[string]string
}

// ReviewDecision closes an open review. Apply, when set, is written in the
// same atomic step as the status change.
type ReviewDecision struct {
	ID         string
	Status     model.ReviewStatus
	ReviewedBy string
	Notes      string
	Apply      *FieldUpdate
}

// Store defines the persistence contract of the matching engine.
type Store interface {
	// Organizations and contacts
	CreateOrganization(ctx context.Context, org model.Organization) error
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	CreateContacts(ctx context.Context, contacts []model.Contact) (int64, error)
	ListContacts(ctx context.Context, orgID string, page Page) ([]model.Contact, error)
	ListContactsByEmailDomain(ctx context.Context, orgID, domain string, page Page) ([]model.Contact, error)

	// Companies
	ListCompanies(ctx context.Context, filter EntityFilter) ([]model.Company, error)
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	CreateCompany(ctx context.Context, c *model.Company) error
	UpdateCompanyFields(ctx context.Context, id string, fields map[string]string) error

	// Publications
	ListPublications(ctx context.Context, filter EntityFilter) ([]model.Publication, error)
	GetPublication(ctx context.Context, id string) (*model.Publication, error)
	CreatePublication(ctx context.Context, p *model.Publication) error
	UpdatePublicationFields(ctx context.Context, id string, fields map[string]string) error

	// Matching candidates
	FindCandidate(ctx context.Context, entityType model.EntityType, matchKey string) (*model.MatchingCandidate, error)
	CreateCandidate(ctx context.Context, c *model.MatchingCandidate) error
	UpdateCandidate(ctx context.Context, c *model.MatchingCandidate) error
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]model.MatchingCandidate, error)

	// Conflict reviews
	CreateReview(ctx context.Context, r *model.ConflictReview) error
	GetReview(ctx context.Context, id string) (*model.ConflictReview, error)
	ListReviews(ctx context.Context, filter ReviewFilter) ([]model.ConflictReview, error)
	ResolveReview(ctx context.Context, d ReviewDecision) error

	// Scan jobs
	CreateScanJob(ctx context.Context, job *model.ScanJob) error
	// UpdateScanJob fails with ErrNotOpen once the stored job left running.
	UpdateScanJob(ctx context.Context, job *model.ScanJob) error
	GetScanJob(ctx context.Context, id string) (*model.ScanJob, error)
	LastScanJob(ctx context.Context) (*model.ScanJob, error)
	ListScanJobs(ctx context.Context, filter ScanJobFilter) ([]model.ScanJob, error)
	RequestScanCancel(ctx context.Context, id string) error

	// Test data
	DeleteOrganizationData(ctx context.Context, orgIDs []string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// emailDomains returns the distinct domains of a contact's addresses.
func emailDomains(d model.ContactData) []string {
	seen := map[string]bool{}
	var out []string
	for _, addr := range d.EmailAddresses() {
		if dom, ok := webdomain.Extract(addr); ok && !seen[dom] {
			seen[dom] = true
			out = append(out, dom)
		}
	}
	return out
}

// joinTokens renders values as " a b " so a single token can be matched with
// LIKE '% a %'.
func joinTokens(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return " " + strings.Join(values, " ") + " "
}

func splitTokens(s string) []string {
	return strings.Fields(s)
}

func tokenPattern(v string) string {
	return "% " + v + " %"
}

func editableFields(t model.EntityType) map[string]bool {
	switch t {
	case model.EntityCompany:
		return model.EditableCompanyFields
	case model.EntityPublication:
		return model.EditablePublicationFields
	default:
		return nil
	}
}

// checkFields validates a field update against the whitelist and returns the
// field names in a stable order.
func checkFields(t model.EntityType, fields map[string]string) ([]string, error) {
	allowed := editableFields(t)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !allowed[k] {
			return nil, eris.Wrapf(ErrUnknownField, "%s.%s", t, k)
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, eris.New("store: empty field update")
	}
	sort.Strings(keys)
	return keys, nil
}
