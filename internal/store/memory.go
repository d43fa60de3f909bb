package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-match/internal/model"
)

// MemoryStore implements Store in process memory. It backs development mode
// and tests; records are copied on the way in and out.
type MemoryStore struct {
	mu           sync.RWMutex
	orgs         map[string]model.Organization
	contacts     map[string]model.Contact
	companies    map[string]model.Company
	publications map[string]model.Publication
	candidates   map[string]model.MatchingCandidate
	reviews      map[string]model.ConflictReview
	jobs         map[string]model.ScanJob
	now          func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		orgs:         map[string]model.Organization{},
		contacts:     map[string]model.Contact{},
		companies:    map[string]model.Company{},
		publications: map[string]model.Publication{},
		candidates:   map[string]model.MatchingCandidate{},
		reviews:      map[string]model.ConflictReview{},
		jobs:         map[string]model.ScanJob{},
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateOrganization(_ context.Context, org model.Organization) error {
	if org.ID == "" {
		return eris.New("memory: organization id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
	return nil
}

func (s *MemoryStore) ListOrganizations(_ context.Context) ([]model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateContacts(_ context.Context, contacts []model.Contact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, c := range contacts {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c = cloneContact(c)
		c.EmailDomains = emailDomains(c.Data)
		if existing, ok := s.contacts[c.ID]; ok {
			c.CreatedAt = existing.CreatedAt
		} else {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		s.contacts[c.ID] = c
	}
	return int64(len(contacts)), nil
}

func (s *MemoryStore) ListContacts(_ context.Context, orgID string, page Page) ([]model.Contact, error) {
	return s.pageContacts(func(c model.Contact) bool { return c.OrganizationID == orgID }, page), nil
}

func (s *MemoryStore) ListContactsByEmailDomain(_ context.Context, orgID, domain string, page Page) ([]model.Contact, error) {
	return s.pageContacts(func(c model.Contact) bool {
		return c.OrganizationID == orgID && slices.Contains(c.EmailDomains, domain)
	}, page), nil
}

func (s *MemoryStore) pageContacts(keep func(model.Contact) bool, page Page) []model.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []model.Contact
	for _, c := range s.contacts {
		if c.DeletedAt == nil && keep(c) {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return pageOf(all, page, cloneContact)
}

func (s *MemoryStore) ListCompanies(_ context.Context, f EntityFilter) ([]model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Company
	for _, c := range s.companies {
		if c.OrganizationID != f.OrganizationID {
			continue
		}
		if (c.IsReference && !f.IncludeReference) || (c.DeletedAt != nil && !f.IncludeDeleted) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return lessByCreated(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) GetCompany(_ context.Context, id string) (*model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "company %s", id)
	}
	return &c, nil
}

func (s *MemoryStore) CreateCompany(_ context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	s.companies[c.ID] = *c
	return nil
}

func (s *MemoryStore) UpdateCompanyFields(_ context.Context, id string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(FieldUpdate{EntityType: model.EntityCompany, EntityID: id, Fields: fields})
}

func (s *MemoryStore) ListPublications(_ context.Context, f EntityFilter) ([]model.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Publication
	for _, p := range s.publications {
		if p.OrganizationID != f.OrganizationID {
			continue
		}
		if (p.IsReference && !f.IncludeReference) || (p.DeletedAt != nil && !f.IncludeDeleted) {
			continue
		}
		if f.CompanyID != nil && (p.CompanyID == nil || *p.CompanyID != *f.CompanyID) {
			continue
		}
		out = append(out, clonePublication(p))
	}
	sort.Slice(out, func(i, j int) bool { return lessByCreated(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (s *MemoryStore) GetPublication(_ context.Context, id string) (*model.Publication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.publications[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "publication %s", id)
	}
	p = clonePublication(p)
	return &p, nil
}

func (s *MemoryStore) CreatePublication(_ context.Context, p *model.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	s.publications[p.ID] = clonePublication(*p)
	return nil
}

func (s *MemoryStore) UpdatePublicationFields(_ context.Context, id string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(FieldUpdate{EntityType: model.EntityPublication, EntityID: id, Fields: fields})
}

// applyLocked writes a field update; the caller holds s.mu.
func (s *MemoryStore) applyLocked(u FieldUpdate) error {
	keys, err := checkFields(u.EntityType, u.Fields)
	if err != nil {
		return err
	}
	now := s.now()
	switch u.EntityType {
	case model.EntityCompany:
		c, ok := s.companies[u.EntityID]
		if !ok {
			return eris.Wrapf(ErrNotFound, "company %s", u.EntityID)
		}
		for _, k := range keys {
			switch k {
			case "name":
				c.Name = u.Fields[k]
			case "website":
				c.Website = u.Fields[k]
			}
		}
		c.UpdatedAt = now
		s.companies[c.ID] = c
	case model.EntityPublication:
		p, ok := s.publications[u.EntityID]
		if !ok {
			return eris.Wrapf(ErrNotFound, "publication %s", u.EntityID)
		}
		for _, k := range keys {
			switch k {
			case "title":
				p.Title = u.Fields[k]
			case "website":
				p.Website = u.Fields[k]
			case "publisher_name":
				p.PublisherName = u.Fields[k]
			}
		}
		p.UpdatedAt = now
		s.publications[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) FindCandidate(_ context.Context, entityType model.EntityType, matchKey string) (*model.MatchingCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.MatchingCandidate
	for _, c := range s.candidates {
		if c.EntityType != entityType || c.MatchKey != matchKey {
			continue
		}
		if best == nil || candidatePreferred(c, *best) {
			cc := c
			best = &cc
		}
	}
	if best == nil {
		return nil, eris.Wrapf(ErrNotFound, "candidate %s/%s", entityType, matchKey)
	}
	out := cloneCandidate(*best)
	return &out, nil
}

func (s *MemoryStore) CreateCandidate(_ context.Context, c *model.MatchingCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CandidateOpen
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	s.candidates[c.ID] = cloneCandidate(*c)
	return nil
}

func (s *MemoryStore) UpdateCandidate(_ context.Context, c *model.MatchingCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.candidates[c.ID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "candidate %s", c.ID)
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now()
	s.candidates[c.ID] = cloneCandidate(*c)
	return nil
}

func (s *MemoryStore) ListCandidates(_ context.Context, f CandidateFilter) ([]model.MatchingCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []model.MatchingCandidate
	for _, c := range s.candidates {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.EntityType != "" && c.EntityType != f.EntityType {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].ID < all[j].ID
	})
	return pageOf(all, Page{Limit: f.Limit, Offset: f.Offset}, cloneCandidate), nil
}

func (s *MemoryStore) CreateReview(_ context.Context, r *model.ConflictReview) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.ReviewOpen
	}
	if r.Status == model.ReviewOpen {
		for _, other := range s.reviews {
			if other.Status == model.ReviewOpen && other.EntityType == r.EntityType &&
				other.EntityID == r.EntityID && other.Field == r.Field {
				return eris.Wrapf(ErrDuplicate, "review %s/%s.%s", r.EntityType, r.EntityID, r.Field)
			}
		}
	}
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	s.reviews[r.ID] = *r
	return nil
}

func (s *MemoryStore) GetReview(_ context.Context, id string) (*model.ConflictReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "review %s", id)
	}
	return &r, nil
}

func (s *MemoryStore) ListReviews(_ context.Context, f ReviewFilter) ([]model.ConflictReview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ConflictReview
	for _, r := range s.reviews {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.EntityType != "" && r.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && r.EntityID != f.EntityID {
			continue
		}
		if f.Field != "" && r.Field != f.Field {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return lessByCreated(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ResolveReview(_ context.Context, d ReviewDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[d.ID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "review %s", d.ID)
	}
	if r.Status != model.ReviewOpen {
		return eris.Wrapf(ErrNotOpen, "review %s is %s", d.ID, r.Status)
	}
	if d.Apply != nil {
		if err := s.applyLocked(*d.Apply); err != nil {
			return err
		}
	}
	now := s.now()
	r.Status = d.Status
	r.ReviewedBy = d.ReviewedBy
	r.ReviewNotes = d.Notes
	r.ReviewedAt = &now
	r.UpdatedAt = now
	s.reviews[r.ID] = r
	return nil
}

func (s *MemoryStore) CreateScanJob(_ context.Context, job *model.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = s.now()
	}
	job.UpdatedAt = job.StartedAt
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) UpdateScanJob(_ context.Context, job *model.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.ID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "scan job %s", job.ID)
	}
	if existing.Status != model.ScanRunning {
		return eris.Wrapf(ErrNotOpen, "scan job %s is %s", job.ID, existing.Status)
	}
	existing.Status = job.Status
	existing.Stats = job.Stats
	existing.Error = job.Error
	existing.CompletedAt = job.CompletedAt
	existing.UpdatedAt = s.now()
	s.jobs[job.ID] = existing
	job.CancelRequested = existing.CancelRequested
	job.UpdatedAt = existing.UpdatedAt
	return nil
}

func (s *MemoryStore) GetScanJob(_ context.Context, id string) (*model.ScanJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "scan job %s", id)
	}
	return &j, nil
}

func (s *MemoryStore) LastScanJob(ctx context.Context) (*model.ScanJob, error) {
	jobs, err := s.ListScanJobs(ctx, ScanJobFilter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, eris.Wrap(ErrNotFound, "last scan job")
	}
	return &jobs[0], nil
}

func (s *MemoryStore) ListScanJobs(_ context.Context, f ScanJobFilter) ([]model.ScanJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ScanJob
	for _, j := range s.jobs {
		if f.Status == "" || j.Status == f.Status {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) RequestScanCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "scan job %s", id)
	}
	if j.Status != model.ScanRunning {
		return eris.Wrapf(ErrNotOpen, "scan job %s is %s", id, j.Status)
	}
	j.CancelRequested = true
	j.UpdatedAt = s.now()
	s.jobs[id] = j
	return nil
}

func (s *MemoryStore) DeleteOrganizationData(_ context.Context, orgIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := make(map[string]bool, len(orgIDs))
	for _, id := range orgIDs {
		in[id] = true
		delete(s.orgs, id)
	}
	for id, c := range s.contacts {
		if in[c.OrganizationID] {
			delete(s.contacts, id)
		}
	}
	for id, c := range s.companies {
		if in[c.OrganizationID] {
			delete(s.companies, id)
		}
	}
	for id, p := range s.publications {
		if in[p.OrganizationID] {
			delete(s.publications, id)
		}
	}
	for id, r := range s.reviews {
		if in[r.OrganizationID] {
			delete(s.reviews, id)
		}
	}
	for id, c := range s.candidates {
		for _, org := range c.Organizations() {
			if in[org] {
				delete(s.candidates, id)
				break
			}
		}
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error    { return nil }
func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

// candidatePreferred orders candidates sharing a match key: open first, then
// most recently updated.
func candidatePreferred(a, b model.MatchingCandidate) bool {
	aOpen, bOpen := a.Status == model.CandidateOpen, b.Status == model.CandidateOpen
	if aOpen != bOpen {
		return aOpen
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

func pageOf[T any](all []T, page Page, clone func(T) T) []T {
	if page.Offset >= len(all) {
		return nil
	}
	end := min(page.Offset+page.limit(), len(all))
	out := make([]T, 0, end-page.Offset)
	for _, v := range all[page.Offset:end] {
		out = append(out, clone(v))
	}
	return out
}

func lessByCreated(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return idA < idB
}

func cloneContact(c model.Contact) model.Contact {
	c.Data.Emails = slices.Clone(c.Data.Emails)
	c.Data.Publications = slices.Clone(c.Data.Publications)
	c.PublicationIDs = slices.Clone(c.PublicationIDs)
	c.EmailDomains = slices.Clone(c.EmailDomains)
	return c
}

func clonePublication(p model.Publication) model.Publication {
	p.Languages = slices.Clone(p.Languages)
	p.Monitoring.FeedURLs = slices.Clone(p.Monitoring.FeedURLs)
	return p
}

func cloneCandidate(c model.MatchingCandidate) model.MatchingCandidate {
	vs := make([]model.ContactVariant, len(c.Variants))
	for i, v := range c.Variants {
		v.ContactData.Emails = slices.Clone(v.ContactData.Emails)
		v.ContactData.Publications = slices.Clone(v.ContactData.Publications)
		vs[i] = v
	}
	c.Variants = vs
	c.PublicationIDs = slices.Clone(c.PublicationIDs)
	return c
}
