package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-match/internal/db"
	"github.com/sells-group/contact-match/internal/model"
)

// rows is the iteration surface shared by pgx.Rows and *sql.Rows.
type rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// execer runs SQL against a pool, a connection or a transaction.
type execer interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rows, error)
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgxExecer struct{ q pgxQuerier }

func (e pgxExecer) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := e.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (e pgxExecer) query(ctx context.Context, query string, args ...any) (rows, error) {
	return e.q.Query(ctx, query, args...)
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type sqlExecer struct{ q sqlQuerier }

type sqlRows struct{ *sql.Rows }

func (r sqlRows) Close() { _ = r.Rows.Close() }

func (e sqlExecer) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (e sqlExecer) query(ctx context.Context, query string, args ...any) (rows, error) {
	rs, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rs}, nil
}

func pgxTx(pool db.Pool) func(ctx context.Context, fn func(execer) error) error {
	return func(ctx context.Context, fn func(execer) error) error {
		return db.InTx(ctx, pool, func(tx pgx.Tx) error { return fn(pgxExecer{tx}) })
	}
}

func sqlTx(conn *sql.DB) func(ctx context.Context, fn func(execer) error) error {
	return func(ctx context.Context, fn func(execer) error) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck
		if err := fn(sqlExecer{tx}); err != nil {
			return err
		}
		return tx.Commit()
	}
}

// sqlStore holds the query logic shared by the postgres and sqlite backends.
// Queries are built with go-sqlbuilder in the backend's flavor.
type sqlStore struct {
	name   string
	flavor sqlbuilder.Flavor
	conn   execer
	inTx   func(ctx context.Context, fn func(execer) error) error
	now    func() time.Time
}

func (s *sqlStore) wrap(err error, op string) error {
	return eris.Wrapf(err, "%s: %s", s.name, op)
}

const (
	contactColumns     = "id, organization_id, data, company_id, publication_ids, email_domains, deleted_at, created_at, updated_at"
	companyColumns     = "id, name, website, organization_id, is_reference, source, created_by, deleted_at, created_at, updated_at"
	publicationColumns = "id, title, company_id, publisher_name, website, organization_id, is_reference, is_global, type, country, languages, monitoring, metrics, source, created_by, deleted_at, created_at, updated_at"
	candidateColumns   = "id, entity_type, match_key, display_name, variants, score, status, company_id, publication_ids, scan_job_id, created_at, updated_at"
	reviewColumns      = "id, entity_type, entity_id, entity_name, organization_id, field, current_value, suggested_value, confidence, priority, evidence, status, candidate_id, reviewed_by, review_notes, reviewed_at, created_at, updated_at"
	scanJobColumns     = "id, status, stats, development_mode, cancel_requested, error, started_at, updated_at, completed_at"
)

func collect[T any](ctx context.Context, e execer, query string, args []any, scan func(rows) (T, error)) ([]T, error) {
	rs, err := e.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []T
	for rs.Next() {
		v, err := scan(rs)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rs.Err()
}

func first[T any](items []T, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal")
	}
	return string(b), nil
}

func unmarshalJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	return eris.Wrap(json.Unmarshal(b, v), "store: unmarshal")
}

// --- organizations and contacts ---

func (s *sqlStore) CreateOrganization(ctx context.Context, org model.Organization) error {
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("organizations").Cols("id", "name", "created_at").Values(org.ID, org.Name, s.now())
	ib.SQL("ON CONFLICT (id) DO UPDATE SET name = excluded.name")
	q, args := ib.Build()
	_, err := s.conn.exec(ctx, q, args...)
	return s.wrap(err, "create organization")
}

func (s *sqlStore) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select("id", "name").From("organizations").OrderBy("id")
	q, args := sb.Build()
	orgs, err := collect(ctx, s.conn, q, args, func(r rows) (model.Organization, error) {
		var o model.Organization
		return o, r.Scan(&o.ID, &o.Name)
	})
	return orgs, s.wrap(err, "list organizations")
}

func (s *sqlStore) contactRow(c *model.Contact, now time.Time) ([]any, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.EmailDomains = emailDomains(c.Data)
	c.CreatedAt, c.UpdatedAt = now, now
	data, err := marshalJSON(c.Data)
	if err != nil {
		return nil, err
	}
	pubs, err := marshalJSON(c.PublicationIDs)
	if err != nil {
		return nil, err
	}
	return []any{c.ID, c.OrganizationID, data, c.CompanyID, pubs, joinTokens(c.EmailDomains), c.DeletedAt, c.CreatedAt, c.UpdatedAt}, nil
}

func (s *sqlStore) CreateContacts(ctx context.Context, contacts []model.Contact) (int64, error) {
	if len(contacts) == 0 {
		return 0, nil
	}
	now := s.now()
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("contacts").Cols("id", "organization_id", "data", "company_id", "publication_ids", "email_domains", "deleted_at", "created_at", "updated_at")
	for i := range contacts {
		row, err := s.contactRow(&contacts[i], now)
		if err != nil {
			return 0, err
		}
		ib.Values(row...)
	}
	ib.SQL(`ON CONFLICT (id) DO UPDATE SET organization_id = excluded.organization_id, data = excluded.data,
		company_id = excluded.company_id, publication_ids = excluded.publication_ids,
		email_domains = excluded.email_domains, deleted_at = excluded.deleted_at, updated_at = excluded.updated_at`)
	q, args := ib.Build()
	n, err := s.conn.exec(ctx, q, args...)
	return n, s.wrap(err, "create contacts")
}

func scanContact(r rows) (model.Contact, error) {
	var c model.Contact
	var data, pubs []byte
	var domains string
	if err := r.Scan(&c.ID, &c.OrganizationID, &data, &c.CompanyID, &pubs, &domains, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	if err := unmarshalJSON(data, &c.Data); err != nil {
		return c, err
	}
	if err := unmarshalJSON(pubs, &c.PublicationIDs); err != nil {
		return c, err
	}
	c.EmailDomains = splitTokens(domains)
	return c, nil
}

func (s *sqlStore) ListContacts(ctx context.Context, orgID string, page Page) ([]model.Contact, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(contactColumns).From("contacts").
		Where(sb.Equal("organization_id", orgID), sb.IsNull("deleted_at")).
		OrderBy("id").Limit(page.limit()).Offset(page.Offset)
	q, args := sb.Build()
	out, err := collect(ctx, s.conn, q, args, scanContact)
	return out, s.wrap(err, "list contacts")
}

func (s *sqlStore) ListContactsByEmailDomain(ctx context.Context, orgID, domain string, page Page) ([]model.Contact, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(contactColumns).From("contacts").
		Where(
			sb.Equal("organization_id", orgID),
			sb.IsNull("deleted_at"),
			sb.Like("email_domains", tokenPattern(domain)),
		).
		OrderBy("id").Limit(page.limit()).Offset(page.Offset)
	q, args := sb.Build()
	out, err := collect(ctx, s.conn, q, args, scanContact)
	return out, s.wrap(err, "list contacts by email domain")
}

// --- companies ---

func scanCompany(r rows) (model.Company, error) {
	var c model.Company
	err := r.Scan(&c.ID, &c.Name, &c.Website, &c.OrganizationID, &c.IsReference, &c.Source, &c.CreatedBy, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *sqlStore) entityWhere(sb *sqlbuilder.SelectBuilder, f EntityFilter) {
	sb.Where(sb.Equal("organization_id", f.OrganizationID))
	if !f.IncludeReference {
		sb.Where(sb.Equal("is_reference", false))
	}
	if !f.IncludeDeleted {
		sb.Where(sb.IsNull("deleted_at"))
	}
}

func (s *sqlStore) ListCompanies(ctx context.Context, f EntityFilter) ([]model.Company, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(companyColumns).From("companies")
	s.entityWhere(sb, f)
	sb.OrderBy("created_at", "id")
	q, args := sb.Build()
	out, err := collect(ctx, s.conn, q, args, scanCompany)
	return out, s.wrap(err, "list companies")
}

func (s *sqlStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(companyColumns).From("companies").Where(sb.Equal("id", id))
	q, args := sb.Build()
	c, err := first(collect(ctx, s.conn, q, args, scanCompany))
	return c, s.wrap(err, "get company "+id)
}

func (s *sqlStore) CreateCompany(ctx context.Context, c *model.Company) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("companies").
		Cols("id", "name", "website", "organization_id", "is_reference", "source", "created_by", "deleted_at", "created_at", "updated_at").
		Values(c.ID, c.Name, c.Website, c.OrganizationID, c.IsReference, c.Source, c.CreatedBy, c.DeletedAt, c.CreatedAt, c.UpdatedAt)
	q, args := ib.Build()
	_, err := s.conn.exec(ctx, q, args...)
	return s.wrap(err, "create company")
}

func (s *sqlStore) UpdateCompanyFields(ctx context.Context, id string, fields map[string]string) error {
	return s.applyFields(ctx, s.conn, FieldUpdate{EntityType: model.EntityCompany, EntityID: id, Fields: fields})
}

// applyFields writes a whitelisted field update through e.
func (s *sqlStore) applyFields(ctx context.Context, e execer, u FieldUpdate) error {
	keys, err := checkFields(u.EntityType, u.Fields)
	if err != nil {
		return err
	}
	table := "companies"
	if u.EntityType == model.EntityPublication {
		table = "publications"
	}

	ub := s.flavor.NewUpdateBuilder()
	ub.Update(table)
	assignments := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		assignments = append(assignments, ub.Assign(k, u.Fields[k]))
	}
	assignments = append(assignments, ub.Assign("updated_at", s.now()))
	ub.Set(assignments...).Where(ub.Equal("id", u.EntityID))
	q, args := ub.Build()

	n, err := e.exec(ctx, q, args...)
	if err != nil {
		return s.wrap(err, "update "+table)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", u.EntityType, u.EntityID)
	}
	return nil
}

// --- publications ---

func scanPublication(r rows) (model.Publication, error) {
	var p model.Publication
	var langs, mon, metrics []byte
	if err := r.Scan(&p.ID, &p.Title, &p.CompanyID, &p.PublisherName, &p.Website, &p.OrganizationID,
		&p.IsReference, &p.IsGlobal, &p.Type, &p.Country, &langs, &mon, &metrics,
		&p.Source, &p.CreatedBy, &p.DeletedAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if err := unmarshalJSON(langs, &p.Languages); err != nil {
		return p, err
	}
	if err := unmarshalJSON(mon, &p.Monitoring); err != nil {
		return p, err
	}
	return p, unmarshalJSON(metrics, &p.Metrics)
}

func (s *sqlStore) ListPublications(ctx context.Context, f EntityFilter) ([]model.Publication, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(publicationColumns).From("publications")
	s.entityWhere(sb, f)
	if f.CompanyID != nil {
		sb.Where(sb.Equal("company_id", *f.CompanyID))
	}
	sb.OrderBy("created_at", "id")
	q, args := sb.Build()
	out, err := collect(ctx, s.conn, q, args, scanPublication)
	return out, s.wrap(err, "list publications")
}

func (s *sqlStore) GetPublication(ctx context.Context, id string) (*model.Publication, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(publicationColumns).From("publications").Where(sb.Equal("id", id))
	q, args := sb.Build()
	p, err := first(collect(ctx, s.conn, q, args, scanPublication))
	return p, s.wrap(err, "get publication "+id)
}

func (s *sqlStore) CreatePublication(ctx context.Context, p *model.Publication) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt
	langs, err := marshalJSON(p.Languages)
	if err != nil {
		return err
	}
	mon, err := marshalJSON(p.Monitoring)
	if err != nil {
		return err
	}
	metrics, err := marshalJSON(p.Metrics)
	if err != nil {
		return err
	}
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("publications").
		Cols("id", "title", "company_id", "publisher_name", "website", "organization_id", "is_reference", "is_global",
			"type", "country", "languages", "monitoring", "metrics", "source", "created_by", "deleted_at", "created_at", "updated_at").
		Values(p.ID, p.Title, p.CompanyID, p.PublisherName, p.Website, p.OrganizationID, p.IsReference, p.IsGlobal,
			p.Type, p.Country, langs, mon, metrics, p.Source, p.CreatedBy, p.DeletedAt, p.CreatedAt, p.UpdatedAt)
	q, args := ib.Build()
	_, err = s.conn.exec(ctx, q, args...)
	return s.wrap(err, "create publication")
}

func (s *sqlStore) UpdatePublicationFields(ctx context.Context, id string, fields map[string]string) error {
	return s.applyFields(ctx, s.conn, FieldUpdate{EntityType: model.EntityPublication, EntityID: id, Fields: fields})
}

// --- matching candidates ---

func scanCandidate(r rows) (model.MatchingCandidate, error) {
	var c model.MatchingCandidate
	var variants, pubs []byte
	if err := r.Scan(&c.ID, &c.EntityType, &c.MatchKey, &c.DisplayName, &variants, &c.Score, &c.Status,
		&c.CompanyID, &pubs, &c.ScanJobID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	if err := unmarshalJSON(variants, &c.Variants); err != nil {
		return c, err
	}
	return c, unmarshalJSON(pubs, &c.PublicationIDs)
}

func (s *sqlStore) FindCandidate(ctx context.Context, entityType model.EntityType, matchKey string) (*model.MatchingCandidate, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(candidateColumns).From("matching_candidates").
		Where(sb.Equal("entity_type", string(entityType)), sb.Equal("match_key", matchKey)).
		OrderBy("CASE WHEN status = 'open' THEN 0 ELSE 1 END", "updated_at DESC").
		Limit(1)
	q, args := sb.Build()
	c, err := first(collect(ctx, s.conn, q, args, scanCandidate))
	return c, s.wrap(err, "find candidate "+matchKey)
}

func (s *sqlStore) CreateCandidate(ctx context.Context, c *model.MatchingCandidate) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CandidateOpen
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	variants, err := marshalJSON(c.Variants)
	if err != nil {
		return err
	}
	pubs, err := marshalJSON(c.PublicationIDs)
	if err != nil {
		return err
	}
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("matching_candidates").
		Cols("id", "entity_type", "match_key", "display_name", "variants", "organization_ids", "score", "status",
			"company_id", "publication_ids", "scan_job_id", "created_at", "updated_at").
		Values(c.ID, string(c.EntityType), c.MatchKey, c.DisplayName, variants, joinTokens(c.Organizations()), c.Score,
			string(c.Status), c.CompanyID, pubs, c.ScanJobID, c.CreatedAt, c.UpdatedAt)
	q, args := ib.Build()
	_, err = s.conn.exec(ctx, q, args...)
	return s.wrap(err, "create candidate")
}

func (s *sqlStore) UpdateCandidate(ctx context.Context, c *model.MatchingCandidate) error {
	variants, err := marshalJSON(c.Variants)
	if err != nil {
		return err
	}
	pubs, err := marshalJSON(c.PublicationIDs)
	if err != nil {
		return err
	}
	c.UpdatedAt = s.now()
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("matching_candidates").
		Set(
			ub.Assign("display_name", c.DisplayName),
			ub.Assign("variants", variants),
			ub.Assign("organization_ids", joinTokens(c.Organizations())),
			ub.Assign("score", c.Score),
			ub.Assign("status", string(c.Status)),
			ub.Assign("company_id", c.CompanyID),
			ub.Assign("publication_ids", pubs),
			ub.Assign("scan_job_id", c.ScanJobID),
			ub.Assign("updated_at", c.UpdatedAt),
		).
		Where(ub.Equal("id", c.ID))
	q, args := ub.Build()
	n, err := s.conn.exec(ctx, q, args...)
	if err != nil {
		return s.wrap(err, "update candidate "+c.ID)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "candidate %s", c.ID)
	}
	return nil
}

func (s *sqlStore) ListCandidates(ctx context.Context, f CandidateFilter) ([]model.MatchingCandidate, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(candidateColumns).From("matching_candidates")
	if f.Status != "" {
		sb.Where(sb.Equal("status", string(f.Status)))
	}
	if f.EntityType != "" {
		sb.Where(sb.Equal("entity_type", string(f.EntityType)))
	}
	sb.OrderBy("score DESC", "id").Limit(Page{Limit: f.Limit}.limit()).Offset(f.Offset)
	q, args := sb.Build()
	out, err := collect(ctx, s.conn, q, args, scanCandidate)
	return out, s.wrap(err, "list candidates")
}

// --- conflict reviews ---

func scanReview(r rows) (model.ConflictReview, error) {
	var rv model.ConflictReview
	var evidence []byte
	if err := r.Scan(&rv.ID, &rv.EntityType, &rv.EntityID, &rv.EntityName, &rv.OrganizationID, &rv.Field,
		&rv.CurrentValue, &rv.SuggestedValue, &rv.Confidence, &rv.Priority, &evidence, &rv.Status,
		&rv.CandidateID, &rv.ReviewedBy, &rv.ReviewNotes, &rv.ReviewedAt, &rv.CreatedAt, &rv.UpdatedAt); err != nil {
		return rv, err
	}
	return rv, unmarshalJSON(evidence, &rv.Evidence)
}

func (s *sqlStore) CreateReview(ctx context.Context, r *model.ConflictReview) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.ReviewOpen
	}
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	evidence, err := marshalJSON(r.Evidence)
	if err != nil {
		return err
	}
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("conflict_reviews").
		Cols("id", "entity_type", "entity_id", "entity_name", "organization_id", "field", "current_value",
			"suggested_value", "confidence", "priority", "evidence", "status", "candidate_id", "reviewed_by",
			"review_notes", "reviewed_at", "created_at", "updated_at").
		Values(r.ID, string(r.EntityType), r.EntityID, r.EntityName, r.OrganizationID, r.Field, r.CurrentValue,
			r.SuggestedValue, r.Confidence, string(r.Priority), evidence, string(r.Status), r.CandidateID, r.ReviewedBy,
			r.ReviewNotes, r.ReviewedAt, r.CreatedAt, r.UpdatedAt)
	q, args := ib.Build()
	_, err = s.conn.exec(ctx, q, args...)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicate, "review %s/%s.%s", r.EntityType, r.EntityID, r.Field)
	}
	return s.wrap(err, "create review")
}

func (s *sqlStore) GetReview(ctx context.Context, id string) (*model.ConflictReview, error) {
	return s.getReview(ctx, s.conn, id)
}

func (s *sqlStore) getReview(ctx context.Context, e execer, id string) (*model.ConflictReview, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(reviewColumns).From("conflict_reviews").Where(sb.Equal("id", id))
	q, args := sb.Build()
	r, err := first(collect(ctx, e, q, args, scanReview))
	return r, s.wrap(err, "get review "+id)
}

func (s *sqlStore) ListReviews(ctx context.Context, f ReviewFilter) ([]model.ConflictReview, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(reviewColumns).From("conflict_reviews")
	if f.Status != "" {
		sb.Where(sb.Equal("status", string(f.Status)))
	}
	if f.EntityType != "" {
		sb.Where(sb.Equal("entity_type", string(f.EntityType)))
	}
	if f.EntityID != "" {
		sb.Where(sb.Equal("entity_id", f.EntityID))
	}
	if f.Field != "" {
		sb.Where(sb.Equal("field", f.Field))
	}
	sb.OrderBy("created_at", "id")
	if f.Limit > 0 {
		sb.Limit(f.Limit)
	}
	q, args := sb.Build()
	out, err := collect(ctx, s.conn, q, args, scanReview)
	return out, s.wrap(err, "list reviews")
}

// ResolveReview closes an open review with a conditional update; the row
// lock it takes serializes competing decisions on the same item.
func (s *sqlStore) ResolveReview(ctx context.Context, d ReviewDecision) error {
	return s.inTx(ctx, func(tx execer) error {
		now := s.now()
		ub := s.flavor.NewUpdateBuilder()
		ub.Update("conflict_reviews").
			Set(
				ub.Assign("status", string(d.Status)),
				ub.Assign("reviewed_by", d.ReviewedBy),
				ub.Assign("review_notes", d.Notes),
				ub.Assign("reviewed_at", now),
				ub.Assign("updated_at", now),
			).
			Where(ub.Equal("id", d.ID), ub.Equal("status", string(model.ReviewOpen)))
		q, args := ub.Build()
		n, err := tx.exec(ctx, q, args...)
		if err != nil {
			return s.wrap(err, "resolve review "+d.ID)
		}
		if n == 0 {
			existing, err := s.getReview(ctx, tx, d.ID)
			if err != nil {
				return err
			}
			return eris.Wrapf(ErrNotOpen, "review %s is %s", d.ID, existing.Status)
		}
		if d.Apply != nil {
			return s.applyFields(ctx, tx, *d.Apply)
		}
		return nil
	})
}

// --- scan jobs ---

func scanScanJob(r rows) (model.ScanJob, error) {
	var j model.ScanJob
	var stats []byte
	if err := r.Scan(&j.ID, &j.Status, &stats, &j.DevelopmentMode, &j.CancelRequested, &j.Error,
		&j.StartedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return j, err
	}
	return j, unmarshalJSON(stats, &j.Stats)
}

func (s *sqlStore) CreateScanJob(ctx context.Context, job *model.ScanJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = s.now()
	}
	job.UpdatedAt = job.StartedAt
	stats, err := marshalJSON(job.Stats)
	if err != nil {
		return err
	}
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("scan_jobs").
		Cols("id", "status", "stats", "development_mode", "cancel_requested", "error", "started_at", "updated_at", "completed_at").
		Values(job.ID, string(job.Status), stats, job.DevelopmentMode, job.CancelRequested, job.Error, job.StartedAt, job.UpdatedAt, job.CompletedAt)
	q, args := ib.Build()
	_, err = s.conn.exec(ctx, q, args...)
	return s.wrap(err, "create scan job")
}

// UpdateScanJob writes progress fields of a running job. CancelRequested is
// owned by RequestScanCancel and is never overwritten here.
func (s *sqlStore) UpdateScanJob(ctx context.Context, job *model.ScanJob) error {
	stats, err := marshalJSON(job.Stats)
	if err != nil {
		return err
	}
	job.UpdatedAt = s.now()
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("scan_jobs").
		Set(
			ub.Assign("status", string(job.Status)),
			ub.Assign("stats", stats),
			ub.Assign("error", job.Error),
			ub.Assign("updated_at", job.UpdatedAt),
			ub.Assign("completed_at", job.CompletedAt),
		).
		Where(ub.Equal("id", job.ID), ub.Equal("status", string(model.ScanRunning)))
	q, args := ub.Build()
	n, err := s.conn.exec(ctx, q, args...)
	if err != nil {
		return s.wrap(err, "update scan job "+job.ID)
	}
	if n == 0 {
		existing, err := s.GetScanJob(ctx, job.ID)
		if err != nil {
			return err
		}
		return eris.Wrapf(ErrNotOpen, "scan job %s is %s", job.ID, existing.Status)
	}
	current, err := s.GetScanJob(ctx, job.ID)
	if err != nil {
		return err
	}
	job.CancelRequested = current.CancelRequested
	return nil
}

func (s *sqlStore) GetScanJob(ctx context.Context, id string) (*model.ScanJob, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(scanJobColumns).From("scan_jobs").Where(sb.Equal("id", id))
	q, args := sb.Build()
	j, err := first(collect(ctx, s.conn, q, args, scanScanJob))
	return j, s.wrap(err, "get scan job "+id)
}

func (s *sqlStore) LastScanJob(ctx context.Context) (*model.ScanJob, error) {
	jobs, err := s.ListScanJobs(ctx, ScanJobFilter{Limit: 1})
	j, err := first(jobs, err)
	return j, s.wrap(err, "last scan job")
}

func (s *sqlStore) ListScanJobs(ctx context.Context, f ScanJobFilter) ([]model.ScanJob, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(scanJobColumns).From("scan_jobs")
	if f.Status != "" {
		sb.Where(sb.Equal("status", string(f.Status)))
	}
	sb.OrderBy("started_at DESC")
	if f.Limit > 0 {
		sb.Limit(f.Limit)
	}
	q, args := sb.Build()
	out, err := collect(ctx, s.conn, q, args, scanScanJob)
	return out, s.wrap(err, "list scan jobs")
}

func (s *sqlStore) RequestScanCancel(ctx context.Context, id string) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("scan_jobs").
		Set(ub.Assign("cancel_requested", true), ub.Assign("updated_at", s.now())).
		Where(ub.Equal("id", id), ub.Equal("status", string(model.ScanRunning)))
	q, args := ub.Build()
	n, err := s.conn.exec(ctx, q, args...)
	if err != nil {
		return s.wrap(err, "cancel scan job "+id)
	}
	if n > 0 {
		return nil
	}
	job, err := s.GetScanJob(ctx, id)
	if err != nil {
		return err
	}
	return eris.Wrapf(ErrNotOpen, "scan job %s is %s", id, job.Status)
}

// --- test data ---

func (s *sqlStore) DeleteOrganizationData(ctx context.Context, orgIDs []string) error {
	if len(orgIDs) == 0 {
		return nil
	}
	ids := make([]any, len(orgIDs))
	for i, id := range orgIDs {
		ids[i] = id
	}

	return s.inTx(ctx, func(tx execer) error {
		for _, table := range []string{"contacts", "companies", "publications", "conflict_reviews"} {
			del := s.flavor.NewDeleteBuilder()
			del.DeleteFrom(table).Where(del.In("organization_id", ids...))
			q, args := del.Build()
			if _, err := tx.exec(ctx, q, args...); err != nil {
				return s.wrap(err, "delete "+table)
			}
		}

		del := s.flavor.NewDeleteBuilder()
		likes := make([]string, len(orgIDs))
		for i, id := range orgIDs {
			likes[i] = del.Like("organization_ids", tokenPattern(id))
		}
		del.DeleteFrom("matching_candidates").Where(del.Or(likes...))
		q, args := del.Build()
		if _, err := tx.exec(ctx, q, args...); err != nil {
			return s.wrap(err, "delete matching_candidates")
		}

		del = s.flavor.NewDeleteBuilder()
		del.DeleteFrom("organizations").Where(del.In("id", ids...))
		q, args = del.Build()
		_, err := tx.exec(ctx, q, args...)
		return s.wrap(err, "delete organizations")
	})
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *sqlStore) ping(ctx context.Context) error {
	_, err := s.conn.exec(ctx, "SELECT 1")
	return s.wrap(err, "ping")
}
