package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-match/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return newPostgresStore(mock), mock
}

var companyCols = []string{"id", "name", "website", "organization_id", "is_reference", "source", "created_by", "deleted_at", "created_at", "updated_at"}

var reviewCols = []string{
	"id", "entity_type", "entity_id", "entity_name", "organization_id", "field", "current_value",
	"suggested_value", "confidence", "priority", "evidence", "status", "candidate_id", "reviewed_by",
	"review_notes", "reviewed_at", "created_at", "updated_at",
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS organizations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCompany(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, name, website, .* FROM companies WHERE id = \$1`).
		WithArgs("co-1").
		WillReturnRows(pgxmock.NewRows(companyCols).
			AddRow("co-1", "Spiegel Verlag", "spiegel.de", "org-a", false, "manual", "", nil, now, now))

	c, err := s.GetCompany(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Equal(t, "Spiegel Verlag", c.Name)
	assert.Equal(t, "org-a", c.OrganizationID)
	assert.Nil(t, c.DeletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCompany_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM companies WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(companyCols))

	_, err := s.GetCompany(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get company")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCompanies_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM companies WHERE organization_id = \$1 AND is_reference = \$2 AND deleted_at IS NULL`).
		WithArgs("org-a", false).
		WillReturnError(errors.New("connection reset"))

	_, err := s.ListCompanies(context.Background(), EntityFilter{OrganizationID: "org-a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list companies")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateContacts_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_contacts"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_contacts"}, contactUpsertColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "contacts" .* ON CONFLICT \("id"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	contacts := []model.Contact{
		contact("c1", "org-a", "Peter", "Müller", "peter@zeit.de"),
		contact("", "org-a", "Anna", "Schmidt"),
	}
	n, err := s.CreateContacts(context.Background(), contacts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NotEmpty(t, contacts[1].ID)
	assert.Equal(t, []string{"zeit.de"}, contacts[0].EmailDomains)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateContacts_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	n, err := s.CreateContacts(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReview_Applies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE conflict_reviews SET .* WHERE id = \$\d+ AND status = \$\d+`).
		WithArgs("approved", "editor", "", pgxmock.AnyArg(), pgxmock.AnyArg(), "rv-1", "open").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE companies SET website = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("www.spiegel.de", pgxmock.AnyArg(), "co-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.ResolveReview(context.Background(), ReviewDecision{
		ID:         "rv-1",
		Status:     model.ReviewApproved,
		ReviewedBy: "editor",
		Apply: &FieldUpdate{
			EntityType: model.EntityCompany,
			EntityID:   "co-1",
			Fields:     map[string]string{"website": "www.spiegel.de"},
		},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReview_AlreadyClosed(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE conflict_reviews SET`).
		WithArgs("rejected", "", "", pgxmock.AnyArg(), pgxmock.AnyArg(), "rv-1", "open").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT .* FROM conflict_reviews WHERE id = \$1`).
		WithArgs("rv-1").
		WillReturnRows(pgxmock.NewRows(reviewCols).AddRow(
			"rv-1", "company", "co-1", "Spiegel Verlag", "org-a", "website", "spiegel.de",
			"www.spiegel.de", 0.8, "high", []byte(`{"new_variants_count":3}`), "approved", "", "other-editor",
			"", &now, now, now,
		))
	mock.ExpectRollback()

	err := s.ResolveReview(context.Background(), ReviewDecision{ID: "rv-1", Status: model.ReviewRejected})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotOpen))
	assert.Contains(t, err.Error(), "approved")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResolveReview_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE conflict_reviews SET`).
		WithArgs("rejected", "", "", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing", "open").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM conflict_reviews WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(reviewCols))
	mock.ExpectRollback()

	err := s.ResolveReview(context.Background(), ReviewDecision{ID: "missing", Status: model.ReviewRejected})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RequestScanCancel(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scan_jobs SET cancel_requested = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs(true, pgxmock.AnyArg(), "job-1", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.RequestScanCancel(context.Background(), "job-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateScanJob_Finished(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`UPDATE scan_jobs SET .* WHERE id = \$6 AND status = \$7`).
		WithArgs("completed", pgxmock.AnyArg(), "", pgxmock.AnyArg(), pgxmock.AnyArg(), "job-1", "running").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`FROM scan_jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "stats", "development_mode", "cancel_requested", "error", "started_at", "updated_at", "completed_at",
		}).AddRow("job-1", "failed", []byte(`{}`), false, false, "stale", now, now, &now))

	err := s.UpdateScanJob(context.Background(), &model.ScanJob{ID: "job-1", Status: model.ScanCompleted})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotOpen))
	assert.Contains(t, err.Error(), "failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteOrganizationData(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	for _, table := range []string{"contacts", "companies", "publications", "conflict_reviews"} {
		mock.ExpectExec(`DELETE FROM ` + table + ` WHERE organization_id IN \(\$1, \$2\)`).
			WithArgs("test-a", "test-b").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
	}
	mock.ExpectExec(`DELETE FROM matching_candidates WHERE \(organization_ids LIKE \$1 OR organization_ids LIKE \$2\)`).
		WithArgs("% test-a %", "% test-b %").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM organizations WHERE id IN \(\$1, \$2\)`).
		WithArgs("test-a", "test-b").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteOrganizationData(context.Background(), []string{"test-a", "test-b"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
