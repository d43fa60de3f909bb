package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/scanjob"
	"github.com/sells-group/contact-match/internal/store"
)

func TestLoadFixture(t *testing.T) {
	f, err := LoadFixture()
	require.NoError(t, err)

	assert.Len(t, f.Organizations, 3)
	for _, o := range f.Organizations {
		assert.True(t, strings.HasPrefix(o.ID, Prefix), o.ID)
	}
	for _, c := range f.Contacts {
		assert.True(t, strings.HasPrefix(c.ID, Prefix), c.ID)
		assert.True(t, strings.HasPrefix(c.OrganizationID, Prefix), c.OrganizationID)
		for _, id := range c.PublicationIDs {
			assert.True(t, strings.HasPrefix(id, Prefix), id)
		}
		assert.NoError(t, c.Variant("").Validate())
	}

	var reference, deleted int
	for _, c := range f.Companies {
		assert.Equal(t, model.SourceTestData, c.Source)
		if c.IsReference {
			reference++
		}
		if c.DeletedAt != nil {
			deleted++
		}
	}
	assert.Equal(t, 1, reference)
	assert.Equal(t, 1, deleted)

	require.NotNil(t, f.Publications[0].CompanyID)
	assert.Equal(t, "test_co_spiegel_alpha", *f.Publications[0].CompanyID)
}

func TestSeed_IsRepeatable(t *testing.T) {
	s := store.NewMemory()
	seeder := New(s)
	ctx := context.Background()

	res, err := seeder.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Organizations)
	assert.Equal(t, 3, res.Companies)
	assert.Equal(t, 2, res.Publications)
	assert.Equal(t, int64(6), res.Contacts)

	_, err = seeder.Seed(ctx)
	require.NoError(t, err)

	orgs, err := s.ListOrganizations(ctx)
	require.NoError(t, err)
	assert.Len(t, orgs, 3)
	contacts, err := s.ListContacts(ctx, "test_org_alpha", store.Page{})
	require.NoError(t, err)
	assert.Len(t, contacts, 3)
}

func TestCleanup_KeepsOtherOrganizations(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, s.CreateOrganization(ctx, model.Organization{ID: "org-real", Name: "Real"}))
	require.NoError(t, s.CreateOrganization(ctx, model.Organization{ID: "test_leftover", Name: "Leftover"}))
	_, err := s.CreateContacts(ctx, []model.Contact{{ID: "real-1", OrganizationID: "org-real"}})
	require.NoError(t, err)

	seeder := New(s)
	_, err = seeder.Seed(ctx)
	require.NoError(t, err)
	require.NoError(t, seeder.Cleanup(ctx))

	orgs, err := s.ListOrganizations(ctx)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, "org-real", orgs[0].ID)

	contacts, err := s.ListContacts(ctx, "org-real", store.Page{})
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
}

func TestSeed_ScanFindsSharedJournalists(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	_, err := New(s).Seed(ctx)
	require.NoError(t, err)

	job, err := scanjob.New(s, nil, scanjob.Config{}).Run(ctx, scanjob.Options{})
	require.NoError(t, err)
	assert.Equal(t, model.ScanCompleted, job.Status)
	assert.Equal(t, 3, job.Stats.OrganizationsScanned)
	assert.Equal(t, 6, job.Stats.ContactsScanned)
	assert.Zero(t, job.Stats.GroupErrors)

	cands, err := s.ListCandidates(ctx, store.CandidateFilter{})
	require.NoError(t, err)
	keys := map[string]int{}
	for _, c := range cands {
		keys[c.MatchKey] = len(c.Organizations())
		assert.GreaterOrEqual(t, c.Score, 70, c.MatchKey)
	}
	assert.Equal(t, map[string]int{"max mueller": 2, "anna schmidt": 3}, keys)

	// The reference mirror in beta is never reused; beta gets its own company.
	beta, err := s.ListCompanies(ctx, store.EntityFilter{OrganizationID: "test_org_beta", IncludeReference: true})
	require.NoError(t, err)
	owned := 0
	for _, c := range beta {
		if c.Owned() {
			owned++
		}
	}
	assert.GreaterOrEqual(t, owned, 1)
}
