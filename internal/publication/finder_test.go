package publication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-match/internal/lock"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/similarity"
	"github.com/sells-group/contact-match/internal/store"
)

func journalist(org string, titles []string, emails ...string) model.ContactVariant {
	v := model.ContactVariant{
		OrganizationID: org,
		ContactID:      "c-" + org,
		ContactData: model.ContactData{
			Name:            model.PersonName{FirstName: "Max", LastName: "Müller"},
			HasMediaProfile: len(titles) > 0,
			Publications:    titles,
		},
	}
	for _, e := range emails {
		v.ContactData.Emails = append(v.ContactData.Emails, model.Email{Email: e})
	}
	return v
}

func newTestFinder(t *testing.T) (*Finder, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemory()
	return NewFinder(s, similarity.NewMatcher(similarity.Options{}), lock.NewLocal(), Config{ContactPageSize: 2}), s
}

func seedPublication(t *testing.T, s *store.MemoryStore, p model.Publication) model.Publication {
	t.Helper()
	require.NoError(t, s.CreatePublication(context.Background(), &p))
	return p
}

func ids(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.PublicationID
	}
	return out
}

func TestCooccurrenceConfidence(t *testing.T) {
	tests := []struct {
		contacts int
		want     float64
	}{
		{1, 0.7},
		{2, 0.8},
		{3, 0.85},
		{4, 0.85},
		{5, 0.9},
		{12, 0.9},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.contacts), func(t *testing.T) {
			assert.Equal(t, tt.want, CooccurrenceConfidence(tt.contacts))
		})
	}
}

func TestExtractSignals_TitlesOnlyFromMediaProfiles(t *testing.T) {
	withProfile := journalist("org-1", []string{"Der Spiegel", "der  spiegel", "Die Zeit"}, "max@spiegel.de", "max@gmx.de")
	withoutProfile := model.ContactVariant{OrganizationID: "org-2", ContactID: "x",
		ContactData: model.ContactData{Publications: []string{"Bild"}, CompanyName: "Axel Springer"}}

	sig := ExtractSignals([]model.ContactVariant{withProfile, withoutProfile})
	assert.Equal(t, []string{"Der Spiegel", "Die Zeit"}, sig.Titles)
	assert.Equal(t, []string{"Axel Springer"}, sig.CompanyNames)
	assert.Equal(t, []string{"spiegel.de"}, sig.Domains)
}

func TestFindPublications_Passes(t *testing.T) {
	f, s := newTestFinder(t)
	ctx := context.Background()

	exact := seedPublication(t, s, model.Publication{Title: "Der Spiegel", OrganizationID: "org-1"})
	fuzzy := seedPublication(t, s, model.Publication{Title: "Süddeutsche Zeitung", OrganizationID: "org-1"})
	domain := seedPublication(t, s, model.Publication{Title: "Manager Magazin", Website: "https://www.manager-magazin.de", OrganizationID: "org-1"})
	cooc := seedPublication(t, s, model.Publication{Title: "Harvard Business Manager", OrganizationID: "org-1"})
	seedPublication(t, s, model.Publication{Title: "Bild", OrganizationID: "org-1"})

	var contacts []model.Contact
	for i := range 3 {
		contacts = append(contacts, model.Contact{
			ID:             fmt.Sprintf("existing-%d", i),
			OrganizationID: "org-1",
			Data:           model.ContactData{Emails: []model.Email{{Email: fmt.Sprintf("r%d@spiegel-gruppe.de", i)}}},
			PublicationIDs: []string{cooc.ID},
		})
	}
	_, err := s.CreateContacts(ctx, contacts)
	require.NoError(t, err)

	vs := []model.ContactVariant{
		journalist("org-1", []string{"Der Spiegel", "SZ"}, "max@manager-magazin.de", "max@spiegel-gruppe.de"),
	}
	matches, err := f.FindPublications(ctx, nil, vs, "org-1")
	require.NoError(t, err)
	require.Len(t, matches, 4)

	assert.Equal(t, []string{exact.ID, fuzzy.ID, domain.ID, cooc.ID}, ids(matches))
	assert.Equal(t, MethodExact, matches[0].Method)
	assert.Equal(t, 1.0, matches[0].Confidence)
	assert.Equal(t, MethodFuzzy, matches[1].Method)
	assert.Equal(t, 0.95, matches[1].Confidence)
	assert.Equal(t, MethodDomain, matches[2].Method)
	assert.Equal(t, 0.95, matches[2].Confidence)
	assert.Equal(t, MethodCooccurrence, matches[3].Method)
	assert.Equal(t, 0.85, matches[3].Confidence)
	assert.Equal(t, 3, matches[3].Evidence)
}

func TestFindPublications_CompanyScope(t *testing.T) {
	f, s := newTestFinder(t)
	spiegel, zeit := "co-spiegel", "co-zeit"
	inScope := seedPublication(t, s, model.Publication{Title: "Der Spiegel", CompanyID: &spiegel, OrganizationID: "org-1"})
	seedPublication(t, s, model.Publication{Title: "Der Spiegel", CompanyID: &zeit, OrganizationID: "org-1"})

	matches, err := f.FindPublications(context.Background(), &spiegel,
		[]model.ContactVariant{journalist("org-1", []string{"Der Spiegel"})}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, []string{inScope.ID}, ids(matches))
}

func TestFindPublications_ExcludesReferenceDeletedAndOtherOrgs(t *testing.T) {
	f, s := newTestFinder(t)
	deleted := time.Now()
	seedPublication(t, s, model.Publication{Title: "Der Spiegel", OrganizationID: "org-1", IsReference: true})
	seedPublication(t, s, model.Publication{Title: "Der Spiegel", OrganizationID: "org-1", DeletedAt: &deleted})
	seedPublication(t, s, model.Publication{ID: "pub-ref-1", Title: "Der Spiegel", OrganizationID: "org-1"})
	seedPublication(t, s, model.Publication{Title: "Der Spiegel", OrganizationID: "org-2"})

	matches, err := f.FindPublications(context.Background(), nil,
		[]model.ContactVariant{journalist("org-1", []string{"Der Spiegel"})}, "org-1")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

type flakyStore struct {
	*store.MemoryStore
	err error
}

func (s flakyStore) ListContactsByEmailDomain(context.Context, string, string, store.Page) ([]model.Contact, error) {
	return nil, s.err
}

func TestFindPublications_CooccurrenceErrorDegrades(t *testing.T) {
	mem := store.NewMemory()
	f := NewFinder(flakyStore{MemoryStore: mem, err: errors.New("timeout")}, nil, nil, Config{})
	p := seedPublication(t, mem, model.Publication{Title: "Der Spiegel", OrganizationID: "org-1"})
	seedPublication(t, mem, model.Publication{Title: "Manager Magazin", OrganizationID: "org-1"})

	matches, err := f.FindPublications(context.Background(), nil,
		[]model.ContactVariant{journalist("org-1", []string{"Der Spiegel"}, "max@spiegel.de")}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, ids(matches))
}

func TestFindPublications_ListErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	f := NewFinder(listFailStore{err: boom}, nil, nil, Config{})
	_, err := f.FindPublications(context.Background(), nil,
		[]model.ContactVariant{journalist("org-1", []string{"Der Spiegel"})}, "org-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
}

type listFailStore struct {
	flakyStore
	err error
}

func (s listFailStore) ListPublications(context.Context, store.EntityFilter) ([]model.Publication, error) {
	return nil, s.err
}

func TestCreate_Defaults(t *testing.T) {
	f, s := newTestFinder(t)
	companyID := "co-1"

	p, created, err := f.Create(context.Background(), CreateParams{
		Title:          "  Die Zeit ",
		OrganizationID: "org-1",
		CompanyID:      &companyID,
		PublisherName:  "Zeitverlag",
		UserID:         "user-1",
	})
	require.NoError(t, err)
	assert.True(t, created)

	stored, err := s.GetPublication(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Die Zeit", stored.Title)
	assert.Equal(t, DefaultType, stored.Type)
	assert.Equal(t, "DE", stored.Country)
	assert.Equal(t, []string{"de"}, stored.Languages)
	assert.False(t, stored.Monitoring.Enabled)
	assert.False(t, stored.Monitoring.AutoDetectFeeds)
	assert.Equal(t, "daily", stored.Monitoring.CheckFrequency)
	assert.Equal(t, model.PublicationMetrics{}, stored.Metrics)
	assert.False(t, stored.IsReference)
	assert.False(t, stored.IsGlobal)
	assert.Equal(t, model.SourceAutoMatching, stored.Source)
	require.NotNil(t, stored.CompanyID)
	assert.Equal(t, companyID, *stored.CompanyID)
	assert.Equal(t, "Zeitverlag", stored.PublisherName)
}

func TestCreate_RequiresTitle(t *testing.T) {
	f, _ := newTestFinder(t)
	_, _, err := f.Create(context.Background(), CreateParams{Title: " ", OrganizationID: "org-1"})
	assert.Error(t, err)
}

func TestCreate_ConcurrentIsIdempotent(t *testing.T) {
	f, s := newTestFinder(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := f.Create(ctx, CreateParams{Title: "Handelsblatt", OrganizationID: "org-1"})
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	all, err := s.ListPublications(ctx, store.EntityFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, createdCount)
}

func TestFindOrCreateAll_TwoTitlesTwoPublications(t *testing.T) {
	f, s := newTestFinder(t)
	ctx := context.Background()
	existing := seedPublication(t, s, model.Publication{Title: "Der Spiegel", OrganizationID: "org-1"})

	vs := []model.ContactVariant{journalist("org-1", []string{"Der Spiegel", "Die Zeit", "Handelsblatt"})}
	matches, err := f.FindOrCreateAll(ctx, nil, vs, "org-1", "user-1")
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, existing.ID, matches[0].PublicationID)
	assert.False(t, matches[0].WasCreated)
	assert.True(t, matches[1].WasCreated)
	assert.Equal(t, "Die Zeit", matches[1].Title)
	assert.True(t, matches[2].WasCreated)

	again, err := f.FindOrCreateAll(ctx, nil, vs, "org-1", "user-1")
	require.NoError(t, err)
	assert.Len(t, again, 3)
	for _, m := range again {
		assert.False(t, m.WasCreated)
	}

	all, err := s.ListPublications(ctx, store.EntityFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
