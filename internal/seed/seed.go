// Package seed writes and removes the shared-journalist test fixture.
package seed

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/contact-match/internal/model"
)

// Prefix marks every id written by the seeder.
const Prefix = "test_"

//go:embed testdata.yaml
var fixtureYAML []byte

// Store is the persistence subset the seeder needs.
type Store interface {
	CreateOrganization(ctx context.Context, org model.Organization) error
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	CreateContacts(ctx context.Context, contacts []model.Contact) (int64, error)
	CreateCompany(ctx context.Context, c *model.Company) error
	CreatePublication(ctx context.Context, p *model.Publication) error
	DeleteOrganizationData(ctx context.Context, orgIDs []string) error
}

type companyFixture struct {
	model.Company `yaml:",inline"`
	Deleted       bool `yaml:"deleted"`
}

type publicationFixture struct {
	model.Publication `yaml:",inline"`
	Deleted           bool `yaml:"deleted"`
}

// Fixture is the decoded test data set.
type Fixture struct {
	Organizations []model.Organization `yaml:"organizations"`
	Companies     []companyFixture     `yaml:"companies"`
	Publications  []publicationFixture `yaml:"publications"`
	Contacts      []model.Contact      `yaml:"contacts"`
}

// Result counts what Seed wrote.
type Result struct {
	Organizations int   `json:"organizations"`
	Companies     int   `json:"companies"`
	Publications  int   `json:"publications"`
	Contacts      int64 `json:"contacts"`
}

// LoadFixture decodes the embedded fixture and prefixes all ids.
func LoadFixture() (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(fixtureYAML, &f); err != nil {
		return nil, eris.Wrap(err, "seed: parse fixture")
	}
	deleted := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range f.Organizations {
		f.Organizations[i].ID = prefixed(f.Organizations[i].ID)
	}
	for i := range f.Companies {
		c := &f.Companies[i]
		c.ID = prefixed(c.ID)
		c.OrganizationID = prefixed(c.OrganizationID)
		c.Source = model.SourceTestData
		if c.Deleted {
			c.DeletedAt = &deleted
		}
	}
	for i := range f.Publications {
		p := &f.Publications[i]
		p.ID = prefixed(p.ID)
		p.OrganizationID = prefixed(p.OrganizationID)
		if p.CompanyID != nil {
			id := prefixed(*p.CompanyID)
			p.CompanyID = &id
		}
		p.Source = model.SourceTestData
		if p.Deleted {
			p.DeletedAt = &deleted
		}
	}
	for i := range f.Contacts {
		c := &f.Contacts[i]
		c.ID = prefixed(c.ID)
		c.OrganizationID = prefixed(c.OrganizationID)
		if c.CompanyID != "" {
			c.CompanyID = prefixed(c.CompanyID)
		}
		for j, id := range c.PublicationIDs {
			c.PublicationIDs[j] = prefixed(id)
		}
	}
	return &f, nil
}

func prefixed(id string) string {
	if id == "" || strings.HasPrefix(id, Prefix) {
		return id
	}
	return Prefix + id
}

// OrganizationIDs returns the ids of the fixture organizations.
func (f *Fixture) OrganizationIDs() []string {
	ids := make([]string, len(f.Organizations))
	for i, o := range f.Organizations {
		ids[i] = o.ID
	}
	return ids
}

// Seeder writes and removes the fixture.
type Seeder struct {
	store Store
}

// New creates a Seeder.
func New(s Store) *Seeder {
	return &Seeder{store: s}
}

// Seed writes the fixture. Existing test data is removed first so the
// result is the same on every call.
func (s *Seeder) Seed(ctx context.Context) (*Result, error) {
	f, err := LoadFixture()
	if err != nil {
		return nil, err
	}
	if err := s.Cleanup(ctx); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, org := range f.Organizations {
		if err := s.store.CreateOrganization(ctx, org); err != nil {
			return nil, eris.Wrapf(err, "seed: create organization %s", org.ID)
		}
		res.Organizations++
	}
	for i := range f.Companies {
		c := f.Companies[i].Company
		if err := s.store.CreateCompany(ctx, &c); err != nil {
			return nil, eris.Wrapf(err, "seed: create company %s", c.ID)
		}
		res.Companies++
	}
	for i := range f.Publications {
		p := f.Publications[i].Publication
		if err := s.store.CreatePublication(ctx, &p); err != nil {
			return nil, eris.Wrapf(err, "seed: create publication %s", p.ID)
		}
		res.Publications++
	}
	n, err := s.store.CreateContacts(ctx, f.Contacts)
	if err != nil {
		return nil, eris.Wrap(err, "seed: create contacts")
	}
	res.Contacts = n

	zap.L().Info("seed: test data written",
		zap.String("component", "seed"),
		zap.Int("organizations", res.Organizations),
		zap.Int("companies", res.Companies),
		zap.Int("publications", res.Publications),
		zap.Int64("contacts", res.Contacts),
	)
	return res, nil
}

// Cleanup removes all data of the fixture organizations and of any other
// organization carrying the test prefix.
func (s *Seeder) Cleanup(ctx context.Context) error {
	f, err := LoadFixture()
	if err != nil {
		return err
	}
	ids := f.OrganizationIDs()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}

	orgs, err := s.store.ListOrganizations(ctx)
	if err != nil {
		return eris.Wrap(err, "seed: list organizations")
	}
	for _, o := range orgs {
		if strings.HasPrefix(o.ID, Prefix) && !seen[o.ID] {
			ids = append(ids, o.ID)
		}
	}

	if err := s.store.DeleteOrganizationData(ctx, ids); err != nil {
		return eris.Wrap(err, "seed: delete test data")
	}
	zap.L().Info("seed: test data removed", zap.String("component", "seed"), zap.Strings("organizations", ids))
	return nil
}
