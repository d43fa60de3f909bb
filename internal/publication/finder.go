package publication

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/lock"
	"github.com/sells-group/contact-match/internal/metrics"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/similarity"
	"github.com/sells-group/contact-match/internal/store"
	"github.com/sells-group/contact-match/internal/webdomain"
)

// Defaults of a publication created by the engine.
const (
	DefaultType           = "print"
	DefaultCountry        = "DE"
	DefaultLanguage       = "de"
	DefaultCheckFrequency = "daily"
)

// Finder resolves variants to an organization's own publications.
type Finder struct {
	store          Store
	matcher        *similarity.Matcher
	locker         lock.Locker
	fuzzyThreshold int
	pageSize       int
}

// Config tunes a Finder. Zero values use the package defaults.
type Config struct {
	FuzzyThreshold  int
	ContactPageSize int
}

// NewFinder creates a publication finder. A nil matcher uses the default
// thresholds without caching; a nil locker serializes creates in-process.
func NewFinder(s Store, matcher *similarity.Matcher, locker lock.Locker, cfg Config) *Finder {
	if matcher == nil {
		matcher = similarity.NewMatcher(similarity.Options{CacheSize: -1})
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultFuzzyThreshold
	}
	if cfg.ContactPageSize <= 0 {
		cfg.ContactPageSize = store.DefaultPageSize
	}
	return &Finder{
		store:          s,
		matcher:        matcher,
		locker:         locker,
		fuzzyThreshold: cfg.FuzzyThreshold,
		pageSize:       cfg.ContactPageSize,
	}
}

// FindPublications returns the organization's own publications matching the
// variants, optionally scoped to companyID, highest confidence first.
//
// Four passes append matches not already found:
//  1. Exact normalized title, confidence 1.0
//  2. Fuzzy title at or above the fuzzy threshold, confidence score/100
//  3. Email domain equal to the publication website domain, confidence 0.95
//  4. Co-occurrence with existing contacts on the same email domain, 0.7-0.9
//
// Storage errors of the co-occurrence pass are logged and drop that pass.
func (f *Finder) FindPublications(ctx context.Context, companyID *string, variants []model.ContactVariant, organizationID string) ([]Match, error) {
	own, err := f.ownPublications(ctx, organizationID, companyID)
	if err != nil {
		return nil, err
	}
	if len(own) == 0 {
		return nil, nil
	}

	sig := ExtractSignals(variants)
	res := newResults()
	f.matchNames(sig, own, res)
	matchDomains(sig, own, res)
	f.matchCooccurrence(ctx, sig, own, organizationID, res)

	out := res.sorted()
	for _, m := range out {
		metrics.Resolutions.WithLabelValues(string(model.EntityPublication), string(m.Method)).Inc()
	}
	return out, nil
}

func (f *Finder) ownPublications(ctx context.Context, organizationID string, companyID *string) ([]model.Publication, error) {
	all, err := f.store.ListPublications(ctx, store.EntityFilter{OrganizationID: organizationID, CompanyID: companyID})
	if err != nil {
		return nil, eris.Wrapf(err, "publication: list own publications of %s", organizationID)
	}
	own := all[:0]
	for _, p := range all {
		if p.OrganizationID == organizationID && p.Owned() {
			own = append(own, p)
		}
	}
	return own, nil
}

func (f *Finder) matchNames(sig Signals, own []model.Publication, res *results) {
	names := sig.names()

	for _, name := range names {
		nn := similarity.NormalizeString(name)
		for _, p := range own {
			if similarity.NormalizeString(p.Title) == nn {
				res.add(Match{PublicationID: p.ID, Title: p.Title, Method: MethodExact, Confidence: ExactConfidence})
			}
		}
	}

	for _, name := range names {
		for _, p := range own {
			if res.has(p.ID) {
				continue
			}
			r := f.matcher.MatchPublicationNames(name, p.Title)
			if r.Score >= f.fuzzyThreshold {
				res.add(Match{
					PublicationID: p.ID,
					Title:         p.Title,
					Method:        MethodFuzzy,
					Confidence:    float64(r.Score) / 100,
				})
			}
		}
	}
}

func matchDomains(sig Signals, own []model.Publication, res *results) {
	for _, d := range sig.Domains {
		for _, p := range own {
			if res.has(p.ID) || p.Website == "" {
				continue
			}
			if webdomain.Match(d, p.Website) {
				res.add(Match{PublicationID: p.ID, Title: p.Title, Method: MethodDomain, Confidence: DomainConfidence})
			}
		}
	}
}

// matchCooccurrence tallies the own publications already linked to the
// organization's contacts on each signal domain, paging through contacts.
func (f *Finder) matchCooccurrence(ctx context.Context, sig Signals, own []model.Publication, organizationID string, res *results) {
	if len(sig.Domains) == 0 {
		return
	}
	byID := make(map[string]model.Publication, len(own))
	for _, p := range own {
		if !res.has(p.ID) {
			byID[p.ID] = p
		}
	}
	if len(byID) == 0 {
		return
	}

	counts := map[string]int{}
	var order []string
	counted := map[string]bool{}
	for _, d := range sig.Domains {
		for offset := 0; ; offset += f.pageSize {
			contacts, err := f.store.ListContactsByEmailDomain(ctx, organizationID, d, store.Page{Limit: f.pageSize, Offset: offset})
			if err != nil {
				zap.L().Warn("publication: co-occurrence query failed",
					zap.String("component", "publication"),
					zap.String("organization_id", organizationID),
					zap.String("domain", d),
					zap.Error(err),
				)
				metrics.CooccurrenceErrors.Inc()
				return
			}
			for _, c := range contacts {
				if counted[c.ID] {
					continue
				}
				counted[c.ID] = true
				for _, pid := range c.PublicationIDs {
					if _, ok := byID[pid]; !ok {
						continue
					}
					if counts[pid] == 0 {
						order = append(order, pid)
					}
					counts[pid]++
				}
			}
			if len(contacts) < f.pageSize {
				break
			}
		}
	}

	for _, pid := range order {
		p := byID[pid]
		res.add(Match{
			PublicationID: pid,
			Title:         p.Title,
			Method:        MethodCooccurrence,
			Confidence:    CooccurrenceConfidence(counts[pid]),
			Evidence:      counts[pid],
		})
	}
}

// CreateParams describes a publication to create.
type CreateParams struct {
	Title          string
	OrganizationID string
	CompanyID      *string
	PublisherName  string
	Website        string
	UserID         string
}

// Create adds a publication with engine defaults to the organization. It is
// idempotent per organization, company scope and normalized title: when an
// own publication with the same title exists, that one is returned.
func (f *Finder) Create(ctx context.Context, params CreateParams) (*model.Publication, bool, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" || params.OrganizationID == "" {
		return nil, false, eris.New("publication: title and organization are required")
	}
	norm := similarity.NormalizeString(title)
	scope := ""
	if params.CompanyID != nil {
		scope = *params.CompanyID
	}

	var (
		out     *model.Publication
		created bool
	)
	err := f.locker.WithLock(ctx, lock.Key("publication", params.OrganizationID, scope, norm), func(ctx context.Context) error {
		own, err := f.ownPublications(ctx, params.OrganizationID, params.CompanyID)
		if err != nil {
			return err
		}
		for i := range own {
			if similarity.NormalizeString(own[i].Title) == norm {
				out = &own[i]
				return nil
			}
		}

		p := NewPublication(params)
		p.Title = title
		if err := f.store.CreatePublication(ctx, p); err != nil {
			return eris.Wrapf(err, "publication: create %q", title)
		}
		out, created = p, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		zap.L().Info("publication: created",
			zap.String("component", "publication"),
			zap.String("organization_id", params.OrganizationID),
			zap.String("publication_id", out.ID),
			zap.String("title", out.Title),
		)
	}
	return out, created, nil
}

// NewPublication returns an unsaved publication with engine defaults.
func NewPublication(params CreateParams) *model.Publication {
	return &model.Publication{
		Title:          params.Title,
		CompanyID:      params.CompanyID,
		PublisherName:  params.PublisherName,
		Website:        params.Website,
		OrganizationID: params.OrganizationID,
		Type:           DefaultType,
		Country:        DefaultCountry,
		Languages:      []string{DefaultLanguage},
		Monitoring: model.Monitoring{
			CheckFrequency: DefaultCheckFrequency,
		},
		Source:    model.SourceAutoMatching,
		CreatedBy: params.UserID,
	}
}

// FindOrCreateAll runs FindPublications and then creates a publication for
// every listed title that none of the matches covers.
func (f *Finder) FindOrCreateAll(ctx context.Context, companyID *string, variants []model.ContactVariant, organizationID, userID string) ([]Match, error) {
	matches, err := f.FindPublications(ctx, companyID, variants, organizationID)
	if err != nil {
		return nil, err
	}

	sig := ExtractSignals(variants)
	publisher := ""
	if len(sig.CompanyNames) > 0 {
		publisher = sig.CompanyNames[0]
	}
	for _, title := range sig.Titles {
		if f.covered(title, matches) {
			continue
		}
		p, created, err := f.Create(ctx, CreateParams{
			Title:          title,
			OrganizationID: organizationID,
			CompanyID:      companyID,
			PublisherName:  publisher,
			UserID:         userID,
		})
		if err != nil {
			return nil, err
		}
		m := Match{PublicationID: p.ID, Title: p.Title, Method: MethodCreated, Confidence: ExactConfidence, WasCreated: created}
		if !created {
			m.Method = MethodExact
		}
		matches = append(matches, m)
		metrics.Resolutions.WithLabelValues(string(model.EntityPublication), string(m.Method)).Inc()
	}
	return matches, nil
}

// covered reports whether one of matches already stands for title.
func (f *Finder) covered(title string, matches []Match) bool {
	for _, m := range matches {
		if f.matcher.MatchPublicationNames(title, m.Title).Score >= f.fuzzyThreshold {
			return true
		}
	}
	return false
}
