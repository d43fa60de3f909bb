package company

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-match/internal/lock"
	"github.com/sells-group/contact-match/internal/metrics"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/similarity"
	"github.com/sells-group/contact-match/internal/store"
	"github.com/sells-group/contact-match/internal/webdomain"
)

// ErrNoVariants is returned when FindOrCreate is called without variants.
var ErrNoVariants = eris.New("company: no variants")

// Finder resolves contact variants to one of an organization's own companies.
type Finder struct {
	store      Store
	matcher    *similarity.Matcher
	locker     lock.Locker
	maxResults int
}

// Option configures a Finder.
type Option func(*Finder)

// WithMaxResults bounds the fuzzy candidates considered per name.
func WithMaxResults(n int) Option {
	return func(f *Finder) {
		if n > 0 {
			f.maxResults = n
		}
	}
}

// NewFinder creates a company finder. A nil matcher uses the default
// thresholds without caching; a nil locker serializes creates in-process.
func NewFinder(s Store, matcher *similarity.Matcher, locker lock.Locker, opts ...Option) *Finder {
	if matcher == nil {
		matcher = similarity.NewMatcher(similarity.Options{CacheSize: -1})
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	f := &Finder{store: s, matcher: matcher, locker: locker, maxResults: similarity.DefaultMaxResults}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Find matches variants against the organization's own companies without
// creating anything. It returns nil when no company matches.
//
// Matching priority, first match wins:
//  1. Exact normalized name, confidence high
//  2. Fuzzy name at or above the company threshold, confidence by score
//  3. Email domain equal to a company website domain, confidence high
//  4. Without any company name, the company named like a fresh create would be
func (f *Finder) Find(ctx context.Context, variants []model.ContactVariant, organizationID string) (*Resolution, error) {
	own, err := f.ownCompanies(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return f.match(ExtractSignals(variants), own), nil
}

// FindOrCreate resolves variants to exactly one company of organizationID,
// creating it when no own company matches. Creation is serialized on the
// organization and normalized name, and re-checks after the lock is taken.
func (f *Finder) FindOrCreate(ctx context.Context, variants []model.ContactVariant, organizationID, userID string) (*Resolution, error) {
	if len(variants) == 0 {
		return nil, ErrNoVariants
	}
	log := zap.L().With(zap.String("component", "company"), zap.String("organization_id", organizationID))

	sig := ExtractSignals(variants)
	own, err := f.ownCompanies(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if res := f.match(sig, own); res != nil {
		log.Debug("company: resolved",
			zap.String("company_id", res.CompanyID),
			zap.String("method", string(res.Method)),
			zap.Int("score", res.Score),
		)
		metrics.Resolutions.WithLabelValues(string(model.EntityCompany), string(res.Method)).Inc()
		return res, nil
	}

	name := sig.CreationName()
	key := lock.Key("company", organizationID, similarity.NormalizeString(name))

	var res *Resolution
	err = f.locker.WithLock(ctx, key, func(ctx context.Context) error {
		own, err := f.ownCompanies(ctx, organizationID)
		if err != nil {
			return err
		}
		if res = f.match(sig, own); res != nil {
			return nil
		}

		c := &model.Company{
			Name:           name,
			OrganizationID: organizationID,
			Source:         model.SourceAutoMatching,
			CreatedBy:      userID,
		}
		if len(sig.Domains) > 0 {
			c.Website = sig.Domains[0]
		}
		if err := f.store.CreateCompany(ctx, c); err != nil {
			return eris.Wrapf(err, "company: create %q", name)
		}
		res = &Resolution{
			CompanyID:   c.ID,
			CompanyName: c.Name,
			Method:      MethodCreated,
			Confidence:  ConfidenceHigh,
			Score:       100,
			WasCreated:  true,
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "company: find or create")
	}

	if res.WasCreated {
		log.Info("company: created",
			zap.String("company_id", res.CompanyID),
			zap.String("name", res.CompanyName),
			zap.String("user_id", userID),
		)
	}
	metrics.Resolutions.WithLabelValues(string(model.EntityCompany), string(res.Method)).Inc()
	return res, nil
}

// ownCompanies lists the organization's live, non-reference companies.
func (f *Finder) ownCompanies(ctx context.Context, organizationID string) ([]model.Company, error) {
	all, err := f.store.ListCompanies(ctx, store.EntityFilter{OrganizationID: organizationID})
	if err != nil {
		return nil, eris.Wrapf(err, "company: list own companies of %s", organizationID)
	}
	own := all[:0]
	for _, c := range all {
		// Backends already filter flags; the id check also catches mirrors
		// imported without them.
		if c.OrganizationID == organizationID && c.Owned() {
			own = append(own, c)
		}
	}
	return own, nil
}

func (f *Finder) match(sig Signals, own []model.Company) *Resolution {
	if len(own) == 0 {
		return nil
	}

	// Pass 1: exact normalized name.
	for _, name := range sig.Names {
		nn := similarity.NormalizeString(name)
		for _, c := range own {
			if similarity.NormalizeString(c.Name) == nn {
				return &Resolution{
					CompanyID:   c.ID,
					CompanyName: c.Name,
					Method:      MethodExact,
					Confidence:  ConfidenceHigh,
					Score:       100,
				}
			}
		}
	}

	// Pass 2: fuzzy name.
	names := make([]string, len(own))
	for i, c := range own {
		names[i] = c.Name
	}
	var best *similarity.NameMatch
	for _, name := range sig.Names {
		matches := f.matcher.FindBestCompanyMatches(name, names, similarity.SearchOptions{
			NameThreshold: f.matcher.CompanyThreshold(),
			MaxResults:    f.maxResults,
		})
		if len(matches) > 0 && (best == nil || matches[0].Score > best.Score) {
			m := matches[0]
			best = &m
		}
	}
	if best != nil {
		c := own[best.Index]
		return &Resolution{
			CompanyID:   c.ID,
			CompanyName: c.Name,
			Method:      MethodFuzzy,
			Confidence:  fuzzyConfidence(best.Score),
			Score:       best.Score,
		}
	}

	// Pass 3: email domain against website.
	for _, d := range sig.Domains {
		for _, c := range own {
			if c.Website != "" && webdomain.Match(d, c.Website) {
				return &Resolution{
					CompanyID:   c.ID,
					CompanyName: c.Name,
					Method:      MethodDomain,
					Confidence:  ConfidenceHigh,
					Score:       100,
				}
			}
		}
	}

	// Pass 4: without a company name, the record an earlier create would
	// have named.
	if len(sig.Names) == 0 {
		nn := similarity.NormalizeString(sig.CreationName())
		for _, c := range own {
			if similarity.NormalizeString(c.Name) == nn {
				return &Resolution{
					CompanyID:   c.ID,
					CompanyName: c.Name,
					Method:      MethodExact,
					Confidence:  ConfidenceHigh,
					Score:       100,
				}
			}
		}
	}
	return nil
}
