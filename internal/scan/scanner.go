// Package scan groups contact variants across organizations into matching
// candidates.
package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/contact-match/internal/company"
	"github.com/sells-group/contact-match/internal/conflict"
	"github.com/sells-group/contact-match/internal/metrics"
	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/publication"
	"github.com/sells-group/contact-match/internal/resilience"
	"github.com/sells-group/contact-match/internal/similarity"
	"github.com/sells-group/contact-match/internal/store"
)

// SystemUser is recorded as creator of records written by a scan.
const SystemUser = "system:matching"

// Store is the persistence subset the scanner reads and writes directly.
type Store interface {
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	ListContacts(ctx context.Context, orgID string, page store.Page) ([]model.Contact, error)
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	FindCandidate(ctx context.Context, entityType model.EntityType, matchKey string) (*model.MatchingCandidate, error)
	CreateCandidate(ctx context.Context, c *model.MatchingCandidate) error
	UpdateCandidate(ctx context.Context, c *model.MatchingCandidate) error
}

// Config tunes a Scanner. Zero values use defaults.
type Config struct {
	Concurrency     int
	BatchSize       int
	ContactPageSize int
	NameThreshold   int
	// RatePerSecond limits groups started per second; zero is unlimited.
	RatePerSecond float64
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.ContactPageSize <= 0 {
		c.ContactPageSize = store.DefaultPageSize
	}
	if c.NameThreshold <= 0 {
		c.NameThreshold = similarity.DefaultCompanyThreshold
	}
	return c
}

// Params describe one scan run.
type Params struct {
	JobID           string
	DevelopmentMode bool
	// ShouldStop is polled before each batch; returning true stops
	// scheduling further batches.
	ShouldStop func(ctx context.Context) bool
	// OnBatch receives the running totals after each batch.
	OnBatch func(ctx context.Context, stats model.ScanStats)
}

// Result is the outcome of a scan run.
type Result struct {
	Stats     model.ScanStats
	Cancelled bool
}

// Scanner runs the cross-tenant grouping over all organizations.
type Scanner struct {
	store        Store
	matcher      *similarity.Matcher
	companies    *company.Finder
	publications *publication.Finder
	conflicts    *conflict.Resolver
	guard        *resilience.Guard
	cfg          Config
}

// Deps are the collaborators of a Scanner.
type Deps struct {
	Store        Store
	Matcher      *similarity.Matcher
	Companies    *company.Finder
	Publications *publication.Finder
	Conflicts    *conflict.Resolver
	Guard        *resilience.Guard
}

// New creates a Scanner.
func New(deps Deps, cfg Config) *Scanner {
	if deps.Matcher == nil {
		deps.Matcher = similarity.NewMatcher(similarity.Options{})
	}
	if deps.Guard == nil {
		deps.Guard = NewStoreGuard(resilience.DefaultRetryPolicy(), resilience.DefaultBreakerConfig())
	}
	return &Scanner{
		store:        deps.Store,
		matcher:      deps.Matcher,
		companies:    deps.Companies,
		publications: deps.Publications,
		conflicts:    deps.Conflicts,
		guard:        deps.Guard,
		cfg:          cfg.withDefaults(),
	}
}

// NewStoreGuard returns the guard used around storage calls. Lookup misses
// and closed records are outcomes, not backend failures.
func NewStoreGuard(retry resilience.RetryPolicy, breaker resilience.BreakerConfig) *resilience.Guard {
	return resilience.NewGuard("store", retry, breaker, func(err error) bool {
		return !errors.Is(err, store.ErrNotFound) &&
			!errors.Is(err, store.ErrNotOpen) &&
			!errors.Is(err, store.ErrDuplicate) &&
			!errors.Is(err, store.ErrUnknownField) &&
			!errors.Is(err, company.ErrNoVariants)
	})
}

// IsSystemic reports whether err should fail the whole scan rather than a
// single group.
func IsSystemic(err error) bool {
	return errors.Is(err, resilience.ErrBreakerOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Scan loads every organization's contacts, groups them and writes one
// matching candidate per cross-tenant group. Per-group failures are counted
// and logged; systemic failures abort the scan.
func (s *Scanner) Scan(ctx context.Context, p Params) (*Result, error) {
	log := zap.L().With(zap.String("component", "scan"), zap.String("job_id", p.JobID))
	res := &Result{}

	variants, err := s.loadVariants(ctx, &res.Stats, log)
	if err != nil {
		return res, err
	}

	groups := BuildGroups(variants, s.matcher, s.cfg.NameThreshold)
	log.Info("scan: groups built",
		zap.Int("variants", len(variants)),
		zap.Int("groups", len(groups)),
		zap.Bool("development_mode", p.DevelopmentMode),
	)

	var limiter *rate.Limiter
	if s.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), 1)
	}

	for start := 0; start < len(groups); start += s.cfg.BatchSize {
		if p.ShouldStop != nil && p.ShouldStop(ctx) {
			log.Info("scan: stop requested", zap.Int("groups_remaining", len(groups)-start))
			res.Cancelled = true
			return res, nil
		}
		end := min(start+s.cfg.BatchSize, len(groups))

		batch, err := s.runBatch(ctx, groups[start:end], p, limiter, log)
		res.Stats.Add(batch)
		if p.OnBatch != nil {
			p.OnBatch(ctx, res.Stats)
		}
		if err != nil {
			return res, err
		}
	}

	log.Info("scan: finished",
		zap.Int("groups", res.Stats.GroupsEvaluated),
		zap.Int("candidates_created", res.Stats.CandidatesCreated),
		zap.Int("candidates_updated", res.Stats.CandidatesUpdated),
		zap.Int("conflicts_raised", res.Stats.ConflictsRaised),
		zap.Int("group_errors", res.Stats.GroupErrors),
	)
	return res, nil
}

// loadVariants pages through each organization's live contacts, sequentially
// per organization, and returns the valid variants.
func (s *Scanner) loadVariants(ctx context.Context, stats *model.ScanStats, log *zap.Logger) ([]model.ContactVariant, error) {
	orgs, err := resilience.Call(ctx, s.guard, "list organizations", s.store.ListOrganizations)
	if err != nil {
		return nil, eris.Wrap(err, "scan: list organizations")
	}

	var out []model.ContactVariant
	for _, org := range orgs {
		for offset := 0; ; offset += s.cfg.ContactPageSize {
			page := store.Page{Limit: s.cfg.ContactPageSize, Offset: offset}
			contacts, err := resilience.Call(ctx, s.guard, "list contacts", func(ctx context.Context) ([]model.Contact, error) {
				return s.store.ListContacts(ctx, org.ID, page)
			})
			if err != nil {
				return nil, eris.Wrapf(err, "scan: list contacts of %s", org.ID)
			}

			batch := make([]model.ContactVariant, 0, len(contacts))
			for _, c := range contacts {
				batch = append(batch, c.Variant(org.Name))
			}
			valid, invalid := model.FilterValid(batch)
			for _, verr := range invalid {
				log.Debug("scan: skipping invalid variant", zap.String("organization_id", org.ID), zap.Error(verr))
			}
			stats.ContactsScanned += len(contacts)
			stats.InvalidVariants += len(invalid)
			out = append(out, valid...)

			if len(contacts) < s.cfg.ContactPageSize {
				break
			}
		}
		stats.OrganizationsScanned++
	}
	return out, nil
}

func (s *Scanner) runBatch(ctx context.Context, groups []Group, p Params, limiter *rate.Limiter, log *zap.Logger) (model.ScanStats, error) {
	var (
		mu    sync.Mutex
		stats model.ScanStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, grp := range groups {
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}
			glog := log.With(zap.String("entity", grp.MatchKey), zap.Strings("organizations", grp.Organizations()))

			out, err := s.processGroup(gctx, grp, p)

			mu.Lock()
			defer mu.Unlock()
			stats.GroupsEvaluated++
			if err != nil {
				if IsSystemic(err) {
					metrics.GroupsEvaluated.WithLabelValues("aborted").Inc()
					return err
				}
				stats.GroupErrors++
				metrics.GroupsEvaluated.WithLabelValues("error").Inc()
				glog.Error("scan: group failed", zap.Error(err))
				return nil // don't abort the scan on a single group
			}
			stats.Add(out)
			metrics.GroupsEvaluated.WithLabelValues("ok").Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, eris.Wrap(err, "scan: batch aborted")
	}
	return stats, nil
}

// resolution is what one organization's own records say about a group.
type resolution struct {
	org          string
	variants     []model.ContactVariant
	company      *company.Resolution
	publications []publication.Match
}

// processGroup resolves the canonical entities of each contributing
// organization, upserts the candidate and proposes conflicts.
func (s *Scanner) processGroup(ctx context.Context, g Group, p Params) (model.ScanStats, error) {
	var stats model.ScanStats

	resolutions, err := s.resolve(ctx, g, p.DevelopmentMode)
	if err != nil {
		return stats, err
	}

	score := Score(g, s.matcher)
	cand := &model.MatchingCandidate{
		EntityType:  model.EntityContact,
		MatchKey:    g.MatchKey,
		DisplayName: g.DisplayName,
		Variants:    g.Variants,
		Score:       score,
		Status:      model.CandidateOpen,
		ScanJobID:   p.JobID,
	}
	seenPub := map[string]bool{}
	for _, r := range resolutions {
		if cand.CompanyID == "" && r.company != nil {
			cand.CompanyID = r.company.CompanyID
		}
		for _, m := range r.publications {
			if !seenPub[m.PublicationID] {
				seenPub[m.PublicationID] = true
				cand.PublicationIDs = append(cand.PublicationIDs, m.PublicationID)
			}
		}
	}

	created, updated, err := s.upsertCandidate(ctx, cand)
	if err != nil {
		return stats, err
	}
	if created {
		stats.CandidatesCreated++
	}
	if updated {
		stats.CandidatesUpdated++
	}
	if created || updated {
		metrics.CandidateScore.Observe(float64(score))
		zap.L().Info("scan: candidate written",
			zap.String("component", "scan"),
			zap.String("job_id", p.JobID),
			zap.String("candidate_id", cand.ID),
			zap.String("entity", g.MatchKey),
			zap.Int("score", score),
			zap.Bool("created", created),
		)
	}

	if !p.DevelopmentMode && s.conflicts != nil {
		n, err := s.proposeConflicts(ctx, g, cand, resolutions)
		stats.ConflictsRaised += n
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// resolve runs the company and publication finders for each organization's
// own variants. In development mode only lookups run and nothing is created.
func (s *Scanner) resolve(ctx context.Context, g Group, dev bool) ([]resolution, error) {
	orgs, byOrg := g.variantsByOrg()
	out := make([]resolution, 0, len(orgs))

	for _, org := range orgs {
		r := resolution{org: org, variants: byOrg[org]}

		if s.companies != nil {
			res, err := resilience.Call(ctx, s.guard, "resolve company", func(ctx context.Context) (*company.Resolution, error) {
				if dev {
					return s.companies.Find(ctx, r.variants, org)
				}
				return s.companies.FindOrCreate(ctx, r.variants, org, SystemUser)
			})
			if err != nil {
				return nil, eris.Wrapf(err, "scan: resolve company for %s", org)
			}
			r.company = res
		}

		if s.publications != nil {
			var companyID *string
			if r.company != nil {
				companyID = &r.company.CompanyID
			}
			matches, err := resilience.Call(ctx, s.guard, "resolve publications", func(ctx context.Context) ([]publication.Match, error) {
				if dev {
					return s.publications.FindPublications(ctx, companyID, r.variants, org)
				}
				return s.publications.FindOrCreateAll(ctx, companyID, r.variants, org, SystemUser)
			})
			if err != nil {
				return nil, eris.Wrapf(err, "scan: resolve publications for %s", org)
			}
			r.publications = matches
		}
		out = append(out, r)
	}
	return out, nil
}

// upsertCandidate writes cand keyed by entity type and match key. An open
// candidate is updated; a decided candidate over the same variants is left
// alone; anything else creates a new candidate.
func (s *Scanner) upsertCandidate(ctx context.Context, cand *model.MatchingCandidate) (created, updated bool, err error) {
	existing, err := resilience.Call(ctx, s.guard, "find candidate", func(ctx context.Context) (*model.MatchingCandidate, error) {
		return s.store.FindCandidate(ctx, cand.EntityType, cand.MatchKey)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	case err != nil:
		return false, false, eris.Wrapf(err, "scan: find candidate %s", cand.MatchKey)
	}

	if existing != nil {
		if existing.Status == model.CandidateOpen {
			cand.ID = existing.ID
			cand.CreatedAt = existing.CreatedAt
			if err := s.guard.Do(ctx, "update candidate", func(ctx context.Context) error {
				return s.store.UpdateCandidate(ctx, cand)
			}); err != nil {
				return false, false, eris.Wrapf(err, "scan: update candidate %s", cand.ID)
			}
			return false, true, nil
		}
		if existing.SameVariants(cand.Variants) {
			*cand = *existing
			return false, false, nil
		}
	}

	if err := s.guard.Do(ctx, "create candidate", func(ctx context.Context) error {
		return s.store.CreateCandidate(ctx, cand)
	}); err != nil {
		return false, false, eris.Wrapf(err, "scan: create candidate %s", cand.MatchKey)
	}
	return true, false, nil
}

// proposeConflicts suggests the group's majority company name to every
// organization whose resolved company carries a different name. A name is a
// majority when at least two variants agree and it outnumbers the current one.
func (s *Scanner) proposeConflicts(ctx context.Context, g Group, cand *model.MatchingCandidate, resolutions []resolution) (int, error) {
	majority, count, counts := majorityCompanyName(g.Variants)
	if majority == "" || count < 2 {
		return 0, nil
	}

	raised := 0
	for _, r := range resolutions {
		if r.company == nil || r.company.WasCreated {
			continue
		}
		current := similarity.NormalizeString(r.company.CompanyName)
		if current == similarity.NormalizeString(majority) || counts[current] >= count {
			continue
		}

		c, err := resilience.Call(ctx, s.guard, "get company", func(ctx context.Context) (*model.Company, error) {
			return s.store.GetCompany(ctx, r.company.CompanyID)
		})
		if err != nil {
			return raised, eris.Wrapf(err, "scan: get company %s", r.company.CompanyID)
		}

		_, ok, err := s.conflicts.Raise(ctx, conflict.Proposal{
			EntityType:     model.EntityCompany,
			EntityID:       c.ID,
			EntityName:     c.Name,
			OrganizationID: r.org,
			Field:          "name",
			CurrentValue:   c.Name,
			SuggestedValue: majority,
			Confidence:     float64(cand.Score) / 100,
			Evidence: model.Evidence{
				CurrentValueSource: c.Source,
				CurrentValueAge:    int(time.Since(c.UpdatedAt).Hours() / 24),
				NewVariantsCount:   count,
				TotalVariantsCount: len(g.Variants),
			},
			CandidateID: cand.ID,
		})
		if err != nil {
			return raised, err
		}
		if ok {
			raised++
		}
	}
	return raised, nil
}

// majorityCompanyName returns the most common company name across variants,
// its count and the count per normalized name.
func majorityCompanyName(vs []model.ContactVariant) (string, int, map[string]int) {
	sig := company.ExtractSignals(vs)
	counts := map[string]int{}
	for _, v := range vs {
		if k := similarity.NormalizeString(v.ContactData.CompanyName); k != "" {
			counts[k]++
		}
	}
	if len(sig.Names) == 0 {
		return "", 0, counts
	}
	top := sig.Names[0]
	return top, counts[similarity.NormalizeString(top)], counts
}
