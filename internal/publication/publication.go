// Package publication resolves the canonical publications an organization
// keeps for a group of contact variants.
package publication

import (
	"context"
	"sort"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/similarity"
	"github.com/sells-group/contact-match/internal/store"
	"github.com/sells-group/contact-match/internal/webdomain"
)

// Store is the persistence subset the publication finder needs.
type Store interface {
	ListPublications(ctx context.Context, filter store.EntityFilter) ([]model.Publication, error)
	CreatePublication(ctx context.Context, p *model.Publication) error
	ListContactsByEmailDomain(ctx context.Context, orgID, domain string, page store.Page) ([]model.Contact, error)
}

// Method says which pass produced a match.
type Method string

const (
	MethodExact        Method = "exact"
	MethodFuzzy        Method = "fuzzy"
	MethodDomain       Method = "domain"
	MethodCooccurrence Method = "cooccurrence"
	MethodCreated      Method = "created"
)

// Pass confidences.
const (
	ExactConfidence  = 1.0
	DomainConfidence = 0.95
)

// DefaultFuzzyThreshold is the minimum title similarity of the fuzzy pass.
const DefaultFuzzyThreshold = 85

// Match is one publication resolved for a variant set.
type Match struct {
	PublicationID string  `json:"publication_id"`
	Title         string  `json:"title"`
	Method        Method  `json:"method"`
	Confidence    float64 `json:"confidence"`
	// Evidence is the number of existing contacts linked to the publication
	// on a shared email domain. Only set by the co-occurrence pass.
	Evidence   int  `json:"evidence,omitempty"`
	WasCreated bool `json:"was_created,omitempty"`
}

// CooccurrenceConfidence grades the number of co-occurring contacts.
func CooccurrenceConfidence(contacts int) float64 {
	switch {
	case contacts >= 5:
		return 0.9
	case contacts >= 3:
		return 0.85
	case contacts >= 2:
		return 0.8
	default:
		return 0.7
	}
}

// Signals are the matching inputs extracted from a variant set.
type Signals struct {
	// Titles are the distinct publication names listed by media profiles.
	Titles []string
	// CompanyNames are the distinct company names; they may double as
	// publisher names or outlet titles.
	CompanyNames []string
	// Domains are the distinct non-freemail email domains.
	Domains []string
}

// ExtractSignals collects publication names, company names and email domains.
func ExtractSignals(variants []model.ContactVariant) Signals {
	var sig Signals
	seenTitle := map[string]bool{}
	seenCompany := map[string]bool{}
	seenDomain := map[string]bool{}

	for _, v := range variants {
		d := v.ContactData
		if d.HasMediaProfile {
			for _, t := range d.Publications {
				if k := similarity.NormalizeString(t); k != "" && !seenTitle[k] {
					seenTitle[k] = true
					sig.Titles = append(sig.Titles, t)
				}
			}
		}
		if k := similarity.NormalizeString(d.CompanyName); k != "" && !seenCompany[k] {
			seenCompany[k] = true
			sig.CompanyNames = append(sig.CompanyNames, d.CompanyName)
		}
		for _, addr := range d.EmailAddresses() {
			dom, ok := webdomain.Extract(addr)
			if !ok || seenDomain[dom] || webdomain.IsFreemail(dom) {
				continue
			}
			seenDomain[dom] = true
			sig.Domains = append(sig.Domains, dom)
		}
	}
	return sig
}

// names returns the listed titles followed by company names.
func (s Signals) names() []string {
	out := make([]string, 0, len(s.Titles)+len(s.CompanyNames))
	out = append(out, s.Titles...)
	return append(out, s.CompanyNames...)
}

// results accumulates matches deduplicated by publication id.
type results struct {
	seen    map[string]bool
	matches []Match
}

func newResults() *results {
	return &results{seen: map[string]bool{}}
}

func (r *results) add(m Match) bool {
	if r.seen[m.PublicationID] {
		return false
	}
	r.seen[m.PublicationID] = true
	r.matches = append(r.matches, m)
	return true
}

func (r *results) has(id string) bool { return r.seen[id] }

// sorted returns the matches by confidence, highest first; ties keep pass order.
func (r *results) sorted() []Match {
	sort.SliceStable(r.matches, func(i, j int) bool {
		return r.matches[i].Confidence > r.matches[j].Confidence
	})
	return r.matches
}
