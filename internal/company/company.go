// Package company resolves the canonical company an organization keeps for a
// group of contact variants, creating one when nothing owned matches.
package company

import (
	"sort"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/similarity"
	"github.com/sells-group/contact-match/internal/webdomain"
)

// Method says how a company was resolved.
type Method string

const (
	MethodExact   Method = "exact"
	MethodFuzzy   Method = "fuzzy"
	MethodDomain  Method = "domain"
	MethodCreated Method = "created"
)

// Confidence grades a resolution.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// UnknownName names a created company when the variants carry neither a
// company name nor a usable email domain.
const UnknownName = "Unbekannt"

// Resolution is the company a set of variants resolved to.
type Resolution struct {
	CompanyID   string     `json:"company_id"`
	CompanyName string     `json:"company_name"`
	Method      Method     `json:"method"`
	Confidence  Confidence `json:"confidence"`
	Score       int        `json:"score"`
	WasCreated  bool       `json:"was_created"`
}

// fuzzyConfidence maps a similarity score to a confidence grade.
func fuzzyConfidence(score int) Confidence {
	switch {
	case score >= 95:
		return ConfidenceHigh
	case score >= 90:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Signals are the matching inputs extracted from a variant set.
type Signals struct {
	// Names are the distinct company names, most frequent first. Ties keep
	// first-seen order.
	Names []string
	// Domains are the distinct non-freemail email domains in first-seen order.
	Domains []string
}

// ExtractSignals collects company names and email domains from variants.
func ExtractSignals(variants []model.ContactVariant) Signals {
	type tally struct {
		name  string
		count int
	}
	byKey := map[string]*tally{}
	var keys []string
	seenDomain := map[string]bool{}
	var sig Signals

	for _, v := range variants {
		if name := v.ContactData.CompanyName; name != "" {
			key := similarity.NormalizeString(name)
			if key != "" {
				t, ok := byKey[key]
				if !ok {
					t = &tally{name: name}
					byKey[key] = t
					keys = append(keys, key)
				}
				t.count++
			}
		}
		for _, addr := range v.ContactData.EmailAddresses() {
			d, ok := webdomain.Extract(addr)
			if !ok || seenDomain[d] || webdomain.IsFreemail(d) {
				continue
			}
			seenDomain[d] = true
			sig.Domains = append(sig.Domains, d)
		}
	}

	ranked := make([]*tally, 0, len(keys))
	for _, k := range keys {
		ranked = append(ranked, byKey[k])
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })
	for _, t := range ranked {
		sig.Names = append(sig.Names, t.name)
	}
	return sig
}

// CreationName picks the name for a new company: the most common candidate
// name, else the first email domain, else UnknownName.
func (s Signals) CreationName() string {
	if len(s.Names) > 0 {
		return s.Names[0]
	}
	if len(s.Domains) > 0 {
		return s.Domains[0]
	}
	return UnknownName
}
