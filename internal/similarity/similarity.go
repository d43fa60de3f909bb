package similarity

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Default thresholds on the 0..100 similarity scale.
const (
	DefaultCompanyThreshold     = 85
	DefaultPublicationThreshold = 80
	DefaultMaxResults           = 5

	// AbbreviationScore is forced when a known abbreviation meets its full title.
	AbbreviationScore = 95
)

// MatchType says how a name matched.
type MatchType string

const (
	MatchExact        MatchType = "exact"
	MatchFuzzy        MatchType = "fuzzy"
	MatchAbbreviation MatchType = "abbreviation"
)

// Result is the outcome of comparing two names.
type Result struct {
	Match bool      `json:"match"`
	Score int       `json:"score"`
	Type  MatchType `json:"type,omitempty"`
}

// NameMatch is one ranked entry returned by FindBestCompanyMatches.
type NameMatch struct {
	Index int       `json:"index"`
	Name  string    `json:"name"`
	Score int       `json:"score"`
	Type  MatchType `json:"type"`
}

// SearchOptions tunes FindBestCompanyMatches.
type SearchOptions struct {
	NameThreshold int
	MaxResults    int
}

// LevenshteinDistance returns the edit distance between a and b with unit
// cost for insertion, deletion and substitution.
func LevenshteinDistance(a, b string) int {
	return levenshtein.ComputeDistance(a, b)
}

// CalculateSimilarity returns a 0..100 score for the normalized forms of a
// and b. Two empty inputs are identical.
func CalculateSimilarity(a, b string) int {
	return scoreNormalized(NormalizeString(a), NormalizeString(b))
}

func scoreNormalized(na, nb string) int {
	if na == nb {
		return 100
	}
	maxLen := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	if maxLen == 0 {
		return 100
	}
	d := LevenshteinDistance(na, nb)
	return int(math.Round(100 * float64(maxLen-d) / float64(maxLen)))
}

// MatchCompanyNames compares two company names using DefaultCompanyThreshold.
func MatchCompanyNames(a, b string) Result {
	return defaultMatcher.MatchCompanyNames(a, b)
}

// MatchPublicationNames compares two publication titles using
// DefaultPublicationThreshold and the abbreviation table.
func MatchPublicationNames(a, b string) Result {
	return defaultMatcher.MatchPublicationNames(a, b)
}

// FindBestCompanyMatches ranks names against search.
func FindBestCompanyMatches(search string, names []string, opts SearchOptions) []NameMatch {
	return defaultMatcher.FindBestCompanyMatches(search, names, opts)
}

func rankMatches(search string, names []string, opts SearchOptions, score func(a, b string) int) []NameMatch {
	if opts.NameThreshold <= 0 {
		opts.NameThreshold = DefaultCompanyThreshold
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}

	ns := NormalizeString(search)
	if ns == "" {
		return nil
	}

	var out []NameMatch
	for i, name := range names {
		nn := NormalizeString(name)
		if nn == "" {
			continue
		}
		if nn == ns {
			out = append(out, NameMatch{Index: i, Name: name, Score: 100, Type: MatchExact})
			continue
		}
		if s := score(search, name); s >= opts.NameThreshold {
			out = append(out, NameMatch{Index: i, Name: name, Score: s, Type: MatchFuzzy})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.MaxResults {
		out = out[:opts.MaxResults]
	}
	return out
}
