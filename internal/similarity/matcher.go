package similarity

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultCacheSize bounds the similarity memo of a Matcher.
const DefaultCacheSize = 10000

// Options configures a Matcher.
type Options struct {
	CompanyThreshold     int
	PublicationThreshold int
	CacheSize            int
}

func (o Options) withDefaults() Options {
	if o.CompanyThreshold <= 0 {
		o.CompanyThreshold = DefaultCompanyThreshold
	}
	if o.PublicationThreshold <= 0 {
		o.PublicationThreshold = DefaultPublicationThreshold
	}
	return o
}

// Matcher scores names with configurable thresholds and memoizes similarity
// scores in a bounded LRU. A Matcher is meant to live for one scan run and
// is safe for concurrent use.
type Matcher struct {
	opts   Options
	cache  *lru.Cache[string, int]
	hits   atomic.Int64
	misses atomic.Int64
}

// defaultMatcher backs the package-level helpers; it never caches.
var defaultMatcher = &Matcher{opts: Options{}.withDefaults()}

// NewMatcher builds a Matcher. A CacheSize of zero uses DefaultCacheSize; a
// negative CacheSize disables caching.
func NewMatcher(opts Options) *Matcher {
	opts = opts.withDefaults()
	m := &Matcher{opts: opts}

	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	if size > 0 {
		c, err := lru.New[string, int](size)
		if err != nil {
			zap.L().Warn("similarity: cache disabled", zap.Int("size", size), zap.Error(err))
		} else {
			m.cache = c
		}
	}
	return m
}

// CompanyThreshold returns the configured company match threshold.
func (m *Matcher) CompanyThreshold() int { return m.opts.CompanyThreshold }

// PublicationThreshold returns the configured publication match threshold.
func (m *Matcher) PublicationThreshold() int { return m.opts.PublicationThreshold }

// Similarity is CalculateSimilarity memoized on the unordered input pair.
func (m *Matcher) Similarity(a, b string) int {
	if m == nil || m.cache == nil {
		return CalculateSimilarity(a, b)
	}
	key := pairKey(a, b)
	if s, ok := m.cache.Get(key); ok {
		m.hits.Add(1)
		return s
	}
	m.misses.Add(1)
	s := CalculateSimilarity(a, b)
	m.cache.Add(key, s)
	return s
}

// MatchCompanyNames matches iff similarity reaches the company threshold.
func (m *Matcher) MatchCompanyNames(a, b string) Result {
	s := m.Similarity(a, b)
	typ := MatchFuzzy
	if s == 100 {
		typ = MatchExact
	}
	return Result{Match: s >= m.opts.CompanyThreshold, Score: s, Type: typ}
}

// MatchPublicationNames matches iff similarity reaches the publication
// threshold. Known abbreviation pairs score AbbreviationScore regardless of
// edit distance.
func (m *Matcher) MatchPublicationNames(a, b string) Result {
	if isAbbreviationOf(NormalizeString(a), NormalizeString(b)) {
		return Result{Match: true, Score: AbbreviationScore, Type: MatchAbbreviation}
	}
	s := m.Similarity(a, b)
	typ := MatchFuzzy
	if s == 100 {
		typ = MatchExact
	}
	return Result{Match: s >= m.opts.PublicationThreshold, Score: s, Type: typ}
}

// FindBestCompanyMatches returns names scoring at least opts.NameThreshold
// against search, best first, at most opts.MaxResults. A zero NameThreshold
// uses the matcher's company threshold.
func (m *Matcher) FindBestCompanyMatches(search string, names []string, opts SearchOptions) []NameMatch {
	if opts.NameThreshold <= 0 {
		opts.NameThreshold = m.opts.CompanyThreshold
	}
	return rankMatches(search, names, opts, m.Similarity)
}

// CacheStats reports cache hits, misses and current size.
func (m *Matcher) CacheStats() (hits, misses int64, size int) {
	if m.cache != nil {
		size = m.cache.Len()
	}
	return m.hits.Load(), m.misses.Load(), size
}

// Purge empties the cache; call it when the owning scan run ends.
func (m *Matcher) Purge() {
	if m.cache != nil {
		m.cache.Purge()
	}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
