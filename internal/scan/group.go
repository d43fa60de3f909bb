package scan

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/contact-match/internal/model"
	"github.com/sells-group/contact-match/internal/similarity"
	"github.com/sells-group/contact-match/internal/webdomain"
)

// Group is a cluster of variants believed to describe one person, with
// variants from at least two organizations.
type Group struct {
	MatchKey    string
	DisplayName string
	Variants    []model.ContactVariant
}

// Organizations returns the distinct contributing organizations.
func (g Group) Organizations() []string {
	return model.DistinctOrganizations(g.Variants)
}

// variantsByOrg splits the group per owning organization, in first-seen order.
func (g Group) variantsByOrg() ([]string, map[string][]model.ContactVariant) {
	orgs := g.Organizations()
	by := make(map[string][]model.ContactVariant, len(orgs))
	for _, v := range g.Variants {
		by[v.OrganizationID] = append(by[v.OrganizationID], v)
	}
	return orgs, by
}

// unionFind is a disjoint set over variant indices.
type unionFind []int

func newUnionFind(n int) unionFind {
	u := make(unionFind, n)
	for i := range u {
		u[i] = i
	}
	return u
}

func (u unionFind) find(i int) int {
	for u[i] != i {
		u[i] = u[u[i]]
		i = u[i]
	}
	return i
}

func (u unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u[rb] = ra
}

// blockKey buckets variants before pairwise comparison: the last token of the
// normalized full name, so structured and display-only names of one person
// land in the same bucket.
func blockKey(v model.ContactVariant) string {
	tokens := strings.Fields(similarity.NormalizeString(v.ContactData.FullName()))
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}

// BuildGroups clusters variants by name similarity within a block or by a
// shared email address, and keeps clusters spanning at least two
// organizations. Groups are ordered by match key.
func BuildGroups(variants []model.ContactVariant, m *similarity.Matcher, nameThreshold int) []Group {
	if nameThreshold <= 0 {
		nameThreshold = similarity.DefaultCompanyThreshold
	}
	uf := newUnionFind(len(variants))

	blocks := map[string][]int{}
	byEmail := map[string]int{}
	for i, v := range variants {
		if k := blockKey(v); k != "" {
			blocks[k] = append(blocks[k], i)
		}
		for _, addr := range v.ContactData.EmailAddresses() {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if j, ok := byEmail[addr]; ok {
				uf.union(i, j)
			} else {
				byEmail[addr] = i
			}
		}
	}

	for _, idx := range blocks {
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				va, vb := variants[idx[a]], variants[idx[b]]
				if va.OrganizationID == vb.OrganizationID {
					continue
				}
				if m.Similarity(va.ContactData.FullName(), vb.ContactData.FullName()) >= nameThreshold {
					uf.union(idx[a], idx[b])
				}
			}
		}
	}

	// A match key identifies one candidate, so clusters sharing it merge.
	byKey := map[string]int{}
	for r, vs := range clusterVariants(variants, uf) {
		key, _ := representativeName(vs)
		if key == "" {
			continue
		}
		if other, ok := byKey[key]; ok {
			uf.union(r, other)
		} else {
			byKey[key] = r
		}
	}

	var groups []Group
	for _, vs := range clusterVariants(variants, uf) {
		if len(model.DistinctOrganizations(vs)) < 2 {
			continue
		}
		key, display := representativeName(vs)
		if key == "" {
			continue
		}
		groups = append(groups, Group{MatchKey: key, DisplayName: display, Variants: vs})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].MatchKey != groups[j].MatchKey {
			return groups[i].MatchKey < groups[j].MatchKey
		}
		return groups[i].Variants[0].ContactID < groups[j].Variants[0].ContactID
	})
	return groups
}

// clusterVariants collects variants by union-find root, keeping input order
// within each cluster.
func clusterVariants(variants []model.ContactVariant, uf unionFind) map[int][]model.ContactVariant {
	clusters := map[int][]model.ContactVariant{}
	for i, v := range variants {
		r := uf.find(i)
		clusters[r] = append(clusters[r], v)
	}
	return clusters
}

// representativeName returns the most frequent normalized full name of the
// cluster and one original spelling of it. Ties go to the smaller key.
func representativeName(vs []model.ContactVariant) (key, display string) {
	counts := map[string]int{}
	first := map[string]string{}
	for _, v := range vs {
		name := v.ContactData.FullName()
		k := similarity.NormalizeString(name)
		if k == "" {
			continue
		}
		if _, ok := first[k]; !ok {
			first[k] = name
		}
		counts[k]++
	}
	for k, n := range counts {
		if key == "" || n > counts[key] || (n == counts[key] && k < key) {
			key = k
		}
	}
	return key, first[key]
}

// Score weights. The score is
// round(0.5*avgNameSimilarity + 0.3*domainSignal + 0.2*agreement).
const (
	nameWeight      = 0.5
	domainWeight    = 0.3
	agreementWeight = 0.2
)

// Score computes the 0..100 confidence of a group.
func Score(g Group, m *similarity.Matcher) int {
	s := nameWeight*float64(averageNameSimilarity(g.Variants, m)) +
		domainWeight*float64(domainSignal(g.Variants)) +
		agreementWeight*float64(agreement(len(g.Organizations())))
	return min(100, max(0, int(math.Round(s))))
}

func averageNameSimilarity(vs []model.ContactVariant, m *similarity.Matcher) int {
	total, pairs := 0, 0
	for a := 0; a < len(vs); a++ {
		for b := a + 1; b < len(vs); b++ {
			total += m.Similarity(vs[a].ContactData.FullName(), vs[b].ContactData.FullName())
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return int(math.Round(float64(total) / float64(pairs)))
}

// domainSignal is 100 when every variant shares a registrable non-freemail
// email domain, 50 when at least one pair does, else 0.
func domainSignal(vs []model.ContactVariant) int {
	if len(vs) == 0 {
		return 0
	}
	sets := make([]map[string]bool, len(vs))
	for i, v := range vs {
		sets[i] = map[string]bool{}
		for _, addr := range v.ContactData.EmailAddresses() {
			if webdomain.IsFreemail(addr) {
				continue
			}
			if d, ok := webdomain.Registrable(addr); ok {
				sets[i][d] = true
			}
		}
	}

	for d := range sets[0] {
		all := true
		for _, s := range sets[1:] {
			if !s[d] {
				all = false
				break
			}
		}
		if all {
			return 100
		}
	}
	for a := 0; a < len(sets); a++ {
		for b := a + 1; b < len(sets); b++ {
			for d := range sets[a] {
				if sets[b][d] {
					return 50
				}
			}
		}
	}
	return 0
}

// agreement rewards independent organizations: 70 for two, 100 from three.
func agreement(orgs int) int {
	if orgs < 1 {
		return 0
	}
	return min(100, 40+30*(orgs-1))
}
