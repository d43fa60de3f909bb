// Package similarity scores near-duplicate names of people, companies and
// publications.
package similarity

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var umlauts = strings.NewReplacer(
	"ä", "ae",
	"ö", "oe",
	"ü", "ue",
	"ß", "ss",
)

// legalForms lists single-token legal entity suffixes, already normalized.
var legalForms = map[string]bool{
	"gmbh": true, "mbh": true, "ag": true, "kg": true, "kgaa": true, "ohg": true,
	"gbr": true, "ug": true, "se": true, "ev": true, "ek": true,
	"ltd": true, "limited": true, "inc": true, "incorporated": true,
	"corp": true, "corporation": true, "co": true, "llc": true, "plc": true,
}

// legalFormPairs lists dotted suffixes that split into two tokens (e.V., e.K.).
var legalFormPairs = map[[2]string]bool{
	{"e", "v"}: true,
	{"e", "k"}: true,
}

var (
	nonTokenRe = regexp.MustCompile(`[^a-z0-9&]+`)
	ampRe      = regexp.MustCompile(`&+`)
)

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeString folds compatibility characters such as ligatures and
// full-width forms, lowercases s, transliterates German umlauts, folds other
// diacritics, strips legal-entity suffixes at the end of the name or before a
// conjunction ("&", "und"), and reduces everything else to single-spaced
// lowercase alphanumerics.
func NormalizeString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = strings.ToLower(norm.NFKC.String(s))
	s = umlauts.Replace(s)
	if folded, _, err := transform.String(diacriticFolder, s); err == nil {
		s = folded
	}

	s = ampRe.ReplaceAllString(s, " & ")
	s = nonTokenRe.ReplaceAllString(s, " ")
	tokens := stripLegalForms(strings.Fields(s))

	out := tokens[:0]
	for _, t := range tokens {
		if t != "&" {
			out = append(out, t)
		}
	}
	return strings.Join(out, " ")
}

// stripLegalForms removes legal-form tokens that end the name or precede a
// conjunction, until none are left. A legal form is never the first token.
func stripLegalForms(tokens []string) []string {
	for {
		changed := false
		for i := len(tokens) - 1; i > 0; i-- {
			if i+1 < len(tokens) && !isConjunction(tokens[i+1]) {
				continue
			}
			if legalForms[tokens[i]] {
				tokens = append(tokens[:i], tokens[i+1:]...)
				changed = true
				break
			}
			if i > 1 && legalFormPairs[[2]string{tokens[i-1], tokens[i]}] {
				tokens = append(tokens[:i-1], tokens[i+1:]...)
				changed = true
				break
			}
		}
		if !changed {
			return tokens
		}
	}
}

func isConjunction(t string) bool {
	return t == "&" || t == "und"
}
