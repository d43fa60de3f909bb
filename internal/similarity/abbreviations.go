package similarity

// publicationAbbreviations maps common short names of German-language
// publications to their full titles.
var publicationAbbreviations = map[string][]string{
	"sz":           {"süddeutsche zeitung", "sueddeutsche zeitung", "süddeutsche"},
	"faz":          {"frankfurter allgemeine zeitung", "frankfurter allgemeine"},
	"fas":          {"frankfurter allgemeine sonntagszeitung"},
	"fr":           {"frankfurter rundschau"},
	"spiegel":      {"der spiegel", "spiegel online"},
	"zeit":         {"die zeit", "zeit online"},
	"welt":         {"die welt", "welt am sonntag"},
	"bild":         {"bild zeitung", "bild-zeitung", "bild am sonntag"},
	"taz":          {"die tageszeitung"},
	"hb":           {"handelsblatt"},
	"waz":          {"westdeutsche allgemeine zeitung"},
	"ksta":         {"kölner stadt-anzeiger", "koelner stadt anzeiger"},
	"nzz":          {"neue zürcher zeitung"},
	"mopo":         {"hamburger morgenpost"},
	"wiwo":         {"wirtschaftswoche"},
	"stern":        {"der stern"},
	"focus":        {"focus magazin", "focus online"},
	"tagesspiegel": {"der tagesspiegel"},
}

// abbreviationIndex holds the table above with every entry normalized.
var abbreviationIndex = buildAbbreviationIndex()

func buildAbbreviationIndex() map[string]map[string]bool {
	idx := make(map[string]map[string]bool, len(publicationAbbreviations))
	for abbr, fulls := range publicationAbbreviations {
		set := make(map[string]bool, len(fulls))
		for _, f := range fulls {
			set[NormalizeString(f)] = true
		}
		idx[NormalizeString(abbr)] = set
	}
	return idx
}

// isAbbreviationOf reports whether a and b are a known abbreviation/full-title
// pair in either direction. Both inputs must already be normalized.
func isAbbreviationOf(a, b string) bool {
	if fulls, ok := abbreviationIndex[a]; ok && fulls[b] {
		return true
	}
	if fulls, ok := abbreviationIndex[b]; ok && fulls[a] {
		return true
	}
	return false
}
