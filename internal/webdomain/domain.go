// Package webdomain extracts comparable domains from URLs and email addresses.
package webdomain

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Extract returns the bare lowercase domain of a URL, host or email address.
// It reports false when the input does not contain a dotted domain.
func Extract(input string) (string, bool) {
	d := strings.ToLower(strings.TrimSpace(input))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if i := strings.Index(d, "/"); i >= 0 {
		d = d[:i]
	}
	if !strings.Contains(d, ".") {
		return "", false
	}
	return d, true
}

// Match reports whether a and b both extract to the same domain.
func Match(a, b string) bool {
	da, ok := Extract(a)
	if !ok {
		return false
	}
	db, ok := Extract(b)
	return ok && da == db
}

// Registrable returns the eTLD+1 of domain ("redaktion.spiegel.de" becomes
// "spiegel.de"). Inputs the public suffix list cannot place are returned as
// extracted.
func Registrable(input string) (string, bool) {
	d, ok := Extract(input)
	if !ok {
		return "", false
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(d); err == nil && etld1 != "" {
		return etld1, true
	}
	return d, true
}

var freemail = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"gmx.de":         true,
	"gmx.net":        true,
	"gmx.at":         true,
	"gmx.ch":         true,
	"web.de":         true,
	"t-online.de":    true,
	"freenet.de":     true,
	"posteo.de":      true,
	"mailbox.org":    true,
	"arcor.de":       true,
	"yahoo.com":      true,
	"yahoo.de":       true,
	"outlook.com":    true,
	"outlook.de":     true,
	"hotmail.com":    true,
	"hotmail.de":     true,
	"live.com":       true,
	"icloud.com":     true,
	"me.com":         true,
	"aol.com":        true,
	"protonmail.com": true,
	"proton.me":      true,
}

// IsFreemail reports whether the domain belongs to a public mail provider and
// so says nothing about an employer or outlet.
func IsFreemail(input string) bool {
	d, ok := Registrable(input)
	return ok && freemail[d]
}
