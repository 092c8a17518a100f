package models

import "strings"

// NormalizeDomain canonicalizes a domain for rule keying: trimmed,
// lowercased, with a single leading "www." stripped.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "www.")
	return d
}

// MatchesHost reports whether a page hostname falls under a rule domain:
// exact match, or a subdomain via "."+domain suffix.
func MatchesHost(host, domain string) bool {
	h := NormalizeDomain(host)
	if h == domain {
		return true
	}
	return strings.HasSuffix(h, "."+domain)
}
