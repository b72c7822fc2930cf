package tracker

import (
	"net/url"
	"strings"
)

// HostOf extracts the normalized host from a URL: lowercased, without port
// and without a leading "www.". Unparseable or host-less URLs yield "".
func HostOf(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return NormalizeDomain(u.Hostname())
}

// NormalizeDomain lowercases a bare domain and strips a leading "www.".
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimSuffix(d, ".")
	return strings.TrimPrefix(d, "www.")
}

// DomainSet is the monitored-domain predicate. An empty set monitors every
// host; the empty host never matches.
type DomainSet struct {
	domains []string
}

// NewDomainSet builds a predicate from configured domains.
func NewDomainSet(domains []string) DomainSet {
	set := DomainSet{}
	for _, d := range domains {
		if n := NormalizeDomain(d); n != "" {
			set.domains = append(set.domains, n)
		}
	}
	return set
}

// Match reports whether host is monitored. Subdomains of a monitored
// domain match as well.
func (s DomainSet) Match(host string) bool {
	if host == "" {
		return false
	}
	if len(s.domains) == 0 {
		return true
	}
	for _, d := range s.domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Domains returns the configured domains.
func (s DomainSet) Domains() []string {
	out := make([]string, len(s.domains))
	copy(out, s.domains)
	return out
}
