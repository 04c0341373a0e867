package serp

import (
	"net/url"
	"strings"
)

// NormalizeHost lower-cases a host and strips leading "www." / "m." labels.
// A label is only stripped while the remainder still has a dot, so the result
// is stable: NormalizeHost(NormalizeHost(h)) == NormalizeHost(h).
func NormalizeHost(host string) string {
	h := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	for {
		var rest string
		switch {
		case strings.HasPrefix(h, "www."):
			rest = h[len("www."):]
		case strings.HasPrefix(h, "m."):
			rest = h[len("m."):]
		default:
			return h
		}
		if !strings.Contains(rest, ".") {
			return h
		}
		h = rest
	}
}

// DomainFromURL extracts the normalized domain of an absolute http(s) link.
func DomainFromURL(link string) (string, bool) {
	if !strings.HasPrefix(link, "http") {
		return "", false
	}
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	domain := NormalizeHost(u.Hostname())
	if domain == "" {
		return "", false
	}
	return domain, true
}

// TargetMatcher decides whether a normalized domain belongs to a tracked target.
type TargetMatcher struct {
	targets []string
}

// NewTargetMatcher normalizes the configured target domains.
func NewTargetMatcher(domains []string) TargetMatcher {
	return TargetMatcher{targets: normalizeTargets(domains)}
}

// Match reports whether domain equals a target or is a subdomain of one.
func (m TargetMatcher) Match(domain string) bool {
	domain = NormalizeHost(domain)
	if domain == "" {
		return false
	}
	for _, target := range m.targets {
		if domain == target || strings.HasSuffix(domain, "."+target) {
			return true
		}
	}
	return false
}

// Targets returns the normalized target list.
func (m TargetMatcher) Targets() []string {
	out := make([]string, len(m.targets))
	copy(out, m.targets)
	return out
}
