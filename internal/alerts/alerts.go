// Package alerts compares the two newest history entries of a project and
// flags target domains that lost most of their keywords or newly appeared.
package alerts

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// Defaults for alert thresholds.
const (
	DefaultMinKeywords   = 2
	DefaultDropThreshold = 0.5
)

// Config tunes alert sensitivity.
type Config struct {
	MinKeywords   int
	DropThreshold float64
}

// Kind names the alert type.
type Kind string

// Alert kinds.
const (
	KindDrop      Kind = "drop"
	KindNewDomain Kind = "new_domain"
)

// Alert is one notable change between two runs.
type Alert struct {
	Kind     Kind   `json:"kind"`
	Domain   string `json:"domain"`
	Previous int    `json:"previous_keywords"`
	Current  int    `json:"current_keywords"`
}

// String renders a short human summary.
func (a Alert) String() string {
	switch a.Kind {
	case KindDrop:
		return fmt.Sprintf("DROP %s: %d -> %d keywords", a.Domain, a.Previous, a.Current)
	case KindNewDomain:
		return fmt.Sprintf("NEW DOMAIN %s: %d keywords", a.Domain, a.Current)
	default:
		return string(a.Kind) + " " + a.Domain
	}
}

// Analyze returns drop alerts followed by new-domain alerts, each sorted by
// domain. Fewer than two entries yields nothing.
func Analyze(history []serp.HistoryEntry, cfg Config) []Alert {
	if cfg.MinKeywords <= 0 {
		cfg.MinKeywords = DefaultMinKeywords
	}
	if cfg.DropThreshold <= 0 {
		cfg.DropThreshold = DefaultDropThreshold
	}
	if len(history) < 2 {
		return nil
	}
	prev := keywordsByDomain(history[len(history)-2])
	curr := keywordsByDomain(history[len(history)-1])

	var drops, fresh []Alert
	for domain, prevKW := range prev {
		if len(prevKW) < cfg.MinKeywords {
			continue
		}
		currKW := curr[domain]
		lost := 0
		for kw := range prevKW {
			if _, ok := currKW[kw]; !ok {
				lost++
			}
		}
		if float64(lost) >= float64(len(prevKW))*cfg.DropThreshold {
			drops = append(drops, Alert{Kind: KindDrop, Domain: domain, Previous: len(prevKW), Current: len(currKW)})
		}
	}
	for domain, currKW := range curr {
		if _, seen := prev[domain]; !seen && len(currKW) >= cfg.MinKeywords {
			fresh = append(fresh, Alert{Kind: KindNewDomain, Domain: domain, Current: len(currKW)})
		}
	}
	byDomain := func(list []Alert) {
		sort.Slice(list, func(i, j int) bool { return list[i].Domain < list[j].Domain })
	}
	byDomain(drops)
	byDomain(fresh)
	return append(drops, fresh...)
}

func keywordsByDomain(entry serp.HistoryEntry) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, snap := range entry.Results {
		if !snap.IsTarget {
			continue
		}
		kws, ok := out[snap.Domain]
		if !ok {
			kws = make(map[string]struct{})
			out[snap.Domain] = kws
		}
		kws[snap.Keyword] = struct{}{}
	}
	return out
}
