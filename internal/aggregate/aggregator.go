// Package aggregate accumulates per-domain bucket counts while a run streams in.
package aggregate

import (
	"sort"
	"sync"

	"github.com/JakeFAU/serp-rank-tracker/internal/bucket"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// DomainStat summarizes how one domain ranked across the run.
type DomainStat struct {
	Domain   string
	IsTarget bool
	Buckets  map[string]int
	Total    int
	Score    int
	Keywords []string
}

// Aggregator turns organic hits into RankedEntry rows and keeps per-domain stats.
// It is safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	buckets  bucket.Definition
	matcher  serp.TargetMatcher
	counts   map[string]map[string]int
	keywords map[string]map[string]struct{}
	rows     int
	targets  int
}

// New creates an Aggregator for one run.
func New(buckets bucket.Definition, matcher serp.TargetMatcher) *Aggregator {
	return &Aggregator{
		buckets:  buckets,
		matcher:  matcher,
		counts:   make(map[string]map[string]int),
		keywords: make(map[string]map[string]struct{}),
	}
}

// Add normalizes the hits of one keyword, records them and returns the entries
// that were kept. Hits without a usable http(s) link or beyond the maximum
// depth are dropped.
func (a *Aggregator) Add(keyword string, hits []serp.OrganicHit) []serp.RankedEntry {
	entries := make([]serp.RankedEntry, 0, len(hits))
	for _, hit := range hits {
		if hit.Rank < 1 || hit.Rank > a.buckets.MaxDepth() {
			continue
		}
		domain, ok := serp.DomainFromURL(hit.Link)
		if !ok {
			continue
		}
		entries = append(entries, serp.RankedEntry{
			Keyword:  keyword,
			Position: hit.Rank,
			Domain:   domain,
			Bucket:   a.buckets.BucketFor(hit.Rank),
			IsTarget: a.matcher.Match(domain),
			Title:    hit.Title,
			Snippet:  hit.Snippet,
			URL:      hit.Link,
		})
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range entries {
		byBucket, ok := a.counts[e.Domain]
		if !ok {
			byBucket = make(map[string]int)
			a.counts[e.Domain] = byBucket
		}
		byBucket[e.Bucket]++
		kws, ok := a.keywords[e.Domain]
		if !ok {
			kws = make(map[string]struct{})
			a.keywords[e.Domain] = kws
		}
		kws[e.Keyword] = struct{}{}
		a.rows++
		if e.IsTarget {
			a.targets++
		}
	}
	return entries
}

// Rows returns how many entries were recorded so far.
func (a *Aggregator) Rows() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rows
}

// TargetHits returns how many recorded entries matched a target domain.
func (a *Aggregator) TargetHits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.targets
}

// Stats returns every domain seen, sorted by score descending then domain.
func (a *Aggregator) Stats() []DomainStat {
	return a.collect(func(string) bool { return true })
}

// TargetStats returns the target domains seen, sorted like Stats.
func (a *Aggregator) TargetStats() []DomainStat {
	return a.collect(a.matcher.Match)
}

func (a *Aggregator) collect(keep func(domain string) bool) []DomainStat {
	a.mu.Lock()
	defer a.mu.Unlock()
	labels := a.buckets.Labels()
	out := make([]DomainStat, 0, len(a.counts))
	for domain, byBucket := range a.counts {
		if !keep(domain) {
			continue
		}
		stat := DomainStat{
			Domain:   domain,
			IsTarget: a.matcher.Match(domain),
			Buckets:  make(map[string]int, len(labels)),
		}
		for _, label := range labels {
			stat.Buckets[label] = byBucket[label]
			stat.Total += byBucket[label]
		}
		stat.Score = a.buckets.Score(stat.Buckets)
		for kw := range a.keywords[domain] {
			stat.Keywords = append(stat.Keywords, kw)
		}
		sort.Strings(stat.Keywords)
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}
