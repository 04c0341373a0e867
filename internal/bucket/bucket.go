// Package bucket groups rank positions into contiguous ranges used for scoring.
package bucket

import (
	"fmt"
	"sort"
)

// Range is an inclusive span of rank positions.
type Range struct {
	Start int
	End   int
}

// Label renders the range as "start-end".
func (r Range) Label() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Contains reports whether rank falls inside the range.
func (r Range) Contains(rank int) bool {
	return rank >= r.Start && rank <= r.End
}

// fixed leading boundaries; ranges beyond the last one step by 10.
var leadingEnds = []int{3, 10, 20, 30}

const stepSize = 10

// Definition is the ordered bucket layout for one maximum depth.
type Definition struct {
	maxDepth int
	ranges   []Range
	labels   []string
}

// New builds the buckets 1-3, 4-10, 11-20, 21-30, 31-40, ... capped at maxDepth.
func New(maxDepth int) Definition {
	d := Definition{maxDepth: maxDepth}
	start := 1
	for _, end := range leadingEnds {
		if maxDepth < start {
			break
		}
		d.ranges = append(d.ranges, Range{Start: start, End: min(end, maxDepth)})
		start = end + 1
	}
	for ; start <= maxDepth; start += stepSize {
		d.ranges = append(d.ranges, Range{Start: start, End: min(start+stepSize-1, maxDepth)})
	}
	d.labels = make([]string, len(d.ranges))
	for i, r := range d.ranges {
		d.labels[i] = r.Label()
	}
	return d
}

// MaxDepth returns the deepest tracked rank.
func (d Definition) MaxDepth() int { return d.maxDepth }

// Ranges returns a copy of the bucket ranges in order.
func (d Definition) Ranges() []Range {
	out := make([]Range, len(d.ranges))
	copy(out, d.ranges)
	return out
}

// Labels returns a copy of the bucket labels in order.
func (d Definition) Labels() []string {
	out := make([]string, len(d.labels))
	copy(out, d.labels)
	return out
}

// Index returns the bucket index containing rank, or -1.
func (d Definition) Index(rank int) int {
	i := sort.Search(len(d.ranges), func(i int) bool { return d.ranges[i].End >= rank })
	if i < len(d.ranges) && d.ranges[i].Contains(rank) {
		return i
	}
	return -1
}

// BucketFor returns the label of the range containing rank, or ">maxDepth".
func (d Definition) BucketFor(rank int) string {
	if i := d.Index(rank); i >= 0 {
		return d.labels[i]
	}
	return d.OutOfRange()
}

// OutOfRange is the sentinel label for ranks outside every bucket.
func (d Definition) OutOfRange() string {
	return fmt.Sprintf(">%d", d.maxDepth)
}

// Weight is the score weight of the bucket at index.
func Weight(index int) int {
	switch index {
	case 0:
		return 100
	case 1:
		return 30
	case 2:
		return 10
	case 3:
		return 3
	default:
		return 1
	}
}

// Score sums count*weight over the buckets; unknown labels are ignored.
func (d Definition) Score(counts map[string]int) int {
	score := 0
	for i, label := range d.labels {
		score += counts[label] * Weight(i)
	}
	return score
}

// Counts tallies ranks per bucket label; ranks outside every bucket are skipped.
func (d Definition) Counts(ranks []int) map[string]int {
	out := make(map[string]int, len(d.labels))
	for _, label := range d.labels {
		out[label] = 0
	}
	for _, r := range ranks {
		if i := d.Index(r); i >= 0 {
			out[d.labels[i]]++
		}
	}
	return out
}
