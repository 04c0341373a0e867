package history

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/JakeFAU/serp-rank-tracker/internal/bucket"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// Trend labels.
const (
	TrendNew       = "New"
	TrendNoData    = "No data"
	TrendUnchanged = "unchanged"
)

// Dynamics statuses.
const (
	StatusActive = "Active"
	StatusLost   = "LOST"
	StatusNoData = "No data"
)

// Point is one run in a pair's position sequence.
type Point struct {
	Timestamp string
	Position  int
	Present   bool
}

// TrendRow is the Dynamics view of one (domain, keyword) pair.
type TrendRow struct {
	Domain  string
	Keyword string
	Status  string
	// Current is the position in this run; zero when absent.
	Current int
	Trend   string
	// History holds the prior runs, oldest first.
	History  []Point
	Avg      float64
	Best     int
	Worst    int
	HasStats bool
	URL      string
	Title    string
}

// LostRow describes a pair that dropped out within the LOST window.
type LostRow struct {
	Domain        string
	Keyword       string
	LastPosition  int
	LastSeen      string
	DaysSinceLost int
	DaysKnown     bool
}

// SummaryRow aggregates the target hits of one run.
type SummaryRow struct {
	Timestamp   string
	Total       int
	AvgPosition float64
	Buckets     map[string]int
}

// Input is everything Analyze needs.
type Input struct {
	Prior      []serp.HistoryEntry
	Current    []serp.RankedEntry
	Now        time.Time
	LostWindow int
	Buckets    bucket.Definition
	// Fetched limits LOST detection to these keywords. Nil means every
	// keyword of the run was fetched.
	Fetched map[string]bool
}

// Analysis is the history-derived part of a report.
type Analysis struct {
	Trends  []TrendRow
	Lost    []LostRow
	Summary []SummaryRow
}

type pairKey struct {
	domain  string
	keyword string
}

// Analyze folds the current run into the prior history. Pairs absent now
// but seen within the last LostWindow prior runs are LOST; older absences
// are dropped. Pairs whose keyword was not fetched this run keep their prior
// statistics with status "No data" and are never LOST.
func Analyze(in Input) Analysis {
	window := in.LostWindow
	if window <= 0 {
		window = DefaultLostWindow
	}
	nowStamp := in.Now.Format(serp.TimestampLayout)

	pairs := make(map[pairKey]struct{})
	for _, entry := range in.Prior {
		for _, snap := range entry.Results {
			if snap.IsTarget {
				pairs[pairKey{snap.Domain, snap.Keyword}] = struct{}{}
			}
		}
	}
	current := make(map[pairKey]serp.RankedEntry)
	for _, row := range in.Current {
		if !row.IsTarget {
			continue
		}
		key := pairKey{row.Domain, row.Keyword}
		pairs[key] = struct{}{}
		if prev, ok := current[key]; !ok || row.Position < prev.Position {
			current[key] = row
		}
	}

	keys := make([]pairKey, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].domain != keys[j].domain {
			return keys[i].domain < keys[j].domain
		}
		return keys[i].keyword < keys[j].keyword
	})

	var out Analysis
	for _, key := range keys {
		points := positionHistory(in.Prior, key)
		row := TrendRow{Domain: key.domain, Keyword: key.keyword, History: points}

		values := presentValues(points)
		cur, present := current[key]
		unfetched := false
		switch {
		case present:
			row.Status = StatusActive
			row.Current = cur.Position
			row.URL = cur.URL
			row.Title = cur.Title
			values = append(values, cur.Position)
		case len(values) > 0:
			last := lastPresent(points)
			if len(points)-last > window {
				continue
			}
			if in.Fetched != nil && !in.Fetched[key.keyword] {
				row.Status = StatusNoData
				unfetched = true
				break
			}
			row.Status = StatusLost
			lost := LostRow{
				Domain:       key.domain,
				Keyword:      key.keyword,
				LastPosition: points[last].Position,
				LastSeen:     points[last].Timestamp,
			}
			lost.DaysSinceLost, lost.DaysKnown = daysBetween(points[last].Timestamp, nowStamp)
			out.Lost = append(out.Lost, lost)
		default:
			row.Status = StatusNoData
		}

		row.Trend = Classify(values)
		if unfetched {
			row.Trend = TrendNoData
		}
		if len(values) > 0 {
			row.HasStats = true
			row.Avg, row.Best, row.Worst = stats(values)
		}
		out.Trends = append(out.Trends, row)
	}

	out.Summary = summarize(in.Prior, in.Current, nowStamp, in.Buckets)
	return out
}

// Classify labels the change between the two newest present positions.
func Classify(values []int) string {
	switch len(values) {
	case 0:
		return TrendNoData
	case 1:
		return TrendNew
	}
	prev, cur := values[len(values)-2], values[len(values)-1]
	switch {
	case cur < prev:
		return fmt.Sprintf("Up %d", prev-cur)
	case cur > prev:
		return fmt.Sprintf("Down %d", cur-prev)
	default:
		return TrendUnchanged
	}
}

// positionHistory takes the first (best) hit of the pair in each prior run.
func positionHistory(prior []serp.HistoryEntry, key pairKey) []Point {
	points := make([]Point, len(prior))
	for i, entry := range prior {
		points[i].Timestamp = entry.Timestamp
		for _, snap := range entry.Results {
			if snap.Domain == key.domain && snap.Keyword == key.keyword {
				points[i].Position = snap.Position
				points[i].Present = true
				break
			}
		}
	}
	return points
}

func presentValues(points []Point) []int {
	values := make([]int, 0, len(points)+1)
	for _, p := range points {
		if p.Present {
			values = append(values, p.Position)
		}
	}
	return values
}

func lastPresent(points []Point) int {
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Present {
			return i
		}
	}
	return -1
}

func stats(values []int) (avg float64, best, worst int) {
	best, worst = values[0], values[0]
	sum := 0
	for _, v := range values {
		sum += v
		best = min(best, v)
		worst = max(worst, v)
	}
	return round1(float64(sum) / float64(len(values))), best, worst
}

func daysBetween(from, to string) (int, bool) {
	start, err := time.ParseInLocation(serp.TimestampLayout, from, time.Local)
	if err != nil {
		return 0, false
	}
	end, err := time.ParseInLocation(serp.TimestampLayout, to, time.Local)
	if err != nil {
		return 0, false
	}
	return int(end.Sub(start).Hours() / 24), true
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
