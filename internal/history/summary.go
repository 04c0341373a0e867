package history

import (
	"github.com/JakeFAU/serp-rank-tracker/internal/bucket"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// summarize builds one row per prior run plus one for the current run.
func summarize(prior []serp.HistoryEntry, current []serp.RankedEntry, nowStamp string, defs bucket.Definition) []SummaryRow {
	out := make([]SummaryRow, 0, len(prior)+1)
	for _, entry := range prior {
		var positions []int
		for _, snap := range entry.Results {
			if snap.IsTarget {
				positions = append(positions, snap.Position)
			}
		}
		out = append(out, summaryRow(entry.Timestamp, positions, defs))
	}
	var positions []int
	for _, row := range current {
		if row.IsTarget {
			positions = append(positions, row.Position)
		}
	}
	return append(out, summaryRow(nowStamp, positions, defs))
}

func summaryRow(ts string, positions []int, defs bucket.Definition) SummaryRow {
	row := SummaryRow{Timestamp: ts, Total: len(positions), Buckets: defs.Counts(positions)}
	if len(positions) > 0 {
		sum := 0
		for _, p := range positions {
			sum += p
		}
		row.AvgPosition = round1(float64(sum) / float64(len(positions)))
	}
	return row
}
