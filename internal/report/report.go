// Package report lays out a run as a six-sheet workbook.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/serp-rank-tracker/internal/aggregate"
	"github.com/JakeFAU/serp-rank-tracker/internal/bucket"
	"github.com/JakeFAU/serp-rank-tracker/internal/history"
	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

// Sheet names in workbook order.
const (
	SheetResults      = "Results"
	SheetTargetStats  = "Target Domain Stats"
	SheetBuckets      = "Position Buckets"
	SheetDynamics     = "Dynamics"
	SheetLost         = "Lost Keywords"
	SheetHistory      = "History Summary"
	placeholder       = "—"
	fileStampLayout   = "20060102_1504"
	ContentTypeXLSX   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	keywordsSeparator = "; "
)

// Mark highlights a row.
type Mark int

// Row marks.
const (
	MarkNone Mark = iota
	MarkTarget
	MarkLost
)

// Row is one sheet row.
type Row struct {
	Cells []any
	Mark  Mark
}

// Sheet is a named table.
type Sheet struct {
	Name   string
	Header []string
	Rows   []Row
}

// Workbook is the styled-agnostic report.
type Workbook struct {
	Sheets []Sheet
}

// Sheet returns the sheet called name.
func (w Workbook) Sheet(name string) (Sheet, bool) {
	for _, s := range w.Sheets {
		if s.Name == name {
			return s, true
		}
	}
	return Sheet{}, false
}

// Input is everything a report is built from.
type Input struct {
	Project     string
	Rows        []serp.RankedEntry
	AllStats    []aggregate.DomainStat
	TargetStats []aggregate.DomainStat
	Buckets     bucket.Definition
	Analysis    history.Analysis
	PriorRuns   int
}

// FileName builds "<prefix>_<YYYYMMDD_HHMM>.xlsx".
func FileName(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", prefix, ts.Format(fileStampLayout))
}

// Assemble builds all six sheets.
func Assemble(in Input) Workbook {
	labels := in.Buckets.Labels()
	return Workbook{Sheets: []Sheet{
		resultsSheet(in),
		statsSheet(SheetTargetStats, in.TargetStats, labels, true),
		statsSheet(SheetBuckets, in.AllStats, labels, false),
		dynamicsSheet(in),
		lostSheet(in.Analysis.Lost),
		historySheet(in.Analysis.Summary, labels),
	}}
}

func resultsSheet(in Input) Sheet {
	s := Sheet{
		Name:   SheetResults,
		Header: []string{"Project", "Keyword", "Position", "Domain", "Title", "Snippet", "URL", "Is_Target"},
	}
	for _, r := range in.Rows {
		row := Row{Cells: []any{in.Project, r.Keyword, r.Position, r.Domain, r.Title, r.Snippet, r.URL, ""}}
		if r.IsTarget {
			row.Cells[7] = "Yes"
			row.Mark = MarkTarget
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

func statsSheet(name string, stats []aggregate.DomainStat, labels []string, withKeywords bool) Sheet {
	header := append([]string{"Domain", "Total"}, labels...)
	header = append(header, "Score")
	if withKeywords {
		header = append(header, "Keywords")
	}
	s := Sheet{Name: name, Header: header}
	for _, st := range stats {
		if st.Total == 0 {
			continue
		}
		cells := []any{st.Domain, st.Total}
		for _, label := range labels {
			cells = append(cells, st.Buckets[label])
		}
		cells = append(cells, st.Score)
		if withKeywords {
			cells = append(cells, strings.Join(st.Keywords, keywordsSeparator))
		}
		row := Row{Cells: cells}
		if st.IsTarget {
			row.Mark = MarkTarget
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

func dynamicsSheet(in Input) Sheet {
	header := []string{"Domain", "Keyword", "Status", "Current", "Trend"}
	for i := in.PriorRuns; i >= 1; i-- {
		header = append(header, fmt.Sprintf("Parse %d", i))
	}
	header = append(header, "Avg", "Best", "Worst", "URL", "Title")
	s := Sheet{Name: SheetDynamics, Header: header}

	for _, tr := range in.Analysis.Trends {
		var current any = placeholder
		switch {
		case tr.Status == history.StatusLost:
			current = history.StatusLost
		case tr.Current > 0:
			current = tr.Current
		}
		cells := []any{tr.Domain, tr.Keyword, tr.Status, current, tr.Trend}
		for i := 0; i < in.PriorRuns; i++ {
			if i < len(tr.History) && tr.History[i].Present {
				cells = append(cells, tr.History[i].Position)
			} else {
				cells = append(cells, placeholder)
			}
		}
		if tr.HasStats {
			cells = append(cells, tr.Avg, tr.Best, tr.Worst)
		} else {
			cells = append(cells, placeholder, placeholder, placeholder)
		}
		cells = append(cells, tr.URL, tr.Title)

		row := Row{Cells: cells, Mark: MarkTarget}
		if tr.Status == history.StatusLost {
			row.Mark = MarkLost
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

func lostSheet(lost []history.LostRow) Sheet {
	s := Sheet{
		Name:   SheetLost,
		Header: []string{"Domain", "Keyword", "Last Seen Position", "Last Seen Date", "Days Since Lost"},
	}
	for _, l := range lost {
		var days any = placeholder
		if l.DaysKnown {
			days = l.DaysSinceLost
		}
		s.Rows = append(s.Rows, Row{
			Cells: []any{l.Domain, l.Keyword, l.LastPosition, l.LastSeen, days},
			Mark:  MarkLost,
		})
	}
	return s
}

func historySheet(summary []history.SummaryRow, labels []string) Sheet {
	s := Sheet{Name: SheetHistory, Header: append([]string{"Date", "Total Found", "Avg Pos"}, labels...)}
	for _, h := range summary {
		cells := []any{h.Timestamp, h.Total, h.AvgPosition}
		for _, label := range labels {
			cells = append(cells, h.Buckets[label])
		}
		s.Rows = append(s.Rows, Row{Cells: cells})
	}
	return s
}
