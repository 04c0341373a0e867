package alerts

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serp-rank-tracker/internal/serp"
)

func snap(domain, keyword string) serp.HistorySnapshot {
	return serp.HistorySnapshot{Domain: domain, Keyword: keyword, Position: 1, IsTarget: true}
}

func TestAnalyzeNeedsTwoEntries(t *testing.T) {
	t.Parallel()

	require.Nil(t, Analyze(nil, Config{}))
	require.Nil(t, Analyze([]serp.HistoryEntry{{Results: []serp.HistorySnapshot{snap("a.com", "x")}}}, Config{}))
}

func TestAnalyzeDropsAndNewDomains(t *testing.T) {
	t.Parallel()

	history := []serp.HistoryEntry{
		{Timestamp: "old", Results: []serp.HistorySnapshot{snap("ignored.com", "x"), snap("ignored.com", "y")}},
		{Timestamp: "prev", Results: []serp.HistorySnapshot{
			snap("drop.com", "a"), snap("drop.com", "b"), snap("drop.com", "c"), snap("drop.com", "d"),
			snap("steady.com", "a"), snap("steady.com", "b"), snap("steady.com", "c"),
			snap("single.com", "a"),
		}},
		{Timestamp: "curr", Results: []serp.HistorySnapshot{
			snap("drop.com", "a"), snap("drop.com", "b"),
			snap("steady.com", "a"), snap("steady.com", "b"),
			snap("fresh.com", "a"), snap("fresh.com", "b"),
			snap("lonely.com", "a"),
			{Domain: "nontarget.com", Keyword: "a"}, {Domain: "nontarget.com", Keyword: "b"},
		}},
	}

	got := Analyze(history, Config{})
	require.Equal(t, []Alert{
		{Kind: KindDrop, Domain: "drop.com", Previous: 4, Current: 2},
		{Kind: KindNewDomain, Domain: "fresh.com", Current: 2},
	}, got)
	require.Equal(t, "DROP drop.com: 4 -> 2 keywords", got[0].String())
	require.Equal(t, "NEW DOMAIN fresh.com: 2 keywords", got[1].String())
}

func TestAnalyzeDomainVanished(t *testing.T) {
	t.Parallel()

	history := []serp.HistoryEntry{
		{Results: []serp.HistorySnapshot{snap("gone.com", "a"), snap("gone.com", "b")}},
		{Results: []serp.HistorySnapshot{}},
	}
	require.Equal(t, []Alert{{Kind: KindDrop, Domain: "gone.com", Previous: 2}}, Analyze(history, Config{MinKeywords: 2, DropThreshold: 0.5}))
}
