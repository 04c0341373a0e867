package bucket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsExpectedRanges(t *testing.T) {
	t.Parallel()

	cases := map[int][]string{
		1:  {"1-1"},
		3:  {"1-3"},
		5:  {"1-3", "4-5"},
		10: {"1-3", "4-10"},
		30: {"1-3", "4-10", "11-20", "21-30"},
		45: {"1-3", "4-10", "11-20", "21-30", "31-40", "41-45"},
		50: {"1-3", "4-10", "11-20", "21-30", "31-40", "41-50"},
	}
	for depth, want := range cases {
		require.Equal(t, want, New(depth).Labels(), "depth %d", depth)
	}
	require.Empty(t, New(0).Labels())
}

func TestRangesPartitionDepth(t *testing.T) {
	t.Parallel()

	for depth := 1; depth <= 200; depth++ {
		def := New(depth)
		ranges := def.Ranges()
		require.NotEmpty(t, ranges)
		require.Equal(t, 1, ranges[0].Start, "depth %d", depth)
		require.Equal(t, depth, ranges[len(ranges)-1].End, "depth %d", depth)
		for i := 1; i < len(ranges); i++ {
			require.Equal(t, ranges[i-1].End+1, ranges[i].Start, "depth %d gap at %d", depth, i)
			require.LessOrEqual(t, ranges[i].Start, ranges[i].End)
		}
		for rank := 1; rank <= depth; rank++ {
			require.NotEqual(t, def.OutOfRange(), def.BucketFor(rank), "depth %d rank %d", depth, rank)
		}
	}
}

func TestBucketFor(t *testing.T) {
	t.Parallel()

	def := New(30)
	require.Equal(t, "1-3", def.BucketFor(1))
	require.Equal(t, "1-3", def.BucketFor(3))
	require.Equal(t, "4-10", def.BucketFor(4))
	require.Equal(t, "21-30", def.BucketFor(30))
	require.Equal(t, ">30", def.BucketFor(31))
	require.Equal(t, ">30", def.BucketFor(0))
}

func TestScoreUsesIndexWeights(t *testing.T) {
	t.Parallel()

	require.Equal(t, []int{100, 30, 10, 3, 1, 1}, []int{Weight(0), Weight(1), Weight(2), Weight(3), Weight(4), Weight(9)})

	def := New(50)
	counts := map[string]int{"1-3": 2, "4-10": 1, "11-20": 1, "21-30": 1, "31-40": 2, "41-50": 3, "unknown": 9}
	require.Equal(t, 200+30+10+3+2+3, def.Score(counts))
}

func TestCounts(t *testing.T) {
	t.Parallel()

	def := New(20)
	counts := def.Counts([]int{1, 2, 5, 15, 25})
	require.Equal(t, map[string]int{"1-3": 2, "4-10": 1, "11-20": 1}, counts)
}
