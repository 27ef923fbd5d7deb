package radix

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/IvanBrykalov/dicache/lane"
	"github.com/stretchr/testify/require"
)

func sortWithLanes(t *testing.T, in []Record, lanes int) []Record {
	t.Helper()
	recs := append([]Record(nil), in...)
	tmp := make([]Record, len(recs))
	err := lane.Run(context.Background(), lanes, func(_ context.Context, l *lane.Lane) error {
		Sort(l, recs, tmp)
		return nil
	})
	require.NoError(t, err)
	return recs
}

func TestSort_MatchesStableSortAcrossLaneCounts(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewSource(7))
	in := make([]Record, 5000)
	for i := range in {
		// Few distinct high bits, many duplicates: stresses stability.
		in[i] = Record{Key: uint64(r.Intn(40))<<32 | uint64(r.Intn(8)), Val: uint32(i)}
	}

	want := append([]Record(nil), in...)
	sort.SliceStable(want, func(i, j int) bool { return want[i].Key < want[j].Key })

	one := sortWithLanes(t, in, 1)
	require.Equal(t, want, one)
	for _, lanes := range []int{2, 3, 8} {
		require.Equal(t, one, sortWithLanes(t, in, lanes), "lanes=%d", lanes)
	}
}

func TestSort_EmptyAndTiny(t *testing.T) {
	t.Parallel()

	require.Empty(t, sortWithLanes(t, nil, 4))
	got := sortWithLanes(t, []Record{{Key: 3, Val: 0}, {Key: 1, Val: 1}}, 4)
	require.Equal(t, []Record{{Key: 1, Val: 1}, {Key: 3, Val: 0}}, got)
}
