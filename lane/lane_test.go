package lane

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

func TestSplit_CoversRangeExactly(t *testing.T) {
	t.Parallel()

	for _, count := range []int{1, 2, 3, 7, 16} {
		for _, n := range []int{0, 1, 5, 16, 101} {
			next := 0
			for i := 0; i < count; i++ {
				lo, hi := Split(n, count, i)
				require.Equal(t, next, lo, "n=%d count=%d lane=%d", n, count, i)
				require.GreaterOrEqual(t, hi, lo)
				next = hi
			}
			require.Equal(t, n, next)
		}
	}
}

// Every lane must observe all writes made before a Sync.
func TestRun_SyncOrdersPhases(t *testing.T) {
	t.Parallel()

	const lanes = 6
	var phase1 atomic.Int64
	bad := atomic.Bool{}
	err := Run(context.Background(), lanes, func(_ context.Context, l *Lane) error {
		phase1.Add(1)
		l.Sync()
		if phase1.Load() != lanes {
			bad.Store(true)
		}
		l.Sync()
		return nil
	})
	require.NoError(t, err)
	require.False(t, bad.Load())
}

func TestBroadcast_FromLaneZero(t *testing.T) {
	t.Parallel()

	var got [4]int
	err := Run(context.Background(), 4, func(_ context.Context, l *Lane) error {
		for round := 0; round < 3; round++ {
			v := -1
			if l.IsZero() {
				v = 100 + round
			}
			got[l.Index()] = Broadcast(l, v)
			l.Sync()
			for i := range got {
				if got[i] != 100+round {
					t.Errorf("lane %d round %d saw %d", i, round, got[i])
				}
			}
			l.Sync()
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRun_SingleLane(t *testing.T) {
	t.Parallel()

	l := solo()
	l.Sync()
	require.Equal(t, 1, l.Count())
	require.Equal(t, 9, Broadcast(l, 9))
	lo, hi := l.Range(10)
	require.Equal(t, 0, lo)
	require.Equal(t, 10, hi)
}
