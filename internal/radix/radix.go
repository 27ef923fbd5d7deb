// Package radix implements a stable least-significant-digit radix sort over
// 64-bit keys, run cooperatively by every lane of a lane group.
package radix

import "github.com/IvanBrykalov/dicache/lane"

const (
	digitBits = 8
	buckets   = 1 << digitBits
	passes    = 64 / digitBits
)

// Record is one sort element: a key and the caller's payload index.
type Record struct {
	Key uint64
	Val uint32
}

type state struct {
	counts [][buckets]int // [lane][digit]
}

// Sort orders recs by Key, preserving input order among equal keys.
// tmp must have len(recs) and is clobbered. Every lane of l's group must
// call Sort with the same slices. The result is independent of lane count.
func Sort(l *lane.Lane, recs, tmp []Record) {
	if len(tmp) < len(recs) {
		panic("radix: scratch buffer shorter than input")
	}
	var st *state
	if l.IsZero() {
		st = &state{counts: make([][buckets]int, l.Count())}
	}
	st = lane.Broadcast(l, st)

	n := len(recs)
	lo, hi := l.Range(n)
	src, dst := recs, tmp[:n]
	mine := &st.counts[l.Index()]

	for pass := 0; pass < passes; pass++ {
		shift := uint(pass * digitBits)

		*mine = [buckets]int{}
		for i := lo; i < hi; i++ {
			mine[(src[i].Key>>shift)&(buckets-1)]++
		}
		l.Sync()

		// Digit-major, lane-minor prefix sums give each (lane, digit)
		// a stable absolute destination.
		if l.IsZero() {
			off := 0
			for d := 0; d < buckets; d++ {
				for ln := range st.counts {
					c := st.counts[ln][d]
					st.counts[ln][d] = off
					off += c
				}
			}
		}
		l.Sync()

		for i := lo; i < hi; i++ {
			d := (src[i].Key >> shift) & (buckets - 1)
			dst[mine[d]] = src[i]
			mine[d]++
		}
		l.Sync()

		src, dst = dst, src
	}
}
