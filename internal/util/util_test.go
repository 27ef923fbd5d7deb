package util

import "testing"

func TestNextPow2(t *testing.T) {
	t.Parallel()

	cases := map[uint64]uint64{0: 1, 1: 1, 2: 2, 3: 4, 17: 32, 1 << 40: 1 << 40, (1 << 63) + 1: 1 << 63}
	for in, want := range cases {
		if got := NextPow2(in); got != want {
			t.Fatalf("NextPow2(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestSlotAndStripeIndex(t *testing.T) {
	t.Parallel()

	for h := uint64(0); h < 1000; h++ {
		if s := SlotIndex(h, 64); s != int(h%64) {
			t.Fatalf("pow2 slot mismatch for %d: %d", h, s)
		}
		if s := SlotIndex(h, 100); s != int(h%100) {
			t.Fatalf("modulo slot mismatch for %d: %d", h, s)
		}
	}
	if got := StripeIndex(70, 64); got != 6 {
		t.Fatalf("StripeIndex(70, 64) = %d", got)
	}
	if got := StripeIndex(70, 1); got != 0 {
		t.Fatalf("single stripe must map to 0, got %d", got)
	}
}

func TestSeededHashesDependOnSeed(t *testing.T) {
	t.Parallel()

	if SeededString(1, "a.exe") == SeededString(2, "a.exe") {
		t.Fatal("seed must change the string hash")
	}
	if SeededUint64(1, 42) != SeededUint64(1, 42) {
		t.Fatal("seeded hash must be deterministic")
	}
	if HashPair(1, 2) == HashPair(2, 1) {
		t.Fatal("pair hash must be order sensitive")
	}
}
