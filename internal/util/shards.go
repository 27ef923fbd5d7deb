package util

import "runtime"

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// NextPow2 returns the smallest power of two >= x (x == 0 -> 1).
// Results that would overflow are clamped to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// ReasonableStripeCount picks a default stripe count from CPU parallelism:
// nextPow2(2*GOMAXPROCS), clamped to [1..256]. Stripes are far fewer than
// slots, so this bounds lock memory while keeping writers apart.
func ReasonableStripeCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n > 256 {
		n = 256
	}
	return n
}

// SlotIndex maps a 64-bit hash onto one of n slots.
// Power-of-two slot counts take the mask path; others use modulo.
func SlotIndex(hash uint64, n int) int {
	if n <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(n)) {
		return int(hash & uint64(n-1))
	}
	return int(hash % uint64(n))
}

// StripeIndex maps a slot onto its stripe. Many slots share one stripe.
func StripeIndex(slot, stripes int) int {
	if stripes <= 1 {
		return 0
	}
	return slot % stripes
}
