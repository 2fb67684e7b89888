package wallet

import "math/rand"

// Randomized helpers used by funding, selection, and rebalancing. All take
// an explicit *rand.Rand so callers can seed them for reproducible tests;
// none of them touch the global source.

// TrancheCount picks how many tranches a top-up is split into, between 1
// and maxTranches inclusive.
func TrancheCount(rng *rand.Rand, maxTranches int) int {
	if maxTranches <= 1 {
		return 1
	}
	return 1 + rng.Intn(maxTranches)
}

// TrancheAmount picks the next tranche against the remaining deficit.
// tranchesLeft counts this tranche: with one tranche left the whole
// remainder is taken. Intermediate tranches draw between 50% and 150% of
// what an even split would leave, so repeated top-ups never produce a
// uniform on-chain amount pattern.
func TrancheAmount(rng *rand.Rand, remaining uint64, tranchesLeft int) uint64 {
	if tranchesLeft <= 1 || remaining == 0 {
		return remaining
	}
	even := remaining / uint64(tranchesLeft)
	if even == 0 {
		return remaining
	}
	// 50%..150% of the even share, capped by the remainder.
	jitter := even/2 + uint64(rng.Int63n(int64(even)+1))
	if jitter > remaining {
		jitter = remaining
	}
	if jitter == 0 {
		jitter = remaining
	}
	return jitter
}

// Shuffle permutes items in place.
func Shuffle[T any](rng *rand.Rand, items []T) {
	rng.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}

// Pick returns a uniformly random element. Callers guarantee items is
// non-empty.
func Pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.Intn(len(items))]
}

// RetentionBps draws how much of a surplus sweep is held back, in basis
// points between 0 and maxBps inclusive.
func RetentionBps(rng *rand.Rand, maxBps int) int {
	if maxBps <= 0 {
		return 0
	}
	return rng.Intn(maxBps + 1)
}
