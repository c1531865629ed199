package format

import "github.com/cespare/xxhash/v2"

// HashFunc derives the 32-bit index id of a name. Seed 0 is the root of
// every lookup; nonzero seeds are the salts recorded by conflict slots.
type HashFunc func(name string, seed uint8) uint32

// primeBase is the smallest prime used as a hashing seed.
const primeBase = 1193

// primes holds one hashing seed per salt value.
var primes = buildPrimes(primeBase, 256)

func buildPrimes(from, n int) [256]uint64 {
	var out [256]uint64
	found := 0
	for c := from; found < n; c++ {
		if isPrime(c) {
			out[found] = uint64(c)
			found++
		}
	}
	return out
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	for d := 2; d*d <= n; d++ {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// HashName is the default HashFunc: xxhash64 of the name seeded with the
// prime selected by seed, folded to 32 bits.
func HashName(name string, seed uint8) uint32 {
	d := xxhash.NewWithSeed(primes[seed])
	_, _ = d.WriteString(name)
	sum := d.Sum64()
	return uint32(sum) ^ uint32(sum>>32)
}
