package relay

import (
	crand "crypto/rand"
	"encoding/base32"
	"math/rand"
	"strconv"
	"strings"
)

// generateMailboxID produces a 13-char lower-case base32 identifier,
// following the teacher's generator in application.go but sized to
// match spec.md §3's "opaque 13-char base32 lower-case string" exactly
// (8 random bytes base32-encode to 13 significant chars plus 3 "="
// padding chars, and the padding is stripped).
func generateMailboxID() string {
	b := make([]byte, 8)
	crand.Read(b)

	id := base32.StdEncoding.EncodeToString(b)
	id = strings.TrimRight(id, "=")
	return strings.ToLower(id)
}

// findFreeNameplate implements the three-tier density policy from
// spec.md §4.3/§9: 1-digit, then 2-digit, then 3-digit ranges scanned
// in order, picking uniformly among the unused ids in the first
// non-full tier; if all three are full, up to 1000 uniform random
// picks in [1000, 1_000_000) are tried.
func findFreeNameplate(rng *rand.Rand, used []string) (string, error) {
	taken := make(map[string]bool, len(used))
	for _, u := range used {
		taken[u] = true
	}

	for digits := 1; digits <= 3; digits++ {
		low := pow10(digits - 1)
		if digits == 1 {
			low = 1
		}
		high := pow10(digits)

		var avail []int
		for n := low; n < high; n++ {
			if !taken[strconv.Itoa(n)] {
				avail = append(avail, n)
			}
		}
		if len(avail) > 0 {
			return strconv.Itoa(avail[rng.Intn(len(avail))]), nil
		}
	}

	for i := 0; i < 1000; i++ {
		n := 1000 + rng.Intn(1_000_000-1000)
		id := strconv.Itoa(n)
		if !taken[id] {
			return id, nil
		}
	}

	return "", ErrExhausted
}

func pow10(n int) int {
	p := 1
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}
