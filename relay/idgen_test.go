package relay

import (
	"math/rand"
	"strconv"
	"testing"
)

func TestFindFreeNameplatePrefersLowerDigitTier(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// All single-digit names [1..9] taken, so the first free name must
	// come from the two-digit tier.
	var used []string
	for i := 1; i <= 9; i++ {
		used = append(used, strconv.Itoa(i))
	}

	name, err := findFreeNameplate(rng, used)
	if err != nil {
		t.Fatalf("findFreeNameplate: %v", err)
	}
	n, err := strconv.Atoi(name)
	if err != nil {
		t.Fatalf("expected a numeric nameplate, got %q", name)
	}
	if n < 10 || n >= 100 {
		t.Fatalf("expected a two-digit nameplate once the one-digit tier is full, got %q", name)
	}
}

func TestFindFreeNameplateAvoidsUsedNames(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 50; i++ {
		used := []string{"1", "2", "3"}
		name, err := findFreeNameplate(rng, used)
		if err != nil {
			t.Fatalf("findFreeNameplate: %v", err)
		}
		for _, u := range used {
			if name == u {
				t.Fatalf("findFreeNameplate returned an already-used name %q", name)
			}
		}
	}
}

func TestGenerateMailboxIDShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateMailboxID()
		if len(id) != 13 {
			t.Fatalf("expected a 13-character mailbox id, got %q (%d chars)", id, len(id))
		}
		for _, r := range id {
			if r >= 'a' && r <= 'z' {
				continue
			}
			if r >= '2' && r <= '7' {
				continue
			}
			t.Fatalf("mailbox id %q contains a non-lowercase-base32 character %q", id, r)
		}
		if seen[id] {
			t.Fatalf("generateMailboxID produced a duplicate: %q", id)
		}
		seen[id] = true
	}
}
