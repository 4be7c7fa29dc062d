package relay

import (
	"errors"
	"testing"

	"github.com/chris-pikul/wormhole-mailbox-server/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cs, err := store.OpenChannelStore(store.MemoryDSN(t.Name()))
	if err != nil {
		t.Fatalf("OpenChannelStore: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return NewServer(cs, nil, Welcome{}, 0, true)
}

func TestClaimNameplateTwoSidesIsHappy(t *testing.T) {
	app := newTestServer(t).GetApp("app1")

	mboxA, err := app.ClaimNameplate("42", "sideA", 100)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}

	mboxB, err := app.ClaimNameplate("42", "sideB", 101)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}

	if mboxA != mboxB {
		t.Fatalf("expected both sides to resolve to the same mailbox, got %q and %q", mboxA, mboxB)
	}
}

func TestClaimNameplateThirdSideIsCrowded(t *testing.T) {
	app := newTestServer(t).GetApp("app1")

	if _, err := app.ClaimNameplate("42", "sideA", 100); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := app.ClaimNameplate("42", "sideB", 101); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if _, err := app.ClaimNameplate("42", "sideC", 102); !errors.Is(err, ErrCrowded) {
		t.Fatalf("expected ErrCrowded for a third side, got %v", err)
	}
}

func TestClaimNameplateSameSideIsIdempotent(t *testing.T) {
	app := newTestServer(t).GetApp("app1")

	if _, err := app.ClaimNameplate("42", "sideA", 100); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := app.ClaimNameplate("42", "sideA", 105); err != nil {
		t.Fatalf("repeat claim by same side should be a no-op, got %v", err)
	}
}

func TestReleaseThenReclaimIsRejected(t *testing.T) {
	app := newTestServer(t).GetApp("app1")

	if _, err := app.ClaimNameplate("42", "sideA", 100); err != nil {
		t.Fatalf("claim A: %v", err)
	}
	if _, err := app.ClaimNameplate("42", "sideB", 101); err != nil {
		t.Fatalf("claim B: %v", err)
	}
	if err := app.ReleaseNameplate("42", "sideA", 102); err != nil {
		t.Fatalf("release A: %v", err)
	}

	// sideB still holds the nameplate, so its row survives; a further
	// claim attempt by the side that already released must be refused
	// as a stale reclaim rather than treated as a fresh claim.
	if _, err := app.ClaimNameplate("42", "sideA", 103); !errors.Is(err, ErrReclaimed) {
		t.Fatalf("expected ErrReclaimed, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	app := newTestServer(t).GetApp("app1")

	if err := app.ReleaseNameplate("never-claimed", "sideA", 100); err != nil {
		t.Fatalf("releasing an unknown nameplate should be a silent no-op, got %v", err)
	}

	if _, err := app.ClaimNameplate("42", "sideA", 100); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := app.ReleaseNameplate("42", "sideA", 101); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := app.ReleaseNameplate("42", "sideA", 102); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}

func TestReleaseByOneSideKeepsNameplateAliveForTheOther(t *testing.T) {
	app := newTestServer(t).GetApp("app1")

	if _, err := app.ClaimNameplate("42", "sideA", 100); err != nil {
		t.Fatalf("claim A: %v", err)
	}
	if _, err := app.ClaimNameplate("42", "sideB", 101); err != nil {
		t.Fatalf("claim B: %v", err)
	}
	if err := app.ReleaseNameplate("42", "sideA", 102); err != nil {
		t.Fatalf("release A: %v", err)
	}

	ids, err := app.GetNameplateIDs()
	if err != nil {
		t.Fatalf("GetNameplateIDs: %v", err)
	}
	found := false
	for _, id := range ids {
		if id == "42" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected nameplate 42 to still exist while sideB holds it, got %v", ids)
	}
}

func TestAllocateNameplatePicksUnusedName(t *testing.T) {
	app := newTestServer(t).GetApp("app1")

	name, err := app.AllocateNameplate("sideA", 100)
	if err != nil {
		t.Fatalf("AllocateNameplate: %v", err)
	}
	if name == "" {
		t.Fatalf("expected a non-empty nameplate name")
	}

	ids, err := app.GetNameplateIDs()
	if err != nil {
		t.Fatalf("GetNameplateIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != name {
		t.Fatalf("expected the allocated name %q registered, got %v", name, ids)
	}
}

func TestOpenMailboxThirdSideIsCrowded(t *testing.T) {
	app := newTestServer(t).GetApp("app1")

	if _, err := app.OpenMailbox("mbox1", "sideA", 100); err != nil {
		t.Fatalf("open A: %v", err)
	}
	if _, err := app.OpenMailbox("mbox1", "sideB", 101); err != nil {
		t.Fatalf("open B: %v", err)
	}
	if _, err := app.OpenMailbox("mbox1", "sideC", 102); !errors.Is(err, ErrCrowded) {
		t.Fatalf("expected ErrCrowded for a third opener, got %v", err)
	}
}

func TestAppNamespacesAreIndependent(t *testing.T) {
	srv := newTestServer(t)
	appA := srv.GetApp("app-a")
	appB := srv.GetApp("app-b")

	if _, err := appA.ClaimNameplate("42", "sideA", 100); err != nil {
		t.Fatalf("claim in app-a: %v", err)
	}

	idsB, err := appB.GetNameplateIDs()
	if err != nil {
		t.Fatalf("GetNameplateIDs(app-b): %v", err)
	}
	if len(idsB) != 0 {
		t.Fatalf("expected app-b to be unaffected by app-a's claim, got %v", idsB)
	}
}
