package store

import "testing"

func newTestChannelStore(t *testing.T) *ChannelStore {
	t.Helper()
	cs, err := OpenChannelStore(MemoryDSN(t.Name()))
	if err != nil {
		t.Fatalf("OpenChannelStore: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestNameplateRoundTrip(t *testing.T) {
	cs := newTestChannelStore(t)
	db := cs.DB()

	if err := cs.InsertMailbox(db, "app1", "mbox1", true, 100); err != nil {
		t.Fatalf("InsertMailbox: %v", err)
	}
	id, err := cs.InsertNameplate(db, "app1", "42", "mbox1")
	if err != nil {
		t.Fatalf("InsertNameplate: %v", err)
	}

	np, err := cs.GetNameplate(db, "app1", "42")
	if err != nil {
		t.Fatalf("GetNameplate: %v", err)
	}
	if np == nil || np.ID != id || np.MailboxID != "mbox1" {
		t.Fatalf("unexpected nameplate row: %+v", np)
	}

	missing, err := cs.GetNameplate(db, "app1", "no-such")
	if err != nil {
		t.Fatalf("GetNameplate(missing): %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing nameplate, got %+v", missing)
	}
}

func TestNameplateSidesCounting(t *testing.T) {
	cs := newTestChannelStore(t)
	db := cs.DB()

	cs.InsertMailbox(db, "app1", "mbox1", true, 100)
	id, _ := cs.InsertNameplate(db, "app1", "42", "mbox1")

	if err := cs.InsertNameplateSide(db, id, "sideA", true, 100); err != nil {
		t.Fatalf("InsertNameplateSide: %v", err)
	}
	count, err := cs.CountNameplateSides(db, id)
	if err != nil {
		t.Fatalf("CountNameplateSides: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 side, got %d", count)
	}

	if err := cs.InsertNameplateSide(db, id, "sideB", true, 101); err != nil {
		t.Fatalf("InsertNameplateSide: %v", err)
	}
	count, err = cs.CountNameplateSides(db, id)
	if err != nil {
		t.Fatalf("CountNameplateSides: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 sides, got %d", count)
	}
}

func TestMailboxSidesLifecycle(t *testing.T) {
	cs := newTestChannelStore(t)
	db := cs.DB()

	if err := cs.InsertMailbox(db, "app1", "mboxA", false, 100); err != nil {
		t.Fatalf("InsertMailbox: %v", err)
	}
	if err := cs.InsertMailboxSide(db, "mboxA", "sideA", true, 100); err != nil {
		t.Fatalf("InsertMailboxSide: %v", err)
	}

	open, err := cs.CountMailboxSidesOpen(db, "mboxA")
	if err != nil {
		t.Fatalf("CountMailboxSidesOpen: %v", err)
	}
	if open != 1 {
		t.Fatalf("expected 1 open side, got %d", open)
	}

	if err := cs.SetMailboxSideClosed(db, "mboxA", "sideA", "happy"); err != nil {
		t.Fatalf("SetMailboxSideClosed: %v", err)
	}
	open, err = cs.CountMailboxSidesOpen(db, "mboxA")
	if err != nil {
		t.Fatalf("CountMailboxSidesOpen: %v", err)
	}
	if open != 0 {
		t.Fatalf("expected 0 open sides after close, got %d", open)
	}

	side, err := cs.GetMailboxSide(db, "mboxA", "sideA")
	if err != nil {
		t.Fatalf("GetMailboxSide: %v", err)
	}
	if side == nil || side.Mood != "happy" {
		t.Fatalf("unexpected side row after close: %+v", side)
	}
}

func TestMessagesOrderedByServerRX(t *testing.T) {
	cs := newTestChannelStore(t)
	db := cs.DB()

	cs.InsertMailbox(db, "app1", "mboxA", false, 100)

	msgs := []MessageRow{
		{AppID: "app1", MailboxID: "mboxA", Side: "a", Phase: "p2", Body: "second", ServerRX: 200, MsgID: "m2"},
		{AppID: "app1", MailboxID: "mboxA", Side: "a", Phase: "p1", Body: "first", ServerRX: 100, MsgID: "m1"},
	}
	for _, m := range msgs {
		if err := cs.InsertMessage(db, m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}

	got, err := cs.GetMessages(db, "app1", "mboxA")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got))
	}
	if got[0].MsgID != "m1" || got[1].MsgID != "m2" {
		t.Fatalf("expected messages ordered by server_rx, got %+v", got)
	}
}

func TestGetAllAppIDsUnionsTables(t *testing.T) {
	cs := newTestChannelStore(t)
	db := cs.DB()

	cs.InsertMailbox(db, "app-a", "mboxA", false, 100)
	cs.InsertMailbox(db, "app-b", "mboxB", true, 100)
	cs.InsertNameplate(db, "app-b", "7", "mboxB")
	cs.InsertMessage(db, MessageRow{AppID: "app-c", MailboxID: "mboxA", Side: "x", Phase: "p", Body: "b", ServerRX: 1, MsgID: "m"})

	ids, err := cs.GetAllAppIDs(db)
	if err != nil {
		t.Fatalf("GetAllAppIDs: %v", err)
	}

	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	for _, want := range []string{"app-a", "app-b", "app-c"} {
		if !seen[want] {
			t.Fatalf("expected %q among app ids, got %v", want, ids)
		}
	}
}

func TestDeleteNameplateSidesByLabelIsGlobal(t *testing.T) {
	cs := newTestChannelStore(t)
	db := cs.DB()

	cs.InsertMailbox(db, "app1", "mbox1", true, 100)
	id1, _ := cs.InsertNameplate(db, "app1", "1", "mbox1")
	cs.InsertMailbox(db, "app1", "mbox2", true, 100)
	id2, _ := cs.InsertNameplate(db, "app1", "2", "mbox2")

	cs.InsertNameplateSide(db, id1, "shared-side", true, 100)
	cs.InsertNameplateSide(db, id2, "shared-side", true, 100)

	if err := cs.DeleteNameplateSidesByLabel(db, "shared-side"); err != nil {
		t.Fatalf("DeleteNameplateSidesByLabel: %v", err)
	}

	for _, id := range []int64{id1, id2} {
		n, err := cs.CountNameplateSides(db, id)
		if err != nil {
			t.Fatalf("CountNameplateSides: %v", err)
		}
		if n != 0 {
			t.Fatalf("expected DeleteNameplateSidesByLabel to clear every nameplate's side, nameplate %d still has %d", id, n)
		}
	}
}
