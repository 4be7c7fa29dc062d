package store

import "testing"

func newTestUsageStore(t *testing.T) *UsageStore {
	t.Helper()
	us, err := OpenUsageStore(MemoryDSN(t.Name()))
	if err != nil {
		t.Fatalf("OpenUsageStore: %v", err)
	}
	t.Cleanup(func() { us.Close() })
	return us
}

func TestOpenUsageStoreEmptyPathDisabled(t *testing.T) {
	us, err := OpenUsageStore("")
	if err != nil {
		t.Fatalf("OpenUsageStore(\"\"): %v", err)
	}
	if us != nil {
		t.Fatalf("expected nil UsageStore for empty path, got %+v", us)
	}
	// nil-receiver methods must be safe no-ops, since Server holds a
	// possibly-nil *UsageStore directly.
	if err := us.Close(); err != nil {
		t.Fatalf("Close on nil UsageStore: %v", err)
	}
	if db := us.DB(); db != nil {
		t.Fatalf("expected nil DB() on nil UsageStore")
	}
}

func TestAppendUsageRecords(t *testing.T) {
	us := newTestUsageStore(t)
	db := us.DB()

	waiting := int64(5)
	if err := us.AppendNameplateUsage(db, NameplateUsage{
		AppID: "app1", Started: 100, TotalTime: 10, WaitingTime: &waiting, Result: "happy",
	}); err != nil {
		t.Fatalf("AppendNameplateUsage: %v", err)
	}

	if err := us.AppendMailboxUsage(db, MailboxUsage{
		AppID: "app1", ForNameplate: true, Started: 100, TotalTime: 20, Result: "lonely",
	}); err != nil {
		t.Fatalf("AppendMailboxUsage: %v", err)
	}

	if err := us.AppendClientVersion(db, ClientVersionRecord{
		AppID: "app1", Side: "sideA", Implementation: "python", Version: "0.12.0", ConnectTime: 100,
	}); err != nil {
		t.Fatalf("AppendClientVersion: %v", err)
	}
}

func TestSetCurrentReplacesRow(t *testing.T) {
	us := newTestUsageStore(t)
	db := us.DB()

	if err := us.SetCurrent(db, CurrentStats{Rebooted: 1, Updated: 2, BlurTime: 0, ConnectionsWebsocket: 3}); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if err := us.SetCurrent(db, CurrentStats{Rebooted: 1, Updated: 99, BlurTime: 0, ConnectionsWebsocket: 7}); err != nil {
		t.Fatalf("SetCurrent (replace): %v", err)
	}

	var updated int
	var conns int
	row := db.QueryRow(`SELECT updated, connections_websocket FROM current`)
	if err := row.Scan(&updated, &conns); err != nil {
		t.Fatalf("scanning current row: %v", err)
	}
	if updated != 99 || conns != 7 {
		t.Fatalf("expected replaced row (99, 7), got (%d, %d)", updated, conns)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM current`).Scan(&count); err != nil {
		t.Fatalf("counting current rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one current row, got %d", count)
	}
}
