package relay

import (
	"testing"

	"github.com/chris-pikul/wormhole-mailbox-server/store"
)

func newTestMailbox(t *testing.T) (*store.ChannelStore, *Mailbox, *bool) {
	t.Helper()
	cs, err := store.OpenChannelStore(store.MemoryDSN(t.Name()))
	if err != nil {
		t.Fatalf("OpenChannelStore: %v", err)
	}
	t.Cleanup(func() { cs.Close() })

	if err := cs.InsertMailbox(cs.DB(), "app1", "mboxA", false, 100); err != nil {
		t.Fatalf("InsertMailbox: %v", err)
	}

	freed := false
	m := newMailbox("app1", "mboxA", cs, nil, 0, func(id string) { freed = true })
	return cs, m, &freed
}

func TestMailboxAddListenerReplaysHistoryBeforeNewMessages(t *testing.T) {
	_, m, _ := newTestMailbox(t)

	if err := m.AddMessage(store.MessageRow{AppID: "app1", MailboxID: "mboxA", Side: "sideA", Phase: "p1", Body: "first", ServerRX: 100, MsgID: "m1"}); err != nil {
		t.Fatalf("AddMessage (pre-listener): %v", err)
	}

	var received []string
	if err := m.AddListener("handle1", Listener{
		Deliver: func(msg store.MessageRow) { received = append(received, msg.MsgID) },
		Stop:    func() {},
	}); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if len(received) != 1 || received[0] != "m1" {
		t.Fatalf("expected the history replay to deliver m1, got %v", received)
	}

	if err := m.AddMessage(store.MessageRow{AppID: "app1", MailboxID: "mboxA", Side: "sideB", Phase: "p2", Body: "second", ServerRX: 200, MsgID: "m2"}); err != nil {
		t.Fatalf("AddMessage (post-listener): %v", err)
	}

	if len(received) != 2 || received[1] != "m2" {
		t.Fatalf("expected the post-registration message to arrive after the replayed history, got %v", received)
	}
}

func TestMailboxCloseOnLastSideDeletesAndStopsListeners(t *testing.T) {
	cs, m, freed := newTestMailbox(t)

	if err := m.Open("sideA", 100); err != nil {
		t.Fatalf("Open sideA: %v", err)
	}

	stopped := false
	if err := m.AddListener("handle1", Listener{Deliver: func(store.MessageRow) {}, Stop: func() { stopped = true }}); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	if err := m.Close("sideA", "happy", 200); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !stopped {
		t.Fatalf("expected the listener's Stop callback to fire on full close")
	}
	if !*freed {
		t.Fatalf("expected onEmpty to fire once the mailbox has no open sides left")
	}

	row, err := cs.GetMailbox(cs.DB(), "app1", "mboxA")
	if err != nil {
		t.Fatalf("GetMailbox: %v", err)
	}
	if row != nil {
		t.Fatalf("expected the mailbox row to be deleted after last side closes, got %+v", row)
	}
}

func TestMailboxCloseWithOneSideStillOpenKeepsMailboxAlive(t *testing.T) {
	cs, m, freed := newTestMailbox(t)

	if err := m.Open("sideA", 100); err != nil {
		t.Fatalf("Open sideA: %v", err)
	}
	if err := m.Open("sideB", 101); err != nil {
		t.Fatalf("Open sideB: %v", err)
	}

	if err := m.Close("sideA", "happy", 200); err != nil {
		t.Fatalf("Close sideA: %v", err)
	}

	if *freed {
		t.Fatalf("mailbox should stay alive while sideB is still open")
	}

	row, err := cs.GetMailbox(cs.DB(), "app1", "mboxA")
	if err != nil {
		t.Fatalf("GetMailbox: %v", err)
	}
	if row == nil {
		t.Fatalf("expected the mailbox row to survive while a side remains open")
	}
}

func TestMailboxHasListenersAndListenerCount(t *testing.T) {
	_, m, _ := newTestMailbox(t)

	if m.HasListeners() {
		t.Fatalf("expected no listeners on a fresh mailbox")
	}

	m.AddListener("h1", Listener{Deliver: func(store.MessageRow) {}, Stop: func() {}})
	if !m.HasListeners() || m.ListenerCount() != 1 {
		t.Fatalf("expected 1 listener, got HasListeners=%v Count=%d", m.HasListeners(), m.ListenerCount())
	}

	m.RemoveListener("h1")
	if m.HasListeners() {
		t.Fatalf("expected no listeners after RemoveListener")
	}

	// Removing an unknown handle must be a silent no-op.
	m.RemoveListener("never-registered")
}
