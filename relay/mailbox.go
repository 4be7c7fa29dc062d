package relay

import (
	"sync"

	"github.com/chris-pikul/wormhole-mailbox-server/store"
)

// Listener is the pair of callbacks a connection handler registers on
// a Mailbox: Deliver is invoked synchronously for every message
// appended after registration, Stop is invoked once when the mailbox
// is destroyed (all sides closed, or pruned away).
type Listener struct {
	Deliver func(store.MessageRow)
	Stop    func()
}

// Mailbox is the in-memory object wrapping one channel row, per
// spec.md §4.2. It never outlives the interest that created it: an
// AppNamespace destroys its reference once Close reports the mailbox
// fully closed.
type Mailbox struct {
	AppID string
	ID    string

	store *store.ChannelStore
	usage *store.UsageStore
	blur  int64

	// onEmpty is invoked once, after a successful full close, so the
	// owning AppNamespace can drop its in-memory reference (spec.md
	// §4.2's "ask the AppNamespace to forget this mailbox object").
	onEmpty func(id string)

	mu        sync.Mutex
	listeners map[string]Listener
}

func newMailbox(appID, id string, s *store.ChannelStore, u *store.UsageStore, blur int64, onEmpty func(string)) *Mailbox {
	return &Mailbox{
		AppID:     appID,
		ID:        id,
		store:     s,
		usage:     u,
		blur:      blur,
		onEmpty:   onEmpty,
		listeners: make(map[string]Listener),
	}
}

// Open registers (or re-confirms) a side as having the mailbox open.
func (m *Mailbox) Open(side string, when int64) error {
	tx, err := m.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	existing, err := m.store.GetMailboxSide(tx, m.ID, side)
	if err != nil {
		return err
	}

	if existing == nil {
		if err := m.store.InsertMailboxSide(tx, m.ID, side, true, when); err != nil {
			return err
		}
	} else if !existing.Opened {
		if err := m.store.SetMailboxSideOpened(tx, m.ID, side, true); err != nil {
			return err
		}
	}

	if err := m.store.TouchMailbox(tx, m.ID, when); err != nil {
		return err
	}

	return tx.Commit()
}

// Touch updates the mailbox row's updated timestamp without touching
// any side, used by the pruner to keep live-listened mailboxes fresh.
func (m *Mailbox) Touch(when int64) error {
	tx, err := m.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := m.store.TouchMailbox(tx, m.ID, when); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMessages returns the full ordered history for this mailbox.
func (m *Mailbox) GetMessages() ([]store.MessageRow, error) {
	return m.store.GetMessages(m.store.DB(), m.AppID, m.ID)
}

// HasListeners reports whether anything is currently subscribed.
func (m *Mailbox) HasListeners() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners) > 0
}

// ListenerCount returns the number of active listeners, used by
// Server.dump_stats for the connections_websocket gauge.
func (m *Mailbox) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// AddListener registers l under handle, delivering the full ordered
// history to l.Deliver before registration completes — all under m.mu,
// so the entire replay-then-register step is atomic with respect to
// concurrent AddMessage calls (spec.md §5 / P6: replay is followed by
// any subsequently-appended messages with no gap and no duplicates).
// AddMessage cannot broadcast to l until this call returns, since both
// hold m.mu and l is only added to m.listeners once the snapshot has
// been fully delivered.
func (m *Mailbox) AddListener(handle string, l Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, err := m.store.GetMessages(m.store.DB(), m.AppID, m.ID)
	if err != nil {
		return err
	}
	for _, msg := range history {
		l.Deliver(msg)
	}
	m.listeners[handle] = l
	return nil
}

// RemoveListener silently ignores unknown handles.
func (m *Mailbox) RemoveListener(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, handle)
}

// AddMessage persists msg, then fans it out to every current listener
// synchronously before returning, per spec.md §5's ordering guarantee.
func (m *Mailbox) AddMessage(msg store.MessageRow) error {
	tx, err := m.store.Begin()
	if err != nil {
		return err
	}
	if err := m.store.InsertMessage(tx, msg); err != nil {
		tx.Rollback()
		return err
	}
	if err := m.store.TouchMailbox(tx, m.ID, msg.ServerRX); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listeners {
		l.Deliver(msg)
	}
	return nil
}

// Close marks side as closed with the given mood. If this was the
// last open side, the mailbox row and everything under it is deleted,
// a usage summary is appended (if a usage store is configured), every
// remaining listener is stopped, and the AppNamespace is asked to
// forget this object.
func (m *Mailbox) Close(side, mood string, when int64) error {
	tx, err := m.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	mbox, err := m.store.GetMailbox(tx, m.AppID, m.ID)
	if err != nil {
		return err
	}
	if mbox == nil {
		return nil
	}

	existing, err := m.store.GetMailboxSide(tx, m.ID, side)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if err := m.store.SetMailboxSideClosed(tx, m.ID, side, mood); err != nil {
		return err
	}

	openCount, err := m.store.CountMailboxSidesOpen(tx, m.ID)
	if err != nil {
		return err
	}
	if openCount > 0 {
		return tx.Commit()
	}

	sides, err := m.store.GetMailboxSides(tx, m.ID)
	if err != nil {
		return err
	}

	// If a nameplate still points at this mailbox, deleting the
	// mailbox row would violate its foreign key — clear it first.
	// This also erases nameplate_sides by side label across the whole
	// table, not scoped to this nameplate: a documented-but-suspect
	// behavior carried over unchanged (spec.md §9(a)).
	if err := m.store.DeleteNameplateSidesByLabel(tx, side); err != nil {
		return err
	}
	if err := m.store.DeleteNameplatesByMailbox(tx, m.ID); err != nil {
		return err
	}

	if err := m.store.DeleteMessages(tx, m.ID); err != nil {
		return err
	}
	if err := m.store.DeleteMailboxSides(tx, m.ID); err != nil {
		return err
	}
	if err := m.store.DeleteMailbox(tx, m.ID); err != nil {
		return err
	}

	if m.usage != nil {
		utx, err := m.usage.Begin()
		if err != nil {
			return err
		}
		summary := summarizeMailbox(m.AppID, mbox.ForNameplate, sides, when, false, m.blur)
		if err := m.usage.AppendMailboxUsage(utx, summary); err != nil {
			utx.Rollback()
			return err
		}
		if err := utx.Commit(); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	m.mu.Lock()
	for _, l := range m.listeners {
		l.Stop()
	}
	m.listeners = make(map[string]Listener)
	m.mu.Unlock()

	if m.onEmpty != nil {
		m.onEmpty(m.ID)
	}

	return nil
}
