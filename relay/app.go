package relay

import (
	"math/rand"
	"sync"

	"github.com/chris-pikul/wormhole-mailbox-server/store"
)

// AppNamespace scopes every nameplate/mailbox operation to one app_id,
// per spec.md §4.3. All state-changing calls take a when timestamp
// supplied by the caller so tests can drive the clock deterministically.
type AppNamespace struct {
	ID string

	store *store.ChannelStore
	usage *store.UsageStore
	blur  int64

	mu        sync.Mutex
	mailboxes map[string]*Mailbox
	rng       *rand.Rand
}

func newAppNamespace(id string, s *store.ChannelStore, u *store.UsageStore, blur int64, rng *rand.Rand) *AppNamespace {
	return &AppNamespace{
		ID:        id,
		store:     s,
		usage:     u,
		blur:      blur,
		mailboxes: make(map[string]*Mailbox),
		rng:       rng,
	}
}

// GetNameplateIDs lists every distinct nameplate name claimed in this
// app, for the optional "list" command.
func (a *AppNamespace) GetNameplateIDs() ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.GetNameplateIDs(a.store.DB(), a.ID)
}

// AllocateNameplate picks a free name via the density-tiered allocator
// and claims it on side's behalf.
func (a *AppNamespace) AllocateNameplate(side string, when int64) (string, error) {
	a.mu.Lock()
	used, err := a.store.GetNameplateIDs(a.store.DB(), a.ID)
	a.mu.Unlock()
	if err != nil {
		return "", err
	}

	name, err := findFreeNameplate(a.rng, used)
	if err != nil {
		return "", err
	}

	if _, err := a.ClaimNameplate(name, side, when); err != nil {
		return "", err
	}
	return name, nil
}

// ClaimNameplate implements spec.md §4.3's four-step claim algorithm.
func (a *AppNamespace) ClaimNameplate(name, side string, when int64) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.store.Begin()
	if err != nil {
		return "", err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	np, err := a.store.GetNameplate(tx, a.ID, name)
	if err != nil {
		return "", err
	}

	var mailboxID string
	var nameplateID int64
	if np == nil {
		mailboxID = generateMailboxID()
		if err := a.store.InsertMailbox(tx, a.ID, mailboxID, true, when); err != nil {
			return "", err
		}
		if err := a.store.InsertMailboxSide(tx, mailboxID, side, true, when); err != nil {
			return "", err
		}
		nameplateID, err = a.store.InsertNameplate(tx, a.ID, name, mailboxID)
		if err != nil {
			return "", err
		}
	} else {
		nameplateID = np.ID
		mailboxID = np.MailboxID
	}

	nps, err := a.store.GetNameplateSide(tx, nameplateID, side)
	if err != nil {
		return "", err
	}
	if nps == nil {
		if err := a.store.InsertNameplateSide(tx, nameplateID, side, true, when); err != nil {
			return "", err
		}
	} else if !nps.Claimed {
		return "", ErrReclaimed
	}
	// else: already claimed by this side — idempotent, leave untouched.

	if err := tx.Commit(); err != nil {
		return "", err
	}
	committed = true

	if err := a.openMailboxLocked(mailboxID, side, when); err != nil {
		return "", err
	}

	count, err := a.store.CountNameplateSides(a.store.DB(), nameplateID)
	if err != nil {
		return "", err
	}
	if count > 2 {
		return "", ErrCrowded
	}

	return mailboxID, nil
}

// ReleaseNameplate is idempotent: releasing an already-released or
// never-claimed nameplate is a silent no-op.
func (a *AppNamespace) ReleaseNameplate(name, side string, when int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.store.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	np, err := a.store.GetNameplate(tx, a.ID, name)
	if err != nil {
		return err
	}
	if np == nil {
		return nil
	}

	nps, err := a.store.GetNameplateSide(tx, np.ID, side)
	if err != nil {
		return err
	}
	if nps == nil {
		return nil
	}

	if err := a.store.SetNameplateSideClaimed(tx, np.ID, side, false); err != nil {
		return err
	}

	sides, err := a.store.GetNameplateSides(tx, np.ID)
	if err != nil {
		return err
	}
	stillClaimed := false
	for _, s := range sides {
		if s.NameplateID == np.ID && s.Claimed {
			stillClaimed = true
		}
	}
	// SetNameplateSideClaimed already updated side's row in the DB but
	// GetNameplateSides re-reads it, so the in-memory copy reflects it.
	if stillClaimed {
		return tx.Commit()
	}

	if err := a.store.DeleteNameplateSidesByNameplate(tx, np.ID); err != nil {
		return err
	}
	if err := a.store.DeleteNameplate(tx, np.ID); err != nil {
		return err
	}

	if a.usage != nil {
		utx, err := a.usage.Begin()
		if err != nil {
			return err
		}
		summary := summarizeNameplate(a.ID, sides, when, false, a.blur)
		if err := a.usage.AppendNameplateUsage(utx, summary); err != nil {
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
	committed = true
	return nil
}

// OpenMailbox ensures the mailbox row and in-memory object exist, opens
// it for side, and returns the live object.
func (a *AppNamespace) OpenMailbox(mailboxID, side string, when int64) (*Mailbox, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openMailboxLockedRet(mailboxID, side, when)
}

// openMailboxLocked is OpenMailbox's body for callers (ClaimNameplate)
// that already hold a.mu.
func (a *AppNamespace) openMailboxLocked(mailboxID, side string, when int64) error {
	_, err := a.openMailboxLockedRet(mailboxID, side, when)
	return err
}

func (a *AppNamespace) openMailboxLockedRet(mailboxID, side string, when int64) (*Mailbox, error) {
	tx, err := a.store.Begin()
	if err != nil {
		return nil, err
	}
	row, err := a.store.GetMailbox(tx, a.ID, mailboxID)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if row == nil {
		if err := a.store.InsertMailbox(tx, a.ID, mailboxID, false, when); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	mbox, ok := a.mailboxes[mailboxID]
	if !ok {
		mbox = newMailbox(a.ID, mailboxID, a.store, a.usage, a.blur, a.freeMailbox)
		a.mailboxes[mailboxID] = mbox
	}

	if err := mbox.Open(side, when); err != nil {
		return nil, err
	}

	count, err := a.store.CountMailboxSides(a.store.DB(), mailboxID)
	if err != nil {
		return nil, err
	}
	if count > 2 {
		return mbox, ErrCrowded
	}

	return mbox, nil
}

// FreeMailbox drops the in-memory object for id, if any. Row lifecycle
// (deletion) is managed entirely by Mailbox.Close and pruning.
func (a *AppNamespace) FreeMailbox(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeMailboxLocked(id)
}

func (a *AppNamespace) freeMailbox(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeMailboxLocked(id)
}

func (a *AppNamespace) freeMailboxLocked(id string) {
	delete(a.mailboxes, id)
}

// LogClientVersion appends an (implementation, version) usage record
// for side, blurring server_rx if a blur interval is configured.
func (a *AppNamespace) LogClientVersion(serverRX int64, side, implementation, version string) error {
	if a.usage == nil {
		return nil
	}
	tx, err := a.usage.Begin()
	if err != nil {
		return err
	}
	rec := store.ClientVersionRecord{
		AppID:          a.ID,
		Side:           side,
		Implementation: implementation,
		Version:        version,
		ConnectTime:    blurDown(serverRX, a.blur),
	}
	if err := a.usage.AppendClientVersion(tx, rec); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// liveMailboxes returns a snapshot of every in-memory Mailbox, used by
// Prune and by Server.dump_stats for the connections_websocket gauge.
func (a *AppNamespace) liveMailboxes() []*Mailbox {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Mailbox, 0, len(a.mailboxes))
	for _, m := range a.mailboxes {
		out = append(out, m)
	}
	return out
}

// inUse reports whether this namespace still has any live mailbox
// objects, the signal Server uses to decide whether to keep the
// AppNamespace registered after a pruning pass.
func (a *AppNamespace) inUse() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.mailboxes) > 0
}
