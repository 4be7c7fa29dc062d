package relay

// Prune implements spec.md §4.3.2. It touches every live-listened
// mailbox forward to now, then deletes every mailbox (and any
// nameplate still pointing at it) whose row has gone stale — updated
// at or before old — writing "pruney" usage summaries along the way.
// It returns whether any in-memory Mailbox objects are still alive
// afterward, the signal Server uses to decide whether this
// AppNamespace is still worth keeping registered.
func (a *AppNamespace) Prune(now, old int64) (bool, error) {
	for _, m := range a.liveMailboxes() {
		if m.HasListeners() {
			if err := m.Touch(now); err != nil {
				return false, err
			}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.store.Begin()
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	rows, err := a.store.ListMailboxes(tx, a.ID)
	if err != nil {
		return false, err
	}

	var utx interface {
		Commit() error
		Rollback() error
	}
	var usageNeedsCommit bool
	if a.usage != nil {
		u, err := a.usage.Begin()
		if err != nil {
			return false, err
		}
		utx = u
		defer func() {
			if !usageNeedsCommit {
				utx.Rollback()
			}
		}()
	}

	for _, row := range rows {
		if row.Updated > old {
			continue
		}

		nameplates, err := a.store.GetNameplatesByMailbox(tx, a.ID, row.ID)
		if err != nil {
			return false, err
		}
		for _, np := range nameplates {
			sides, err := a.store.GetNameplateSides(tx, np.ID)
			if err != nil {
				return false, err
			}
			if err := a.store.DeleteNameplateSidesByNameplate(tx, np.ID); err != nil {
				return false, err
			}
			if err := a.store.DeleteNameplate(tx, np.ID); err != nil {
				return false, err
			}
			if a.usage != nil && len(sides) > 0 {
				summary := summarizeNameplate(a.ID, sides, now, true, a.blur)
				if err := a.usage.AppendNameplateUsage(utx, summary); err != nil {
					return false, err
				}
			}
		}

		sides, err := a.store.GetMailboxSides(tx, row.ID)
		if err != nil {
			return false, err
		}
		if err := a.store.DeleteMessages(tx, row.ID); err != nil {
			return false, err
		}
		if err := a.store.DeleteMailboxSides(tx, row.ID); err != nil {
			return false, err
		}
		if err := a.store.DeleteMailbox(tx, row.ID); err != nil {
			return false, err
		}
		if a.usage != nil && len(sides) > 0 {
			summary := summarizeMailbox(a.ID, row.ForNameplate, sides, now, true, a.blur)
			if err := a.usage.AppendMailboxUsage(utx, summary); err != nil {
				return false, err
			}
		}

		a.freeMailboxLocked(row.ID)
	}

	if a.usage != nil {
		if err := utx.Commit(); err != nil {
			return false, err
		}
		usageNeedsCommit = true
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true

	return len(a.mailboxes) > 0, nil
}
