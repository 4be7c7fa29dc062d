package store

import (
	"database/sql"
)

// queryer is satisfied by both *sql.DB and *sql.Tx, letting every
// helper below run either standalone or inside a caller-managed
// transaction.
type queryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// ChannelStore wraps the channel database: mailboxes, mailbox_sides,
// nameplates, nameplate_sides, messages.
type ChannelStore struct {
	db *sql.DB
}

// OpenChannelStore opens (creating or upgrading as needed) the channel
// database at path. An empty path opens the single unnamed in-memory
// database shared across the process, useful for tests.
func OpenChannelStore(path string) (*ChannelStore, error) {
	db, err := openOrCreate(path, "channel", ChannelSchemaVersion, channelSchemaV1, channelUpgraders)
	if err != nil {
		return nil, err
	}
	return &ChannelStore{db: db}, nil
}

func (s *ChannelStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin starts a transaction. Every mutating call below accepts a
// queryer so callers can batch several writes into one commit, as
// spec.md's component design requires ("...commit.").
func (s *ChannelStore) Begin() (*sql.Tx, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	return s.db.Begin()
}

// DB exposes the underlying queryer for single-statement reads that
// don't need a transaction.
func (s *ChannelStore) DB() queryer {
	return s.db
}

// GetAllAppIDs returns the union of app_ids with any live nameplate,
// mailbox, or message row, used by Server.PruneAllApps to discover
// which AppNamespaces need a pruning pass even if nothing currently
// holds them in memory.
func (s *ChannelStore) GetAllAppIDs(q queryer) ([]string, error) {
	seen := make(map[string]bool)
	for _, table := range []string{"nameplates", "mailboxes", "messages"} {
		rows, err := q.Query(`SELECT DISTINCT app_id FROM ` + table)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var appID string
			if err := rows.Scan(&appID); err != nil {
				rows.Close()
				return nil, err
			}
			seen[appID] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}

	out := make([]string, 0, len(seen))
	for appID := range seen {
		out = append(out, appID)
	}
	return out, nil
}

func (s *ChannelStore) GetNameplateIDs(q queryer, appID string) ([]string, error) {
	rows, err := q.Query(`SELECT DISTINCT name FROM nameplates WHERE app_id=?`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *ChannelStore) GetNameplate(q queryer, appID, name string) (*NameplateRow, error) {
	row := q.QueryRow(`SELECT id, app_id, name, mailbox_id FROM nameplates WHERE app_id=? AND name=?`, appID, name)
	var n NameplateRow
	if err := row.Scan(&n.ID, &n.AppID, &n.Name, &n.MailboxID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (s *ChannelStore) InsertNameplate(q queryer, appID, name, mailboxID string) (int64, error) {
	res, err := q.Exec(`INSERT INTO nameplates (app_id, name, mailbox_id) VALUES (?, ?, ?)`, appID, name, mailboxID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetNameplatesByMailbox finds every nameplate row pointing at
// mailboxID within appID, used by pruning to collect nameplates whose
// mailbox is being garbage-collected.
func (s *ChannelStore) GetNameplatesByMailbox(q queryer, appID, mailboxID string) ([]NameplateRow, error) {
	rows, err := q.Query(`SELECT id, app_id, name, mailbox_id FROM nameplates WHERE app_id=? AND mailbox_id=?`, appID, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NameplateRow
	for rows.Next() {
		var n NameplateRow
		if err := rows.Scan(&n.ID, &n.AppID, &n.Name, &n.MailboxID); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *ChannelStore) DeleteNameplate(q queryer, id int64) error {
	_, err := q.Exec(`DELETE FROM nameplates WHERE id=?`, id)
	return err
}

func (s *ChannelStore) GetNameplateSide(q queryer, nameplateID int64, side string) (*NameplateSideRow, error) {
	row := q.QueryRow(`SELECT nameplates_id, claimed, side, added FROM nameplate_sides WHERE nameplates_id=? AND side=?`, nameplateID, side)
	var n NameplateSideRow
	if err := row.Scan(&n.NameplateID, &n.Claimed, &n.Side, &n.Added); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

func (s *ChannelStore) GetNameplateSides(q queryer, nameplateID int64) ([]NameplateSideRow, error) {
	rows, err := q.Query(`SELECT nameplates_id, claimed, side, added FROM nameplate_sides WHERE nameplates_id=?`, nameplateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NameplateSideRow
	for rows.Next() {
		var n NameplateSideRow
		if err := rows.Scan(&n.NameplateID, &n.Claimed, &n.Side, &n.Added); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *ChannelStore) InsertNameplateSide(q queryer, nameplateID int64, side string, claimed bool, added int64) error {
	_, err := q.Exec(`INSERT INTO nameplate_sides (nameplates_id, claimed, side, added) VALUES (?, ?, ?, ?)`, nameplateID, claimed, side, added)
	return err
}

func (s *ChannelStore) SetNameplateSideClaimed(q queryer, nameplateID int64, side string, claimed bool) error {
	_, err := q.Exec(`UPDATE nameplate_sides SET claimed=? WHERE nameplates_id=? AND side=?`, claimed, nameplateID, side)
	return err
}

// DeleteNameplateSidesByNameplate removes every side row for one
// nameplate (used once the nameplate itself is being deleted).
func (s *ChannelStore) DeleteNameplateSidesByNameplate(q queryer, nameplateID int64) error {
	_, err := q.Exec(`DELETE FROM nameplate_sides WHERE nameplates_id=?`, nameplateID)
	return err
}

// DeleteNameplateSidesByLabel removes every nameplate_sides row for a
// given side label, regardless of which nameplate it's under. This
// matches the documented (and suspect — see spec.md §9(a)) release
// cleanup behavior: it over-deletes if the same side label is reused
// across multiple nameplates.
func (s *ChannelStore) DeleteNameplateSidesByLabel(q queryer, side string) error {
	_, err := q.Exec(`DELETE FROM nameplate_sides WHERE side=?`, side)
	return err
}

func (s *ChannelStore) CountNameplateSides(q queryer, nameplateID int64) (int, error) {
	var n int
	row := q.QueryRow(`SELECT COUNT(*) FROM nameplate_sides WHERE nameplates_id=?`, nameplateID)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *ChannelStore) GetMailbox(q queryer, appID, id string) (*MailboxRow, error) {
	row := q.QueryRow(`SELECT app_id, id, updated, for_nameplate FROM mailboxes WHERE app_id=? AND id=?`, appID, id)
	var m MailboxRow
	if err := row.Scan(&m.AppID, &m.ID, &m.Updated, &m.ForNameplate); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (s *ChannelStore) ListMailboxes(q queryer, appID string) ([]MailboxRow, error) {
	rows, err := q.Query(`SELECT app_id, id, updated, for_nameplate FROM mailboxes WHERE app_id=?`, appID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MailboxRow
	for rows.Next() {
		var m MailboxRow
		if err := rows.Scan(&m.AppID, &m.ID, &m.Updated, &m.ForNameplate); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ChannelStore) InsertMailbox(q queryer, appID, id string, forNameplate bool, updated int64) error {
	_, err := q.Exec(`INSERT INTO mailboxes (app_id, id, updated, for_nameplate) VALUES (?, ?, ?, ?)`, appID, id, updated, forNameplate)
	return err
}

func (s *ChannelStore) TouchMailbox(q queryer, id string, updated int64) error {
	_, err := q.Exec(`UPDATE mailboxes SET updated=? WHERE id=?`, updated, id)
	return err
}

func (s *ChannelStore) DeleteMailbox(q queryer, id string) error {
	_, err := q.Exec(`DELETE FROM mailboxes WHERE id=?`, id)
	return err
}

// DeleteNameplatesByMailbox removes any nameplate still pointing at
// mailboxID, needed before the mailbox row itself can be deleted
// without violating the nameplates.mailbox_id foreign key.
func (s *ChannelStore) DeleteNameplatesByMailbox(q queryer, mailboxID string) error {
	_, err := q.Exec(`DELETE FROM nameplates WHERE mailbox_id=?`, mailboxID)
	return err
}

func (s *ChannelStore) GetMailboxSide(q queryer, mailboxID, side string) (*MailboxSideRow, error) {
	row := q.QueryRow(`SELECT mailbox_id, opened, side, added, mood FROM mailbox_sides WHERE mailbox_id=? AND side=?`, mailboxID, side)
	var m MailboxSideRow
	var mood sql.NullString
	if err := row.Scan(&m.MailboxID, &m.Opened, &m.Side, &m.Added, &mood); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	m.Mood = mood.String
	return &m, nil
}

func (s *ChannelStore) GetMailboxSides(q queryer, mailboxID string) ([]MailboxSideRow, error) {
	rows, err := q.Query(`SELECT mailbox_id, opened, side, added, mood FROM mailbox_sides WHERE mailbox_id=?`, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MailboxSideRow
	for rows.Next() {
		var m MailboxSideRow
		var mood sql.NullString
		if err := rows.Scan(&m.MailboxID, &m.Opened, &m.Side, &m.Added, &mood); err != nil {
			return nil, err
		}
		m.Mood = mood.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ChannelStore) InsertMailboxSide(q queryer, mailboxID, side string, opened bool, added int64) error {
	_, err := q.Exec(`INSERT INTO mailbox_sides (mailbox_id, opened, side, added) VALUES (?, ?, ?, ?)`, mailboxID, opened, side, added)
	return err
}

func (s *ChannelStore) SetMailboxSideOpened(q queryer, mailboxID, side string, opened bool) error {
	_, err := q.Exec(`UPDATE mailbox_sides SET opened=? WHERE mailbox_id=? AND side=?`, opened, mailboxID, side)
	return err
}

func (s *ChannelStore) SetMailboxSideClosed(q queryer, mailboxID, side, mood string) error {
	_, err := q.Exec(`UPDATE mailbox_sides SET opened=0, mood=? WHERE mailbox_id=? AND side=?`, mood, mailboxID, side)
	return err
}

func (s *ChannelStore) CountMailboxSidesOpen(q queryer, mailboxID string) (int, error) {
	var n int
	row := q.QueryRow(`SELECT COUNT(*) FROM mailbox_sides WHERE mailbox_id=? AND opened=1`, mailboxID)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *ChannelStore) CountMailboxSides(q queryer, mailboxID string) (int, error) {
	var n int
	row := q.QueryRow(`SELECT COUNT(*) FROM mailbox_sides WHERE mailbox_id=?`, mailboxID)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *ChannelStore) DeleteMailboxSides(q queryer, mailboxID string) error {
	_, err := q.Exec(`DELETE FROM mailbox_sides WHERE mailbox_id=?`, mailboxID)
	return err
}

func (s *ChannelStore) InsertMessage(q queryer, m MessageRow) error {
	_, err := q.Exec(`INSERT INTO messages (app_id, mailbox_id, side, phase, body, server_rx, msg_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, m.AppID, m.MailboxID, m.Side, m.Phase, m.Body, m.ServerRX, m.MsgID)
	return err
}

func (s *ChannelStore) GetMessages(q queryer, appID, mailboxID string) ([]MessageRow, error) {
	rows, err := q.Query(`SELECT app_id, mailbox_id, side, phase, body, server_rx, msg_id FROM messages
		WHERE app_id=? AND mailbox_id=? ORDER BY server_rx ASC`, appID, mailboxID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var m MessageRow
		if err := rows.Scan(&m.AppID, &m.MailboxID, &m.Side, &m.Phase, &m.Body, &m.ServerRX, &m.MsgID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ChannelStore) DeleteMessages(q queryer, mailboxID string) error {
	_, err := q.Exec(`DELETE FROM messages WHERE mailbox_id=?`, mailboxID)
	return err
}
