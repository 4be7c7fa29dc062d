package store

import "database/sql"

// UsageStore wraps the optional usage database: append-only summary
// records plus the single-row "current" stats snapshot.
type UsageStore struct {
	db *sql.DB
}

// OpenUsageStore opens the usage database at path, or returns a nil
// *UsageStore (not an error) when path is empty — the usage DB is
// optional per spec.md §4.3 ("if a usage store is configured").
func OpenUsageStore(path string) (*UsageStore, error) {
	if path == "" {
		return nil, nil
	}
	db, err := openOrCreate(path, "usage", UsageSchemaVersion, usageSchemaV1, usageUpgraders)
	if err != nil {
		return nil, err
	}
	return &UsageStore{db: db}, nil
}

func (s *UsageStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *UsageStore) Begin() (*sql.Tx, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotOpen
	}
	return s.db.Begin()
}

func (s *UsageStore) DB() queryer {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *UsageStore) AppendNameplateUsage(q queryer, rec NameplateUsage) error {
	_, err := q.Exec(`INSERT INTO nameplates (app_id, started, total_time, waiting_time, result)
		VALUES (?, ?, ?, ?, ?)`, rec.AppID, rec.Started, rec.TotalTime, rec.WaitingTime, rec.Result)
	return err
}

func (s *UsageStore) AppendMailboxUsage(q queryer, rec MailboxUsage) error {
	_, err := q.Exec(`INSERT INTO mailboxes (app_id, for_nameplate, started, total_time, waiting_time, result)
		VALUES (?, ?, ?, ?, ?, ?)`, rec.AppID, rec.ForNameplate, rec.Started, rec.TotalTime, rec.WaitingTime, rec.Result)
	return err
}

func (s *UsageStore) AppendClientVersion(q queryer, rec ClientVersionRecord) error {
	_, err := q.Exec(`INSERT INTO client_versions (app_id, side, implementation, version, connect_time)
		VALUES (?, ?, ?, ?, ?)`, rec.AppID, rec.Side, rec.Implementation, rec.Version, rec.ConnectTime)
	return err
}

// SetCurrent replaces the single current-stats row.
func (s *UsageStore) SetCurrent(q queryer, rec CurrentStats) error {
	if _, err := q.Exec(`DELETE FROM current`); err != nil {
		return err
	}
	_, err := q.Exec(`INSERT INTO current (rebooted, updated, blur_time, connections_websocket)
		VALUES (?, ?, ?, ?)`, rec.Rebooted, rec.Updated, rec.BlurTime, rec.ConnectionsWebsocket)
	return err
}
