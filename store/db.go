package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotOpen is returned by any operation attempted against a
	// store that hasn't been opened (or was already closed).
	ErrNotOpen = errors.New("store: database connection is not open")

	// ErrSchemaVersion is fatal: the on-disk schema is newer than
	// this binary knows how to speak.
	ErrSchemaVersion = errors.New("store: database schema version is newer than this binary supports")

	// ErrCorruptDB is fatal: the file exists but isn't a valid
	// sqlite database, or its version table is unreadable.
	ErrCorruptDB = errors.New("store: database file is corrupt or not a valid schema")
)

// openOrCreate opens the sqlite database at path, creating it with the
// given schema if it doesn't exist yet (atomically, via temp-file +
// rename), or upgrading it in place if it's older than targetVersion.
// An empty path means an in-memory database shared across the process
// (handy for tests); it is always freshly created. A path already
// shaped like a sqlite memory DSN (mode=memory) is used verbatim,
// which lets tests mint their own uniquely-named memory database
// instead of colliding on the single shared unnamed one.
func openOrCreate(path string, name string, targetVersion int, createSQL string, upgraders map[int]string) (*sql.DB, error) {
	if path == "" || path == ":memory:" {
		return newMemoryDB("file::memory:?cache=shared&_foreign_keys=on", targetVersion, createSQL)
	}
	if strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory") {
		return newMemoryDB(path, targetVersion, createSQL)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		db, err := atomicCreate(path, targetVersion, createSQL)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := openConn(path)
	if err != nil {
		return nil, err
	}

	version, err := readVersion(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	if version > targetVersion {
		db.Close()
		return nil, ErrSchemaVersion
	}

	if version < targetVersion {
		if err := backup(path, version); err != nil {
			db.Close()
			return nil, err
		}
		if err := upgrade(db, name, version, targetVersion, upgraders); err != nil {
			db.Close()
			return nil, err
		}
	}

	return db, nil
}

func newMemoryDB(dsn string, targetVersion int, createSQL string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db, targetVersion, createSQL); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openConn(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, ErrCorruptDB
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ErrCorruptDB
	}
	if err := consistencyCheck(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func atomicCreate(path string, targetVersion int, createSQL string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()

	db, err := openConn(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := initSchema(db, targetVersion, createSQL); err != nil {
		db.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	db.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	return openConn(path)
}

func initSchema(db *sql.DB, targetVersion int, createSQL string) error {
	if _, err := db.Exec(createSQL); err != nil {
		return err
	}
	if _, err := db.Exec(`INSERT INTO version (version) VALUES (?)`, targetVersion); err != nil {
		return err
	}
	return consistencyCheck(db)
}

func readVersion(db *sql.DB) (int, error) {
	var version int
	row := db.QueryRow(`SELECT version FROM version`)
	if err := row.Scan(&version); err != nil {
		return 0, ErrCorruptDB
	}
	return version, nil
}

func backup(path string, version int) error {
	backupPath := fmt.Sprintf("%s-backup-v%d", path, version)
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return os.WriteFile(backupPath, src, 0644)
}

func upgrade(db *sql.DB, name string, from, target int, upgraders map[int]string) error {
	for v := from; v < target; v++ {
		script, ok := upgraders[v+1]
		if !ok {
			return fmt.Errorf("store: no upgrader for %s schema v%d -> v%d", name, v, v+1)
		}
		if _, err := db.Exec(script); err != nil {
			return err
		}
		if _, err := db.Exec(`UPDATE version SET version=?`, v+1); err != nil {
			return err
		}
	}
	return nil
}

// consistencyCheck runs the startup foreign-key check spec.md §4.1
// requires after every open.
func consistencyCheck(db *sql.DB) error {
	rows, err := db.Query(`PRAGMA foreign_key_check`)
	if err != nil {
		return ErrCorruptDB
	}
	defer rows.Close()
	if rows.Next() {
		return fmt.Errorf("store: %w: foreign key check failed", ErrCorruptDB)
	}
	return rows.Err()
}
