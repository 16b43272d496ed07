// Copyright (c) Tide Foundation Ltd.
// SPDX-License-Identifier: MPL-2.0

package dpop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// sqliteBackend stores state records in a single sqlite database under the
// caller's data directory.  One row per derived record name.
type sqliteBackend struct {
	db *sql.DB
}

const createStateTable = `
CREATE TABLE IF NOT EXISTS dpop_state (
	name       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// defaultDataDir returns the per-user state directory used when the caller
// doesn't supply one.
func defaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("unable to determine user config dir: %w", err)
	}
	return filepath.Join(base, "tidecloak"), nil
}

func newSqliteBackend(ctx context.Context, dataDir string) (*sqliteBackend, error) {
	const op = "dpop.newSqliteBackend"
	var err error
	if dataDir == "" {
		dataDir, err = defaultDataDir()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("%s: unable to create data dir: %w", op, err)
	}
	dbPath := filepath.Join(dataDir, "dpop.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open %s: %w", op, dbPath, err)
	}
	// sqlite handles one writer at a time; serialize access through a
	// single connection to avoid SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createStateTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: unable to create schema: %w", op, err)
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, "SELECT data FROM dpop_state WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *sqliteBackend) put(ctx context.Context, name string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO dpop_state (name, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
		name, data)
	return err
}

func (b *sqliteBackend) delete(ctx context.Context, name string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM dpop_state WHERE name = ?", name)
	return err
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
