// Package store owns the on-device sqlite database: the device identity row,
// the monthly history partitions, and the sync event log.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path and ensures the
// fixed-schema tables exist. Partition tables are created on demand.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// sqlite is a single-writer engine; one connection avoids SQLITE_BUSY
	// races between the collector, the sync engine and the identity manager.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS device (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			serial TEXT NOT NULL,
			register_password TEXT NOT NULL DEFAULT '',
			token TEXT NOT NULL,
			cloud_connection INTEGER NOT NULL DEFAULT 0,
			last_connected TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS history_sync_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_serial TEXT NOT NULL,
			batch_id TEXT NOT NULL,
			sync_start TIMESTAMP NOT NULL,
			sync_end TIMESTAMP NOT NULL,
			record_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			error_message TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
