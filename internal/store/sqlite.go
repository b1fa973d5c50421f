package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) the SQLite database at path with WAL enabled
// and ensures the kv table exists.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// a single writer connection avoids SQLITE_BUSY between our own goroutines
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, kvSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return &sqlStore{
		db:     db,
		get:    `SELECT v FROM kv WHERE k = ?`,
		upsert: `INSERT INTO kv (k, v, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP) ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		del:    `DELETE FROM kv WHERE k = ?`,
	}, nil
}
