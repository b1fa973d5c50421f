package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// sqlStore implements Store on a single kv table. The two backends differ
// only in placeholder syntax and upsert clause.
type sqlStore struct {
	db     *sql.DB
	get    string
	upsert string
	del    string
}

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
	k TEXT PRIMARY KEY,
	v BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

func (s *sqlStore) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, s.get, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *sqlStore) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.upsert, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.del, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
