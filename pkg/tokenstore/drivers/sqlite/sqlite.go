// Package sqlite provides a durable KV driver backed by a local SQLite
// file, so a session survives process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/chesspath/chessauth/pkg/tokenstore"

	_ "modernc.org/sqlite"
)

type KV struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dsn and applies any pending
// schema migrations.
func New(dsn string) (*KV, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	kv := &KV{db: db}
	if err := kv.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return kv, nil
}

func (k *KV) Close() error { return k.db.Close() }

// Ping verifies the database connection is still alive.
func (k *KV) Ping(ctx context.Context) error {
	return k.db.PingContext(ctx)
}

func (k *KV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := k.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", tokenstore.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (k *KV) Set(ctx context.Context, key, value string) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

func (k *KV) Delete(ctx context.Context, key string) error {
	_, err := k.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}
