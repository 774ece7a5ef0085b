package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// APIKey is a row of the api_keys table. Only the hash of the secret is kept.
type APIKey struct {
	ID        int64
	Prefix    string
	Hash      []byte
	Label     *string
	CreatedAt int64
	RevokedAt *int64
}

// CreateAPIKey stores a new key and returns its ID.
func CreateAPIKey(ctx context.Context, d *sql.DB, prefix string, hash []byte, label string) (int64, error) {
	var labelArg any
	if label != "" {
		labelArg = label
	}
	result, err := d.ExecContext(ctx,
		"INSERT INTO api_keys (key_prefix, key_hash, label, created_at) VALUES (?, ?, ?, ?)",
		prefix, hash, labelArg, time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetAPIKeyByPrefix returns the key with the given prefix, or nil if there is none.
func GetAPIKeyByPrefix(ctx context.Context, d *sql.DB, prefix string) (*APIKey, error) {
	row := d.QueryRowContext(ctx,
		"SELECT id, key_prefix, key_hash, label, created_at, revoked_at FROM api_keys WHERE key_prefix = ?",
		prefix,
	)
	var k APIKey
	err := row.Scan(&k.ID, &k.Prefix, &k.Hash, &k.Label, &k.CreatedAt, &k.RevokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// CountAPIKeys returns the number of keys that have not been revoked.
func CountAPIKeys(ctx context.Context, d *sql.DB) (int, error) {
	var n int
	err := d.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_keys WHERE revoked_at IS NULL").Scan(&n)
	return n, err
}

// RevokeAPIKey marks a key revoked. It reports false if no live key has the prefix.
func RevokeAPIKey(ctx context.Context, d *sql.DB, prefix string) (bool, error) {
	result, err := d.ExecContext(ctx,
		"UPDATE api_keys SET revoked_at = ? WHERE key_prefix = ? AND revoked_at IS NULL",
		time.Now().Unix(), prefix,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}
