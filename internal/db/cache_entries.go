package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CacheEntry is a row of the cache_entries table.
type CacheEntry struct {
	Key       string
	Namespace string
	ExpiresAt float64
	Data      []byte
	KeyData   []byte
}

// GetCacheEntry returns the entry stored under key, or nil if there is none.
func GetCacheEntry(ctx context.Context, d *sql.DB, key string) (*CacheEntry, error) {
	row := d.QueryRowContext(ctx,
		"SELECT key, namespace, expires_at, data, key_data FROM cache_entries WHERE key = ?",
		key,
	)
	var e CacheEntry
	err := row.Scan(&e.Key, &e.Namespace, &e.ExpiresAt, &e.Data, &e.KeyData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// PutCacheEntry inserts or replaces an entry.
func PutCacheEntry(ctx context.Context, d *sql.DB, e CacheEntry) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO cache_entries (key, namespace, expires_at, data, key_data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			namespace = excluded.namespace,
			expires_at = excluded.expires_at,
			data = excluded.data,
			key_data = excluded.key_data,
			updated_at = excluded.updated_at
	`, e.Key, e.Namespace, e.ExpiresAt, e.Data, e.KeyData, time.Now().Unix())
	return err
}

// DeleteCacheEntry removes the entry stored under key and reports whether
// one existed.
func DeleteCacheEntry(ctx context.Context, d *sql.DB, key string) (bool, error) {
	res, err := d.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClearCacheEntries removes every entry in namespace, or all entries when
// namespace is empty, and returns how many were removed.
func ClearCacheEntries(ctx context.Context, d *sql.DB, namespace string) (int, error) {
	var res sql.Result
	var err error
	if namespace == "" {
		res, err = d.ExecContext(ctx, "DELETE FROM cache_entries")
	} else {
		res, err = d.ExecContext(ctx, "DELETE FROM cache_entries WHERE namespace = ?", namespace)
	}
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// PruneCacheEntries removes entries that expired before now.
func PruneCacheEntries(ctx context.Context, d *sql.DB, now float64) (int, error) {
	res, err := d.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at < ?", now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
