package cache

import (
	"context"
	"database/sql"

	"github.com/rsclarke/firmcheck/internal/db"
)

// SQLiteStore keeps entries in the cache_entries table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps a database opened with db.Open.
func NewSQLiteStore(d *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	row, err := db.GetCacheEntry(ctx, s.db, key)
	if err != nil {
		return Entry{}, err
	}
	if row == nil {
		return Entry{}, ErrNotFound
	}
	return Entry{
		Key:       row.Key,
		Namespace: row.Namespace,
		ExpiresAt: row.ExpiresAt,
		Data:      row.Data,
		KeyData:   row.KeyData,
	}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	return db.PutCacheEntry(ctx, s.db, db.CacheEntry{
		Key:       e.Key,
		Namespace: e.Namespace,
		ExpiresAt: e.ExpiresAt,
		Data:      e.Data,
		KeyData:   e.KeyData,
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	return db.DeleteCacheEntry(ctx, s.db, key)
}

func (s *SQLiteStore) Clear(ctx context.Context, namespace string) (int, error) {
	return db.ClearCacheEntries(ctx, s.db, namespace)
}

// Prune removes entries that expired before now.
func (s *SQLiteStore) Prune(ctx context.Context, now float64) (int, error) {
	return db.PruneCacheEntries(ctx, s.db, now)
}
