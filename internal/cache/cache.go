// Package cache memoizes JSON-serializable results by namespace and a
// canonical key, with expiration. The cache is an optimization only: store
// failures are logged and read as misses.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/firmcheck/internal/logging"
)

// DefaultTTL is used when Set is called without a positive ttl.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned by stores when a key has no entry.
var ErrNotFound = errors.New("cache entry not found")

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.-]*(_[A-Za-z0-9.-]+)*$`)

// Entry is a stored cache record. Its JSON form is the on-disk file layout.
type Entry struct {
	Key       string          `json:"-"`
	ExpiresAt float64         `json:"expires_at"`
	Data      json.RawMessage `json:"data"`
	KeyData   json.RawMessage `json:"key_data"`
	Namespace string          `json:"namespace"`
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return unixSeconds(now) > e.ExpiresAt
}

// Store persists entries. Get returns ErrNotFound for absent keys; Clear
// with an empty namespace removes everything.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, namespace string) (int, error)
}

// Pruner is implemented by stores that can drop expired entries in bulk.
type Pruner interface {
	Prune(ctx context.Context, now float64) (int, error)
}

// Observer is notified of cache lookups.
type Observer interface {
	CacheLookup(namespace string, hit bool)
}

// Cache is a namespaced TTL cache over a Store.
type Cache struct {
	store    Store
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
	observer Observer
	locks    keyedMutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the default time to live.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver reports lookups to o.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// New creates a Cache backed by store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the cache key for keyData in namespace, along with the
// canonical JSON the key was hashed from. Object keys are sorted, so equal
// values hash identically regardless of how they were built.
func Key(namespace string, keyData any) (string, json.RawMessage, error) {
	if !namespacePattern.MatchString(namespace) {
		return "", nil, fmt.Errorf("invalid cache namespace %q", namespace)
	}
	canonical, err := canonicalJSON(keyData)
	if err != nil {
		return "", nil, fmt.Errorf("encode cache key: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return namespace + "_" + hex.EncodeToString(sum[:]), canonical, nil
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}

// Get loads the payload cached for keyData into out and reports whether it
// was a hit. Expired entries are deleted.
func (c *Cache) Get(ctx context.Context, namespace string, keyData, out any) bool {
	hit := c.get(ctx, namespace, keyData, out)
	if c.observer != nil {
		c.observer.CacheLookup(namespace, hit)
	}
	return hit
}

func (c *Cache) get(ctx context.Context, namespace string, keyData, out any) bool {
	key, _, err := Key(namespace, keyData)
	if err != nil {
		c.logger.Warn("cache key derivation failed", logging.Namespace(namespace), zap.Error(err))
		return false
	}
	log := c.logger.With(logging.Namespace(namespace), logging.CacheKey(key))

	e, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		log.Debug("cache miss")
		return false
	}
	if err != nil {
		log.Warn("cache read failed", zap.Error(err))
		return false
	}

	if e.Expired(c.now()) {
		log.Debug("cache entry expired")
		c.evictExpired(ctx, log, key)
		return false
	}

	if err := json.Unmarshal(e.Data, out); err != nil {
		log.Warn("cached payload could not be decoded", zap.Error(err))
		return false
	}
	log.Debug("cache hit")
	return true
}

// evictExpired deletes the entry for key if it is still expired once the key
// lock is held. A writer may have replaced it since it was read.
func (c *Cache) evictExpired(ctx context.Context, log *zap.Logger, key string) {
	unlock := c.locks.Lock(key)
	defer unlock()

	e, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("cache read failed", zap.Error(err))
		}
		return
	}
	if !e.Expired(c.now()) {
		return
	}
	if _, err := c.store.Delete(ctx, key); err != nil {
		log.Warn("failed to delete expired cache entry", zap.Error(err))
	}
}

// Set stores payload for keyData, replacing any previous entry. A ttl of
// zero or less uses the default. It reports whether the entry was written.
func (c *Cache) Set(ctx context.Context, namespace string, keyData, payload any, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.ttl
	}
	key, canonical, err := Key(namespace, keyData)
	if err != nil {
		c.logger.Warn("cache key derivation failed", logging.Namespace(namespace), zap.Error(err))
		return false
	}
	log := c.logger.With(logging.Namespace(namespace), logging.CacheKey(key))

	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn("cache payload could not be encoded", zap.Error(err))
		return false
	}

	unlock := c.locks.Lock(key)
	defer unlock()

	e := Entry{
		Key:       key,
		ExpiresAt: unixSeconds(c.now().Add(ttl)),
		Data:      data,
		KeyData:   canonical,
		Namespace: namespace,
	}
	if err := c.store.Put(ctx, e); err != nil {
		log.Warn("cache write failed", zap.Error(err))
		return false
	}
	return true
}

// Delete removes the entry for keyData and reports whether one existed.
func (c *Cache) Delete(ctx context.Context, namespace string, keyData any) bool {
	key, _, err := Key(namespace, keyData)
	if err != nil {
		c.logger.Warn("cache key derivation failed", logging.Namespace(namespace), zap.Error(err))
		return false
	}

	unlock := c.locks.Lock(key)
	defer unlock()

	ok, err := c.store.Delete(ctx, key)
	if err != nil {
		c.logger.Warn("cache delete failed", logging.CacheKey(key), zap.Error(err))
		return false
	}
	return ok
}

// Clear removes every entry in namespace and returns how many were removed.
func (c *Cache) Clear(ctx context.Context, namespace string) int {
	if !namespacePattern.MatchString(namespace) {
		c.logger.Warn("invalid cache namespace", logging.Namespace(namespace))
		return 0
	}
	return c.clear(ctx, namespace)
}

// ClearAll removes every entry and returns how many were removed.
func (c *Cache) ClearAll(ctx context.Context) int {
	return c.clear(ctx, "")
}

func (c *Cache) clear(ctx context.Context, namespace string) int {
	n, err := c.store.Clear(ctx, namespace)
	if err != nil {
		c.logger.Warn("cache clear failed", logging.Namespace(namespace), zap.Error(err))
	}
	c.logger.Info("cache cleared", logging.Namespace(namespace), zap.Int("removed", n))
	return n
}

// Prune removes expired entries if the store supports it and returns how
// many were removed.
func (c *Cache) Prune(ctx context.Context) int {
	p, ok := c.store.(Pruner)
	if !ok {
		return 0
	}
	n, err := p.Prune(ctx, unixSeconds(c.now()))
	if err != nil {
		c.logger.Warn("cache prune failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		c.logger.Debug("pruned expired cache entries", zap.Int("removed", n))
	}
	return n
}

// PruneEvery calls Prune once per interval until ctx is done. It returns
// immediately if the store cannot prune.
func (c *Cache) PruneEvery(ctx context.Context, interval time.Duration) {
	if _, ok := c.store.(Pruner); !ok {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune(ctx)
		}
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// keyMatches reports whether key was derived by Key for namespace, or for
// any namespace when namespace is empty.
func keyMatches(key, namespace string) bool {
	const hashLen = sha256.Size * 2
	if len(key) < hashLen+2 || key[len(key)-hashLen-1] != '_' {
		return false
	}
	for _, c := range key[len(key)-hashLen:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return namespace == "" || key[:len(key)-hashLen-1] == namespace
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
