package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rsclarke/firmcheck/internal/db"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type payload struct {
	Company string `json:"company"`
	Score   int    `json:"score"`
}

// stores returns a fresh instance of every local store implementation.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	database, err := db.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sqlite": NewSQLiteStore(database),
	}
}

func TestKey_Canonical(t *testing.T) {
	a := map[string]any{"company_name": "acme", "domains": []string{"a.com", "b.com"}}
	b := map[string]any{"domains": []string{"a.com", "b.com"}, "company_name": "acme"}
	c := struct {
		Domains     []string `json:"domains"`
		CompanyName string   `json:"company_name"`
	}{[]string{"a.com", "b.com"}, "acme"}

	ka, raw, err := Key("existence_check", a)
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	kb, _, _ := Key("existence_check", b)
	kc, _, _ := Key("existence_check", c)
	if ka != kb || ka != kc {
		t.Errorf("keys differ: %s %s %s", ka, kb, kc)
	}
	if !strings.HasPrefix(ka, "existence_check_") || len(ka) != len("existence_check_")+64 {
		t.Errorf("key = %q, want namespace prefix and sha256 hex", ka)
	}
	if string(raw) != `{"company_name":"acme","domains":["a.com","b.com"]}` {
		t.Errorf("canonical = %s", raw)
	}

	other, _, _ := Key("other", a)
	if other == ka {
		t.Error("namespace not part of key")
	}
	reordered, _, _ := Key("existence_check", map[string]any{"company_name": "acme", "domains": []string{"b.com", "a.com"}})
	if reordered == ka {
		t.Error("list order must be normalized by the caller, not by Key")
	}
}

func TestKey_InvalidNamespace(t *testing.T) {
	for _, ns := range []string{"", "../etc", "a/b", "_lead", "trail_", "sp ace"} {
		if _, _, err := Key(ns, "k"); err == nil {
			t.Errorf("Key(%q) expected error", ns)
		}
	}
}

func TestCache_GetSetExpire(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			c := New(store, WithClock(clock.Now))

			var out payload
			if c.Get(ctx, "existence_check", "acme", &out) {
				t.Fatal("hit on empty cache")
			}

			in := payload{Company: "Acme", Score: 3}
			if !c.Set(ctx, "existence_check", "acme", in, time.Hour) {
				t.Fatal("Set failed")
			}
			if !c.Get(ctx, "existence_check", "acme", &out) || out != in {
				t.Fatalf("Get = %+v, want %+v", out, in)
			}

			clock.Advance(59 * time.Minute)
			if !c.Get(ctx, "existence_check", "acme", &out) {
				t.Error("entry expired early")
			}

			clock.Advance(2 * time.Minute)
			if c.Get(ctx, "existence_check", "acme", &out) {
				t.Error("expired entry returned")
			}
			key, _, _ := Key("existence_check", "acme")
			if _, err := store.Get(ctx, key); err != ErrNotFound {
				t.Errorf("expired entry not deleted: err = %v", err)
			}
		})
	}
}

// hookStore runs afterGet once, after the first Get has read its entry.
type hookStore struct {
	Store
	once     sync.Once
	afterGet func()
}

func (s *hookStore) Get(ctx context.Context, key string) (Entry, error) {
	e, err := s.Store.Get(ctx, key)
	if s.afterGet != nil {
		s.once.Do(s.afterGet)
	}
	return e, err
}

func TestCache_ExpiredReadKeepsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := &hookStore{Store: NewMemoryStore()}
	c := New(store, WithClock(clock.Now))

	stale := payload{Company: "Acme", Score: 1}
	if !c.Set(ctx, "existence_check", "acme", stale, time.Minute) {
		t.Fatal("Set failed")
	}
	clock.Advance(2 * time.Minute)

	fresh := payload{Company: "Acme", Score: 2}
	store.afterGet = func() {
		if !c.Set(ctx, "existence_check", "acme", fresh, time.Hour) {
			t.Error("concurrent Set failed")
		}
	}

	var out payload
	if c.Get(ctx, "existence_check", "acme", &out) {
		t.Fatal("expired entry returned")
	}
	out = payload{}
	if !c.Get(ctx, "existence_check", "acme", &out) {
		t.Fatal("entry written during expiry was deleted")
	}
	if out != fresh {
		t.Errorf("Get = %+v, want %+v", out, fresh)
	}
}

func TestCache_Prune(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := New(store, WithClock(clock.Now))
			c.Set(ctx, "existence_check", "old", payload{Score: 1}, time.Minute)
			c.Set(ctx, "existence_check", "new", payload{Score: 2}, time.Hour)
			clock.Advance(2 * time.Minute)
			defer clock.Advance(-2 * time.Minute)

			_, canPrune := store.(Pruner)
			want := 0
			if canPrune {
				want = 1
			}
			if n := c.Prune(ctx); n != want {
				t.Errorf("Prune = %d, want %d", n, want)
			}

			var out payload
			if !c.Get(ctx, "existence_check", "new", &out) || out.Score != 2 {
				t.Error("live entry removed by Prune")
			}
		})
	}
}

func TestCache_PruneEvery(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	store := NewSQLiteStore(database)

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := New(store, WithClock(clock.Now))
	c.Set(context.Background(), "existence_check", "old", payload{}, time.Minute)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.PruneEvery(ctx, 5*time.Millisecond)
		close(done)
	}()

	key, _, _ := Key("existence_check", "old")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.Get(context.Background(), key); err == ErrNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired entry not pruned")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PruneEvery did not stop after cancel")
	}
}

func TestCache_PruneEveryWithoutPruner(t *testing.T) {
	done := make(chan struct{})
	go func() {
		New(NewMemoryStore()).PruneEvery(context.Background(), time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PruneEvery blocked on a store that cannot prune")
	}
}

func TestCache_DefaultTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewMemoryStore()
	c := New(store, WithClock(clock.Now))

	c.Set(ctx, "ns", "k", 1, 0)
	key, _, _ := Key("ns", "k")
	e, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	want := float64(clock.Now().Add(DefaultTTL).Unix())
	if e.ExpiresAt != want {
		t.Errorf("ExpiresAt = %f, want %f", e.ExpiresAt, want)
	}
	if string(e.KeyData) != `"k"` || e.Namespace != "ns" {
		t.Errorf("entry = %+v", e)
	}
}

func TestCache_OverwriteAndDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := New(store)

			c.Set(ctx, "ns", "k", payload{Score: 1}, 0)
			c.Set(ctx, "ns", "k", payload{Score: 2}, 0)

			var out payload
			if !c.Get(ctx, "ns", "k", &out) || out.Score != 2 {
				t.Errorf("Get after overwrite = %+v", out)
			}
			if !c.Delete(ctx, "ns", "k") {
				t.Error("Delete reported no entry")
			}
			if c.Delete(ctx, "ns", "k") {
				t.Error("second Delete reported an entry")
			}
		})
	}
}

func TestCache_Clear(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := New(store)

			for i := 0; i < 3; i++ {
				c.Set(ctx, "a", i, i, 0)
			}
			c.Set(ctx, "a_b", 0, 0, 0)
			c.Set(ctx, "other", 0, 0, 0)

			if n := c.Clear(ctx, "a"); n != 3 {
				t.Errorf("Clear(a) = %d, want 3", n)
			}
			var out int
			if !c.Get(ctx, "a_b", 0, &out) {
				t.Error("Clear(a) removed entries of namespace a_b")
			}
			if n := c.ClearAll(ctx); n != 2 {
				t.Errorf("ClearAll = %d, want 2", n)
			}
			if c.Get(ctx, "other", 0, &out) {
				t.Error("entry survived ClearAll")
			}
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	c := New(store, WithClock(func() time.Time { return time.Unix(1000, 0) }))

	keyData := map[string]any{"company_name": "acme", "domains": []string{}}
	c.Set(ctx, "existence_check", keyData, payload{Company: "Acme"}, time.Minute)

	key, _, _ := Key("existence_check", keyData)
	b, err := os.ReadFile(filepath.Join(dir, key+".json"))
	if err != nil {
		t.Fatalf("cache file missing: %v", err)
	}

	var file map[string]json.RawMessage
	if err := json.Unmarshal(b, &file); err != nil {
		t.Fatalf("cache file is not JSON: %v", err)
	}
	for _, field := range []string{"expires_at", "data", "key_data", "namespace"} {
		if _, ok := file[field]; !ok {
			t.Errorf("cache file missing %q", field)
		}
	}
	if string(file["expires_at"]) != "1060" {
		t.Errorf("expires_at = %s, want 1060", file["expires_at"])
	}
	if string(file["namespace"]) != `"existence_check"` {
		t.Errorf("namespace = %s", file["namespace"])
	}
	if !strings.Contains(string(b), "\n  ") {
		t.Error("cache file is not indented")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the cache file", len(entries))
	}
}

func TestFileStore_CorruptedFileIsMiss(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	c := New(store)

	key, _, _ := Key("ns", "k")
	if err := os.WriteFile(filepath.Join(dir, key+".json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out any
	if c.Get(ctx, "ns", "k", &out) {
		t.Error("corrupted file read as hit")
	}
	if !c.Set(ctx, "ns", "k", "fresh", 0) || !c.Get(ctx, "ns", "k", &out) || out != "fresh" {
		t.Errorf("corrupted entry not replaced, got %v", out)
	}
}

func TestFileStore_ClearLeavesForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(dir)
	c := New(store)

	c.Set(ctx, "ns", "k", 1, 0)
	foreign := filepath.Join(dir, "ns_notes.json")
	if err := os.WriteFile(foreign, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if n := c.ClearAll(ctx); n != 1 {
		t.Errorf("ClearAll = %d, want 1", n)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Error("foreign file removed")
	}
}

func TestFileStore_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(dir)

	// Separate Cache values do not share the keyed mutex, so the file store's
	// rename is the only thing keeping entries whole.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			New(store).Set(ctx, "ns", "k", payload{Company: strings.Repeat("x", 4096), Score: i}, 0)
		}(i)
	}
	wg.Wait()

	var out payload
	if !New(store).Get(ctx, "ns", "k", &out) {
		t.Fatal("entry unreadable after concurrent writes")
	}
	if len(out.Company) != 4096 {
		t.Errorf("partial entry read: %d bytes", len(out.Company))
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestCache_InvalidNamespace(t *testing.T) {
	c := New(NewMemoryStore())
	if c.Set(context.Background(), "../x", "k", 1, 0) {
		t.Error("Set accepted invalid namespace")
	}
	if n := c.Clear(context.Background(), "../x"); n != 0 {
		t.Errorf("Clear = %d", n)
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (Entry, error) {
	return Entry{}, fmt.Errorf("disk on fire")
}
func (failingStore) Put(context.Context, Entry) error { return fmt.Errorf("disk on fire") }
func (failingStore) Delete(context.Context, string) (bool, error) {
	return false, fmt.Errorf("disk on fire")
}
func (failingStore) Clear(context.Context, string) (int, error) {
	return 0, fmt.Errorf("disk on fire")
}

func TestCache_StoreFailuresAreMisses(t *testing.T) {
	ctx := context.Background()
	c := New(failingStore{})

	var out int
	if c.Get(ctx, "ns", "k", &out) {
		t.Error("Get hit on failing store")
	}
	if c.Set(ctx, "ns", "k", 1, 0) {
		t.Error("Set reported success on failing store")
	}
	if c.Delete(ctx, "ns", "k") {
		t.Error("Delete reported success on failing store")
	}
	if n := c.ClearAll(ctx); n != 0 {
		t.Errorf("ClearAll = %d", n)
	}
}

type countingObserver struct {
	hits, misses int
}

func (o *countingObserver) CacheLookup(_ string, hit bool) {
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func TestCache_Observer(t *testing.T) {
	ctx := context.Background()
	obs := &countingObserver{}
	c := New(NewMemoryStore(), WithObserver(obs))

	var out int
	c.Get(ctx, "ns", "k", &out)
	c.Set(ctx, "ns", "k", 1, 0)
	c.Get(ctx, "ns", "k", &out)

	if obs.hits != 1 || obs.misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", obs.hits, obs.misses)
	}
}

func TestKeyedMutex(t *testing.T) {
	var km keyedMutex
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("k")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if len(km.locks) != 0 {
		t.Errorf("%d locks leaked", len(km.locks))
	}
}
