// Package cache implements the lookup subsystem's persistent TTL cache
// (§4.5): a small embedded key-value store, single-flight coalesced per
// key, with corruption detection on open and graceful re-create.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"golang.org/x/sync/singleflight"

	"github.com/animus-labs/biovalidate/internal/validation/model"
)

// Stats mirrors the per-run counters the lookup stage reports and the
// cache-management API exposes (§4.5, §6).
type Stats struct {
	Hits       int64
	Misses     int64
	Writes     int64
	Evictions  int64
	ByProvider map[string]int64
}

// Cache is the badger-backed store used by the lookup subsystem. Keys are
// (case-folded organism, case-folded identifier) pairs. SingleFlight
// coalesces concurrent provider calls per key for callers that go through
// it (Warm); the lookup subsystem's Run coalesces by chunk instead, so two
// concurrent runs whose chunks differ can each call a provider for the
// same key.
type Cache struct {
	db     *badger.DB
	logger *slog.Logger
	group  singleflight.Group

	hits, misses, writes, evictions int64
	byProvider                      map[string]*int64
}

// Open opens (or, on corruption, re-creates) the badger store at path.
func Open(path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		logger.Warn("cache store failed to open, re-creating", "path", path, "error", err.Error())
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("recreate cache store: %w", rmErr)
		}
		db, err = badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open cache store after recreate: %w", err)
		}
	}
	return &Cache{db: db, logger: logger, byProvider: map[string]*int64{}}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func key(organism, identifier string) string {
	return strings.ToLower(strings.TrimSpace(organism)) + "\x1f" + strings.ToLower(strings.TrimSpace(identifier))
}

// Lookup returns the cached entry for (organism, identifier), if present
// and unexpired.
func (c *Cache) Lookup(organism, identifier string) (model.CacheEntry, bool) {
	var entry model.CacheEntry
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key(organism, identifier)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if jsonErr := json.Unmarshal(val, &entry); jsonErr != nil {
				return jsonErr
			}
			found = true
			return nil
		})
	})
	if err != nil {
		c.logger.Warn("cache lookup failed", "error", err.Error())
		return model.CacheEntry{}, false
	}
	if !found {
		atomic.AddInt64(&c.misses, 1)
		return model.CacheEntry{}, false
	}
	if entry.Expired(time.Now()) {
		atomic.AddInt64(&c.misses, 1)
		return model.CacheEntry{}, false
	}
	atomic.AddInt64(&c.hits, 1)
	return entry, true
}

// Set writes an entry, keyed by (organism, identifier).
func (c *Cache) Set(organism, identifier string, entry model.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key(organism, identifier)), data)
	})
	if err != nil {
		return err
	}
	atomic.AddInt64(&c.writes, 1)
	c.bumpProvider(entry.Provider)
	return nil
}

func (c *Cache) bumpProvider(provider string) {
	if provider == "" {
		return
	}
	counter, ok := c.byProvider[provider]
	if !ok {
		var v int64
		counter = &v
		c.byProvider[provider] = counter
	}
	atomic.AddInt64(counter, 1)
}

// SingleFlight ensures at most one concurrent provider call happens per
// key: concurrent callers for the same (organism, identifier) wait for the
// first caller's result rather than each issuing their own request.
func (c *Cache) SingleFlight(organism, identifier string, fn func() (model.CacheEntry, error)) (model.CacheEntry, error, bool) {
	v, err, shared := c.group.Do(key(organism, identifier), func() (any, error) {
		return fn()
	})
	if err != nil {
		return model.CacheEntry{}, err, shared
	}
	return v.(model.CacheEntry), nil, shared
}

// ClearExpired scans the store and deletes every expired entry. Idempotent.
func (c *Cache) ClearExpired() (int, error) {
	now := time.Now()
	var expiredKeys [][]byte
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var entry model.CacheEntry
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				continue
			}
			if entry.Expired(now) {
				expiredKeys = append(expiredKeys, append([]byte(nil), item.Key()...))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(expiredKeys) == 0 {
		return 0, nil
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		for _, k := range expiredKeys {
			if delErr := txn.Delete(k); delErr != nil {
				return delErr
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	atomic.AddInt64(&c.evictions, int64(len(expiredKeys)))
	return len(expiredKeys), nil
}

// Purge unconditionally empties the store.
func (c *Cache) Purge() error {
	return c.db.DropAll()
}

// Warm pre-resolves a list of (organism, identifier) pairs through resolve
// without waiting on a validation run.
func (c *Cache) Warm(pairs [][2]string, resolve func(organism, identifier string) (model.CacheEntry, error)) (int, error) {
	warmed := 0
	for _, pair := range pairs {
		organism, identifier := pair[0], pair[1]
		if _, ok := c.Lookup(organism, identifier); ok {
			continue
		}
		entry, err, _ := c.SingleFlight(organism, identifier, func() (model.CacheEntry, error) {
			return resolve(organism, identifier)
		})
		if err != nil {
			return warmed, err
		}
		if err := c.Set(organism, identifier, entry); err != nil {
			return warmed, err
		}
		warmed++
	}
	return warmed, nil
}

// StatsSnapshot returns the current counters and the per-provider write
// counts, grounded on GeneCacheManager.get_stats's by_provider breakdown.
// The store's byte size is not part of the snapshot; SizeBytes reports it.
func (c *Cache) StatsSnapshot() Stats {
	byProvider := make(map[string]int64, len(c.byProvider))
	for k, v := range c.byProvider {
		byProvider[k] = atomic.LoadInt64(v)
	}
	return Stats{
		Hits:       atomic.LoadInt64(&c.hits),
		Misses:     atomic.LoadInt64(&c.misses),
		Writes:     atomic.LoadInt64(&c.writes),
		Evictions:  atomic.LoadInt64(&c.evictions),
		ByProvider: byProvider,
	}
}

// SizeBytes reports the on-disk size of the cache store's log and value
// files combined.
func (c *Cache) SizeBytes() int64 {
	lsm, vlog := c.db.Size()
	return lsm + vlog
}

func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
