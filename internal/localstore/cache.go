package localstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"points_ledger/internal/domain"

	"go.etcd.io/bbolt"
)

// Cache holds the last known value of each path. Reads are served from memory;
// writes go through to bbolt so the cache survives restarts.
type Cache struct {
	db     *DB
	maxAge time.Duration
	now    func() time.Time

	mu  sync.RWMutex
	mem map[string]domain.CacheEntry
}

// NewCache loads the persisted entries. A zero maxAge disables staleness.
func NewCache(db *DB, maxAge time.Duration) (*Cache, error) {
	c := &Cache{
		db:     db,
		maxAge: maxAge,
		now:    time.Now,
		mem:    make(map[string]domain.CacheEntry),
	}
	err := db.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(cacheBucket).ForEach(func(k, v []byte) error {
			var e domain.CacheEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode cache entry %s: %w", k, err)
			}
			c.mem[string(k)] = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SetClock replaces the time source used for timestamps and staleness.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Put stores value at path.
func (c *Cache) Put(path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	e := domain.CacheEntry{Path: path, Value: raw, Timestamp: c.now()}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = c.db.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(path), b)
	})
	if err != nil {
		return fmt.Errorf("persist cache entry: %w", err)
	}

	c.mu.Lock()
	c.mem[path] = e
	c.mu.Unlock()
	return nil
}

// Entry returns the raw entry and whether it is still fresh.
func (c *Cache) Entry(path string) (domain.CacheEntry, bool, bool) {
	c.mu.RLock()
	e, ok := c.mem[path]
	c.mu.RUnlock()
	if !ok {
		return domain.CacheEntry{}, false, false
	}
	return e, true, !e.Stale(c.maxAge, c.now())
}

// Get decodes the value at path into dst. Stale entries are reported as missing.
func (c *Cache) Get(path string, dst any) (bool, error) {
	e, ok, fresh := c.Entry(path)
	if !ok || !fresh {
		return false, nil
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return false, fmt.Errorf("decode cache value %s: %w", path, err)
	}
	return true, nil
}

func (c *Cache) Delete(path string) error {
	err := c.db.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(cacheBucket).Delete([]byte(path))
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.mem, path)
	c.mu.Unlock()
	return nil
}

// Paths lists cached paths with the given prefix.
func (c *Cache) Paths(prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for p := range c.mem {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}
