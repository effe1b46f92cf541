package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MaxCacheTTL caps how stale a cached read may get.
const MaxCacheTTL = 15 * time.Second

// DefaultCacheEntries caps the cache size when Options do not say.
const DefaultCacheEntries = 1024

// Cached wraps a Store with a short-TTL read cache. Reads hitting the
// same (operation, arguments) pair within the TTL are served from
// memory; any write through the wrapper invalidates the entries it
// touches. Cached values are shared; callers must treat returned
// record slices as read-only.
type Cached struct {
	Store

	ttl time.Duration
	max int
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	at  time.Time
	val any
}

// NewCached wraps s. A ttl of zero or above MaxCacheTTL clamps to
// MaxCacheTTL; maxEntries of zero means DefaultCacheEntries.
func NewCached(s Store, ttl time.Duration, maxEntries int) *Cached {
	if ttl <= 0 || ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultCacheEntries
	}
	return &Cached{
		Store:   s,
		ttl:     ttl,
		max:     maxEntries,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *Cached) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.at) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.val, true
}

func (c *Cached) put(key string, val any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{at: c.now(), val: val}
}

// evictOldestLocked drops the entry with the oldest timestamp.
func (c *Cached) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for k, e := range c.entries {
		if oldest == "" || e.at.Before(oldestAt) {
			oldest = k
			oldestAt = e.at
		}
	}
	if oldest != "" {
		delete(c.entries, oldest)
	}
}

func (c *Cached) invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
}

func (c *Cached) invalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

func (c *Cached) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

func (c *Cached) GetPortnum(ctx context.Context, portName, deviceID string, limit int) ([][]byte, error) {
	key := "gp|" + portName + "|" + deviceID + "|" + strconv.Itoa(limit)
	if v, ok := c.get(key); ok {
		return v.([][]byte), nil
	}
	records, err := c.Store.GetPortnum(ctx, portName, deviceID, limit)
	if err != nil {
		return nil, err
	}
	c.put(key, records)
	return records, nil
}

func (c *Cached) ListPortnums(ctx context.Context, portName string) ([]string, error) {
	key := "lp|" + portName
	if v, ok := c.get(key); ok {
		return v.([]string), nil
	}
	ids, err := c.Store.ListPortnums(ctx, portName)
	if err != nil {
		return nil, err
	}
	c.put(key, ids)
	return ids, nil
}

func (c *Cached) GetDot(ctx context.Context, deviceID string) (*Dot, error) {
	key := "dot|" + deviceID
	if v, ok := c.get(key); ok {
		cp := *(v.(*Dot))
		return &cp, nil
	}
	d, err := c.Store.GetDot(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	c.put(key, d)
	cp := *d
	return &cp, nil
}

func (c *Cached) ListDots(ctx context.Context) (map[string]*Dot, error) {
	const key = "dots"
	if v, ok := c.get(key); ok {
		return copyDots(v.(map[string]*Dot)), nil
	}
	dots, err := c.Store.ListDots(ctx)
	if err != nil {
		return nil, err
	}
	c.put(key, dots)
	return copyDots(dots), nil
}

func (c *Cached) ActiveDevices(ctx context.Context) ([]string, error) {
	const key = "act"
	if v, ok := c.get(key); ok {
		return v.([]string), nil
	}
	ids, err := c.Store.ActiveDevices(ctx)
	if err != nil {
		return nil, err
	}
	c.put(key, ids)
	return ids, nil
}

func (c *Cached) AppendPortnum(ctx context.Context, portName, deviceID string, record []byte) error {
	if err := c.Store.AppendPortnum(ctx, portName, deviceID, record); err != nil {
		return err
	}
	c.invalidatePrefix("gp|" + portName + "|" + deviceID + "|")
	c.invalidate("lp|" + portName)
	return nil
}

func (c *Cached) UpsertDot(ctx context.Context, deviceID string, patch DotPatch) (*Dot, error) {
	d, err := c.Store.UpsertDot(ctx, deviceID, patch)
	if err != nil {
		return nil, err
	}
	c.invalidate("dot|"+deviceID, "dots", "act")
	return d, nil
}

func (c *Cached) SetActiveDevice(ctx context.Context, deviceID string) error {
	if err := c.Store.SetActiveDevice(ctx, deviceID); err != nil {
		return err
	}
	c.invalidate("act")
	return nil
}

func (c *Cached) ClearActiveDevice(ctx context.Context, deviceID string) error {
	if err := c.Store.ClearActiveDevice(ctx, deviceID); err != nil {
		return err
	}
	c.invalidate("act")
	return nil
}

func (c *Cached) DeleteDevice(ctx context.Context, deviceID string) (int, error) {
	n, err := c.Store.DeleteDevice(ctx, deviceID)
	if err != nil {
		return n, err
	}
	// The device may be keyed under several spellings; drop everything.
	c.purge()
	return n, nil
}

func copyDots(in map[string]*Dot) map[string]*Dot {
	out := make(map[string]*Dot, len(in))
	for k, v := range in {
		cp := *v
		out[k] = &cp
	}
	return out
}
