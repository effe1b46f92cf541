package store

import (
	"context"
	"testing"
	"time"
)

// countingStore is a canned backend that tallies how often each read
// actually reaches it.
type countingStore struct {
	appendCalls int
	getCalls    int
	listCalls   int
	dotCalls    int
	dotsCalls   int
	activeCalls int

	records [][]byte
	dot     Dot
}

func (c *countingStore) AppendPortnum(context.Context, string, string, []byte) error {
	c.appendCalls++
	return nil
}

func (c *countingStore) GetPortnum(context.Context, string, string, int) ([][]byte, error) {
	c.getCalls++
	return c.records, nil
}

func (c *countingStore) ListPortnums(context.Context, string) ([]string, error) {
	c.listCalls++
	return []string{"42"}, nil
}

func (c *countingStore) GetDot(context.Context, string) (*Dot, error) {
	c.dotCalls++
	cp := c.dot
	return &cp, nil
}

func (c *countingStore) ListDots(context.Context) (map[string]*Dot, error) {
	c.dotsCalls++
	cp := c.dot
	return map[string]*Dot{"42": &cp}, nil
}

func (c *countingStore) UpsertDot(context.Context, string, DotPatch) (*Dot, error) {
	cp := c.dot
	return &cp, nil
}

func (c *countingStore) SetActiveDevice(context.Context, string) error   { return nil }
func (c *countingStore) ClearActiveDevice(context.Context, string) error { return nil }

func (c *countingStore) ActiveDevices(context.Context) ([]string, error) {
	c.activeCalls++
	return []string{"42"}, nil
}

func (c *countingStore) MarkSeen(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

func (c *countingStore) DeleteDevice(context.Context, string) (int, error) { return 0, nil }
func (c *countingStore) Close() error                                      { return nil }

func TestCachedServesRepeatReads(t *testing.T) {
	backend := &countingStore{records: [][]byte{[]byte(`{"seq":1}`)}, dot: Dot{LongName: "Alpha"}}
	c := NewCached(backend, 10*time.Second, 0)
	ctx := context.Background()

	for range 3 {
		if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "42", 10); err != nil {
			t.Fatalf("GetPortnum: %v", err)
		}
	}
	if backend.getCalls != 1 {
		t.Fatalf("backend reads = %d, want 1", backend.getCalls)
	}

	for range 3 {
		if _, err := c.GetDot(ctx, "42"); err != nil {
			t.Fatalf("GetDot: %v", err)
		}
	}
	if backend.dotCalls != 1 {
		t.Fatalf("backend dot reads = %d, want 1", backend.dotCalls)
	}
}

func TestCachedEntriesExpire(t *testing.T) {
	backend := &countingStore{records: [][]byte{[]byte(`{"seq":1}`)}}
	c := NewCached(backend, 5*time.Second, 0)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "42", 10); err != nil {
		t.Fatalf("GetPortnum: %v", err)
	}
	now = now.Add(6 * time.Second)
	if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "42", 10); err != nil {
		t.Fatalf("GetPortnum: %v", err)
	}
	if backend.getCalls != 2 {
		t.Fatalf("backend reads = %d, want 2", backend.getCalls)
	}
}

func TestCachedTTLClamp(t *testing.T) {
	c := NewCached(&countingStore{}, time.Hour, 0)
	if c.ttl != MaxCacheTTL {
		t.Fatalf("ttl = %v, want %v", c.ttl, MaxCacheTTL)
	}
	c = NewCached(&countingStore{}, 0, 0)
	if c.ttl != MaxCacheTTL {
		t.Fatalf("zero ttl = %v, want %v", c.ttl, MaxCacheTTL)
	}
}

func TestCachedWriteInvalidates(t *testing.T) {
	backend := &countingStore{records: [][]byte{[]byte(`{"seq":1}`)}, dot: Dot{LongName: "Alpha"}}
	c := NewCached(backend, 10*time.Second, 0)
	ctx := context.Background()

	if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "42", 10); err != nil {
		t.Fatalf("GetPortnum: %v", err)
	}
	if _, err := c.ListPortnums(ctx, "TEXT_MESSAGE_APP"); err != nil {
		t.Fatalf("ListPortnums: %v", err)
	}
	if err := c.AppendPortnum(ctx, "TEXT_MESSAGE_APP", "42", []byte(`{"seq":2}`)); err != nil {
		t.Fatalf("AppendPortnum: %v", err)
	}
	if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "42", 10); err != nil {
		t.Fatalf("GetPortnum: %v", err)
	}
	if _, err := c.ListPortnums(ctx, "TEXT_MESSAGE_APP"); err != nil {
		t.Fatalf("ListPortnums: %v", err)
	}
	if backend.getCalls != 2 {
		t.Fatalf("backend reads = %d, want 2", backend.getCalls)
	}
	if backend.listCalls != 2 {
		t.Fatalf("backend lists = %d, want 2", backend.listCalls)
	}

	// Appending for another device keeps this device's entry warm.
	if err := c.AppendPortnum(ctx, "TEXT_MESSAGE_APP", "43", []byte(`{"seq":1}`)); err != nil {
		t.Fatalf("AppendPortnum: %v", err)
	}
	if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "42", 10); err != nil {
		t.Fatalf("GetPortnum: %v", err)
	}
	if backend.getCalls != 2 {
		t.Fatalf("backend reads after unrelated append = %d, want 2", backend.getCalls)
	}
}

func TestCachedUpsertInvalidatesDotReads(t *testing.T) {
	backend := &countingStore{dot: Dot{LongName: "Alpha"}}
	c := NewCached(backend, 10*time.Second, 0)
	ctx := context.Background()

	if _, err := c.GetDot(ctx, "42"); err != nil {
		t.Fatalf("GetDot: %v", err)
	}
	if _, err := c.ListDots(ctx); err != nil {
		t.Fatalf("ListDots: %v", err)
	}
	if _, err := c.ActiveDevices(ctx); err != nil {
		t.Fatalf("ActiveDevices: %v", err)
	}
	if _, err := c.UpsertDot(ctx, "42", DotPatch{}); err != nil {
		t.Fatalf("UpsertDot: %v", err)
	}
	if _, err := c.GetDot(ctx, "42"); err != nil {
		t.Fatalf("GetDot: %v", err)
	}
	if _, err := c.ListDots(ctx); err != nil {
		t.Fatalf("ListDots: %v", err)
	}
	if _, err := c.ActiveDevices(ctx); err != nil {
		t.Fatalf("ActiveDevices: %v", err)
	}
	if backend.dotCalls != 2 || backend.dotsCalls != 2 || backend.activeCalls != 2 {
		t.Fatalf("backend reads = %d/%d/%d, want 2/2/2",
			backend.dotCalls, backend.dotsCalls, backend.activeCalls)
	}
}

func TestCachedEvictsOldest(t *testing.T) {
	backend := &countingStore{records: [][]byte{[]byte(`{"seq":1}`)}}
	c := NewCached(backend, 10*time.Second, 2)
	ctx := context.Background()

	now := time.Now()
	c.now = func() time.Time { return now }

	if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "1", 10); err != nil {
		t.Fatalf("GetPortnum: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "2", 10); err != nil {
		t.Fatalf("GetPortnum: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "3", 10); err != nil {
		t.Fatalf("GetPortnum: %v", err)
	}
	if len(c.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(c.entries))
	}
	// Device 1 was the oldest entry; reading it again must miss.
	if _, err := c.GetPortnum(ctx, "TEXT_MESSAGE_APP", "1", 10); err != nil {
		t.Fatalf("GetPortnum: %v", err)
	}
	if backend.getCalls != 4 {
		t.Fatalf("backend reads = %d, want 4", backend.getCalls)
	}
}

func TestCachedDotIsACopy(t *testing.T) {
	backend := &countingStore{dot: Dot{LongName: "Alpha"}}
	c := NewCached(backend, 10*time.Second, 0)
	ctx := context.Background()

	d1, err := c.GetDot(ctx, "42")
	if err != nil {
		t.Fatalf("GetDot: %v", err)
	}
	d1.LongName = "Mutated"

	d2, err := c.GetDot(ctx, "42")
	if err != nil {
		t.Fatalf("GetDot: %v", err)
	}
	if d2.LongName != "Alpha" {
		t.Fatalf("cache entry mutated: %q", d2.LongName)
	}
}
