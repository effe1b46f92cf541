package store_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/meshwatch/meshwatch/pkg/jsontime"
	"github.com/meshwatch/meshwatch/pkg/store"
)

func newBadgerStore(t *testing.T, opts *store.Options) store.Store {
	t.Helper()
	s, err := store.NewBadger(store.BadgerOptions{
		Options:  opts,
		InMemory: true,
		Logger:   slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newRedisStore(t *testing.T, opts *store.Options) (store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := store.NewRedis(store.RedisOptions{Options: opts, Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

// forEachBackend runs the same contract against both implementations.
func forEachBackend(t *testing.T, opts *store.Options, fn func(t *testing.T, s store.Store)) {
	t.Run("badger", func(t *testing.T) {
		fn(t, newBadgerStore(t, opts))
	})
	t.Run("redis", func(t *testing.T) {
		s, _ := newRedisStore(t, opts)
		fn(t, s)
	})
}

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

func milliPtr(ms int64) *jsontime.Milli {
	m := jsontime.Milli(time.UnixMilli(ms))
	return &m
}

func record(n int) []byte {
	return fmt.Appendf(nil, `{"seq":%d}`, n)
}

func TestAppendAndGetNewestFirst(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			if err := s.AppendPortnum(ctx, "TEXT_MESSAGE_APP", "42", record(i)); err != nil {
				t.Fatalf("AppendPortnum: %v", err)
			}
		}
		got, err := s.GetPortnum(ctx, "TEXT_MESSAGE_APP", "42", 2)
		if err != nil {
			t.Fatalf("GetPortnum: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if string(got[0]) != `{"seq":3}` || string(got[1]) != `{"seq":2}` {
			t.Fatalf("records = %s, %s", got[0], got[1])
		}
	})
}

func TestAppendTrimsToMax(t *testing.T) {
	forEachBackend(t, &store.Options{MaxListLen: 5}, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for i := 1; i <= 8; i++ {
			if err := s.AppendPortnum(ctx, "POSITION_APP", "42", record(i)); err != nil {
				t.Fatalf("AppendPortnum: %v", err)
			}
		}
		got, err := s.GetPortnum(ctx, "POSITION_APP", "42", 100)
		if err != nil {
			t.Fatalf("GetPortnum: %v", err)
		}
		if len(got) != 5 {
			t.Fatalf("len = %d, want 5", len(got))
		}
		if string(got[0]) != `{"seq":8}` {
			t.Fatalf("newest = %s", got[0])
		}
		if string(got[4]) != `{"seq":4}` {
			t.Fatalf("oldest kept = %s", got[4])
		}
	})
}

func TestGetPortnumMissing(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s store.Store) {
		got, err := s.GetPortnum(context.Background(), "TEXT_MESSAGE_APP", "nope", 10)
		if err != nil {
			t.Fatalf("GetPortnum: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("len = %d, want 0", len(got))
		}
	})
}

func TestListPortnums(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for _, id := range []string{"42", "43", "44"} {
			if err := s.AppendPortnum(ctx, "TELEMETRY_APP", id, record(1)); err != nil {
				t.Fatalf("AppendPortnum: %v", err)
			}
		}
		if err := s.AppendPortnum(ctx, "POSITION_APP", "99", record(1)); err != nil {
			t.Fatalf("AppendPortnum: %v", err)
		}
		ids, err := s.ListPortnums(ctx, "TELEMETRY_APP")
		if err != nil {
			t.Fatalf("ListPortnums: %v", err)
		}
		slices.Sort(ids)
		if want := []string{"42", "43", "44"}; !slices.Equal(ids, want) {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	})
}

func TestUpsertDotLifecycle(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		// Names alone make a valid Dot.
		d, err := s.UpsertDot(ctx, "42", store.DotPatch{
			LongName:  strPtr("Hilltop Relay"),
			ShortName: strPtr("HTR"),
			MQTT:      strPtr("0"),
			STime:     milliPtr(1714893720123),
		})
		if err != nil {
			t.Fatalf("UpsertDot: %v", err)
		}
		if d == nil || d.LongName != "Hilltop Relay" {
			t.Fatalf("dot = %+v", d)
		}

		// Coordinates merge in without losing the names.
		d, err = s.UpsertDot(ctx, "42", store.DotPatch{
			Longitude: f64Ptr(20.508),
			Latitude:  f64Ptr(54.70445),
		})
		if err != nil {
			t.Fatalf("UpsertDot: %v", err)
		}
		if d.LongName != "Hilltop Relay" || d.Longitude != 20.508 {
			t.Fatalf("merged dot = %+v", d)
		}

		got, err := s.GetDot(ctx, "42")
		if err != nil {
			t.Fatalf("GetDot: %v", err)
		}
		if got.Latitude != 54.70445 || got.ShortName != "HTR" {
			t.Fatalf("stored dot = %+v", got)
		}
		if got.STime.UnixMilli() != 1714893720123 {
			t.Fatalf("s_time = %d", got.STime.UnixMilli())
		}

		active, err := s.ActiveDevices(ctx)
		if err != nil {
			t.Fatalf("ActiveDevices: %v", err)
		}
		if !slices.Contains(active, "42") {
			t.Fatalf("active = %v", active)
		}

		// Blanking every field invalidates the record and removes it.
		d, err = s.UpsertDot(ctx, "42", store.DotPatch{
			LongName:  strPtr(""),
			ShortName: strPtr(""),
			Longitude: f64Ptr(0),
			Latitude:  f64Ptr(0),
		})
		if err != nil {
			t.Fatalf("UpsertDot: %v", err)
		}
		if d != nil {
			t.Fatalf("invalid merge returned %+v", d)
		}
		if _, err := s.GetDot(ctx, "42"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetDot after drop = %v, want ErrNotFound", err)
		}
		active, err = s.ActiveDevices(ctx)
		if err != nil {
			t.Fatalf("ActiveDevices: %v", err)
		}
		if slices.Contains(active, "42") {
			t.Fatalf("active after drop = %v", active)
		}
	})
}

func TestUpsertDotInvalidFromStart(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		// A lone coordinate half is not enough to show on the map.
		d, err := s.UpsertDot(ctx, "7", store.DotPatch{Latitude: f64Ptr(54.70445)})
		if err != nil {
			t.Fatalf("UpsertDot: %v", err)
		}
		if d != nil {
			t.Fatalf("dot = %+v, want nil", d)
		}
		if _, err := s.GetDot(ctx, "7"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetDot = %v, want ErrNotFound", err)
		}
	})
}

func TestListDots(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for i, name := range []string{"Alpha", "Bravo"} {
			id := fmt.Sprintf("%d", 100+i)
			if _, err := s.UpsertDot(ctx, id, store.DotPatch{LongName: strPtr(name)}); err != nil {
				t.Fatalf("UpsertDot: %v", err)
			}
		}
		dots, err := s.ListDots(ctx)
		if err != nil {
			t.Fatalf("ListDots: %v", err)
		}
		if len(dots) != 2 {
			t.Fatalf("len = %d, want 2", len(dots))
		}
		if dots["100"] == nil || dots["100"].LongName != "Alpha" {
			t.Fatalf("dots[100] = %+v", dots["100"])
		}
	})
}

func TestActiveDeviceSet(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		if err := s.SetActiveDevice(ctx, "42"); err != nil {
			t.Fatalf("SetActiveDevice: %v", err)
		}
		if err := s.SetActiveDevice(ctx, "43"); err != nil {
			t.Fatalf("SetActiveDevice: %v", err)
		}
		ids, err := s.ActiveDevices(ctx)
		if err != nil {
			t.Fatalf("ActiveDevices: %v", err)
		}
		slices.Sort(ids)
		if want := []string{"42", "43"}; !slices.Equal(ids, want) {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
		if err := s.ClearActiveDevice(ctx, "42"); err != nil {
			t.Fatalf("ClearActiveDevice: %v", err)
		}
		ids, err = s.ActiveDevices(ctx)
		if err != nil {
			t.Fatalf("ActiveDevices: %v", err)
		}
		if len(ids) != 1 || ids[0] != "43" {
			t.Fatalf("ids = %v", ids)
		}
	})
}

func TestMarkSeenOnceWins(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		ok, err := s.MarkSeen(ctx, "dedupe:portnum:42:1:1714893720", 3*time.Second)
		if err != nil {
			t.Fatalf("MarkSeen: %v", err)
		}
		if !ok {
			t.Fatal("first MarkSeen must win")
		}
		ok, err = s.MarkSeen(ctx, "dedupe:portnum:42:1:1714893720", 3*time.Second)
		if err != nil {
			t.Fatalf("MarkSeen: %v", err)
		}
		if ok {
			t.Fatal("second MarkSeen must lose")
		}
	})
}

func TestMarkSeenExpires(t *testing.T) {
	// TTL expiry needs a controllable clock; only the Redis test server
	// offers one.
	s, mr := newRedisStore(t, nil)
	ctx := context.Background()
	if ok, err := s.MarkSeen(ctx, "dedupe:x", 3*time.Second); err != nil || !ok {
		t.Fatalf("MarkSeen = %v, %v", ok, err)
	}
	mr.FastForward(2 * time.Second)
	if ok, err := s.MarkSeen(ctx, "dedupe:x", 3*time.Second); err != nil || ok {
		t.Fatalf("MarkSeen within window = %v, %v", ok, err)
	}
	mr.FastForward(2 * time.Second)
	if ok, err := s.MarkSeen(ctx, "dedupe:x", 3*time.Second); err != nil || !ok {
		t.Fatalf("MarkSeen after expiry = %v, %v", ok, err)
	}
}

func TestDeleteDeviceBothForms(t *testing.T) {
	forEachBackend(t, nil, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		// 0xda639bf0 == 3663568880.
		const numeric = "3663568880"
		const hexForm = "!da639bf0"

		if err := s.AppendPortnum(ctx, "TEXT_MESSAGE_APP", numeric, record(1)); err != nil {
			t.Fatalf("AppendPortnum: %v", err)
		}
		if err := s.AppendPortnum(ctx, "POSITION_APP", numeric, record(2)); err != nil {
			t.Fatalf("AppendPortnum: %v", err)
		}
		if _, err := s.UpsertDot(ctx, numeric, store.DotPatch{LongName: strPtr("Gone Soon")}); err != nil {
			t.Fatalf("UpsertDot: %v", err)
		}

		// Delete by the hex spelling; the numeric keys must go too.
		n, err := s.DeleteDevice(ctx, hexForm)
		if err != nil {
			t.Fatalf("DeleteDevice: %v", err)
		}
		if n != 3 {
			t.Fatalf("deleted = %d, want 3", n)
		}
		if _, err := s.GetDot(ctx, numeric); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("GetDot = %v, want ErrNotFound", err)
		}
		recs, err := s.GetPortnum(ctx, "TEXT_MESSAGE_APP", numeric, 10)
		if err != nil {
			t.Fatalf("GetPortnum: %v", err)
		}
		if len(recs) != 0 {
			t.Fatalf("records survived delete: %d", len(recs))
		}
		active, err := s.ActiveDevices(ctx)
		if err != nil {
			t.Fatalf("ActiveDevices: %v", err)
		}
		if slices.Contains(active, numeric) {
			t.Fatalf("active = %v", active)
		}
	})
}
