package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Key namespaces inside badger. The Redis backend gets hashes, lists
// and sets from the server; here each shape gets a prefix of its own.
const (
	listPrefix   = "l:"
	hashPrefix   = "h:"
	setPrefix    = "s:"
	markerPrefix = "m:"
)

// Badger is a Store backed by an embedded BadgerDB, for deployments
// that run without a Redis server.
type Badger struct {
	db   *badger.DB
	opts *Options
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Options is the common store options.
	Options *Options

	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Useful for
	// testing with the real engine.
	InMemory bool

	// Logger receives badger's own log output. If nil, slog.Default
	// is used.
	Logger *slog.Logger
}

// NewBadger opens a BadgerDB-backed Store.
func NewBadger(bopts BadgerOptions) (*Badger, error) {
	if !bopts.InMemory && bopts.Dir == "" {
		return nil, errors.New("store: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(bopts.Dir)
	if bopts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := bopts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(slogBadger{logger.With("component", "badger")})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Badger{db: db, opts: bopts.Options}, nil
}

// update runs fn in a read-write transaction, retrying a bounded
// number of times when concurrent writers conflict.
func (b *Badger) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range 8 {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *Badger) AppendPortnum(_ context.Context, portName, deviceID string, record []byte) error {
	key := []byte(listPrefix + portKey(portName, deviceID))
	maxLen := b.opts.maxListLen()
	err := b.update(func(txn *badger.Txn) error {
		var list []json.RawMessage
		item, err := txn.Get(key)
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &list); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		list = append(list, json.RawMessage(record))
		if len(list) > maxLen {
			list = list[len(list)-maxLen:]
		}
		raw, err := json.Marshal(list)
		if err != nil {
			return err
		}
		return txn.Set(key, raw)
	})
	if err != nil {
		return fmt.Errorf("store: append %s: %w", key, err)
	}
	return nil
}

func (b *Badger) GetPortnum(_ context.Context, portName, deviceID string, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := []byte(listPrefix + portKey(portName, deviceID))
	var list []json.RawMessage
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &list)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: range %s: %w", key, err)
	}
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([][]byte, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, []byte(list[i]))
	}
	return out, nil
}

func (b *Badger) ListPortnums(_ context.Context, portName string) ([]string, error) {
	prefix := []byte(listPrefix + portName + ":")
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(iterOpts(prefix))
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", prefix, err)
	}
	return ids, nil
}

func (b *Badger) getDotTxn(txn *badger.Txn, deviceID string) (*Dot, error) {
	item, err := txn.Get([]byte(hashPrefix + dotKey(deviceID)))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return dotFromFields(fields), nil
}

func (b *Badger) GetDot(_ context.Context, deviceID string) (*Dot, error) {
	var d *Dot
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		d, err = b.getDotTxn(txn, deviceID)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get dot %s: %w", deviceID, err)
	}
	return d, nil
}

func (b *Badger) ListDots(_ context.Context) (map[string]*Dot, error) {
	prefix := []byte(hashPrefix + "dots:")
	dots := make(map[string]*Dot)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(iterOpts(prefix))
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var fields map[string]string
			if err := json.Unmarshal(raw, &fields); err != nil {
				return err
			}
			id := strings.TrimPrefix(string(item.Key()), string(prefix))
			dots[id] = dotFromFields(fields)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan dots: %w", err)
	}
	return dots, nil
}

func (b *Badger) UpsertDot(_ context.Context, deviceID string, patch DotPatch) (*Dot, error) {
	var merged *Dot
	err := b.update(func(txn *badger.Txn) error {
		merged = nil
		d, err := b.getDotTxn(txn, deviceID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return err
			}
			d = new(Dot)
		}
		d.apply(patch)

		dot := []byte(hashPrefix + dotKey(deviceID))
		member := []byte(setPrefix + activeKey + ":" + deviceID)
		if !d.Valid() {
			if err := txn.Delete(dot); err != nil {
				return err
			}
			return txn.Delete(member)
		}
		raw, err := json.Marshal(d.fields())
		if err != nil {
			return err
		}
		if err := txn.Set(dot, raw); err != nil {
			return err
		}
		if err := txn.Set(member, nil); err != nil {
			return err
		}
		merged = d
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: upsert dot %s: %w", deviceID, err)
	}
	return merged, nil
}

func (b *Badger) SetActiveDevice(_ context.Context, deviceID string) error {
	err := b.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(setPrefix+activeKey+":"+deviceID), nil)
	})
	if err != nil {
		return fmt.Errorf("store: activate %s: %w", deviceID, err)
	}
	return nil
}

func (b *Badger) ClearActiveDevice(_ context.Context, deviceID string) error {
	err := b.update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(setPrefix + activeKey + ":" + deviceID))
	})
	if err != nil {
		return fmt.Errorf("store: deactivate %s: %w", deviceID, err)
	}
	return nil
}

func (b *Badger) ActiveDevices(_ context.Context) ([]string, error) {
	prefix := []byte(setPrefix + activeKey + ":")
	var ids []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(iterOpts(prefix))
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: active devices: %w", err)
	}
	return ids, nil
}

func (b *Badger) MarkSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	k := []byte(markerPrefix + key)
	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	_, err := txn.Get(k)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, badger.ErrKeyNotFound):
		return false, fmt.Errorf("store: mark %s: %w", key, err)
	}
	if err := txn.SetEntry(badger.NewEntry(k, []byte{1}).WithTTL(ttl)); err != nil {
		return false, fmt.Errorf("store: mark %s: %w", key, err)
	}
	if err := txn.Commit(); err != nil {
		// A conflict means another writer created the marker between
		// our read and commit; they won.
		if errors.Is(err, badger.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("store: mark %s: %w", key, err)
	}
	return true, nil
}

func (b *Badger) DeleteDevice(_ context.Context, deviceID string) (int, error) {
	deleted := 0
	for _, form := range deviceForms(deviceID) {
		var keys [][]byte
		suffix := ":" + form
		err := b.db.View(func(txn *badger.Txn) error {
			prefix := []byte(listPrefix)
			it := txn.NewIterator(iterOpts(prefix))
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if strings.HasSuffix(string(it.Item().Key()), suffix) {
					keys = append(keys, it.Item().KeyCopy(nil))
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("store: scan device %s: %w", form, err)
		}

		dot := []byte(hashPrefix + dotKey(form))
		err = b.db.View(func(txn *badger.Txn) error {
			if _, err := txn.Get(dot); err == nil {
				keys = append(keys, dot)
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("store: scan device %s: %w", form, err)
		}

		err = b.update(func(txn *badger.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			// Set membership removal is not counted, matching Redis
			// where SREM does not delete a key.
			return txn.Delete([]byte(setPrefix + activeKey + ":" + form))
		})
		if err != nil {
			return deleted, fmt.Errorf("store: delete device %s: %w", form, err)
		}
		deleted += len(keys)
	}
	return deleted, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func iterOpts(prefix []byte) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	return opts
}

// slogBadger adapts slog to badger's logger interface, keeping its
// info and debug chatter out of the application log.
type slogBadger struct {
	l *slog.Logger
}

func (s slogBadger) Errorf(f string, v ...interface{}) { s.l.Error(trimNL(fmt.Sprintf(f, v...))) }
func (s slogBadger) Warningf(f string, v ...interface{}) {
	s.l.Warn(trimNL(fmt.Sprintf(f, v...)))
}
func (s slogBadger) Infof(string, ...interface{})  {}
func (s slogBadger) Debugf(string, ...interface{}) {}

func trimNL(s string) string { return strings.TrimRight(s, "\n") }
