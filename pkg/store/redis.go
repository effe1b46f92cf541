package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis server.
type Redis struct {
	rdb  *redis.Client
	opts *Options
}

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	// Options is the common store options.
	Options *Options

	// Addr is the host:port of the Redis server. Required.
	Addr string

	// Username and Password are the optional AUTH credentials.
	Username string
	Password string

	// DB selects the Redis logical database.
	DB int
}

// NewRedis connects to Redis and verifies the connection with a ping.
func NewRedis(ropts RedisOptions) (*Redis, error) {
	if ropts.Addr == "" {
		return nil, errors.New("store: RedisOptions.Addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     ropts.Addr,
		Username: ropts.Username,
		Password: ropts.Password,
		DB:       ropts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}
	return &Redis{rdb: rdb, opts: ropts.Options}, nil
}

func (r *Redis) AppendPortnum(ctx context.Context, portName, deviceID string, record []byte) error {
	key := portKey(portName, deviceID)
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, key, record)
	pipe.LTrim(ctx, key, int64(-r.opts.maxListLen()), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: append %s: %w", key, err)
	}
	return nil
}

func (r *Redis) GetPortnum(ctx context.Context, portName, deviceID string, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}
	key := portKey(portName, deviceID)
	vals, err := r.rdb.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: range %s: %w", key, err)
	}
	// The list stores oldest first; callers want newest first.
	out := make([][]byte, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		out = append(out, []byte(vals[i]))
	}
	return out, nil
}

func (r *Redis) ListPortnums(ctx context.Context, portName string) ([]string, error) {
	prefix := portName + ":"
	var ids []string
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %s: %w", prefix, err)
	}
	return ids, nil
}

func (r *Redis) GetDot(ctx context.Context, deviceID string) (*Dot, error) {
	fields, err := r.rdb.HGetAll(ctx, dotKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get dot %s: %w", deviceID, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return dotFromFields(fields), nil
}

func (r *Redis) ListDots(ctx context.Context) (map[string]*Dot, error) {
	dots := make(map[string]*Dot)
	iter := r.rdb.Scan(ctx, 0, "dots:*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := r.rdb.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("store: get %s: %w", key, err)
		}
		if len(fields) == 0 {
			continue
		}
		dots[strings.TrimPrefix(key, "dots:")] = dotFromFields(fields)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan dots: %w", err)
	}
	return dots, nil
}

func (r *Redis) UpsertDot(ctx context.Context, deviceID string, patch DotPatch) (*Dot, error) {
	d, err := r.GetDot(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		d = new(Dot)
	}
	d.apply(patch)

	if !d.Valid() {
		pipe := r.rdb.TxPipeline()
		pipe.Del(ctx, dotKey(deviceID))
		pipe.SRem(ctx, activeKey, deviceID)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("store: drop dot %s: %w", deviceID, err)
		}
		return nil, nil
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, dotKey(deviceID), d.fields())
	pipe.SAdd(ctx, activeKey, deviceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store: upsert dot %s: %w", deviceID, err)
	}
	return d, nil
}

func (r *Redis) SetActiveDevice(ctx context.Context, deviceID string) error {
	if err := r.rdb.SAdd(ctx, activeKey, deviceID).Err(); err != nil {
		return fmt.Errorf("store: activate %s: %w", deviceID, err)
	}
	return nil
}

func (r *Redis) ClearActiveDevice(ctx context.Context, deviceID string) error {
	if err := r.rdb.SRem(ctx, activeKey, deviceID).Err(); err != nil {
		return fmt.Errorf("store: deactivate %s: %w", deviceID, err)
	}
	return nil
}

func (r *Redis) ActiveDevices(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: active devices: %w", err)
	}
	return ids, nil
}

func (r *Redis) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("store: mark %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) DeleteDevice(ctx context.Context, deviceID string) (int, error) {
	deleted := 0
	for _, form := range deviceForms(deviceID) {
		var keys []string
		iter := r.rdb.Scan(ctx, 0, "*:"+form, 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return deleted, fmt.Errorf("store: scan device %s: %w", form, err)
		}
		if len(keys) > 0 {
			n, err := r.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("store: delete device %s: %w", form, err)
			}
			deleted += int(n)
		}
		if err := r.rdb.SRem(ctx, activeKey, form).Err(); err != nil {
			return deleted, fmt.Errorf("store: deactivate %s: %w", form, err)
		}
	}
	return deleted, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
