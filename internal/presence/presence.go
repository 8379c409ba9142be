// Package presence keeps an advisory, per-event set of participants that are
// currently checked in. The ledger stays authoritative; the set only serves
// dashboards and is rebuilt from the ledger periodically.
package presence

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDisabled is returned by Count when no cache is configured.
var ErrDisabled = errors.New("presence cache disabled")

// Tracker is implemented by Cache and Nop.
type Tracker interface {
	CheckedIn(ctx context.Context, eventID, participantID int64) error
	CheckedOut(ctx context.Context, eventID, participantID int64) error
	Clear(ctx context.Context, eventID int64) error
	Replace(ctx context.Context, eventID int64, participantIDs []int64) error
	Count(ctx context.Context, eventID int64) (int64, error)
}

type Config struct {
	URL    string
	Prefix string
	TTL    time.Duration
}

func ConfigFromEnv() Config {
	cfg := Config{
		URL:    os.Getenv("REDIS_URL"),
		Prefix: os.Getenv("PRESENCE_KEY_PREFIX"),
		TTL:    24 * time.Hour,
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "attendance:presence"
	}
	if v := os.Getenv("PRESENCE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TTL = d
		}
	}
	return cfg
}

// Open connects to Redis. With an empty URL it returns Nop.
func Open(ctx context.Context, cfg Config) (Tracker, func() error, error) {
	if cfg.URL == "" {
		return Nop{}, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return New(rdb, cfg), rdb.Close, nil
}

// Cache stores one Redis set per event.
type Cache struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func New(rdb redis.Cmdable, cfg Config) *Cache {
	return &Cache{rdb: rdb, prefix: cfg.Prefix, ttl: cfg.TTL}
}

func (c *Cache) key(eventID int64) string {
	return c.prefix + ":" + strconv.FormatInt(eventID, 10)
}

func (c *Cache) CheckedIn(ctx context.Context, eventID, participantID int64) error {
	k := c.key(eventID)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, k, participantID)
		p.Expire(ctx, k, c.ttl)
		return nil
	})
	return err
}

func (c *Cache) CheckedOut(ctx context.Context, eventID, participantID int64) error {
	return c.rdb.SRem(ctx, c.key(eventID), participantID).Err()
}

func (c *Cache) Clear(ctx context.Context, eventID int64) error {
	return c.rdb.Del(ctx, c.key(eventID)).Err()
}

// Replace swaps the event's set for participantIDs atomically.
func (c *Cache) Replace(ctx context.Context, eventID int64, participantIDs []int64) error {
	k := c.key(eventID)
	members := make([]any, len(participantIDs))
	for i, id := range participantIDs {
		members[i] = id
	}
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		if len(members) > 0 {
			p.SAdd(ctx, k, members...)
			p.Expire(ctx, k, c.ttl)
		}
		return nil
	})
	return err
}

func (c *Cache) Count(ctx context.Context, eventID int64) (int64, error) {
	return c.rdb.SCard(ctx, c.key(eventID)).Result()
}

// Nop is used when Redis is not configured.
type Nop struct{}

func (Nop) CheckedIn(context.Context, int64, int64) error  { return nil }
func (Nop) CheckedOut(context.Context, int64, int64) error { return nil }
func (Nop) Clear(context.Context, int64) error             { return nil }
func (Nop) Replace(context.Context, int64, []int64) error  { return nil }
func (Nop) Count(context.Context, int64) (int64, error)    { return 0, ErrDisabled }
