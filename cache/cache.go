// Package cache keeps encoded read results in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/nci/rastex/processor"
)

const keyPrefix = "rastex:read:"

type ResultCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis at addr and checks the connection. ttl bounds the
// life of every stored result; zero keeps results until evicted.
func New(ctx context.Context, addr string, db int, ttl time.Duration) (*ResultCache, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &ResultCache{rdb: rdb, ttl: ttl}, nil
}

// Get returns the result stored under key. A missing key is not an error.
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return val, true, nil
}

func (c *ResultCache) Set(ctx context.Context, key string, val []byte) error {
	if err := c.rdb.Set(ctx, key, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *ResultCache) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// Key identifies a read. Requests that differ only in how an absent
// bbox, instant or band list is spelled map to the same key.
func Key(dataset, series string, bbox *processor.Envelope, instant *time.Time, bands []int, exprs string) string {
	var b strings.Builder
	b.WriteString(dataset)
	b.WriteByte(0)
	b.WriteString(series)
	b.WriteByte(0)
	if bbox != nil {
		for _, v := range []float64{bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY} {
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			b.WriteByte(',')
		}
	}
	b.WriteByte(0)
	if instant != nil {
		b.WriteString(instant.UTC().Format(time.RFC3339Nano))
	}
	b.WriteByte(0)
	for _, band := range bands {
		b.WriteString(strconv.Itoa(band))
		b.WriteByte(',')
	}
	b.WriteByte(0)
	b.WriteString(strings.TrimSpace(exprs))

	return fmt.Sprintf("%s%s:%016x", keyPrefix, dataset, xxhash.Sum64String(b.String()))
}
