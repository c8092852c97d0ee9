package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/boltdb/bolt"
	"github.com/redis/go-redis/v9"
)

const webhookEventsBucket = "webhook_events"

// RedisEventDeduplicator records event ids with SETNX and a TTL, so every
// instance behind a load balancer shares one view.
type RedisEventDeduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisEventDeduplicator creates a deduplicator on rdb
func NewRedisEventDeduplicator(rdb *redis.Client, ttl time.Duration) *RedisEventDeduplicator {
	return &RedisEventDeduplicator{rdb: rdb, ttl: ttl}
}

func (d *RedisEventDeduplicator) key(eventID string) string {
	return "webhook:event:" + eventID
}

func (d *RedisEventDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.key(eventID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return !ok, nil
}

func (d *RedisEventDeduplicator) Release(ctx context.Context, eventID string) error {
	if err := d.rdb.Del(ctx, d.key(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}

// BoltEventDeduplicator records event ids in a local bolt file. It suits a
// single instance without redis.
type BoltEventDeduplicator struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// NewBoltEventDeduplicator opens (or creates) the bolt file at path
func NewBoltEventDeduplicator(path string, ttl time.Duration) (*BoltEventDeduplicator, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(webhookEventsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create webhook bucket: %w", err)
	}

	return &BoltEventDeduplicator{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the database file lock
func (d *BoltEventDeduplicator) Close() error {
	return d.db.Close()
}

// Seen stores the event id with its expiry. An expired entry counts as unseen
// and is overwritten.
func (d *BoltEventDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	seen := false
	now := d.now()

	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(webhookEventsBucket))

		if existing := b.Get([]byte(eventID)); len(existing) == 8 {
			expiresAt := time.Unix(0, int64(binary.BigEndian.Uint64(existing)))
			if now.Before(expiresAt) {
				seen = true
				return nil
			}
		}

		value := make([]byte, 8)
		binary.BigEndian.PutUint64(value, uint64(now.Add(d.ttl).UnixNano()))
		return b.Put([]byte(eventID), value)
	})
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	return seen, nil
}

func (d *BoltEventDeduplicator) Release(ctx context.Context, eventID string) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(webhookEventsBucket)).Delete([]byte(eventID))
	})
	if err != nil {
		return fmt.Errorf("failed to release webhook event: %w", err)
	}
	return nil
}

// MemoryEventDeduplicator keeps event ids in process memory
type MemoryEventDeduplicator struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryEventDeduplicator creates an in-memory deduplicator
func NewMemoryEventDeduplicator(ttl time.Duration) *MemoryEventDeduplicator {
	return &MemoryEventDeduplicator{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryEventDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if expiresAt, ok := d.seen[eventID]; ok && now.Before(expiresAt) {
		return true, nil
	}

	// Drop expired entries while the lock is held.
	for id, expiresAt := range d.seen {
		if !now.Before(expiresAt) {
			delete(d.seen, id)
		}
	}
	d.seen[eventID] = now.Add(d.ttl)
	return false, nil
}

func (d *MemoryEventDeduplicator) Release(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	return nil
}
