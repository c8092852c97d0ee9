package services

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func testDeduplicator(t *testing.T, d EventDeduplicator) {
	t.Helper()
	ctx := context.Background()

	seen, err := d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen, "first delivery")

	seen, err = d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen, "redelivery")

	seen, err = d.Seen(ctx, "evt-2")
	require.NoError(t, err)
	assert.False(t, seen, "other event")

	require.NoError(t, d.Release(ctx, "evt-1"))
	seen, err = d.Seen(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen, "released event is processed again")
}

func TestMemoryEventDeduplicator(t *testing.T) {
	testDeduplicator(t, NewMemoryEventDeduplicator(time.Hour))
}

func TestMemoryEventDeduplicator_Expiry(t *testing.T) {
	d := NewMemoryEventDeduplicator(time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	seen, _ := d.Seen(context.Background(), "evt-1")
	assert.False(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = d.Seen(context.Background(), "evt-1")
	assert.False(t, seen, "expired entry counts as unseen")
}

func TestBoltEventDeduplicator(t *testing.T) {
	d, err := NewBoltEventDeduplicator(filepath.Join(t.TempDir(), "webhooks.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	testDeduplicator(t, d)

	now := time.Now().Add(2 * time.Hour)
	d.now = func() time.Time { return now }
	seen, err := d.Seen(context.Background(), "evt-2")
	require.NoError(t, err)
	assert.False(t, seen, "expired entry counts as unseen")
}

func TestBoltEventDeduplicator_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.db")

	d, err := NewBoltEventDeduplicator(path, time.Hour)
	require.NoError(t, err)
	_, err = d.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	require.NoError(t, d.Close())

	reopened, err := NewBoltEventDeduplicator(path, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	seen, err := reopened.Seen(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRedisEventDeduplicator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)

	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })

	testDeduplicator(t, NewRedisEventDeduplicator(rdb, time.Hour))

	ttl, err := rdb.TTL(ctx, "webhook:event:evt-2").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
