package inbound

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisDeduperClaimsOnce(t *testing.T) {
	client, mr := setupTestRedis(t)
	d := NewRedisDeduper(client, time.Hour)
	ctx := context.Background()

	first, err := d.Claim(ctx, "SM123")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.Claim(ctx, "SM123")
	require.NoError(t, err)
	assert.False(t, again)

	assert.True(t, mr.Exists(dedupeKeyPrefix+"SM123"))
	assert.Equal(t, time.Hour, mr.TTL(dedupeKeyPrefix+"SM123"))

	mr.FastForward(2 * time.Hour)
	expired, err := d.Claim(ctx, "SM123")
	require.NoError(t, err)
	assert.True(t, expired)
}

func TestRedisDeduperRelease(t *testing.T) {
	client, _ := setupTestRedis(t)
	d := NewRedisDeduper(client, time.Hour)
	ctx := context.Background()

	_, err := d.Claim(ctx, "SM1")
	require.NoError(t, err)
	require.NoError(t, d.Release(ctx, "SM1"))

	ok, err := d.Claim(ctx, "SM1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisDeduperEmptyKeyAlwaysClaims(t *testing.T) {
	client, _ := setupTestRedis(t)
	d := NewRedisDeduper(client, time.Hour)
	for i := 0; i < 2; i++ {
		ok, err := d.Claim(context.Background(), "")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestRedisDeduperReportsErrors(t *testing.T) {
	client, mr := setupTestRedis(t)
	d := NewRedisDeduper(client, time.Hour)
	mr.SetError("READONLY")

	_, err := d.Claim(context.Background(), "SM9")
	require.Error(t, err)
}

func TestMemoryDeduperExpires(t *testing.T) {
	d := NewMemoryDeduper(time.Minute)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := d.Claim(ctx, "a")
	assert.True(t, ok)
	ok, _ = d.Claim(ctx, "a")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = d.Claim(ctx, "a")
	assert.True(t, ok)

	require.NoError(t, d.Release(ctx, "a"))
	ok, _ = d.Claim(ctx, "a")
	assert.True(t, ok)
}
