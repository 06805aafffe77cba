package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketCapacity(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, allowed, "first token")

	allowed, _, err = bucket.Allow(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, allowed, "second token")

	allowed, _, err = bucket.Allow(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, allowed, "bucket drained")

	// Note: refill cannot be tested with miniredis.FastForward() because the
	// Lua script takes its clock from Go, not from Redis.
}

func TestTokenBucketIsolatesOwners(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bucket := NewTokenBucket(client, 1, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = bucket.Allow(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	// A different owner has an untouched bucket.
	allowed, _, err = bucket.Allow(ctx, "owner-2")
	require.NoError(t, err)
	assert.True(t, allowed)
}
