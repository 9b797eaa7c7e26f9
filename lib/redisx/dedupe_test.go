package redisx

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL environment variable not set")
	}

	config := DefaultConfig()
	config.URL = redisURL
	client, err := New(config)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewDedupeCache_RejectsNilClient(t *testing.T) {
	_, err := NewDedupeCache(nil, DefaultDedupeConfig())
	assert.Error(t, err)
}

func TestDedupeCache_MarkIfNew(t *testing.T) {
	client := newTestClient(t)
	cache, err := NewDedupeCache(client, DefaultDedupeConfig())
	require.NoError(t, err)

	ctx := context.Background()
	defer cache.Forget(ctx, "ch1", "snapshot body")

	isNew, err := cache.MarkIfNew(ctx, "ch1", "snapshot body")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = cache.MarkIfNew(ctx, "ch1", "snapshot body")
	require.NoError(t, err)
	assert.False(t, isNew)

	// A different channel is a distinct fingerprint namespace.
	isNew, err = cache.MarkIfNew(ctx, "ch2", "snapshot body")
	require.NoError(t, err)
	assert.True(t, isNew)
	defer cache.Forget(ctx, "ch2", "snapshot body")
}

func TestDedupeCache_RejectsEmptyChannel(t *testing.T) {
	client := newTestClient(t)
	cache, err := NewDedupeCache(client, DefaultDedupeConfig())
	require.NoError(t, err)

	_, err = cache.MarkIfNew(context.Background(), "", "body")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}
