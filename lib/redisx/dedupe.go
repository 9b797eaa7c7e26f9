package redisx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidChannel is returned when a dedupe operation is given an empty
// channel ID.
var ErrInvalidChannel = errors.New("redisx: channel id is required")

// DedupeConfig configures a DedupeCache.
type DedupeConfig struct {
	// KeyPrefix namespaces keys in shared Redis instances (default "dedupe:").
	KeyPrefix string

	// TTL is how long a delivered snapshot's fingerprint is remembered.
	// A fallback message whose content hash is still within the window is
	// treated as already delivered and skipped.
	TTL time.Duration
}

// DefaultDedupeConfig returns sensible defaults.
func DefaultDedupeConfig() DedupeConfig {
	return DedupeConfig{
		KeyPrefix: "dedupe:",
		TTL:       5 * time.Minute,
	}
}

// DedupeCache remembers which buffer-fallback snapshots have already been
// delivered to a channel, so a flapping connection that retries the same
// poll doesn't double-post. It reuses the client's best-effort SETNX: a
// race here produces at most one duplicate post, never lost data, so the
// REST fallback's non-atomic approximation is an acceptable tradeoff.
type DedupeCache struct {
	client *Client
	config DedupeConfig
}

// NewDedupeCache creates a DedupeCache backed by client.
func NewDedupeCache(client *Client, config DedupeConfig) (*DedupeCache, error) {
	if client == nil {
		return nil, errors.New("redisx: client cannot be nil")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "dedupe:"
	}
	if config.TTL == 0 {
		config.TTL = 5 * time.Minute
	}
	return &DedupeCache{client: client, config: config}, nil
}

// MarkIfNew fingerprints content for channelID and reports whether this is
// the first time it has been seen within the TTL window. A false return
// means the caller should skip delivery.
func (d *DedupeCache) MarkIfNew(ctx context.Context, channelID, content string) (bool, error) {
	if channelID == "" {
		return false, ErrInvalidChannel
	}

	key := d.buildKey(channelID, content)
	isNew, err := d.client.SetNX(ctx, key, "1", d.config.TTL)
	if err != nil {
		return false, fmt.Errorf("failed to mark snapshot: %w", err)
	}
	return isNew, nil
}

// Forget clears a previously marked fingerprint, letting the same content
// be delivered again (used when an operator forces a re-send).
func (d *DedupeCache) Forget(ctx context.Context, channelID, content string) error {
	if channelID == "" {
		return ErrInvalidChannel
	}
	return d.client.Delete(ctx, d.buildKey(channelID, content))
}

func (d *DedupeCache) buildKey(channelID, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s%s:%s", d.config.KeyPrefix, channelID, hex.EncodeToString(sum[:])[:16])
}
