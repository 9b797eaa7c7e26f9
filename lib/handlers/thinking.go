package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/dguik/discode/lib/pending"
)

// HandleThinkingStart handles thinking.start: it
// cancels the session-lifecycle timer (tool activity has begun), ensures
// the start message and streaming session exist, adds the 🧠 reaction,
// and arms the periodic "Thinking…" timer.
func (b *Bundle) HandleThinkingStart(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}
	b.clearLifecycle(key)

	streamKey := streamKeyFor(key)
	if _, err := b.Pending.EnsureStartMessage(ctx, key, entry.PromptPreview); err != nil {
		b.Logger.Warn("handlers: thinking.start start message failed", "error", err)
	}
	// Deliberate live re-read: a concurrent handler may have created the
	// start message after our snapshot was taken.
	entry, _ = b.Pending.GetPending(key)
	if !b.Streaming.Has(streamKey) && entry.StartMessageID != "" {
		b.Streaming.Start(streamKey, entry.ChannelID, entry.StartMessageID)
	}

	b.Pending.SetReactionState(ctx, key, "🧠")

	started := time.Now()
	b.setThinkingStart(key, started)
	b.armThinking(ctx, key, streamKey, started)
	return nil
}

// HandleThinkingStop handles thinking.stop: if the
// thinking phase ran at least ThinkingTickMin, append a final "Thought
// for Ns" line; either way clear the timer and replace the 🧠 reaction
// with ✅.
func (b *Bundle) HandleThinkingStop(ctx context.Context, env Envelope, _ pending.Entry) error {
	key := keyFor(env)
	if !b.Pending.HasPending(key) {
		return nil
	}
	b.clearThinking(key)

	if started, ok := b.popThinkingStart(key); ok {
		elapsed := time.Since(started)
		if elapsed >= ThinkingTickMin {
			b.Streaming.AppendCumulative(ctx, streamKeyFor(key), fmt.Sprintf("🧠 Thought for %ds", int(elapsed.Seconds())))
		}
	}

	b.Pending.SetReactionState(ctx, key, "✅")
	return nil
}
