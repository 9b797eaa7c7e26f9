// Package pending tracks in-flight user requests: the single
// source of truth for "is an agent turn active for this (project, agent,
// instance)", and the component that drives reaction-glyph transitions on
// the originating chat message.
package pending

import (
	"context"
	"sync"

	"github.com/dguik/discode/lib/logctx"
)

// Reactor sets a reaction glyph on a chat message. Calls are expected to be
// best-effort: PendingTracker never blocks on, or propagates failures
// from, a Reactor call — reactions must never block the caller's
// control flow.
type Reactor interface {
	SetReaction(ctx context.Context, channelID, messageID string, glyph ReactionState) error
}

// StartMessenger posts the "prompt echo" message lazily created by
// ensureStartMessage.
type StartMessenger interface {
	PostStartMessage(ctx context.Context, channelID, promptPreview string) (messageID string, err error)
}

// Tracker is PendingTracker: at most one live Entry per Key, with
// best-effort reaction side effects.
type Tracker struct {
	mu      sync.RWMutex
	entries map[Key]*Entry

	reactor  Reactor
	messages StartMessenger

	policy ReplacePolicy
}

func New(reactor Reactor, messages StartMessenger) *Tracker {
	return &Tracker{
		entries:  make(map[Key]*Entry),
		reactor:  reactor,
		messages: messages,
		policy:   ReplacePolicyAbandonPrior,
	}
}

// fireReaction runs the reaction call detached from the caller, logging
// (never propagating) a failure. A failed reaction must not mark the
// request errored.
func (t *Tracker) fireReaction(ctx context.Context, channelID, messageID string, glyph ReactionState) {
	if t.reactor == nil || messageID == "" {
		return
	}
	logger := logctx.From(ctx)
	go func() {
		if err := t.reactor.SetReaction(ctx, channelID, messageID, glyph); err != nil {
			logger.Warn("reaction update failed",
				"channel_id", channelID, "message_id", messageID, "glyph", string(glyph), "error", err)
		}
	}()
}

// MarkPending creates or replaces the Entry for key. Per ReplacePolicyAbandonPrior,
// a previously existing entry's reaction is left as-is: the prior turn is
// treated as abandoned, not cleaned up. Accepted race.
func (t *Tracker) MarkPending(ctx context.Context, key Key, channelID, sourceMessageID string) *Entry {
	entry := &Entry{
		Key:             key,
		ChannelID:       channelID,
		SourceMessageID: sourceMessageID,
		ReactionState:   ReactionPending,
	}

	t.mu.Lock()
	t.entries[key] = entry
	t.mu.Unlock()

	t.fireReaction(ctx, channelID, sourceMessageID, ReactionPending)
	return entry
}

// EnsurePending idempotently creates an Entry with no source message if
// one does not already exist, for hooks that arrive before (or without)
// a corresponding chat message.
func (t *Tracker) EnsurePending(ctx context.Context, key Key, channelID string) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[key]; ok {
		return existing
	}
	entry := &Entry{
		Key:           key,
		ChannelID:     channelID,
		ReactionState: ReactionPending,
	}
	t.entries[key] = entry
	return entry
}

// HasPending reports whether a live Entry exists for key.
func (t *Tracker) HasPending(key Key) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[key]
	return ok
}

// GetPending returns a value-copy snapshot of the live Entry for key, or
// false if none exists. Callers must not attempt to mutate shared state
// through the returned value; it is a copy taken at call time.
func (t *Tracker) GetPending(key Key) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// EnsureStartMessage lazily posts the "prompt echo" message for key and
// stores its id on the live entry, returning the (possibly pre-existing)
// message id. It is idempotent: a second call for the same entry is a
// no-op that returns the previously stored id.
func (t *Tracker) EnsureStartMessage(ctx context.Context, key Key, promptPreview string) (string, error) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok {
		t.mu.Unlock()
		return "", nil
	}
	if entry.StartMessageID != "" {
		id := entry.StartMessageID
		t.mu.Unlock()
		return id, nil
	}
	channelID := entry.ChannelID
	t.mu.Unlock()

	if t.messages == nil {
		return "", nil
	}
	messageID, err := t.messages.PostStartMessage(ctx, channelID, promptPreview)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	if entry, ok := t.entries[key]; ok && entry.StartMessageID == "" {
		entry.StartMessageID = messageID
	}
	t.mu.Unlock()

	return messageID, nil
}

// SetHookActive marks that hook events have begun flowing for key, read
// by BufferFallback to suppress itself.
func (t *Tracker) SetHookActive(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[key]; ok {
		entry.HookActive = true
	}
}

// SetPromptPreview stores raw prompt text on the live entry for later use
// by EnsureStartMessage.
func (t *Tracker) SetPromptPreview(key Key, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[key]; ok {
		entry.PromptPreview = text
	}
}

// MarkCompleted transitions the source message's reaction to ✅ (or ❓ when
// waiting carries true, for the idle-with-prompt case) and deletes the
// entry.
func (t *Tracker) MarkCompleted(ctx context.Context, key Key, waiting bool) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	glyph := ReactionCompleted
	if waiting {
		glyph = ReactionWaiting
	}
	t.fireReaction(ctx, entry.ChannelID, entry.SourceMessageID, glyph)
}

// MarkError transitions the source message's reaction to ❌ and deletes
// the entry.
func (t *Tracker) MarkError(ctx context.Context, key Key) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	t.fireReaction(ctx, entry.ChannelID, entry.SourceMessageID, ReactionError)
}

// SetReactionState updates the in-memory reaction tracking (not the
// platform call) for intermediate transitions like 🧠 on thinking.start,
// without completing or erroring the entry.
func (t *Tracker) SetReactionState(ctx context.Context, key Key, glyph ReactionState) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if ok {
		entry.ReactionState = glyph
	}
	t.mu.Unlock()
	if ok {
		t.fireReaction(ctx, entry.ChannelID, entry.SourceMessageID, glyph)
	}
}
