package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/dguik/discode/lib/audit"
	"github.com/dguik/discode/lib/pending"
	"github.com/dguik/discode/lib/platform"
)

// HandleSessionStart handles session.start.
func (b *Bundle) HandleSessionStart(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		entry = *b.Pending.EnsurePending(ctx, key, snap.ChannelID)
	}
	b.Pending.SetHookActive(key)

	if env.Source != "startup" {
		text := fmt.Sprintf("Session started (%s, %s)", env.Source, env.Model)
		if _, err := b.Sender.SendMessage(ctx, entry.ChannelID, text); err != nil {
			b.Logger.Warn("handlers: session.start post failed", "error", err)
		}
	}

	b.armLifecycle(ctx, key, streamKeyFor(key))
	recordAudit(ctx, b, audit.EventSessionStart, env, audit.OutcomeOK, map[string]any{"source": env.Source, "model": env.Model})
	return nil
}

// HandleSessionEnd handles session.end.
func (b *Bundle) HandleSessionEnd(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}
	b.Pending.SetHookActive(key)

	text := fmt.Sprintf("Session ended (%s)", env.Reason)
	if _, err := b.Sender.SendMessage(ctx, entry.ChannelID, text); err != nil {
		b.Logger.Warn("handlers: session.end post failed", "error", err)
	}
	recordAudit(ctx, b, audit.EventSessionEnd, env, audit.OutcomeOK, map[string]any{"reason": env.Reason})
	return nil
}

// HandleSessionError handles session.error: it clears
// the thinking timer, discards the streaming session, marks the pending
// entry errored, and posts the last ActivityHistoryLimit activity lines
// for context.
func (b *Bundle) HandleSessionError(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}
	b.clearThinking(key)
	if b.Streaming != nil {
		b.Streaming.Discard(streamKeyFor(key))
	}

	history := b.activityHistory(key)
	b.clearActivity(key)

	text := fmt.Sprintf("⚠️ Error: %s", env.Error)
	if len(history) > 0 {
		text += "\n\nRecent activity:\n" + strings.Join(history, "\n")
	}
	if _, err := b.Sender.SendMessage(ctx, entry.ChannelID, text); err != nil {
		b.Logger.Warn("handlers: session.error post failed", "error", err)
	}

	b.Pending.MarkError(ctx, key)
	recordAudit(ctx, b, audit.EventSessionError, env, audit.OutcomeError, map[string]any{"error": env.Error})
	return nil
}

// notificationEmoji maps a session.notification's notificationType to its
// display glyph.
func notificationEmoji(notificationType string) string {
	switch notificationType {
	case "permission_prompt":
		return "🔐"
	case "idle_prompt":
		return "💤"
	case "auth_success":
		return "🔑"
	case "elicitation_dialog":
		return "❓"
	default:
		return "🔔"
	}
}

// HandleSessionNotification handles session.notification.
func (b *Bundle) HandleSessionNotification(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}

	emoji := notificationEmoji(env.NotificationType)
	if _, err := b.Sender.SendMessage(ctx, entry.ChannelID, emoji); err != nil {
		b.Logger.Warn("handlers: session.notification post failed", "error", err)
	}

	// Elicitation prompt text is deferred to the session.idle that follows
	// it, which delivers the interactive choices; posting it here too would
	// duplicate the prompt.
	if env.PromptText != "" && env.NotificationType != "elicitation_dialog" {
		if _, err := platform.SplitAndSend(ctx, b.Sender, entry.ChannelID, env.PromptText); err != nil {
			b.Logger.Warn("handlers: session.notification prompt post failed", "error", err)
		}
	}

	return nil
}
