package handlers

import (
	"context"
	"fmt"

	"github.com/dguik/discode/lib/audit"
	"github.com/dguik/discode/lib/pending"
	"github.com/dguik/discode/lib/platform"
)

// buildFinalizeHeader builds the streaming message's closing header: a
// token/cost summary, or a waiting-for-input banner when the event
// carries interactive prompt choices.
func buildFinalizeHeader(usage *Usage, waiting bool) string {
	if waiting {
		return "❓ Waiting for input..."
	}
	if usage == nil {
		return "✅ Done"
	}
	tokens := usage.InputTokens + usage.OutputTokens
	return fmt.Sprintf("✅ Done · %d tokens · $%.2f", tokens, usage.TotalCostUSD)
}

// HandleSessionIdle handles session.idle: the densest
// handler, responsible for finalizing the turn's streaming message and
// fanning out every remaining piece of turn output in reading order.
func (b *Bundle) HandleSessionIdle(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}
	b.clearThinking(key)
	b.clearLifecycle(key)
	b.clearActivity(key)

	streamKey := streamKeyFor(key)
	waiting := len(env.PromptChoices) > 0

	if !b.Streaming.Has(streamKey) && (entry.PromptPreview != "" || env.TmuxInitiated) {
		if id, err := b.Pending.EnsureStartMessage(ctx, key, entry.PromptPreview); err != nil {
			b.Logger.Warn("handlers: session.idle start message failed", "error", err)
		} else if id != "" {
			b.Streaming.Start(streamKey, entry.ChannelID, id)
		}
	}

	header := buildFinalizeHeader(env.Usage, waiting)
	b.Streaming.Finalize(ctx, streamKey, header, "")

	b.Pending.MarkCompleted(ctx, key, waiting)

	// Fan out the turn's remaining output in reading order: intermediate
	// text first, then thinking, then the final answer.
	if env.IntermediateText != "" {
		if _, err := platform.SplitAndSend(ctx, b.Sender, entry.ChannelID, env.IntermediateText); err != nil {
			b.Logger.Warn("handlers: session.idle intermediate text post failed", "error", err)
		}
	}
	if env.Thinking != "" {
		if _, err := platform.SplitAndSend(ctx, b.Sender, entry.ChannelID, "🧠 "+env.Thinking); err != nil {
			b.Logger.Warn("handlers: session.idle thinking post failed", "error", err)
		}
	}

	responseText := env.TurnText
	if responseText == "" {
		responseText = env.Text
	}
	cleaned, paths := extractFilePaths(b.FS, responseText, env.ProjectPath)
	if cleaned != "" {
		if _, err := platform.SplitAndSend(ctx, b.Sender, entry.ChannelID, cleaned); err != nil {
			b.Logger.Warn("handlers: session.idle response text post failed", "error", err)
		}
	}

	attachments := append([]string{}, paths...)
	attachments = append(attachments, env.Files...)
	if len(attachments) > 0 {
		if err := b.Sender.SendFiles(ctx, entry.ChannelID, attachments); err != nil {
			b.Logger.Warn("handlers: session.idle attachment post failed", "error", err)
		}
	}

	if waiting {
		choices := formatPromptChoices(env.PromptChoices)
		if _, err := platform.SplitAndSend(ctx, b.Sender, entry.ChannelID, choices); err != nil {
			b.Logger.Warn("handlers: session.idle prompt choices post failed", "error", err)
		}
		if env.PlanFile != "" {
			if err := b.Sender.SendFiles(ctx, entry.ChannelID, []string{env.PlanFile}); err != nil {
				b.Logger.Warn("handlers: session.idle plan file post failed", "error", err)
			}
		}
	}

	recordAudit(ctx, b, audit.EventSessionIdle, env, audit.OutcomeOK, map[string]any{"waiting": waiting})
	return nil
}

func formatPromptChoices(choices []string) string {
	out := "❓ Choose an option:\n"
	for i, c := range choices {
		out += fmt.Sprintf("%d. %s\n", i+1, c)
	}
	return out
}

// HandlePromptSubmit handles prompt.submit: preview
// the prompt and lazily create the start message carrying it; if no
// start message can be created (e.g. the adapter has no echo surface),
// fall back to a plain text post.
func (b *Bundle) HandlePromptSubmit(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}

	preview := env.Text
	if preview == "" {
		preview = entry.PromptPreview
	}

	id, err := b.Pending.EnsureStartMessage(ctx, key, preview)
	if err != nil {
		b.Logger.Warn("handlers: prompt.submit start message failed", "error", err)
	}
	if id == "" {
		if _, err := b.Sender.SendMessage(ctx, entry.ChannelID, fmt.Sprintf("📝 Prompt: %s", preview)); err != nil {
			b.Logger.Warn("handlers: prompt.submit fallback post failed", "error", err)
		}
	}

	recordAudit(ctx, b, audit.EventPromptSubmit, env, audit.OutcomeOK, nil)
	return nil
}
