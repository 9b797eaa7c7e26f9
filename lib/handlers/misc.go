package handlers

import (
	"context"
	"fmt"

	"github.com/dguik/discode/lib/audit"
	"github.com/dguik/discode/lib/pending"
)

// toolFailureInputLimit truncates a failed tool's input snippet so a
// large payload (a file write body, say) doesn't dominate the chat post.
const toolFailureInputLimit = 280

// HandlePermissionRequest handles permission.request.
func (b *Bundle) HandlePermissionRequest(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}
	text := fmt.Sprintf("🔐 Permission needed: %s — `%s`", env.ToolName, env.ToolInput)
	if _, err := b.Sender.SendMessage(ctx, entry.ChannelID, text); err != nil {
		b.Logger.Warn("handlers: permission.request post failed", "error", err)
	}
	recordAudit(ctx, b, audit.EventPermissionRequest, env, audit.OutcomeOK, map[string]any{"tool_name": env.ToolName})
	return nil
}

// HandleToolFailure handles tool.failure.
func (b *Bundle) HandleToolFailure(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}
	input := env.ToolInput
	if len(input) > toolFailureInputLimit {
		input = input[:toolFailureInputLimit] + "…"
	}
	text := fmt.Sprintf("⚠️ %s failed: %s\n`%s`", env.ToolName, env.Error, input)
	if _, err := b.Sender.SendMessage(ctx, entry.ChannelID, text); err != nil {
		b.Logger.Warn("handlers: tool.failure post failed", "error", err)
	}
	recordAudit(ctx, b, audit.EventToolFailure, env, audit.OutcomeError, map[string]any{"tool_name": env.ToolName, "error": env.Error})
	return nil
}

// HandleTaskCompleted handles task.completed: post the
// completion, prefixed with the teammate name when present, and mark the
// task done in the per-instance checklist.
func (b *Bundle) HandleTaskCompleted(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}

	text := fmt.Sprintf("✅ Task completed: %s", env.Subject)
	if env.TeammateName != "" {
		text = fmt.Sprintf("✅ [%s] Task completed: %s", env.TeammateName, env.Subject)
	}
	if _, err := b.Sender.SendMessage(ctx, entry.ChannelID, text); err != nil {
		b.Logger.Warn("handlers: task.completed post failed", "error", err)
	}

	if b.Checklist != nil {
		taskID := env.TaskID
		if taskID == "" {
			taskID = env.Subject
		}
		if err := b.Checklist.Complete(ctx, env.ProjectName, env.InstanceID, taskID, env.Subject, env.TeammateName); err != nil {
			b.Logger.Warn("handlers: checklist complete failed", "error", err)
		}
	}

	recordAudit(ctx, b, audit.EventTaskCompleted, env, audit.OutcomeOK, map[string]any{"subject": env.Subject, "teammate": env.TeammateName})
	return nil
}

// HandleTeammateIdle handles teammate.idle.
func (b *Bundle) HandleTeammateIdle(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}
	text := fmt.Sprintf("💤 [%s] idle (team)", env.TeammateName)
	if _, err := b.Sender.SendMessage(ctx, entry.ChannelID, text); err != nil {
		b.Logger.Warn("handlers: teammate.idle post failed", "error", err)
	}
	recordAudit(ctx, b, audit.EventTeammateIdle, env, audit.OutcomeOK, map[string]any{"teammate": env.TeammateName})
	return nil
}
