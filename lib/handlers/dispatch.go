package handlers

import (
	"context"
	"fmt"

	"github.com/dguik/discode/lib/pending"
)

// Dispatch routes env to its handler by event type. The pipeline calls
// this from inside the per-channel FIFO closure; any error returned here
// is logged by the pipeline, never surfaced to the HTTP response. snap is
// the pending entry as it stood when the event was enqueued: handlers
// work from it so a newer MarkPending arriving while the event sat in the
// queue cannot overwrite their view mid-flight. They re-read the live
// entry only where they deliberately need current state (a concurrently
// created start message id).
func (b *Bundle) Dispatch(ctx context.Context, env Envelope, snap pending.Entry) error {
	switch env.Type {
	case "session.start":
		return b.HandleSessionStart(ctx, env, snap)
	case "session.end":
		return b.HandleSessionEnd(ctx, env, snap)
	case "session.error":
		return b.HandleSessionError(ctx, env, snap)
	case "session.notification":
		return b.HandleSessionNotification(ctx, env, snap)
	case "thinking.start":
		return b.HandleThinkingStart(ctx, env, snap)
	case "thinking.stop":
		return b.HandleThinkingStop(ctx, env, snap)
	case "tool.activity":
		return b.HandleToolActivity(ctx, env, snap)
	case "session.idle":
		return b.HandleSessionIdle(ctx, env, snap)
	case "prompt.submit":
		return b.HandlePromptSubmit(ctx, env, snap)
	case "permission.request":
		return b.HandlePermissionRequest(ctx, env, snap)
	case "tool.failure":
		return b.HandleToolFailure(ctx, env, snap)
	case "task.completed":
		return b.HandleTaskCompleted(ctx, env, snap)
	case "teammate.idle":
		return b.HandleTeammateIdle(ctx, env, snap)
	default:
		return fmt.Errorf("handlers: unrecognized event type %q", env.Type)
	}
}
