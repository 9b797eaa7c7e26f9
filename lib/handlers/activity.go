package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dguik/discode/lib/pending"
)

// structuredPrefixes lists the tool-activity prefixes that get a richer,
// presentational rendering instead of the raw activity line. Order
// doesn't matter; HasPrefix
// is checked against every entry.
var structuredPrefixes = []string{
	"TASK_CREATE:", "TASK_UPDATE:", "GIT_COMMIT:", "GIT_PUSH:", "SUBAGENT_DONE:",
}

// HandleToolActivity handles tool.activity: cancel the
// lifecycle timer, ensure the start message and streaming session exist,
// then either hand off to a structured-prefix sub-handler or append the
// raw line to both the streaming session and the activity history.
func (b *Bundle) HandleToolActivity(ctx context.Context, env Envelope, snap pending.Entry) error {
	key := keyFor(env)
	entry := snap
	if !b.Pending.HasPending(key) {
		return nil
	}
	b.clearLifecycle(key)

	streamKey := streamKeyFor(key)
	if _, err := b.Pending.EnsureStartMessage(ctx, key, entry.PromptPreview); err != nil {
		b.Logger.Warn("handlers: tool.activity start message failed", "error", err)
	}
	// Deliberate live re-read for the lazily created start message id.
	entry, _ = b.Pending.GetPending(key)
	if !b.Streaming.Has(streamKey) && entry.StartMessageID != "" {
		b.Streaming.Start(streamKey, entry.ChannelID, entry.StartMessageID)
	}

	line := env.Text
	for _, prefix := range structuredPrefixes {
		if strings.HasPrefix(line, prefix) {
			return b.handleStructuredActivity(ctx, env, entry, prefix, strings.TrimPrefix(line, prefix))
		}
	}

	b.recordActivity(key, line)
	b.Streaming.AppendCumulative(ctx, streamKey, line)
	return nil
}

func (b *Bundle) handleStructuredActivity(ctx context.Context, env Envelope, entry pending.Entry, prefix, payload string) error {
	key := keyFor(env)
	streamKey := streamKeyFor(key)

	rendered, err := renderStructuredActivity(prefix, payload)
	if err != nil {
		b.Logger.Warn("handlers: structured activity parse failed", "prefix", prefix, "error", err)
		rendered = strings.TrimSuffix(prefix, ":") + ": " + payload
	}

	switch prefix {
	case "TASK_CREATE:":
		var p taskCreatePayload
		if json.Unmarshal([]byte(payload), &p) == nil && b.Checklist != nil {
			if err := b.Checklist.Create(ctx, env.ProjectName, env.InstanceID, p.TaskID, p.Subject, p.Teammate); err != nil {
				b.Logger.Warn("handlers: checklist create failed", "error", err)
			}
		}
	case "TASK_UPDATE:":
		var p taskUpdatePayload
		if json.Unmarshal([]byte(payload), &p) == nil && b.Checklist != nil {
			if err := b.Checklist.Update(ctx, env.ProjectName, env.InstanceID, p.TaskID, p.Status); err != nil {
				b.Logger.Warn("handlers: checklist update failed", "error", err)
			}
		}
	}

	b.recordActivity(key, rendered)
	b.Streaming.AppendCumulative(ctx, streamKey, rendered)
	return nil
}

type taskCreatePayload struct {
	TaskID   string `json:"taskId"`
	Subject  string `json:"subject"`
	Teammate string `json:"teammate"`
}

type taskUpdatePayload struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

type gitCommitPayload struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Stat    string `json:"stat"`
}

type gitPushPayload struct {
	Remote string `json:"remote"`
	Branch string `json:"branch"`
}

type subagentDonePayload struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// renderStructuredActivity turns a structured prefix's JSON payload into
// a presentational one-liner. These are purely cosmetic transforms of
// the underlying activity text.
func renderStructuredActivity(prefix, payload string) (string, error) {
	switch prefix {
	case "TASK_CREATE:":
		var p taskCreatePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return "", err
		}
		if p.Teammate != "" {
			return fmt.Sprintf("📋 [%s] New task: %s", p.Teammate, p.Subject), nil
		}
		return fmt.Sprintf("📋 New task: %s", p.Subject), nil
	case "TASK_UPDATE:":
		var p taskUpdatePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("📋 Task %s → %s", p.TaskID, p.Status), nil
	case "GIT_COMMIT:":
		var p gitCommitPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return "", err
		}
		hash := p.Hash
		if len(hash) > 7 {
			hash = hash[:7]
		}
		return fmt.Sprintf("📦 Commit `%s` %s (%s)", hash, p.Message, p.Stat), nil
	case "GIT_PUSH:":
		var p gitPushPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("🚀 Pushed %s to %s", p.Branch, p.Remote), nil
	case "SUBAGENT_DONE:":
		var p subagentDonePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return "", err
		}
		return fmt.Sprintf("🤖 [%s] done: %s", p.Name, p.Summary), nil
	default:
		return "", fmt.Errorf("handlers: unknown structured prefix %q", prefix)
	}
}
