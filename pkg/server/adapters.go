package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dguik/discode/lib/hookpipe"
	"github.com/dguik/discode/lib/pending"
	"github.com/dguik/discode/lib/platform"
	"github.com/dguik/discode/lib/runtime"
)

// pendingReactor bridges pending.Reactor to a platform.Sender: both
// ReactionState and Reaction are string-based glyph types, so the only
// work here is the conversion.
type pendingReactor struct {
	sender platform.Sender
}

func (r pendingReactor) SetReaction(ctx context.Context, channelID, messageID string, glyph pending.ReactionState) error {
	return r.sender.SetReaction(ctx, channelID, messageID, platform.Reaction(glyph))
}

// startMessenger bridges pending.StartMessenger to a platform.Sender,
// echoing the first line of the prompt back to the channel so the
// pending reaction has a message to attach to.
type startMessenger struct {
	sender platform.Sender
}

func (m startMessenger) PostStartMessage(ctx context.Context, channelID, promptPreview string) (string, error) {
	return m.sender.SendMessage(ctx, channelID, "> "+promptPreview)
}

// windowScreenSource bridges bufferfallback.ScreenSource to the window
// registry, synthesizing the error half runtime.Window.Buffer doesn't
// return: a missing window is reported as an error so the fallback probe
// aborts cleanly instead of looping on empty text.
type windowScreenSource struct {
	windows *runtime.Registry
}

func (s windowScreenSource) ReadScreen(windowID string) (string, error) {
	win, ok := s.windows.Get(windowID)
	if !ok {
		return "", fmt.Errorf("window %s not found", windowID)
	}
	return win.Buffer(), nil
}

// chatDeliverer bridges bufferfallback.Deliverer to a platform.Sender;
// the fenced text is already code-fenced by the caller, so this is a
// direct post.
type chatDeliverer struct {
	sender platform.Sender
}

func (d chatDeliverer) PostFenced(ctx context.Context, channelID, text string) error {
	_, err := d.sender.SendMessage(ctx, channelID, text)
	return err
}

// dispatchClock stamps the dispatch start time into the hook context's
// shared metadata so slowDispatchHook can measure the full handler run.
type dispatchClock struct{}

func (dispatchClock) Position() hookpipe.Position { return hookpipe.BeforeDispatch }
func (dispatchClock) Priority() int               { return 0 }

func (dispatchClock) Execute(ctx context.Context, hctx *hookpipe.Context) (hookpipe.Action, error) {
	hctx.Metadata["dispatch_started"] = time.Now()
	return hookpipe.Continue, nil
}

// slowDispatchHook warns when a handler held its channel's FIFO long
// enough to visibly delay the events queued behind it.
type slowDispatchHook struct {
	threshold time.Duration
	logger    *slog.Logger
}

func (slowDispatchHook) Position() hookpipe.Position { return hookpipe.AfterDispatch }
func (slowDispatchHook) Priority() int               { return 100 }

func (h slowDispatchHook) Execute(ctx context.Context, hctx *hookpipe.Context) (hookpipe.Action, error) {
	started, ok := hctx.Metadata["dispatch_started"].(time.Time)
	if !ok {
		return hookpipe.Continue, nil
	}
	if elapsed := time.Since(started); elapsed > h.threshold {
		h.logger.Warn("slow hook dispatch held up its channel queue",
			"event_type", hctx.EventType,
			"project", hctx.ProjectName,
			"channel_id", hctx.ChannelID,
			"elapsed", elapsed,
		)
	}
	return hookpipe.Continue, nil
}
