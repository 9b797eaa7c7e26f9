// Package router implements the chat → agent ingress path: it resolves
// which terminal window or SDK runner a user's chat message belongs to,
// sanitizes it, and delivers it, with recovery guidance posted back to
// the channel when delivery fails.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dguik/discode/lib/bufferfallback"
	"github.com/dguik/discode/lib/config"
	"github.com/dguik/discode/lib/instance"
	"github.com/dguik/discode/lib/msgfmt"
	"github.com/dguik/discode/lib/pending"
	"github.com/dguik/discode/lib/platform"
	"github.com/dguik/discode/lib/runtime"
)

// MaxContentLength rejects a message longer than this.
const MaxContentLength = 10_000

// Attachment is one file the chat platform delivered alongside a message.
type Attachment struct {
	URL      string
	Filename string
}

// AttachmentProcessor turns a message's attachments into the marker
// string the Router appends to the agent-bound content. It is an
// external collaborator — downloading/inspecting the
// attachment is chat-platform specific and out of this package's scope.
type AttachmentProcessor interface {
	Process(ctx context.Context, attachments []Attachment) (marker string, err error)
}

// IncomingMessage is one chat message the Router must turn into agent
// input.
type IncomingMessage struct {
	ProjectName      string
	MappedInstanceID string
	ChannelID        string
	AgentType        string
	Content          string
	SourceMessageID  string
	Attachments      []Attachment
}

// Router is the dependency bundle for inbound-chat dispatch.
type Router struct {
	Instances  *instance.Registry
	Pending    *pending.Tracker
	Sender     platform.Sender
	Windows    *runtime.Registry
	Fallback   *bufferfallback.Fallback
	Attachment AttachmentProcessor
	Config     *config.Config
	Logger     *slog.Logger

	// Channels optionally overrides channel→instance resolution with an
	// operator-maintained forwarding table, consulted before the
	// registry's own channel index.
	Channels *platform.ChannelRouterTable
}

// New creates a Router. Attachment may be nil if the deployment never
// receives attachments (Process is only called when a message carries
// at least one).
func New(instances *instance.Registry, pend *pending.Tracker, sender platform.Sender, windows *runtime.Registry, fallback *bufferfallback.Fallback, attachment AttachmentProcessor, cfg *config.Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		Instances:  instances,
		Pending:    pend,
		Sender:     sender,
		Windows:    windows,
		Fallback:   fallback,
		Attachment: attachment,
		Config:     cfg,
		Logger:     logger,
	}
}

const helpText = "Send a message to your agent, or attach files for it to review. Type `help` any time to see this again."

// HandleMessage runs the full ingress sequence for one inbound chat
// message: resolve the instance, handle "help", process attachments,
// sanitize, register pending state, dispatch, schedule the fallback.
func (r *Router) HandleMessage(ctx context.Context, msg IncomingMessage) error {
	// 1. Resolve project and instance.
	inst, err := r.resolveInstance(msg)
	if err != nil {
		r.Logger.Warn("router: instance resolution failed", "project", msg.ProjectName, "error", err)
		r.warn(ctx, msg.ChannelID, "No active agent instance found for this channel.")
		return nil
	}

	// 2. Literal "help" command.
	if strings.TrimSpace(strings.ToLower(msg.Content)) == "help" {
		if _, err := r.Sender.SendMessage(ctx, msg.ChannelID, helpText); err != nil {
			r.Logger.Warn("router: help reply failed", "error", err)
		}
		return nil
	}

	content := msg.Content

	// 3. Attachments.
	if len(msg.Attachments) > 0 && r.Attachment != nil {
		marker, err := r.Attachment.Process(ctx, msg.Attachments)
		if err != nil {
			r.Logger.Warn("router: attachment processing failed", "error", err)
		} else if marker != "" {
			content = content + "\n" + marker
		}
	}

	// 4. Sanitize.
	content = strings.TrimSpace(content)
	if content == "" {
		r.warn(ctx, msg.ChannelID, "Message is empty after processing.")
		return nil
	}
	if len(content) > MaxContentLength {
		r.warn(ctx, msg.ChannelID, fmt.Sprintf("Message is too long (max %d characters).", MaxContentLength))
		return nil
	}
	if !utf8.ValidString(content) {
		r.warn(ctx, msg.ChannelID, "Message contains invalid characters.")
		return nil
	}

	// 5. Register pending state.
	key := pending.Key{
		ProjectName: inst.ProjectName,
		AgentType:   inst.AgentType.OrDefault().String(),
		InstanceKey: inst.InstanceKey(),
	}
	if msg.SourceMessageID != "" {
		r.Pending.MarkPending(ctx, key, msg.ChannelID, msg.SourceMessageID)
	} else {
		r.Pending.EnsurePending(ctx, key, msg.ChannelID)
	}
	r.Pending.SetPromptPreview(key, msg.Content)

	// 6. Dispatch.
	if inst.IsSDK() {
		r.dispatchSDK(ctx, inst, content)
	} else if err := r.dispatchTerminal(ctx, inst, key, content); err != nil {
		return nil
	}

	// 7. Schedule BufferFallback (terminal instances only — SDK runners
	// report back entirely through their own hook events).
	if !inst.IsSDK() && r.Fallback != nil {
		if win, ok := r.Windows.Get(inst.InstanceID); ok {
			r.Fallback.Schedule(ctx, win.ID, key, msg.ChannelID)
		}
	}

	// 8. Update project activity.
	inst.Touch()
	return nil
}

func (r *Router) resolveInstance(msg IncomingMessage) (*instance.ProjectInstance, error) {
	if msg.MappedInstanceID != "" {
		if inst, ok := r.Instances.Get(msg.ProjectName, msg.MappedInstanceID); ok {
			return inst, nil
		}
	}
	if r.Channels != nil && msg.ChannelID != "" {
		if route, ok := r.Channels.Resolve(msg.ChannelID); ok {
			if inst, ok := r.Instances.Get(route.ProjectName, route.InstanceID); ok {
				return inst, nil
			}
		}
	}
	if msg.ChannelID != "" {
		if inst, ok := r.Instances.ByChannel(msg.ChannelID); ok {
			return inst, nil
		}
	}
	if inst, ok := r.Instances.Primary(msg.ProjectName, msgfmt.AgentType(msg.AgentType)); ok {
		return inst, nil
	}
	return nil, fmt.Errorf("no instance for project %q", msg.ProjectName)
}

// dispatchSDK submits content fire-and-forget: the resulting turn is
// observed through hook events, not this call's return.
func (r *Router) dispatchSDK(ctx context.Context, inst *instance.ProjectInstance, content string) {
	runner := inst.SDKRunner
	go func() {
		if err := runner.SubmitMessage(ctx, content); err != nil {
			r.Logger.Error("router: SDK submit failed", "instance", inst.Key(), "error", err)
		}
	}()
}

// dispatchTerminal types content into the window, waits the agent-type's
// submit delay, then sends Enter. On a window-missing failure it marks
// the pending entry errored and gives recovery guidance differentiated
// from a general delivery failure.
func (r *Router) dispatchTerminal(ctx context.Context, inst *instance.ProjectInstance, key pending.Key, content string) error {
	win := inst.Window
	if win == nil {
		r.Pending.MarkError(ctx, key)
		r.warn(ctx, inst.ChannelID, "No terminal window is attached to this instance.")
		return runtime.ErrWindowMissing
	}

	if err := win.TypeKeys([]byte(content)); err != nil {
		return r.handleDeliveryFailure(ctx, inst, key, err)
	}

	delay := r.submitDelay(inst.AgentType.OrDefault().String())
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := win.SendEnter(); err != nil {
		return r.handleDeliveryFailure(ctx, inst, key, err)
	}
	return nil
}

func (r *Router) handleDeliveryFailure(ctx context.Context, inst *instance.ProjectInstance, key pending.Key, err error) error {
	r.Pending.MarkError(ctx, key)
	if err == runtime.ErrWindowMissing {
		r.warn(ctx, inst.ChannelID, "The agent's terminal window is no longer available. It may have exited; try restarting the instance.")
	} else {
		r.warn(ctx, inst.ChannelID, "Failed to deliver your message to the agent. Please try again.")
	}
	return err
}

func (r *Router) submitDelay(agentType string) time.Duration {
	if r.Config != nil {
		return r.Config.SubmitDelay(agentType)
	}
	if agentType == "opencode" {
		return 75 * time.Millisecond
	}
	return 300 * time.Millisecond
}

func (r *Router) warn(ctx context.Context, channelID, text string) {
	if _, err := r.Sender.SendMessage(ctx, channelID, "⚠️ "+text); err != nil {
		r.Logger.Warn("router: warning reply failed", "error", err)
	}
}
