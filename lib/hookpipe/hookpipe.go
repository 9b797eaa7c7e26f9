// Package hookpipe provides the extension-point interface for observers of
// EventPipeline's dispatch algorithm — audit sinks, metrics, and operator
// tooling all attach here instead of being hard-wired into the dispatch
// loop itself.
package hookpipe

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Position identifies where in the dispatch algorithm a hook executes.
type Position string

const (
	// BeforeDispatch runs once the event's turn comes up on its channel
	// FIFO, before the handler itself executes. Hooks here can drop the
	// event.
	BeforeDispatch Position = "before_dispatch"

	// AfterDispatch runs once the enqueued handler closure has settled,
	// whether it succeeded or returned an error. Hooks here are
	// fire-and-forget: their own errors are logged, never propagated.
	AfterDispatch Position = "after_dispatch"
)

// Action signals the pipeline what to do after a hook executes.
type Action int

const (
	// Continue tells the pipeline to proceed normally.
	Continue Action = iota

	// Drop tells the pipeline to stop processing this event. Only
	// meaningful for BeforeDispatch hooks.
	Drop
)

// Context carries the data available to a hook at either position.
type Context struct {
	Position Position

	EventType   string
	ProjectName string
	InstanceKey string
	ChannelID   string

	// HandlerErr is non-nil on AfterDispatch when the handler closure
	// returned an error.
	HandlerErr error

	// Metadata is shared across both positions of one dispatch, letting a
	// BeforeDispatch hook pass data forward to the matching AfterDispatch
	// call.
	Metadata map[string]any

	Logger *slog.Logger
}

// Hook is the extension point interface for pipeline interception.
type Hook interface {
	// Position returns where this hook should execute.
	Position() Position

	// Priority determines execution order within a position. Lower values
	// run first.
	Priority() int

	// Execute runs the hook. The returned Action tells the pipeline how
	// to proceed; it is ignored for AfterDispatch hooks.
	Execute(ctx context.Context, hctx *Context) (Action, error)
}

// Chain runs every registered Hook for a Position in priority order.
type Chain struct {
	mu    sync.RWMutex
	hooks map[Position][]Hook
}

// NewChain creates an empty Chain.
func NewChain() *Chain {
	return &Chain{hooks: make(map[Position][]Hook)}
}

// Register adds h to the chain, keeping hooks for each position sorted by
// priority.
func (c *Chain) Register(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := h.Position()
	c.hooks[pos] = append(c.hooks[pos], h)
	sort.SliceStable(c.hooks[pos], func(i, j int) bool {
		return c.hooks[pos][i].Priority() < c.hooks[pos][j].Priority()
	})
}

// RunBeforeDispatch runs every BeforeDispatch hook in order, stopping early
// if one returns Drop or an error.
func (c *Chain) RunBeforeDispatch(ctx context.Context, hctx *Context) (Action, error) {
	hctx.Position = BeforeDispatch
	return c.run(ctx, BeforeDispatch, hctx)
}

// RunAfterDispatch runs every AfterDispatch hook. Each hook's error is
// logged and swallowed — AfterDispatch hooks never affect the already-sent
// HTTP response.
func (c *Chain) RunAfterDispatch(ctx context.Context, hctx *Context) {
	hctx.Position = AfterDispatch
	for _, h := range c.snapshot(AfterDispatch) {
		if _, err := h.Execute(ctx, hctx); err != nil && hctx.Logger != nil {
			hctx.Logger.Error("hookpipe: after-dispatch hook failed",
				"event_type", hctx.EventType, "error", err)
		}
	}
}

func (c *Chain) run(ctx context.Context, pos Position, hctx *Context) (Action, error) {
	for _, h := range c.snapshot(pos) {
		action, err := h.Execute(ctx, hctx)
		if err != nil {
			return action, err
		}
		if action == Drop {
			return Drop, nil
		}
	}
	return Continue, nil
}

func (c *Chain) snapshot(pos Position) []Hook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Hook, len(c.hooks[pos]))
	copy(out, c.hooks[pos])
	return out
}
