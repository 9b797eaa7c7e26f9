package hookpipe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHook struct {
	pos      Position
	priority int
	action   Action
	err      error
	calls    *[]string
	name     string
}

func (h recordingHook) Position() Position { return h.pos }
func (h recordingHook) Priority() int      { return h.priority }
func (h recordingHook) Execute(ctx context.Context, hctx *Context) (Action, error) {
	*h.calls = append(*h.calls, h.name)
	return h.action, h.err
}

func TestChain_RunsBeforeDispatchInPriorityOrder(t *testing.T) {
	chain := NewChain()
	var calls []string

	chain.Register(recordingHook{pos: BeforeDispatch, priority: 10, action: Continue, calls: &calls, name: "second"})
	chain.Register(recordingHook{pos: BeforeDispatch, priority: 1, action: Continue, calls: &calls, name: "first"})

	action, err := chain.RunBeforeDispatch(context.Background(), &Context{EventType: "session.idle"})
	require.NoError(t, err)
	assert.Equal(t, Continue, action)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestChain_BeforeDispatchStopsOnDrop(t *testing.T) {
	chain := NewChain()
	var calls []string

	chain.Register(recordingHook{pos: BeforeDispatch, priority: 1, action: Drop, calls: &calls, name: "dropper"})
	chain.Register(recordingHook{pos: BeforeDispatch, priority: 2, action: Continue, calls: &calls, name: "never-runs"})

	action, err := chain.RunBeforeDispatch(context.Background(), &Context{})
	require.NoError(t, err)
	assert.Equal(t, Drop, action)
	assert.Equal(t, []string{"dropper"}, calls)
}

func TestChain_BeforeDispatchStopsOnError(t *testing.T) {
	chain := NewChain()
	var calls []string
	boom := errors.New("boom")

	chain.Register(recordingHook{pos: BeforeDispatch, priority: 1, action: Continue, err: boom, calls: &calls, name: "failer"})
	chain.Register(recordingHook{pos: BeforeDispatch, priority: 2, action: Continue, calls: &calls, name: "never-runs"})

	_, err := chain.RunBeforeDispatch(context.Background(), &Context{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"failer"}, calls)
}

func TestChain_AfterDispatchSwallowsErrors(t *testing.T) {
	chain := NewChain()
	var calls []string

	chain.Register(recordingHook{pos: AfterDispatch, priority: 1, action: Continue, err: errors.New("boom"), calls: &calls, name: "a"})
	chain.Register(recordingHook{pos: AfterDispatch, priority: 2, action: Continue, calls: &calls, name: "b"})

	assert.NotPanics(t, func() {
		chain.RunAfterDispatch(context.Background(), &Context{EventType: "tool.activity"})
	})
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestChain_EmptyChainIsNoop(t *testing.T) {
	chain := NewChain()
	action, err := chain.RunBeforeDispatch(context.Background(), &Context{})
	require.NoError(t, err)
	assert.Equal(t, Continue, action)

	chain.RunAfterDispatch(context.Background(), &Context{})
}
