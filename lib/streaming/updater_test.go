package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEditor struct {
	mu    sync.Mutex
	edits []string
}

func (f *fakeEditor) EditMessage(_ context.Context, _, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeEditor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

func (f *fakeEditor) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return ""
	}
	return f.edits[len(f.edits)-1]
}

func testKey() Key { return Key{ProjectName: "p", InstanceKey: "i1"} }

func TestStart_CreatesSession(t *testing.T) {
	u := New(&fakeEditor{}, 50*time.Millisecond)
	key := testKey()
	u.Start(key, "ch1", "msg1")
	assert.True(t, u.Has(key))
}

func TestAppend_DebouncesRapidFireIntoOneEdit(t *testing.T) {
	editor := &fakeEditor{}
	u := New(editor, 100*time.Millisecond)
	key := testKey()
	u.Start(key, "ch1", "msg1")

	ctx := context.Background()
	u.Append(ctx, key, "Step A")
	time.Sleep(20 * time.Millisecond)
	u.Append(ctx, key, "Step B")
	time.Sleep(20 * time.Millisecond)
	u.Append(ctx, key, "Step C")

	require.Eventually(t, func() bool { return editor.count() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "Step C", editor.last())
}

func TestAppendCumulative_JoinsHistory(t *testing.T) {
	editor := &fakeEditor{}
	u := New(editor, 30*time.Millisecond)
	key := testKey()
	u.Start(key, "ch1", "msg1")

	ctx := context.Background()
	u.AppendCumulative(ctx, key, "line 1")
	u.AppendCumulative(ctx, key, "line 2")

	require.Eventually(t, func() bool { return editor.count() >= 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "line 1\nline 2", editor.last())
}

func TestFinalize_ClosesSessionAndPrefixesHeader(t *testing.T) {
	editor := &fakeEditor{}
	u := New(editor, 500*time.Millisecond)
	key := testKey()
	u.Start(key, "ch1", "msg1")

	ctx := context.Background()
	u.AppendCumulative(ctx, key, "result text")
	u.Finalize(ctx, key, "", "")

	assert.False(t, u.Has(key))
	require.Equal(t, 1, editor.count())
	assert.Contains(t, editor.last(), DefaultHeader)
	assert.Contains(t, editor.last(), "result text")
}

func TestDiscard_ClosesWithoutFlushing(t *testing.T) {
	editor := &fakeEditor{}
	u := New(editor, 500*time.Millisecond)
	key := testKey()
	u.Start(key, "ch1", "msg1")

	u.AppendCumulative(context.Background(), key, "never sent")
	u.Discard(key)

	assert.False(t, u.Has(key))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, editor.count())
}
