package checklist

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store
}

func TestCreate_ThenListReturnsOpenTask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "proj", "inst-a", "t1", "write tests", ""))

	tasks, err := store.List(ctx, "proj", "inst-a")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusOpen, tasks[0].Status)
	assert.Equal(t, "write tests", tasks[0].Subject)
}

func TestUpdate_UnknownTaskIsInsertedAnyway(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "proj", "inst-a", "t2", StatusInProgress))

	tasks, err := store.List(ctx, "proj", "inst-a")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusInProgress, tasks[0].Status)
}

func TestComplete_MarksExistingTaskDone(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "proj", "inst-a", "t3", "ship feature", "reviewer-bot"))
	require.NoError(t, store.Complete(ctx, "proj", "inst-a", "t3", "ship feature", "reviewer-bot"))

	tasks, err := store.List(ctx, "proj", "inst-a")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, StatusDone, tasks[0].Status)
	assert.Equal(t, "reviewer-bot", tasks[0].TeammateName)
}

func TestList_DoneTasksSortAfterOpenOnes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "proj", "inst-a", "t4", "a", ""))
	require.NoError(t, store.Complete(ctx, "proj", "inst-a", "t4", "a", ""))
	require.NoError(t, store.Create(ctx, "proj", "inst-a", "t5", "b", ""))

	tasks, err := store.List(ctx, "proj", "inst-a")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, StatusOpen, tasks[0].Status)
	assert.Equal(t, StatusDone, tasks[1].Status)
}

func TestList_ScopedToProjectAndInstance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "proj", "inst-a", "t6", "a", ""))
	require.NoError(t, store.Create(ctx, "proj", "inst-b", "t7", "b", ""))

	tasks, err := store.List(ctx, "proj", "inst-a")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t6", tasks[0].TaskID)
}
