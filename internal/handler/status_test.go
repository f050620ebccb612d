package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_Status_NeverIndexed(t *testing.T) {
	e := newEnv(t, t.TempDir())
	h := e.handler(t)

	st, err := h.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, e.project.ID, st.ProjectID)
	assert.Equal(t, "usable", st.State)
	assert.Zero(t, st.IndexedFiles)
	assert.False(t, st.IndexCurrent)
	assert.True(t, st.LastIndexed.IsZero())
	assert.Nil(t, st.Progress)
}

func TestHandler_Status_AfterFullBuild(t *testing.T) {
	// Given: a fully built project with one pending edit
	dir := t.TempDir()
	paths := writeFiles(t, dir, 3)
	e := newEnv(t, dir)
	h := e.handler(t)
	require.NoError(t, h.Startup(context.Background()))
	require.NoError(t, e.dumb.WaitForSmartMode(context.Background(), e.project))
	e.waitIdle(t)
	e.tracker.MarkDirty(e.project.ID, paths[0])

	// When
	st, err := h.Status(context.Background())

	// Then
	require.NoError(t, err)
	assert.Equal(t, 3, st.IndexedFiles)
	assert.Equal(t, 1, st.PendingDirty)
	assert.True(t, st.IndexCurrent)
	assert.False(t, st.Incomplete)
	assert.False(t, st.LastIndexed.IsZero())
	assert.Positive(t, st.StoreSize)
	assert.Zero(t, st.QueuedTasks)
}

func TestReadStatus_WithoutHandler(t *testing.T) {
	// Given: a project whose store was never written
	e := newEnv(t, t.TempDir())

	// When: reading status from the store alone
	st, err := ReadStatus(context.Background(), e.project, Deps{
		Store:   e.store,
		Tracker: e.tracker,
		Dumb:    e.dumb,
	})

	// Then
	require.NoError(t, err)
	assert.Equal(t, e.project.Name, st.ProjectName)
	assert.Equal(t, "usable", st.State)
	assert.Zero(t, st.PendingDirty)
}
