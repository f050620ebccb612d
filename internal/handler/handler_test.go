package handler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/changes"
	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/dumb"
	"github.com/Aman-CERP/amanidx/internal/fileset"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/provider"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/vfs"
)

// fakeProvider records indexed and removed paths.
type fakeProvider struct {
	mu      sync.Mutex
	indexed map[string]int
	removed []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{indexed: make(map[string]int)}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Index(_ context.Context, in provider.Input) (provider.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed[in.Path]++
	return provider.Result{Items: 1, Applicable: true}, nil
}

func (f *fakeProvider) Remove(_ context.Context, _ string, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, paths...)
	return nil
}

func (f *fakeProvider) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indexed[path]
}

func (f *fakeProvider) removedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type env struct {
	cfg      *config.Config
	manager  *project.Manager
	project  *project.Project
	store    *store.Store
	tracker  *changes.Tracker
	dumb     *dumb.Service
	registry *fileset.Registry
	provider *fakeProvider
}

// newEnv opens a project over dir with its own store.
func newEnv(t *testing.T, dir string) *env {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Indexing.Threads = 2
	m := project.NewManager()
	p, err := m.Open(dir, cfg)
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(p.DataDir, store.DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := dumb.NewService()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.CloseAll(ctx)
	})

	return &env{
		cfg:      cfg,
		manager:  m,
		project:  p,
		store:    st,
		tracker:  changes.NewTracker(st),
		dumb:     svc,
		registry: fileset.NewRegistry(),
		provider: newFakeProvider(),
	}
}

func (e *env) handler(t *testing.T) *Handler {
	t.Helper()
	h, err := New(e.project, Deps{
		Config:    e.cfg,
		Store:     e.store,
		Tracker:   e.tracker,
		Providers: provider.Set{e.provider},
		Dumb:      e.dumb,
		Registry:  e.registry,
		Manager:   e.manager,
	})
	require.NoError(t, err)
	return h
}

// waitIdle waits until the project has no queued or running task.
func (e *env) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, _, running := e.dumb.Progress(e.project)
		return !running && e.dumb.Pending(e.project) == 0
	}, 10*time.Second, 5*time.Millisecond)
}

func writeFiles(t *testing.T, dir string, n int) []string {
	t.Helper()
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		paths[i] = filepath.Join(dir, fmt.Sprintf("f%02d.go", i))
		require.NoError(t, os.WriteFile(paths[i], []byte(fmt.Sprintf("package p // %d\n", i)), 0o644))
	}
	return paths
}

func TestNew_RequiresCollaborators(t *testing.T) {
	e := newEnv(t, t.TempDir())
	_, err := New(e.project, Deps{Config: e.cfg})
	assert.Error(t, err)
}

func TestHandler_Startup_FreshProjectRunsFullBuild(t *testing.T) {
	// Given: a project that was never indexed
	dir := t.TempDir()
	paths := writeFiles(t, dir, 5)
	e := newEnv(t, dir)
	h := e.handler(t)

	// When
	require.NoError(t, h.Startup(context.Background()))

	// Then: the full build gates readers and indexes every file
	assert.True(t, e.dumb.IsDumb(e.project))
	require.NoError(t, e.dumb.WaitForSmartMode(context.Background(), e.project))
	e.waitIdle(t)

	for _, path := range paths {
		assert.Equal(t, 1, e.provider.count(path), path)
	}
	n, err := e.store.StampCount(context.Background(), e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	current, err := e.store.IsIndexCurrent(context.Background(), e.project.ID)
	require.NoError(t, err)
	assert.True(t, current)
	assert.False(t, HasIncompleteMarker(e.project.DataDir))
	assert.Len(t, e.registry.Sets(e.project.ID), 2)
	assert.False(t, e.tracker.HasChanges(e.project.ID))
}

func TestHandler_Startup_ReconcilesIndexedProject(t *testing.T) {
	// Given: an indexed project whose files changed while nobody watched
	dir := t.TempDir()
	paths := writeFiles(t, dir, 3)
	first := newEnv(t, dir)
	require.NoError(t, first.handler(t).Startup(context.Background()))
	first.waitIdle(t)

	require.NoError(t, os.WriteFile(paths[0], []byte("package p // edited\n"), 0o644))
	require.NoError(t, os.Remove(paths[1]))

	// When: a new handler starts over the same store
	e := &env{
		cfg:      first.cfg,
		manager:  first.manager,
		project:  first.project,
		store:    first.store,
		tracker:  changes.NewTracker(first.store),
		dumb:     first.dumb,
		registry: fileset.NewRegistry(),
		provider: newFakeProvider(),
	}
	h := e.handler(t)
	require.NoError(t, h.Startup(context.Background()))

	// Then: no dumb mode, only the changes are indexed
	assert.False(t, e.dumb.IsDumb(e.project))
	e.waitIdle(t)
	assert.Equal(t, 1, e.provider.count(paths[0]))
	assert.Equal(t, 0, e.provider.count(paths[2]))
	assert.Equal(t, []string{paths[1]}, e.provider.removedPaths())
	n, err := e.store.StampCount(context.Background(), e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHandler_Startup_IncompleteMarkerForcesFullBuild(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, 2)
	e := newEnv(t, dir)
	h := e.handler(t)
	require.NoError(t, h.Startup(context.Background()))
	e.waitIdle(t)

	require.NoError(t, markIncomplete(e.project.DataDir))
	full, reason, err := h.needsFullBuild(context.Background())

	require.NoError(t, err)
	assert.True(t, full)
	assert.Equal(t, "previous build did not finish", reason)
}

func TestHandler_Startup_StaleIndexVersionForcesFullBuild(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, 2)
	e := newEnv(t, dir)
	h := e.handler(t)
	require.NoError(t, h.Startup(context.Background()))
	e.waitIdle(t)

	require.NoError(t, e.store.SetState(context.Background(), e.project.ID, store.StateKeyIndexVersion, "1"))
	full, reason, err := h.needsFullBuild(context.Background())

	require.NoError(t, err)
	assert.True(t, full)
	assert.Equal(t, "index version changed", reason)
}

func TestHandler_IsInSet(t *testing.T) {
	dir := t.TempDir()
	e := newEnv(t, dir)
	h := e.handler(t)

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"content file", filepath.Join(dir, "main.go"), true},
		{"nested content file", filepath.Join(dir, "pkg", "a.go"), true},
		{"ignored directory", filepath.Join(dir, "node_modules", "x.js"), false},
		{"data directory", filepath.Join(dir, project.DataDirName, "index.db"), false},
		{"outside the project", "/somewhere/else.go", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.IsInSet(vfs.NewLocalFile(tt.path)))
		})
	}

	t.Run("light edit mode", func(t *testing.T) {
		e.cfg.LightEdit = true
		defer func() { e.cfg.LightEdit = false }()
		assert.False(t, h.IsInSet(vfs.NewLocalFile(filepath.Join(dir, "main.go"))))
	})
}

func TestHandler_CreateChangedFilesIndexingTask(t *testing.T) {
	ctx := context.Background()

	t.Run("nil before the first build", func(t *testing.T) {
		dir := t.TempDir()
		paths := writeFiles(t, dir, 30)
		e := newEnv(t, dir)
		for _, p := range paths {
			e.tracker.MarkDirty(e.project.ID, p)
		}
		assert.Nil(t, e.handler(t).CreateChangedFilesIndexingTask(ctx))
	})

	t.Run("nil for a small change set", func(t *testing.T) {
		dir := t.TempDir()
		paths := writeFiles(t, dir, 3)
		e := newEnv(t, dir)
		require.NoError(t, e.store.PutStamp(ctx, e.project.ID, store.Stamp{Path: paths[0], Size: 1}))
		e.tracker.MarkDirty(e.project.ID, paths[1])
		assert.Nil(t, e.handler(t).CreateChangedFilesIndexingTask(ctx))
	})

	t.Run("nil for an empty change set", func(t *testing.T) {
		dir := t.TempDir()
		paths := writeFiles(t, dir, 1)
		e := newEnv(t, dir)
		require.NoError(t, e.store.PutStamp(ctx, e.project.ID, store.Stamp{Path: paths[0], Size: 1}))
		assert.Nil(t, e.handler(t).CreateChangedFilesIndexingTask(ctx))
	})

	t.Run("job over the whole change set when many files changed", func(t *testing.T) {
		dir := t.TempDir()
		paths := writeFiles(t, dir, 25)
		e := newEnv(t, dir)
		require.NoError(t, e.store.PutStamp(ctx, e.project.ID, store.Stamp{Path: paths[0], Size: 1}))
		for _, p := range paths {
			e.tracker.MarkDirty(e.project.ID, p)
		}
		gone := filepath.Join(dir, "gone.go")
		e.tracker.MarkRemoved(e.project.ID, gone)

		job := e.handler(t).CreateChangedFilesIndexingTask(ctx)

		require.NotNil(t, job)
		assert.Len(t, job.Files, 25)
		assert.Equal(t, []string{gone}, job.Removed)
		assert.Equal(t, ChangedFilesLabel, job.Label)
	})
}

func TestHandler_IndexChangedFiles_SmallSetIsNotGating(t *testing.T) {
	// Given: an indexed project and one edited file
	dir := t.TempDir()
	paths := writeFiles(t, dir, 3)
	e := newEnv(t, dir)
	h := e.handler(t)
	require.NoError(t, h.Startup(context.Background()))
	e.waitIdle(t)
	require.NoError(t, os.WriteFile(paths[2], []byte("package p // v2\n"), 0o644))
	e.tracker.MarkDirty(e.project.ID, paths[2])

	// When
	gating := h.IndexChangedFiles(context.Background())

	// Then
	assert.False(t, gating)
	e.waitIdle(t)
	assert.Equal(t, 2, e.provider.count(paths[2]))
	assert.False(t, e.tracker.HasChanges(e.project.ID))
}

func TestHandler_IndexChangedFiles_NothingToDo(t *testing.T) {
	e := newEnv(t, t.TempDir())
	h := e.handler(t)

	assert.False(t, h.IndexChangedFiles(context.Background()))
	assert.Equal(t, 0, e.dumb.Pending(e.project))
}

func TestHandler_Close_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, 1)
	e := newEnv(t, dir)
	h := e.handler(t)
	require.NoError(t, h.Startup(context.Background()))
	e.waitIdle(t)
	require.Len(t, e.registry.Sets(e.project.ID), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Close(ctx))

	assert.Empty(t, e.registry.Sets(e.project.ID))
}

func TestHandler_ProjectClosingRemovesSets(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, 1)
	e := newEnv(t, dir)
	h := e.handler(t)
	require.NoError(t, h.Startup(context.Background()))
	e.waitIdle(t)

	e.manager.Close(context.Background(), e.project)

	assert.Empty(t, e.registry.Sets(e.project.ID))
	assert.False(t, e.registry.IsIndexable(e.project.ID, vfs.NewLocalFile(filepath.Join(dir, "f00.go"))))
}

func TestHandler_Rebuild_DropsAndRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, 4)
	e := newEnv(t, dir)
	h := e.handler(t)
	require.NoError(t, h.Startup(context.Background()))
	e.waitIdle(t)

	require.True(t, h.Rebuild())
	require.NoError(t, e.dumb.WaitForSmartMode(context.Background(), e.project))
	e.waitIdle(t)

	for _, p := range paths {
		assert.Equal(t, 2, e.provider.count(p), p)
	}
	assert.ElementsMatch(t, paths, e.provider.removedPaths())
	n, err := e.store.StampCount(context.Background(), e.project.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestHandler_StartupRebuild_ReindexesCurrentProject(t *testing.T) {
	// Given: a project indexed by a previous handler
	dir := t.TempDir()
	paths := writeFiles(t, dir, 3)
	e := newEnv(t, dir)
	first := e.handler(t)
	require.NoError(t, first.Startup(context.Background()))
	e.waitIdle(t)
	require.NoError(t, first.Close(context.Background()))

	// When: the next start asks for a rebuild
	e.dumb = dumb.NewService()
	t.Cleanup(func() { _ = e.dumb.CloseAll(context.Background()) })
	h := e.handler(t)
	require.NoError(t, h.StartupRebuild(context.Background()))
	require.NoError(t, e.dumb.WaitIdle(context.Background(), e.project))

	// Then: every file was dropped and indexed again
	for _, p := range paths {
		assert.Equal(t, 2, e.provider.count(p), p)
	}
	assert.ElementsMatch(t, paths, e.provider.removedPaths())
}
