package changes

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/vfs"
)

const testProject = "proj"

func newTestTracker(t *testing.T) (*Tracker, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewTracker(st), st
}

// nameFilter ignores directories and files by base name.
type nameFilter struct {
	dirs    []string
	files   []string
	maxSize int64
}

func (f nameFilter) IsDirIgnored(path string) bool {
	for _, d := range f.dirs {
		if filepath.Base(path) == d {
			return true
		}
	}
	return false
}

func (f nameFilter) IsFileIgnored(path string) bool {
	for _, s := range f.files {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

func (f nameFilter) IsTooLarge(size int64) bool {
	return f.maxSize > 0 && size > f.maxSize
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTracker_MarkKeepsOrderAndDeduplicates(t *testing.T) {
	tr, _ := newTestTracker(t)

	tr.MarkDirty(testProject, "/p/b.go")
	tr.MarkDirty(testProject, "/p/a.go")
	tr.MarkDirty(testProject, "/p/b.go")
	tr.MarkRemoved(testProject, "/p/c.go")

	assert.Equal(t, []string{"/p/b.go", "/p/a.go"}, vfs.Paths(tr.FilesToUpdate(testProject)))
	assert.Equal(t, []string{"/p/c.go"}, tr.FilesToRemove(testProject))

	// When: a removed path reappears
	tr.MarkDirty(testProject, "/p/c.go")

	// Then: it moves from removed to dirty
	assert.Empty(t, tr.FilesToRemove(testProject))
	dirty, removed := tr.Pending(testProject)
	assert.Equal(t, 3, dirty)
	assert.Equal(t, 0, removed)
}

func TestTracker_SnapshotsAreIndependent(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.MarkDirty(testProject, "/p/a.go")

	snap := tr.FilesToUpdate(testProject)
	tr.MarkDirty(testProject, "/p/b.go")

	assert.Len(t, snap, 1)
	assert.Len(t, tr.FilesToUpdate(testProject), 2)
}

func TestTracker_ProcessChangedFiles(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.MarkDirty(testProject, "/p/a.go")
	tr.MarkDirty(testProject, "/p/b.go")
	tr.MarkRemoved(testProject, "/p/gone.go")

	t.Run("visits dirty then removed", func(t *testing.T) {
		var visited []string
		exhausted := tr.ProcessChangedFiles(testProject, func(f vfs.File) bool {
			visited = append(visited, f.Path())
			return true
		})
		assert.True(t, exhausted)
		assert.Equal(t, []string{"/p/a.go", "/p/b.go", "/p/gone.go"}, visited)
	})

	t.Run("stops when fn returns false", func(t *testing.T) {
		n := 0
		exhausted := tr.ProcessChangedFiles(testProject, func(vfs.File) bool {
			n++
			return n < 2
		})
		assert.False(t, exhausted)
		assert.Equal(t, 2, n)
	})

	t.Run("unknown project is exhausted at once", func(t *testing.T) {
		assert.True(t, tr.ProcessChangedFiles("other", func(vfs.File) bool { return true }))
	})
}

func TestTracker_CommitClearsDirtyAndStamps(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "a.go")
	writeFile(t, path, "package a")

	tr.MarkDirty(testProject, path)
	readAt := time.Now()

	require.NoError(t, tr.Commit(ctx, testProject, vfs.NewLocalFile(path), []byte("package a"), readAt))

	assert.False(t, tr.HasChanges(testProject))
	stamp, err := st.GetStamp(ctx, testProject, path)
	require.NoError(t, err)
	assert.Equal(t, int64(9), stamp.Size)
	assert.False(t, stamp.ModTime.IsZero())

	ok, err := tr.IsInitialized(ctx, testProject)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTracker_CommitKeepsFileMarkedAfterRead(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	clock := time.Unix(1000, 0)
	tr.now = func() time.Time { return clock }

	// Given: content read at t=1000, then the file changes again at t=1001
	tr.MarkDirty(testProject, "/p/a.go")
	readAt := clock
	clock = clock.Add(time.Second)
	tr.MarkDirty(testProject, "/p/a.go")

	// When
	require.NoError(t, tr.Commit(ctx, testProject, vfs.NewLocalFile("/p/a.go"), []byte("x"), readAt))

	// Then: the newer change is not lost
	assert.Equal(t, []string{"/p/a.go"}, vfs.Paths(tr.FilesToUpdate(testProject)))
}

func TestTracker_CommitRemoved(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, st.PutStamp(ctx, testProject, store.Stamp{Path: "/p/gone.go"}))
	tr.MarkRemoved(testProject, "/p/gone.go")

	require.NoError(t, tr.CommitRemoved(ctx, testProject, []string{"/p/gone.go"}))

	assert.Empty(t, tr.FilesToRemove(testProject))
	_, err := st.GetStamp(ctx, testProject, "/p/gone.go")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTracker_Scan(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()
	root := t.TempDir()
	filter := nameFilter{dirs: []string{"node_modules"}, files: []string{".min.js"}, maxSize: 100}

	writeFile(t, filepath.Join(root, "a.go"), "package a")
	writeFile(t, filepath.Join(root, "sub", "b.go"), "package b")
	writeFile(t, filepath.Join(root, "node_modules", "x.js"), "x")
	writeFile(t, filepath.Join(root, "app.min.js"), "x")
	writeFile(t, filepath.Join(root, "big.txt"), strings.Repeat("x", 200))
	writeFile(t, filepath.Join(root, "bin.dat"), "ab\x00cd")

	t.Run("first scan marks every indexable file", func(t *testing.T) {
		res, err := tr.Scan(ctx, testProject, []string{root}, filter)
		require.NoError(t, err)

		assert.Equal(t, 2, res.Seen)
		assert.Equal(t, 2, res.Dirty)
		assert.Equal(t, 0, res.Removed)
		assert.ElementsMatch(t,
			[]string{filepath.Join(root, "a.go"), filepath.Join(root, "sub", "b.go")},
			vfs.Paths(tr.FilesToUpdate(testProject)))
	})

	// Commit both as if indexed.
	for _, f := range tr.FilesToUpdate(testProject) {
		content, err := os.ReadFile(f.Path())
		require.NoError(t, err)
		require.NoError(t, tr.Commit(ctx, testProject, f, content, time.Now()))
	}
	require.False(t, tr.HasChanges(testProject))

	t.Run("unchanged tree is clean", func(t *testing.T) {
		res, err := tr.Scan(ctx, testProject, []string{root}, filter)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Dirty)
		assert.False(t, tr.HasChanges(testProject))
	})

	t.Run("touch without content change refreshes the stamp", func(t *testing.T) {
		later := time.Now().Add(time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(root, "a.go"), later, later))

		res, err := tr.Scan(ctx, testProject, []string{root}, filter)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Refreshed)
		assert.False(t, tr.HasChanges(testProject))

		stamp, err := st.GetStamp(ctx, testProject, filepath.Join(root, "a.go"))
		require.NoError(t, err)
		info, err := os.Stat(filepath.Join(root, "a.go"))
		require.NoError(t, err)
		assert.True(t, stamp.ModTime.Equal(info.ModTime()))
	})

	t.Run("modified and deleted files are detected", func(t *testing.T) {
		writeFile(t, filepath.Join(root, "a.go"), "package a // changed")
		require.NoError(t, os.Remove(filepath.Join(root, "sub", "b.go")))

		res, err := tr.Scan(ctx, testProject, []string{root}, filter)
		require.NoError(t, err)

		assert.Equal(t, 1, res.Dirty)
		assert.Equal(t, 1, res.Removed)
		assert.Equal(t, []string{filepath.Join(root, "a.go")}, vfs.Paths(tr.FilesToUpdate(testProject)))
		assert.Equal(t, []string{filepath.Join(root, "sub", "b.go")}, tr.FilesToRemove(testProject))
	})
}

func TestTracker_ScanHonorsCancellation(t *testing.T) {
	tr, _ := newTestTracker(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Scan(ctx, testProject, []string{root}, nameFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTracker_Forget(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.MarkDirty(testProject, "/p/a.go")

	tr.Forget(testProject)

	assert.False(t, tr.HasChanges(testProject))
}

func TestTracker_DiscardClearsSkippedFiles(t *testing.T) {
	tr, st := newTestTracker(t)
	ctx := context.Background()
	clock := time.Unix(1000, 0)
	tr.now = func() time.Time { return clock }

	// Given: a never-indexed file and a previously indexed one, both dirty
	require.NoError(t, st.PutStamp(ctx, testProject, store.Stamp{Path: "/p/was.go"}))
	tr.MarkDirty(testProject, "/p/new.bin")
	tr.MarkDirty(testProject, "/p/was.go")

	// When: the pipeline skips both
	at := clock
	require.NoError(t, tr.Discard(ctx, testProject, vfs.NewLocalFile("/p/new.bin"), at))
	require.NoError(t, tr.Discard(ctx, testProject, vfs.NewLocalFile("/p/was.go"), at))

	// Then: nothing stays dirty and only the indexed one is removed
	assert.Empty(t, tr.FilesToUpdate(testProject))
	assert.Equal(t, []string{"/p/was.go"}, tr.FilesToRemove(testProject))
}

func TestTracker_DiscardKeepsFileMarkedAfterCheck(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()
	clock := time.Unix(1000, 0)
	tr.now = func() time.Time { return clock }

	tr.MarkDirty(testProject, "/p/a.go")
	at := clock
	clock = clock.Add(time.Second)
	tr.MarkDirty(testProject, "/p/a.go")

	require.NoError(t, tr.Discard(ctx, testProject, vfs.NewLocalFile("/p/a.go"), at))

	assert.True(t, tr.HasChanges(testProject))
	assert.Equal(t, []string{"/p/a.go"}, vfs.Paths(tr.FilesToUpdate(testProject)))
}

func TestIsIndexable_MatchesScan(t *testing.T) {
	root := t.TempDir()
	filter := nameFilter{files: []string{".min.js"}, maxSize: 100}

	writeFile(t, filepath.Join(root, "a.go"), "package a")
	writeFile(t, filepath.Join(root, "empty.go"), "")
	writeFile(t, filepath.Join(root, "app.min.js"), "x")
	writeFile(t, filepath.Join(root, "big.txt"), strings.Repeat("x", 200))
	writeFile(t, filepath.Join(root, "bin.dat"), "ab\x00cd")

	tests := []struct {
		name string
		want bool
	}{
		{"a.go", true},
		{"empty.go", true},
		{"app.min.js", false},
		{"big.txt", false},
		{"bin.dat", false},
		{"missing.go", false},
		{".", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsIndexable(filepath.Join(root, tt.name), filter))
		})
	}
}
