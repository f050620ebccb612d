// Package changes tracks, per project, the files whose index entries are
// stale: files to re-index and paths whose entries must be removed.
//
// The tracker is fed from two sides. The watcher marks paths as they
// change; Scan reconciles the whole tree against the stamps in the store.
// A file stops being "changed" only when the indexing pipeline commits the
// content it indexed.
package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/internal/vfs"
)

// StampStore is the part of the store the tracker needs.
type StampStore interface {
	AllStamps(ctx context.Context, projectID string) (map[string]store.Stamp, error)
	GetStamp(ctx context.Context, projectID, path string) (store.Stamp, error)
	PutStamp(ctx context.Context, projectID string, st store.Stamp) error
	DeleteStamps(ctx context.Context, projectID string, paths []string) error
	StampCount(ctx context.Context, projectID string) (int, error)
}

// entry is a pending path with the time it was last marked.
type entry struct {
	path     string
	markedAt time.Time
}

// orderedSet keeps insertion order and de-duplicates by path. Re-marking a
// path refreshes its time but keeps its position.
type orderedSet struct {
	order []string
	items map[string]*entry
}

func newOrderedSet() *orderedSet {
	return &orderedSet{items: make(map[string]*entry)}
}

func (s *orderedSet) add(path string, at time.Time) {
	if e, ok := s.items[path]; ok {
		e.markedAt = at
		return
	}
	s.items[path] = &entry{path: path, markedAt: at}
	s.order = append(s.order, path)
}

func (s *orderedSet) remove(path string) bool {
	if _, ok := s.items[path]; !ok {
		return false
	}
	delete(s.items, path)
	for i, p := range s.order {
		if p == path {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *orderedSet) snapshot() []string {
	return append([]string(nil), s.order...)
}

func (s *orderedSet) len() int { return len(s.order) }

type pending struct {
	dirty   *orderedSet
	removed *orderedSet
}

// Tracker holds the pending change sets of every project.
type Tracker struct {
	store StampStore

	mu       sync.Mutex
	projects map[string]*pending

	// now is replaced in tests.
	now func() time.Time
}

// NewTracker creates a tracker that persists commits to st.
func NewTracker(st StampStore) *Tracker {
	return &Tracker{
		store:    st,
		projects: make(map[string]*pending),
		now:      time.Now,
	}
}

func (t *Tracker) project(projectID string) *pending {
	p, ok := t.projects[projectID]
	if !ok {
		p = &pending{dirty: newOrderedSet(), removed: newOrderedSet()}
		t.projects[projectID] = p
	}
	return p
}

// MarkDirty records that path must be re-indexed. A pending removal of the
// same path is cancelled.
func (t *Tracker) MarkDirty(projectID, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.project(projectID)
	p.removed.remove(path)
	p.dirty.add(path, t.now())
}

// MarkRemoved records that the index entries of path must be dropped.
func (t *Tracker) MarkRemoved(projectID, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.project(projectID)
	p.dirty.remove(path)
	p.removed.add(path, t.now())
}

// ProcessChangedFiles visits the pending files of projectID, dirty files
// first and then removed paths, until fn returns false. It returns true iff
// every pending file was visited. The visit works on a snapshot, so fn may
// call back into the tracker.
func (t *Tracker) ProcessChangedFiles(projectID string, fn func(vfs.File) bool) bool {
	t.mu.Lock()
	p, ok := t.projects[projectID]
	var dirty, removed []string
	if ok {
		dirty = p.dirty.snapshot()
		removed = p.removed.snapshot()
	}
	t.mu.Unlock()

	for _, path := range dirty {
		if !fn(vfs.NewLocalFile(path)) {
			return false
		}
	}
	for _, path := range removed {
		if !fn(vfs.NewLocalFile(path)) {
			return false
		}
	}
	return true
}

// FilesToUpdate returns a snapshot of the files to re-index, in the order
// they were first marked.
func (t *Tracker) FilesToUpdate(projectID string) []vfs.File {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.projects[projectID]
	if !ok {
		return nil
	}
	paths := p.dirty.snapshot()
	files := make([]vfs.File, len(paths))
	for i, path := range paths {
		files[i] = vfs.NewLocalFile(path)
	}
	return files
}

// FilesToRemove returns a snapshot of the paths whose entries must go.
func (t *Tracker) FilesToRemove(projectID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.projects[projectID]
	if !ok {
		return nil
	}
	return p.removed.snapshot()
}

// Pending returns the number of dirty and removed paths.
func (t *Tracker) Pending(projectID string) (dirty, removed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.projects[projectID]
	if !ok {
		return 0, 0
	}
	return p.dirty.len(), p.removed.len()
}

// HasChanges reports whether anything is pending for projectID.
func (t *Tracker) HasChanges(projectID string) bool {
	d, r := t.Pending(projectID)
	return d+r > 0
}

// IsInitialized reports whether projectID has at least one stamp, i.e.
// an initial build completed at some point.
func (t *Tracker) IsInitialized(ctx context.Context, projectID string) (bool, error) {
	n, err := t.store.StampCount(ctx, projectID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Commit stores the stamp of content, the bytes indexed for file, and
// clears the file from the dirty set. readAt is when content was read: a
// file marked again after that stays dirty.
func (t *Tracker) Commit(ctx context.Context, projectID string, file vfs.File, content []byte, readAt time.Time) error {
	st := store.Stamp{
		Path:      file.Path(),
		Hash:      xxhash.Sum64(content),
		Size:      int64(len(content)),
		IndexedAt: t.now(),
	}
	if info, err := os.Stat(file.Path()); err == nil {
		st.ModTime = info.ModTime()
	}

	if err := t.store.PutStamp(ctx, projectID, st); err != nil {
		return fmt.Errorf("failed to commit %s: %w", file.Path(), err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.project(projectID)
	if e, ok := p.dirty.items[file.Path()]; ok && !e.markedAt.After(readAt) {
		p.dirty.remove(file.Path())
	}
	return nil
}

// Discard clears file from the dirty set without stamping it, for files
// the pipeline skipped or could not read. at is when the file was
// examined: a file marked again after that stays dirty. A file indexed by
// an earlier run is marked removed so its stale entries go.
func (t *Tracker) Discard(ctx context.Context, projectID string, file vfs.File, at time.Time) error {
	path := file.Path()
	_, err := t.store.GetStamp(ctx, projectID, path)
	stamped := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to discard %s: %w", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.project(projectID)
	if e, ok := p.dirty.items[path]; !ok || e.markedAt.After(at) {
		return nil
	}
	p.dirty.remove(path)
	if stamped {
		p.removed.add(path, t.now())
	}
	return nil
}

// CommitRemoved drops the stamps of paths and clears them from the removed
// set.
func (t *Tracker) CommitRemoved(ctx context.Context, projectID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := t.store.DeleteStamps(ctx, projectID, paths); err != nil {
		return fmt.Errorf("failed to commit removals: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.project(projectID)
	for _, path := range paths {
		p.removed.remove(path)
	}
	return nil
}

// Forget drops every pending change of projectID.
func (t *Tracker) Forget(projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.projects, projectID)
	slog.Debug("change_tracker_forgot", slog.String("project_id", projectID))
}
