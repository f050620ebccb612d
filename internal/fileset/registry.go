// Package fileset holds the registry of indexable file sets per project.
// A file is indexable when any registered set claims it.
package fileset

import (
	"sync"

	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/vfs"
)

// IndexableFileSet decides membership of a file in the index.
type IndexableFileSet interface {
	IsInSet(file vfs.File) bool
}

// Registry maps project IDs to their registered sets.
type Registry struct {
	mu   sync.RWMutex
	sets map[string][]IndexableFileSet
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sets: make(map[string][]IndexableFileSet)}
}

// Register adds set for projectID. Registering the same set twice is a
// no-op.
func (r *Registry) Register(projectID string, set IndexableFileSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sets[projectID] {
		if s == set {
			return
		}
	}
	r.sets[projectID] = append(r.sets[projectID], set)
}

// Remove drops set from projectID. Unknown sets are ignored.
func (r *Registry) Remove(projectID string, set IndexableFileSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sets := r.sets[projectID]
	for i, s := range sets {
		if s == set {
			r.sets[projectID] = append(sets[:i:i], sets[i+1:]...)
			break
		}
	}
	if len(r.sets[projectID]) == 0 {
		delete(r.sets, projectID)
	}
}

// Sets returns the sets registered for projectID.
func (r *Registry) Sets(projectID string) []IndexableFileSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]IndexableFileSet(nil), r.sets[projectID]...)
}

// IsIndexable reports whether any set of projectID claims file.
func (r *Registry) IsIndexable(projectID string, file vfs.File) bool {
	for _, s := range r.Sets(projectID) {
		if s.IsInSet(file) {
			return true
		}
	}
	return false
}

// AdditionalSet covers the project's additional roots, used for files that
// are indexed without belonging to content or library roots.
type AdditionalSet struct {
	Project *project.Project
}

func (a *AdditionalSet) IsInSet(file vfs.File) bool {
	return a.Project.IsInAdditional(file.Path())
}
