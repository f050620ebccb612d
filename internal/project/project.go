// Package project holds project identity, its file roots and the lifecycle
// events other components subscribe to.
package project

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Aman-CERP/amanidx/internal/config"
)

// DataDirName is the per-project directory holding index state.
const DataDirName = ".amanidx"

// Project is an open project. Roots are absolute and cleaned.
type Project struct {
	ID       string
	Name     string
	BasePath string
	DataDir  string

	ContentRoots []string
	LibraryRoots []string
	Additional   []string

	mu        sync.Mutex
	closed    bool
	disposers []func()
}

// New builds a project rooted at basePath using the path settings of cfg.
func New(basePath string, cfg *config.Config) (*Project, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)

	return &Project{
		ID:           ProjectID(abs),
		Name:         filepath.Base(abs),
		BasePath:     abs,
		DataDir:      filepath.Join(abs, DataDirName),
		ContentRoots: resolve(abs, cfg.Paths.ContentRoots),
		LibraryRoots: resolve(abs, cfg.Paths.LibraryRoots),
		Additional:   resolve(abs, cfg.Paths.Additional),
	}, nil
}

// ProjectID is a stable identifier derived from the absolute base path.
func ProjectID(absPath string) string {
	return strconv.FormatUint(xxhash.Sum64String(absPath), 16)
}

func resolve(base string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

// Rel returns path relative to the project base and whether path lies
// inside the project.
func (p *Project) Rel(path string) (string, bool) {
	if !IsUnder(p.BasePath, path) {
		return "", false
	}
	rel, err := filepath.Rel(p.BasePath, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// IsInContent reports whether path is under a content root.
func (p *Project) IsInContent(path string) bool {
	return underAny(p.ContentRoots, path)
}

// IsInLibrary reports whether path is under a library root.
func (p *Project) IsInLibrary(path string) bool {
	return underAny(p.LibraryRoots, path)
}

// IsInAdditional reports whether path is under one of the additional roots.
func (p *Project) IsInAdditional(path string) bool {
	return underAny(p.Additional, path)
}

// RegisterDisposer adds fn to the functions run when the project closes.
// On an already closed project fn runs immediately.
func (p *Project) RegisterDisposer(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()
		return
	}
	p.disposers = append(p.disposers, fn)
	p.mu.Unlock()
}

// IsClosed reports whether the project was closed.
func (p *Project) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// markClosed flips the closed flag and returns the pending disposers, or
// nil when the project was already closed.
func (p *Project) markClosed() ([]func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	p.closed = true
	d := p.disposers
	p.disposers = nil
	return d, true
}

func (p *Project) String() string {
	return p.Name + " (" + p.BasePath + ")"
}

func underAny(roots []string, path string) bool {
	for _, r := range roots {
		if IsUnder(r, path) {
			return true
		}
	}
	return false
}

// IsUnder reports whether path equals root or lies beneath it.
func IsUnder(root, path string) bool {
	root = filepath.Clean(root)
	path = filepath.Clean(path)
	if path == root {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(path, root)
}
