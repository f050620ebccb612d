// Package ignore implements the file-type policy: which paths are never
// indexed, from configured patterns and the project's .gitignore files.
package ignore

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/project"
)

// matcherCacheSize is the maximum number of per-directory .gitignore
// matchers kept in memory.
const matcherCacheSize = 1000

// Policy answers whether a path is excluded from indexing.
type Policy struct {
	base        string
	maxFileSize int64
	patterns    *gitignore.GitIgnore

	// mu guards cache; nil entries record directories without .gitignore.
	mu    sync.Mutex
	cache *lru.Cache[string, *gitignore.GitIgnore]
}

// NewPolicy compiles the exclude and file-type patterns of cfg for the
// project rooted at base.
func NewPolicy(base string, cfg *config.Config) (*Policy, error) {
	cache, err := lru.New[string, *gitignore.GitIgnore](matcherCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitignore cache: %w", err)
	}

	lines := make([]string, 0, len(cfg.Paths.Exclude)+len(cfg.FileTypes.Ignored))
	lines = append(lines, cfg.Paths.Exclude...)
	lines = append(lines, cfg.FileTypes.Ignored...)

	return &Policy{
		base:        filepath.Clean(base),
		maxFileSize: cfg.FileTypes.MaxFileSize,
		patterns:    gitignore.CompileIgnoreLines(lines...),
		cache:       cache,
	}, nil
}

// IsFileIgnored reports whether the file at path must not be indexed.
// Paths outside the project base are matched by name only.
func (p *Policy) IsFileIgnored(path string) bool {
	return p.isIgnored(path, false)
}

// IsDirIgnored reports whether the directory at path is excluded as a
// whole, so a walk can skip it.
func (p *Policy) IsDirIgnored(path string) bool {
	return p.isIgnored(path, true)
}

// IsTooLarge reports whether size exceeds the configured maximum.
func (p *Policy) IsTooLarge(size int64) bool {
	return p.maxFileSize > 0 && size > p.maxFileSize
}

func (p *Policy) isIgnored(path string, isDir bool) bool {
	path = filepath.Clean(path)
	if !project.IsUnder(p.base, path) {
		return p.patterns.MatchesPath(asMatchPath(filepath.Base(path), isDir))
	}

	rel, err := filepath.Rel(p.base, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	if p.patterns.MatchesPath(asMatchPath(rel, isDir)) {
		return true
	}
	return p.isGitignored(rel, isDir)
}

// isGitignored checks the .gitignore of the project root and of every
// directory between the root and rel.
func (p *Policy) isGitignored(rel string, isDir bool) bool {
	dir := p.base
	sub := rel
	if m := p.matcher(dir); m != nil && m.MatchesPath(asMatchPath(sub, isDir)) {
		return true
	}

	parts := strings.Split(rel, "/")
	for _, part := range parts[:len(parts)-1] {
		dir = filepath.Join(dir, part)
		sub = strings.TrimPrefix(sub, part+"/")
		if m := p.matcher(dir); m != nil && m.MatchesPath(asMatchPath(sub, isDir)) {
			return true
		}
	}
	return false
}

func (p *Policy) matcher(dir string) *gitignore.GitIgnore {
	p.mu.Lock()
	m, ok := p.cache.Get(dir)
	p.mu.Unlock()
	if ok {
		return m
	}

	m, err := gitignore.CompileIgnoreFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		m = nil
	}

	p.mu.Lock()
	p.cache.Add(dir, m)
	p.mu.Unlock()
	return m
}

// Invalidate drops cached .gitignore matchers. Call it when a .gitignore
// file changes.
func (p *Policy) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
}

func asMatchPath(rel string, isDir bool) string {
	if isDir {
		return rel + "/"
	}
	return rel
}

// IsGitignoreFile reports whether path names a .gitignore file.
func IsGitignoreFile(path string) bool {
	return filepath.Base(path) == ".gitignore"
}
