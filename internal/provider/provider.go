// Package provider contains the per-file indexers run by the indexing
// pipeline. Each provider derives one kind of index data from a file's
// content: full-text postings, symbol declarations.
package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/store"
)

// Input is one file handed to a provider. Content is read once by the
// pipeline and shared by every provider; providers must not modify it.
type Input struct {
	ProjectID string
	Path      string
	Content   []byte
}

// Ext returns the lower-case extension of the input path.
func (in Input) Ext() string {
	return strings.ToLower(filepath.Ext(in.Path))
}

// Result is what a provider did with one file.
type Result struct {
	// Items is the number of index entries written (documents, symbols).
	Items int
	// Applicable is false when the provider had nothing to do for this
	// file type.
	Applicable bool
}

// Provider indexes single files.
//
// Errors for which errors.IsFatal returns true abort the whole indexing
// run; any other error is recorded against the file and the run goes on.
type Provider interface {
	Name() string
	Index(ctx context.Context, in Input) (Result, error)
}

// Remover is implemented by providers that can drop the entries of files
// that left the index.
type Remover interface {
	Remove(ctx context.Context, projectID string, paths []string) error
}

// Closer is implemented by providers holding resources.
type Closer interface {
	Close() error
}

// Set is the ordered list of providers of one project.
type Set []Provider

// FromConfig builds the providers named in cfg, in configured order.
// Providers needing storage use st and dataDir.
func FromConfig(cfg *config.Config, st *store.Store, dataDir string) (Set, error) {
	var set Set
	for _, name := range cfg.Indexing.Providers {
		switch strings.ToLower(name) {
		case config.ProviderFullText:
			ft, err := NewFullText(filepath.Join(dataDir, FullTextDirName))
			if err != nil {
				set.Close()
				return nil, err
			}
			set = append(set, ft)
		case config.ProviderSymbols:
			set = append(set, NewSymbols(st))
		default:
			set.Close()
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	return set, nil
}

// Names returns the provider names in order.
func (s Set) Names() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.Name()
	}
	return out
}

// Remove asks every Remover in the set to drop paths and returns the
// first error.
func (s Set) Remove(ctx context.Context, projectID string, paths []string) error {
	var first error
	for _, p := range s {
		r, ok := p.(Remover)
		if !ok {
			continue
		}
		if err := r.Remove(ctx, projectID, paths); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return first
}

// Close closes every provider holding resources.
func (s Set) Close() error {
	var first error
	for _, p := range s {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
