package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
)

const (
	// FullTextDirName is the bleve index directory inside the data dir.
	FullTextDirName = "fulltext.bleve"

	codeTokenizerName  = "amanidx_code_tokenizer"
	codeStopFilterName = "amanidx_code_stop"
	codeAnalyzerName   = "amanidx_code_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
	_ = registry.RegisterTokenFilter(codeStopFilterName, codeStopFilterConstructor)
}

// FullText indexes file content in a bleve index with a code-aware
// analyzer. Document IDs are absolute file paths.
type FullText struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// fullTextDocument is the document stored per file.
type fullTextDocument struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Hit is one full-text search match.
type Hit struct {
	Path  string
	Score float64
}

// NewFullText opens or creates the index at path. An empty path creates an
// in-memory index. A corrupted on-disk index is cleared and recreated; the
// caller finds it empty and reindexes.
func NewFullText(path string) (*FullText, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}

		if validErr := validateIndexIntegrity(path); validErr != nil {
			slog.Warn("fulltext_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, amanerrors.New(amanerrors.ErrCodeCorruptIndex,
					fmt.Sprintf("full-text index corrupted at %s and cannot be removed", path), removeErr)
			}
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("fulltext_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, amanerrors.New(amanerrors.ErrCodeCorruptIndex,
					"full-text index corrupted and cannot be cleared", removeErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open full-text index: %w", err)
	}

	return &FullText{index: idx, path: path}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(codeAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": codeTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			codeStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = codeAnalyzerName

	return indexMapping, nil
}

// validateIndexIntegrity checks the index metadata before bleve opens it.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

func (f *FullText) Name() string { return "fulltext" }

// Index replaces the document of in.Path.
func (f *FullText) Index(ctx context.Context, in Input) (Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return Result{}, amanerrors.UnrecoverableError("full-text index is closed", nil)
	}

	doc := fullTextDocument{Path: in.Path, Content: string(in.Content)}
	if err := f.index.Index(in.Path, doc); err != nil {
		if isCorruptionError(err) {
			return Result{}, amanerrors.New(amanerrors.ErrCodeCorruptIndex, "full-text index is corrupted", err)
		}
		return Result{}, amanerrors.ProviderError(f.Name(), in.Path, err)
	}
	return Result{Items: 1, Applicable: true}, nil
}

// Remove deletes the documents of paths.
func (f *FullText) Remove(ctx context.Context, projectID string, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return fmt.Errorf("index is closed")
	}

	batch := f.index.NewBatch()
	for _, p := range paths {
		batch.Delete(p)
	}
	if err := f.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// Search returns files matching query, best first.
func (f *FullText) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = limit

	res, err := f.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{Path: h.ID, Score: h.Score})
	}
	return hits, nil
}

// DocCount returns the number of indexed files.
func (f *FullText) DocCount() (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return 0, fmt.Errorf("index is closed")
	}
	return f.index.DocCount()
}

// Close closes the index. Safe to call more than once.
func (f *FullText) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.index.Close()
}

func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &codeTokenizer{}, nil
}

// codeTokenizer implements analysis.Tokenizer with TokenizeCode.
type codeTokenizer struct{}

func (t *codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for i, token := range tokens {
		start := strings.Index(lower[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		if end > len(text) {
			end = len(text)
		}

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
		offset = end
	}
	return result
}

func codeStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &codeStopFilter{}, nil
}

type codeStopFilter struct{}

func (f *codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if !isStopWord(string(token.Term)) {
			result = append(result, token)
		}
	}
	return result
}
