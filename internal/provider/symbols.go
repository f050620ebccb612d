package provider

import (
	"context"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/store"
)

// SymbolStore persists extracted symbols.
type SymbolStore interface {
	ReplaceSymbols(ctx context.Context, projectID, path string, syms []store.Symbol) error
	DeleteSymbols(ctx context.Context, projectID, path string) error
}

// language maps declaration node types of one grammar to symbol kinds.
type language struct {
	name  string
	ts    *sitter.Language
	kinds map[string]string
}

var goLanguage = &language{
	name: "go",
	ts:   golang.GetLanguage(),
	kinds: map[string]string{
		"function_declaration": "function",
		"method_declaration":   "method",
		"type_spec":            "type",
		"const_spec":           "constant",
	},
}

var pythonLanguage = &language{
	name: "python",
	ts:   python.GetLanguage(),
	kinds: map[string]string{
		"function_definition": "function",
		"class_definition":    "class",
	},
}

var jsKinds = map[string]string{
	"function_declaration": "function",
	"class_declaration":    "class",
	"method_definition":    "method",
}

var tsKinds = map[string]string{
	"function_declaration":   "function",
	"class_declaration":      "class",
	"method_definition":      "method",
	"interface_declaration":  "interface",
	"type_alias_declaration": "type",
}

var languagesByExt = map[string]*language{
	".go":  goLanguage,
	".py":  pythonLanguage,
	".js":  {name: "javascript", ts: javascript.GetLanguage(), kinds: jsKinds},
	".mjs": {name: "javascript", ts: javascript.GetLanguage(), kinds: jsKinds},
	".jsx": {name: "jsx", ts: javascript.GetLanguage(), kinds: jsKinds},
	".ts":  {name: "typescript", ts: typescript.GetLanguage(), kinds: tsKinds},
	".tsx": {name: "tsx", ts: tsx.GetLanguage(), kinds: tsKinds},
}

// Symbols extracts declarations with tree-sitter and stores them in the
// symbol table. Files of unsupported languages are not applicable.
type Symbols struct {
	store SymbolStore

	// tree-sitter parsers are not safe for concurrent use.
	parsers sync.Pool
}

// NewSymbols creates the symbol provider writing to st.
func NewSymbols(st SymbolStore) *Symbols {
	return &Symbols{
		store: st,
		parsers: sync.Pool{
			New: func() any { return sitter.NewParser() },
		},
	}
}

func (s *Symbols) Name() string { return "symbols" }

// Index parses in.Content and replaces the stored symbols of in.Path.
func (s *Symbols) Index(ctx context.Context, in Input) (Result, error) {
	lang, ok := languagesByExt[in.Ext()]
	if !ok {
		return Result{}, nil
	}

	syms, err := s.extract(ctx, lang, in)
	if err != nil {
		return Result{}, amanerrors.ProviderError(s.Name(), in.Path, err)
	}

	if err := s.store.ReplaceSymbols(ctx, in.ProjectID, in.Path, syms); err != nil {
		return Result{}, amanerrors.ProviderError(s.Name(), in.Path, err)
	}
	return Result{Items: len(syms), Applicable: true}, nil
}

func (s *Symbols) extract(ctx context.Context, lang *language, in Input) ([]store.Symbol, error) {
	parser := s.parsers.Get().(*sitter.Parser)
	defer s.parsers.Put(parser)

	parser.SetLanguage(lang.ts)
	tree, err := parser.ParseCtx(ctx, nil, in.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s source: %w", lang.name, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("failed to parse %s source: nil tree", lang.name)
	}
	defer tree.Close()

	var syms []store.Symbol
	collectSymbols(tree.RootNode(), lang, in, &syms)
	return syms, nil
}

func collectSymbols(n *sitter.Node, lang *language, in Input, out *[]store.Symbol) {
	if n == nil {
		return
	}
	if kind, ok := lang.kinds[n.Type()]; ok {
		if name := n.ChildByFieldName("name"); name != nil {
			*out = append(*out, store.Symbol{
				Path: in.Path,
				Name: name.Content(in.Content),
				Kind: kind,
				Line: int(n.StartPoint().Row) + 1,
			})
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		collectSymbols(n.NamedChild(i), lang, in, out)
	}
}

// Remove deletes the symbols of paths.
func (s *Symbols) Remove(ctx context.Context, projectID string, paths []string) error {
	for _, p := range paths {
		if err := s.store.DeleteSymbols(ctx, projectID, p); err != nil {
			return err
		}
	}
	return nil
}

// SupportsPath reports whether files like path produce symbols.
func SupportsPath(path string) bool {
	_, ok := languagesByExt[Input{Path: path}.Ext()]
	return ok
}
