package provider

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/config"
	amanerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"HTTPHandler", []string{"HTTP", "Handler"}},
		{"parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"simple", []string{"simple"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCamelCase(tt.in))
		})
	}
}

func TestTokenizeCode(t *testing.T) {
	got := TokenizeCode("func parseHTTPRequest(max_retry_count int) { x := 1 }")

	assert.Equal(t, []string{"func", "parse", "http", "request", "max", "retry", "count", "int"}, got)
}

func TestFullText_IndexSearchRemove(t *testing.T) {
	ft, err := NewFullText("")
	require.NoError(t, err)
	defer ft.Close()
	ctx := context.Background()

	// Given: two files
	res, err := ft.Index(ctx, Input{ProjectID: "p", Path: "/p/auth.go", Content: []byte("func validateUserToken() {}")})
	require.NoError(t, err)
	assert.Equal(t, Result{Items: 1, Applicable: true}, res)
	_, err = ft.Index(ctx, Input{ProjectID: "p", Path: "/p/db.go", Content: []byte("func openConnection() {}")})
	require.NoError(t, err)

	// When: searching for a camelCase part
	hits, err := ft.Search(ctx, "token", 10)
	require.NoError(t, err)

	// Then
	require.Len(t, hits, 1)
	assert.Equal(t, "/p/auth.go", hits[0].Path)

	n, err := ft.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	// When: removed
	require.NoError(t, ft.Remove(ctx, "p", []string{"/p/auth.go"}))
	hits, err = ft.Search(ctx, "token", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	empty, err := ft.Search(ctx, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFullText_ReindexReplacesDocument(t *testing.T) {
	ft, err := NewFullText("")
	require.NoError(t, err)
	defer ft.Close()
	ctx := context.Background()

	_, err = ft.Index(ctx, Input{Path: "/p/a.go", Content: []byte("alpha")})
	require.NoError(t, err)
	_, err = ft.Index(ctx, Input{Path: "/p/a.go", Content: []byte("bravo")})
	require.NoError(t, err)

	hits, err := ft.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	n, _ := ft.DocCount()
	assert.Equal(t, uint64(1), n)
}

func TestFullText_ClosedIndexIsFatal(t *testing.T) {
	ft, err := NewFullText("")
	require.NoError(t, err)
	require.NoError(t, ft.Close())
	require.NoError(t, ft.Close())

	_, err = ft.Index(context.Background(), Input{Path: "/p/a.go", Content: []byte("x")})

	require.Error(t, err)
	assert.True(t, amanerrors.IsFatal(err))
}

func TestFullText_PersistsOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), FullTextDirName)
	ctx := context.Background()

	ft, err := NewFullText(path)
	require.NoError(t, err)
	_, err = ft.Index(ctx, Input{Path: "/p/a.go", Content: []byte("persistentValue")})
	require.NoError(t, err)
	require.NoError(t, ft.Close())

	reopened, err := NewFullText(path)
	require.NoError(t, err)
	defer reopened.Close()

	hits, err := reopened.Search(ctx, "persistent", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSymbols_ExtractsGoDeclarations(t *testing.T) {
	st := newTestStore(t)
	sym := NewSymbols(st)
	ctx := context.Background()
	src := `package demo

const Limit = 10

type Server struct{}

func NewServer() *Server { return &Server{} }

func (s *Server) Start() error { return nil }
`

	res, err := sym.Index(ctx, Input{ProjectID: "p", Path: "/p/demo.go", Content: []byte(src)})
	require.NoError(t, err)
	assert.True(t, res.Applicable)
	assert.Equal(t, 4, res.Items)

	found, err := st.FindSymbols(ctx, "p", "", 10)
	require.NoError(t, err)
	byName := make(map[string]store.Symbol)
	for _, s := range found {
		byName[s.Name] = s
	}
	assert.Equal(t, "constant", byName["Limit"].Kind)
	assert.Equal(t, "type", byName["Server"].Kind)
	assert.Equal(t, "function", byName["NewServer"].Kind)
	assert.Equal(t, 7, byName["NewServer"].Line)
	assert.Equal(t, "method", byName["Start"].Kind)
}

func TestSymbols_ExtractsPythonDeclarations(t *testing.T) {
	st := newTestStore(t)
	sym := NewSymbols(st)
	ctx := context.Background()

	res, err := sym.Index(ctx, Input{ProjectID: "p", Path: "/p/app.py", Content: []byte("class Greeter:\n    def greet(self):\n        pass\n")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Items)
}

func TestSymbols_UnsupportedFileIsNotApplicable(t *testing.T) {
	sym := NewSymbols(newTestStore(t))

	res, err := sym.Index(context.Background(), Input{ProjectID: "p", Path: "/p/README.md", Content: []byte("# hi")})

	require.NoError(t, err)
	assert.False(t, res.Applicable)
	assert.False(t, SupportsPath("/p/README.md"))
	assert.True(t, SupportsPath("/p/x.TSX"))
}

func TestSymbols_Remove(t *testing.T) {
	st := newTestStore(t)
	sym := NewSymbols(st)
	ctx := context.Background()
	_, err := sym.Index(ctx, Input{ProjectID: "p", Path: "/p/a.go", Content: []byte("package a\nfunc A() {}\n")})
	require.NoError(t, err)

	require.NoError(t, sym.Remove(ctx, "p", []string{"/p/a.go"}))

	n, err := st.SymbolCount(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

type failingRemover struct{ name string }

func (f failingRemover) Name() string { return f.name }
func (f failingRemover) Index(context.Context, Input) (Result, error) {
	return Result{}, nil
}
func (f failingRemover) Remove(context.Context, string, []string) error {
	return errors.New("boom")
}

func TestSet_RemoveReportsFirstError(t *testing.T) {
	set := Set{failingRemover{name: "one"}, failingRemover{name: "two"}}

	err := set.Remove(context.Background(), "p", []string{"/p/a.go"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "one: boom")
}

func TestFromConfig(t *testing.T) {
	st := newTestStore(t)
	cfg := config.NewConfig()

	set, err := FromConfig(cfg, st, t.TempDir())
	require.NoError(t, err)
	defer set.Close()
	assert.Equal(t, []string{"fulltext", "symbols"}, set.Names())

	cfg.Indexing.Providers = []string{"vectors"}
	_, err = FromConfig(cfg, st, t.TempDir())
	assert.Error(t, err)
}
