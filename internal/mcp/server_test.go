package mcp

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/diagnostic"
	amerrors "github.com/Aman-CERP/amanidx/internal/errors"
	"github.com/Aman-CERP/amanidx/internal/handler"
	"github.com/Aman-CERP/amanidx/internal/progress"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/provider"
	"github.com/Aman-CERP/amanidx/internal/store"
)

type fakeIndexer struct {
	project *project.Project
	status  handler.Status
	err     error

	gating     bool
	changed    int
	reconciled int
	rebuilt    int
	closed     bool
}

func (f *fakeIndexer) Project() *project.Project { return f.project }

func (f *fakeIndexer) Status(context.Context) (handler.Status, error) { return f.status, f.err }

func (f *fakeIndexer) IndexChangedFiles(context.Context) bool {
	f.changed++
	return f.gating
}

func (f *fakeIndexer) Reconcile() bool {
	f.reconciled++
	return !f.closed
}

func (f *fakeIndexer) Rebuild() bool {
	f.rebuilt++
	return !f.closed
}

type fakeGate struct {
	dumb bool
	// leased is true while a reader runs.
	leased bool
}

func (g *fakeGate) Use(p *project.Project, fn func() error) error {
	if g.dumb {
		return amerrors.New(amerrors.ErrCodeIndexNotReady, "index of "+p.Name+" is being rebuilt", nil)
	}
	g.leased = true
	defer func() { g.leased = false }()
	return fn()
}

type fakeHistory struct {
	histories []diagnostic.History
	gotLimit  int
}

func (f *fakeHistory) Recent(_ context.Context, _ string, limit int) ([]diagnostic.History, error) {
	f.gotLimit = limit
	if limit < len(f.histories) {
		return f.histories[:limit], nil
	}
	return f.histories, nil
}

type fakeSymbols struct {
	symbols   []store.Symbol
	gotPrefix string
	gotLimit  int
	gate      *fakeGate
	wasLeased bool
}

func (f *fakeSymbols) FindSymbols(_ context.Context, _ string, prefix string, limit int) ([]store.Symbol, error) {
	f.gotPrefix, f.gotLimit = prefix, limit
	f.wasLeased = f.gate != nil && f.gate.leased
	return f.symbols, nil
}

type fakeSearcher struct {
	hits      []provider.Hit
	err       error
	gate      *fakeGate
	wasLeased bool
}

func (f *fakeSearcher) Search(context.Context, string, int) ([]provider.Hit, error) {
	f.wasLeased = f.gate != nil && f.gate.leased
	return f.hits, f.err
}

type testEnv struct {
	server   *Server
	indexer  *fakeIndexer
	gate     *fakeGate
	history  *fakeHistory
	symbols  *fakeSymbols
	searcher *fakeSearcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	p, err := project.New(t.TempDir(), config.NewConfig())
	require.NoError(t, err)

	gate := &fakeGate{}
	e := &testEnv{
		indexer: &fakeIndexer{
			project: p,
			status: handler.Status{
				ProjectName: p.Name,
				ProjectID:   p.ID,
				BasePath:    p.BasePath,
				State:       "usable",
			},
		},
		gate:     gate,
		history:  &fakeHistory{},
		symbols:  &fakeSymbols{gate: gate},
		searcher: &fakeSearcher{gate: gate},
	}
	e.server, err = NewServer(Deps{
		Indexer:  e.indexer,
		Gate:     e.gate,
		History:  e.history,
		Symbols:  e.symbols,
		FullText: e.searcher,
	})
	require.NoError(t, err)
	return e
}

func TestNewServer_RequiresIndexerAndGate(t *testing.T) {
	_, err := NewServer(Deps{Gate: &fakeGate{}})
	assert.Error(t, err)

	_, err = NewServer(Deps{Indexer: &fakeIndexer{}})
	assert.Error(t, err)
}

func TestNewServer_RegistersToolsForAvailableCollaborators(t *testing.T) {
	// Given: a full set of collaborators
	e := newTestEnv(t)

	// Then: every tool is registered
	assert.Equal(t, []string{
		"index_status", "reindex_changed", "rebuild_index",
		"indexing_history", "find_symbols", "search_files",
	}, e.server.Tools())
	assert.NotNil(t, e.server.MCPServer())
}

func TestNewServer_SkipsToolsWithoutCollaborator(t *testing.T) {
	// Given: no history, symbols or full-text index
	p, err := project.New(t.TempDir(), config.NewConfig())
	require.NoError(t, err)

	// When: creating the server
	s, err := NewServer(Deps{Indexer: &fakeIndexer{project: p}, Gate: &fakeGate{}})
	require.NoError(t, err)

	// Then: only the indexing tools are registered
	assert.Equal(t, []string{"index_status", "reindex_changed", "rebuild_index"}, s.Tools())
}

func TestIndexStatus_Usable(t *testing.T) {
	// Given: an indexed project
	e := newTestEnv(t)
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.indexer.status.IndexedFiles = 42
	e.indexer.status.Symbols = 7
	e.indexer.status.IndexCurrent = true
	e.indexer.status.LastIndexed = last
	e.indexer.status.PendingDirty = 2

	// When: calling index_status
	_, out, err := e.server.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	// Then: the status is reported without progress
	require.NoError(t, err)
	assert.Equal(t, "usable", out.State)
	assert.Equal(t, 42, out.Stats.FileCount)
	assert.Equal(t, 7, out.Stats.SymbolCount)
	assert.True(t, out.Stats.Current)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.Stats.LastIndexed)
	assert.Equal(t, 2, out.Changes.Dirty)
	assert.Nil(t, out.Indexing)
}

func TestIndexStatus_Rebuilding(t *testing.T) {
	// Given: a project running a full build
	e := newTestEnv(t)
	e.indexer.status.State = "rebuilding"
	e.indexer.status.Task = "Indexing files"
	e.indexer.status.QueuedTasks = 1
	e.indexer.status.Progress = &progress.Snapshot{
		Text:        "Indexing files",
		Text2:       "src/main.go",
		ProgressPct: 40,
	}

	// When: calling index_status
	_, out, err := e.server.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	// Then: the running task is reported
	require.NoError(t, err)
	assert.Equal(t, "rebuilding", out.State)
	assert.Equal(t, 1, out.Changes.QueuedTasks)
	require.NotNil(t, out.Indexing)
	assert.Equal(t, "Indexing files", out.Indexing.Task)
	assert.Equal(t, "src/main.go", out.Indexing.CurrentFile)
	assert.InDelta(t, 40.0, out.Indexing.ProgressPct, 0.001)
	assert.Empty(t, out.Stats.LastIndexed)
}

func TestIndexStatus_StatusErrorIsMapped(t *testing.T) {
	e := newTestEnv(t)
	e.indexer.err = errors.New("disk gone")

	_, _, err := e.server.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInternalError, mcpErr.Code)
}

func TestReindexChanged_NoChanges(t *testing.T) {
	// Given: nothing tracked
	e := newTestEnv(t)

	// When: calling reindex_changed
	_, out, err := e.server.mcpReindexHandler(context.Background(), nil, ReindexInput{})

	// Then: nothing is queued
	require.NoError(t, err)
	assert.False(t, out.Queued)
	assert.Equal(t, 0, e.indexer.changed)
}

func TestReindexChanged_QueuesTrackedChanges(t *testing.T) {
	tests := []struct {
		name   string
		gating bool
		want   string
	}{
		{"background", false, "in the background"},
		{"gating", true, "unavailable until done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: tracked changes
			e := newTestEnv(t)
			e.indexer.status.PendingDirty = 3
			e.indexer.status.PendingRemoved = 1
			e.indexer.gating = tt.gating

			// When: calling reindex_changed
			_, out, err := e.server.mcpReindexHandler(context.Background(), nil, ReindexInput{})

			// Then: a changed-files task is queued
			require.NoError(t, err)
			assert.True(t, out.Queued)
			assert.Equal(t, tt.gating, out.Gating)
			assert.Contains(t, out.Message, tt.want)
			assert.Equal(t, 1, e.indexer.changed)
		})
	}
}

func TestReindexChanged_RescanQueuesReconcile(t *testing.T) {
	e := newTestEnv(t)

	_, out, err := e.server.mcpReindexHandler(context.Background(), nil, ReindexInput{Rescan: true})

	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Equal(t, 1, e.indexer.reconciled)
	assert.Equal(t, 0, e.indexer.changed)
}

func TestReindexChanged_RescanOnClosingProject(t *testing.T) {
	e := newTestEnv(t)
	e.indexer.closed = true

	_, out, err := e.server.mcpReindexHandler(context.Background(), nil, ReindexInput{Rescan: true})

	require.NoError(t, err)
	assert.False(t, out.Queued)
	assert.Contains(t, out.Message, "closing")
}

func TestRebuildIndex_RequiresConfirm(t *testing.T) {
	// Given: a rebuild request without confirmation
	e := newTestEnv(t)

	// When: calling rebuild_index
	_, _, err := e.server.mcpRebuildHandler(context.Background(), nil, RebuildInput{})

	// Then: it is rejected and nothing is queued
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
	assert.Equal(t, 0, e.indexer.rebuilt)
}

func TestRebuildIndex_Confirmed(t *testing.T) {
	e := newTestEnv(t)

	_, out, err := e.server.mcpRebuildHandler(context.Background(), nil, RebuildInput{Confirm: true})

	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.True(t, out.Gating)
	assert.Equal(t, 1, e.indexer.rebuilt)
}

func TestIndexingHistory(t *testing.T) {
	// Given: two finished jobs
	e := newTestEnv(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.history.histories = []diagnostic.History{
		{
			JobID: "b", Label: "Indexing changed files", Files: 10, Removed: 1,
			Times:    diagnostic.Times{IndexingStart: start, IndexingEnd: start.Add(2 * time.Second)},
			Failures: []diagnostic.FileFailure{{Path: "x.go", Provider: "symbols", Error: "parse"}},
		},
		{
			JobID: "a", Label: "Full indexing",
			Times: diagnostic.Times{IndexingStart: start.Add(-time.Hour), IndexingEnd: start.Add(-time.Hour), WasInterrupted: true},
		},
	}

	// When: listing history with the default limit
	_, out, err := e.server.mcpHistoryHandler(context.Background(), nil, HistoryInput{})

	// Then: jobs are returned in order with derived fields
	require.NoError(t, err)
	assert.Equal(t, defaultHistoryLimit, e.history.gotLimit)
	require.Len(t, out.Jobs, 2)
	assert.Equal(t, "b", out.Jobs[0].JobID)
	assert.Equal(t, int64(2000), out.Jobs[0].DurationMs)
	assert.Equal(t, 1, out.Jobs[0].Failures)
	assert.InDelta(t, 5.0, out.Jobs[0].FilesPerSec, 0.001)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.Jobs[0].StartedAt)
	assert.True(t, out.Jobs[1].Interrupted)
	assert.Zero(t, out.Jobs[1].FilesPerSec)
}

func TestIndexingHistory_LimitIsClamped(t *testing.T) {
	e := newTestEnv(t)

	_, _, err := e.server.mcpHistoryHandler(context.Background(), nil, HistoryInput{Limit: 5000})

	require.NoError(t, err)
	assert.Equal(t, maxHistoryLimit, e.history.gotLimit)
}

func TestFindSymbols(t *testing.T) {
	// Given: indexed symbols with absolute paths
	e := newTestEnv(t)
	base := e.indexer.project.BasePath
	e.symbols.symbols = []store.Symbol{
		{Path: filepath.Join(base, "internal", "a.go"), Name: "NewServer", Kind: "function", Line: 12},
	}

	// When: searching by prefix
	_, out, err := e.server.mcpFindSymbolsHandler(context.Background(), nil, FindSymbolsInput{Prefix: "New"})

	// Then: paths are relative to the project
	require.NoError(t, err)
	assert.Equal(t, "New", e.symbols.gotPrefix)
	assert.Equal(t, defaultSymbolLimit, e.symbols.gotLimit)
	require.Len(t, out.Symbols, 1)
	assert.Equal(t, "internal/a.go", out.Symbols[0].Path)
	assert.Equal(t, 12, out.Symbols[0].Line)
}

func TestFindSymbols_RequiresPrefix(t *testing.T) {
	e := newTestEnv(t)

	_, _, err := e.server.mcpFindSymbolsHandler(context.Background(), nil, FindSymbolsInput{})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestReaders_RejectedInDumbMode(t *testing.T) {
	// Given: a project being rebuilt
	e := newTestEnv(t)
	e.gate.dumb = true

	// When: calling the reader tools
	_, _, symErr := e.server.mcpFindSymbolsHandler(context.Background(), nil, FindSymbolsInput{Prefix: "New"})
	_, _, searchErr := e.server.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "main"})

	// Then: both fail with index-not-ready
	for _, err := range []error{symErr, searchErr} {
		var mcpErr *MCPError
		require.ErrorAs(t, err, &mcpErr)
		assert.Equal(t, ErrCodeIndexNotReady, mcpErr.Code)
	}
	assert.Empty(t, e.symbols.gotPrefix)
}

func TestReaders_RunUnderReadLease(t *testing.T) {
	// Given: a usable project
	e := newTestEnv(t)

	// When: calling the reader tools
	_, _, symErr := e.server.mcpFindSymbolsHandler(context.Background(), nil, FindSymbolsInput{Prefix: "New"})
	_, _, searchErr := e.server.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "main"})

	// Then: both read the index while holding the lease, and release it
	require.NoError(t, symErr)
	require.NoError(t, searchErr)
	assert.True(t, e.symbols.wasLeased)
	assert.True(t, e.searcher.wasLeased)
	assert.False(t, e.gate.leased)
}

func TestSearchFiles(t *testing.T) {
	e := newTestEnv(t)
	base := e.indexer.project.BasePath
	e.searcher.hits = []provider.Hit{
		{Path: filepath.Join(base, "README.md"), Score: 1.5},
		{Path: "docs/guide.md", Score: 0.5},
	}

	_, out, err := e.server.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "install"})

	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Equal(t, "README.md", out.Results[0].FilePath)
	assert.Equal(t, "docs/guide.md", out.Results[1].FilePath)
}

func TestSearchFiles_RequiresQuery(t *testing.T) {
	e := newTestEnv(t)

	_, _, err := e.server.mcpSearchHandler(context.Background(), nil, SearchInput{})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestSearchFiles_SearchErrorIsMapped(t *testing.T) {
	e := newTestEnv(t)
	e.searcher.err = context.DeadlineExceeded

	_, _, err := e.server.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "x"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeTimeout, mcpErr.Code)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0, 10, 1, 100))
	assert.Equal(t, 10, clampLimit(-3, 10, 1, 100))
	assert.Equal(t, 5, clampLimit(5, 10, 1, 100))
	assert.Equal(t, 100, clampLimit(500, 10, 1, 100))
}
