package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanidx/internal/diagnostic"
	"github.com/Aman-CERP/amanidx/internal/handler"
	"github.com/Aman-CERP/amanidx/internal/project"
	"github.com/Aman-CERP/amanidx/internal/provider"
	"github.com/Aman-CERP/amanidx/internal/store"
	"github.com/Aman-CERP/amanidx/pkg/version"
)

// Limits of the listing tools.
const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
	defaultSymbolLimit  = 20
	defaultSearchLimit  = 10
	maxResultLimit      = 200
)

// StatusResourceURI is the URI of the status resource.
const StatusResourceURI = "amanidx://status"

// Indexer is the part of handler.Handler the server drives.
type Indexer interface {
	Project() *project.Project
	Status(ctx context.Context) (handler.Status, error)
	IndexChangedFiles(ctx context.Context) bool
	Reconcile() bool
	Rebuild() bool
}

// Gate admits readers of the index. Use runs fn while no gating task can
// start, or fails with ErrIndexNotReady while the project is rebuilding.
type Gate interface {
	Use(p *project.Project, fn func() error) error
}

// HistorySource lists finished indexing jobs, newest first.
type HistorySource interface {
	Recent(ctx context.Context, projectID string, limit int) ([]diagnostic.History, error)
}

// SymbolFinder looks up indexed declarations.
type SymbolFinder interface {
	FindSymbols(ctx context.Context, projectID, prefix string, limit int) ([]store.Symbol, error)
}

// Searcher runs full-text queries. provider.FullText implements it.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]provider.Hit, error)
}

// Deps contains the collaborators of a Server. Indexer and Gate are
// required; tools whose collaborator is nil are not registered.
type Deps struct {
	Indexer  Indexer
	Gate     Gate
	History  HistorySource
	Symbols  SymbolFinder
	FullText Searcher
}

// Server is the MCP server of one project.
type Server struct {
	mcp    *mcp.Server
	deps   Deps
	logger *slog.Logger
	tools  []string
}

// NewServer creates a new MCP server.
func NewServer(deps Deps) (*Server, error) {
	if deps.Indexer == nil {
		return nil, errors.New("indexer is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("gate is required")
	}

	s := &Server{
		deps:   deps,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    version.Name,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerStatusResource()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Tools returns the names of the registered tools in registration order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Report whether the project's index is usable or being rebuilt, how many files it holds, pending changes and the progress of the running indexing task.",
	}, s.mcpIndexStatusHandler)
	s.tools = append(s.tools, "index_status")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex_changed",
		Description: "Index the files changed since the last indexing run. Small change sets are indexed in the background; large ones gate readers until done. Set rescan to walk the whole tree first.",
	}, s.mcpReindexHandler)
	s.tools = append(s.tools, "reindex_changed")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rebuild_index",
		Description: "Drop the project's index and rebuild it from scratch. Readers are gated until the rebuild finishes.",
	}, s.mcpRebuildHandler)
	s.tools = append(s.tools, "rebuild_index")

	if s.deps.History != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "indexing_history",
			Description: "List recent indexing jobs with their duration, file counts, failures and whether they were interrupted.",
		}, s.mcpHistoryHandler)
		s.tools = append(s.tools, "indexing_history")
	}

	if s.deps.Symbols != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "find_symbols",
			Description: "Find functions, types and methods whose name starts with a prefix. Fails while the index is being rebuilt.",
		}, s.mcpFindSymbolsHandler)
		s.tools = append(s.tools, "find_symbols")
	}

	if s.deps.FullText != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "search_files",
			Description: "Full-text search over indexed file contents. Fails while the index is being rebuilt.",
		}, s.mcpSearchHandler)
		s.tools = append(s.tools, "search_files")
	}

	s.logger.Info("MCP tools registered", slog.Int("count", len(s.tools)))
}

func (s *Server) registerStatusResource() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "status",
		URI:         StatusResourceURI,
		Description: "Index status of " + s.deps.Indexer.Project().Name,
		MIMEType:    "application/json",
	}, func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		out, err := s.handleIndexStatus(ctx)
		if err != nil {
			return nil, MapError(err)
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, MapError(err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      StatusResourceURI,
				MIMEType: "application/json",
				Text:     string(data),
			}},
		}, nil
	})
}

func (s *Server) handleIndexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	st, err := s.deps.Indexer.Status(ctx)
	if err != nil {
		return nil, err
	}

	out := &IndexStatusOutput{
		Project: ProjectInfo{Name: st.ProjectName, ID: st.ProjectID, RootPath: st.BasePath},
		State:   st.State,
		Stats: IndexStats{
			FileCount:      st.IndexedFiles,
			SymbolCount:    st.Symbols,
			IndexSizeBytes: st.StoreSize,
			Current:        st.IndexCurrent,
			Incomplete:     st.Incomplete,
		},
		Changes: PendingChanges{
			Dirty:       st.PendingDirty,
			Removed:     st.PendingRemoved,
			QueuedTasks: st.QueuedTasks,
		},
	}
	if !st.LastIndexed.IsZero() {
		out.Stats.LastIndexed = st.LastIndexed.Format(time.RFC3339)
	}
	if snap := st.Progress; snap != nil {
		out.Indexing = &IndexingProgress{
			Task:           st.Task,
			Text:           snap.Text,
			CurrentFile:    snap.Text2,
			ProgressPct:    snap.ProgressPct,
			Indeterminate:  snap.Indeterminate,
			ElapsedSeconds: snap.ElapsedSeconds,
		}
	}
	return out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	out, err := s.handleIndexStatus(ctx)
	if err != nil {
		return nil, IndexStatusOutput{}, MapError(err)
	}
	return nil, *out, nil
}

func (s *Server) mcpReindexHandler(ctx context.Context, _ *mcp.CallToolRequest, input ReindexInput) (
	*mcp.CallToolResult,
	ReindexOutput,
	error,
) {
	requestID := generateRequestID()
	idx := s.deps.Indexer

	if input.Rescan {
		queued := idx.Reconcile()
		s.logger.Info("reindex_changed",
			slog.String("request_id", requestID),
			slog.Bool("rescan", true),
			slog.Bool("queued", queued))
		msg := "Rescan queued."
		if !queued {
			msg = "Project is closing; nothing was queued."
		}
		return nil, ReindexOutput{Queued: queued, Message: msg}, nil
	}

	st, err := idx.Status(ctx)
	if err != nil {
		return nil, ReindexOutput{}, MapError(err)
	}
	if st.PendingDirty == 0 && st.PendingRemoved == 0 {
		return nil, ReindexOutput{Message: "No tracked changes."}, nil
	}

	gating := idx.IndexChangedFiles(ctx)
	s.logger.Info("reindex_changed",
		slog.String("request_id", requestID),
		slog.Int("dirty", st.PendingDirty),
		slog.Int("removed", st.PendingRemoved),
		slog.Bool("gating", gating))

	msg := fmt.Sprintf("Indexing %d changed and %d removed files in the background.", st.PendingDirty, st.PendingRemoved)
	if gating {
		msg = fmt.Sprintf("Indexing %d changed and %d removed files; the index is unavailable until done.", st.PendingDirty, st.PendingRemoved)
	}
	return nil, ReindexOutput{Queued: true, Gating: gating, Message: msg}, nil
}

func (s *Server) mcpRebuildHandler(_ context.Context, _ *mcp.CallToolRequest, input RebuildInput) (
	*mcp.CallToolResult,
	ReindexOutput,
	error,
) {
	if !input.Confirm {
		return nil, ReindexOutput{}, NewInvalidParamsError("confirm must be true to drop and rebuild the index")
	}
	queued := s.deps.Indexer.Rebuild()
	s.logger.Info("rebuild_index", slog.Bool("queued", queued))
	if !queued {
		return nil, ReindexOutput{Message: "Project is closing; nothing was queued."}, nil
	}
	return nil, ReindexOutput{Queued: true, Gating: true, Message: "Rebuild queued."}, nil
}

func (s *Server) mcpHistoryHandler(ctx context.Context, _ *mcp.CallToolRequest, input HistoryInput) (
	*mcp.CallToolResult,
	HistoryOutput,
	error,
) {
	limit := clampLimit(input.Limit, defaultHistoryLimit, 1, maxHistoryLimit)
	p := s.deps.Indexer.Project()

	histories, err := s.deps.History.Recent(ctx, p.ID, limit)
	if err != nil {
		return nil, HistoryOutput{}, MapError(err)
	}

	out := HistoryOutput{Jobs: make([]JobOutput, 0, len(histories))}
	for _, h := range histories {
		out.Jobs = append(out.Jobs, toJobOutput(h))
	}
	return nil, out, nil
}

func toJobOutput(h diagnostic.History) JobOutput {
	d := h.Duration()
	job := JobOutput{
		JobID:       h.JobID,
		Label:       h.Label,
		StartedAt:   h.Times.IndexingStart.Format(time.RFC3339),
		DurationMs:  d.Milliseconds(),
		Files:       h.Files,
		Skipped:     h.Skipped,
		Removed:     h.Removed,
		Failures:    len(h.Failures),
		Interrupted: h.Times.WasInterrupted,
		Error:       h.Error,
	}
	if d > 0 && h.Files > 0 {
		job.FilesPerSec = float64(h.Files) / d.Seconds()
	}
	return job
}

func (s *Server) mcpFindSymbolsHandler(ctx context.Context, _ *mcp.CallToolRequest, input FindSymbolsInput) (
	*mcp.CallToolResult,
	FindSymbolsOutput,
	error,
) {
	if input.Prefix == "" {
		return nil, FindSymbolsOutput{}, NewInvalidParamsError("prefix parameter is required")
	}
	p := s.deps.Indexer.Project()
	limit := clampLimit(input.Limit, defaultSymbolLimit, 1, maxResultLimit)
	var syms []store.Symbol
	err := s.deps.Gate.Use(p, func() error {
		var err error
		syms, err = s.deps.Symbols.FindSymbols(ctx, p.ID, input.Prefix, limit)
		return err
	})
	if err != nil {
		return nil, FindSymbolsOutput{}, MapError(err)
	}

	out := FindSymbolsOutput{Symbols: make([]SymbolOutput, 0, len(syms))}
	for _, sym := range syms {
		out.Symbols = append(out.Symbols, SymbolOutput{
			Name: sym.Name,
			Kind: sym.Kind,
			Path: relPath(p, sym.Path),
			Line: sym.Line,
		})
	}
	return nil, out, nil
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	p := s.deps.Indexer.Project()
	limit := clampLimit(input.Limit, defaultSearchLimit, 1, maxResultLimit)
	var hits []provider.Hit
	err := s.deps.Gate.Use(p, func() error {
		var err error
		hits, err = s.deps.FullText.Search(ctx, input.Query, limit)
		return err
	})
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(hits))}
	for _, h := range hits {
		out.Results = append(out.Results, SearchResultOutput{FilePath: relPath(p, h.Path), Score: h.Score})
	}
	return nil, out, nil
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

func relPath(p *project.Project, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	if rel, ok := p.Rel(path); ok {
		return rel
	}
	return filepath.ToSlash(path)
}

func clampLimit(limit, defaultVal, lo, hi int) int {
	if limit <= 0 {
		return defaultVal
	}
	return max(lo, min(limit, hi))
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
