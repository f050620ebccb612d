package mcp

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Project  ProjectInfo       `json:"project"`
	State    string            `json:"state" jsonschema:"usable, or rebuilding while readers are gated"`
	Stats    IndexStats        `json:"stats"`
	Changes  PendingChanges    `json:"changes"`
	Indexing *IndexingProgress `json:"indexing,omitempty"` // Present while a task runs
}

// ProjectInfo contains information about the indexed project.
type ProjectInfo struct {
	Name     string `json:"name"`
	ID       string `json:"id"`
	RootPath string `json:"root_path"`
}

// IndexStats contains statistics about the index.
type IndexStats struct {
	FileCount      int    `json:"file_count"`
	SymbolCount    int    `json:"symbol_count"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
	LastIndexed    string `json:"last_indexed,omitempty"`
	Current        bool   `json:"current" jsonschema:"false when the index was built by an incompatible version"`
	Incomplete     bool   `json:"incomplete" jsonschema:"true when the last full build did not finish"`
}

// PendingChanges counts tracked changes not yet indexed.
type PendingChanges struct {
	Dirty       int `json:"dirty"`
	Removed     int `json:"removed"`
	QueuedTasks int `json:"queued_tasks"`
}

// IndexingProgress describes the running task.
type IndexingProgress struct {
	Task           string  `json:"task"`
	Text           string  `json:"text,omitempty"`
	CurrentFile    string  `json:"current_file,omitempty"`
	ProgressPct    float64 `json:"progress_pct"`
	Indeterminate  bool    `json:"indeterminate"`
	ElapsedSeconds int     `json:"elapsed_seconds"`
}

// ReindexInput defines the input schema for the reindex_changed tool.
type ReindexInput struct {
	Rescan bool `json:"rescan,omitempty" jsonschema:"rescan the whole tree for changes instead of indexing the tracked ones"`
}

// ReindexOutput defines the output schema for the reindex_changed tool.
type ReindexOutput struct {
	Queued  bool   `json:"queued" jsonschema:"true when a task was queued"`
	Gating  bool   `json:"gating" jsonschema:"true when the queued task gates readers until it finishes"`
	Message string `json:"message"`
}

// RebuildInput defines the input schema for the rebuild_index tool.
type RebuildInput struct {
	Confirm bool `json:"confirm" jsonschema:"must be true; the index is dropped before rebuilding"`
}

// HistoryInput defines the input schema for the indexing_history tool.
type HistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of jobs, default 10"`
}

// HistoryOutput defines the output schema for the indexing_history tool.
type HistoryOutput struct {
	Jobs []JobOutput `json:"jobs"`
}

// JobOutput is one finished indexing job, newest first.
type JobOutput struct {
	JobID       string  `json:"job_id"`
	Label       string  `json:"label"`
	StartedAt   string  `json:"started_at"`
	DurationMs  int64   `json:"duration_ms"`
	Files       int     `json:"files"`
	Skipped     int     `json:"skipped"`
	Removed     int     `json:"removed"`
	Failures    int     `json:"failures"`
	Interrupted bool    `json:"interrupted"`
	Error       string  `json:"error,omitempty"`
	FilesPerSec float64 `json:"files_per_sec,omitempty"`
}

// FindSymbolsInput defines the input schema for the find_symbols tool.
type FindSymbolsInput struct {
	Prefix string `json:"prefix" jsonschema:"symbol name prefix"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of symbols, default 20"`
}

// FindSymbolsOutput defines the output schema for the find_symbols tool.
type FindSymbolsOutput struct {
	Symbols []SymbolOutput `json:"symbols"`
}

// SymbolOutput is one indexed declaration.
type SymbolOutput struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Path string `json:"path" jsonschema:"file path relative to project root"`
	Line int    `json:"line"`
}

// SearchInput defines the input schema for the search_files tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"full-text query over file contents"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchOutput defines the output schema for the search_files tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
}

// SearchResultOutput is one matching file.
type SearchResultOutput struct {
	FilePath string  `json:"file_path" jsonschema:"file path relative to project root"`
	Score    float64 `json:"score"`
}
