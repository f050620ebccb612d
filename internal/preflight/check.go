package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/amanidx/internal/config"
	"github.com/Aman-CERP/amanidx/internal/project"
)

// CheckStatus is the outcome of one check.
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the status by name for --json output.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText decodes a status name written by MarshalText.
func (s *CheckStatus) UnmarshalText(text []byte) error {
	for _, c := range []CheckStatus{StatusPass, StatusWarn, StatusFail} {
		if strings.EqualFold(string(text), c.String()) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown check status %q", text)
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Checker runs the environment checks of one project.
type Checker struct {
	cfg     *config.Config
	verbose bool
	output  io.Writer
}

type Option func(*Checker)

// WithConfig validates cfg as part of RunAll.
func WithConfig(cfg *config.Config) Option {
	return func(c *Checker) { c.cfg = cfg }
}

// WithVerbose prints details below each result.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

func New(opts ...Option) *Checker {
	c := &Checker{output: os.Stdout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against the project rooted at root.
func (c *Checker) RunAll(_ context.Context, root string) []CheckResult {
	dataDir := filepath.Join(root, project.DataDirName)
	results := []CheckResult{
		c.CheckWritePermissions(dataDir),
		c.CheckDiskSpace(root),
		c.CheckFileDescriptors(),
		c.CheckWatchLimit(),
	}
	if c.cfg != nil {
		results = append(results, c.CheckConfig(c.cfg))
	}
	return results
}

// HasCriticalFailures returns true if any required check failed.
func HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus is "failed", "ready_with_warnings" or "ready".
func SummaryStatus(results []CheckResult) string {
	warnings := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warnings = true
		}
	}
	if warnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints results followed by the summary status.
func (c *Checker) PrintResults(results []CheckResult) {
	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if r.Details != "" && (c.verbose || r.Status != StatusPass) {
			_, _ = fmt.Fprintf(c.output, "       %s\n", r.Details)
		}
	}
	_, _ = fmt.Fprintf(c.output, "\nStatus: %s\n", strings.ToUpper(SummaryStatus(results)))
}

// CheckWritePermissions checks that the data directory can be created
// and written.
func (c *Checker) CheckWritePermissions(dataDir string) CheckResult {
	result := CheckResult{Name: "write_permissions", Required: true}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", dataDir, err)
		return result
	}
	f, err := os.CreateTemp(dataDir, ".preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckConfig validates the loaded configuration.
func (c *Checker) CheckConfig(cfg *config.Config) CheckResult {
	result := CheckResult{Name: "config", Required: true}
	if err := cfg.Validate(); err != nil {
		result.Status = StatusFail
		result.Message = err.Error()
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d providers, %d threads", len(cfg.Indexing.Providers), cfg.IndexingThreads())
	return result
}

// IndexState is what CheckIndex needs to know about the stored index.
type IndexState struct {
	Files      int
	Current    bool
	Incomplete bool
	Watcher    string
}

// CheckIndex reports whether the next start rebuilds the index.
func CheckIndex(st IndexState) CheckResult {
	result := CheckResult{Name: "index", Status: StatusPass}
	switch {
	case st.Files == 0:
		result.Status = StatusWarn
		result.Message = "not built"
		result.Details = "Run 'amanidx index' to build it"
	case st.Incomplete:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d files, previous build did not finish", st.Files)
		result.Details = "The next start rebuilds the index"
	case !st.Current:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d files, format is outdated", st.Files)
		result.Details = "The next start rebuilds the index"
	default:
		result.Message = fmt.Sprintf("%d files", st.Files)
	}
	if st.Watcher != "" {
		result.Message += ", watcher " + st.Watcher
	}
	return result
}
