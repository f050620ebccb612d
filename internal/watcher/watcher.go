package watcher

import (
	"path/filepath"
	"time"

	"github.com/Aman-CERP/amanidx/internal/config"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted.
	OpDelete
	// OpRename indicates a file or directory was renamed away. The new
	// name arrives as OpCreate.
	OpRename
	// OpIgnoreRulesChange indicates a .gitignore file changed, so the set
	// of indexable files may have changed anywhere below it.
	OpIgnoreRulesChange
	// OpConfigChange indicates a project config file changed.
	OpConfigChange
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	case OpIgnoreRulesChange:
		return "IGNORE_RULES_CHANGE"
	case OpConfigChange:
		return "CONFIG_CHANGE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one file system event.
type FileEvent struct {
	// Path is absolute.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Filter excludes paths from watching. Paths are absolute.
type Filter interface {
	IsDirIgnored(path string) bool
	IsFileIgnored(path string) bool
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet time before a batch is emitted. 500ms.
	DebounceWindow time.Duration
	// PollInterval applies when fsnotify is unavailable. 5s.
	PollInterval time.Duration

	// Filter drops ignored paths. Nil keeps everything except the data
	// directory.
	Filter Filter

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 500 * time.Millisecond,
		PollInterval:   5 * time.Second,
	}
}

// OptionsFromConfig reads the watch section of cfg.
func OptionsFromConfig(cfg *config.Config, filter Filter) Options {
	opts := DefaultOptions()
	opts.DebounceWindow = cfg.WatchDebounceDuration()
	opts.Filter = filter
	return opts
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}

// isConfigFile reports whether path is a project config file.
func isConfigFile(path string) bool {
	switch filepath.Base(path) {
	case config.ProjectConfigName, config.ProjectConfigNameAlt:
		return true
	}
	return false
}
