package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config describes the process log.
type Config struct {
	// Level is debug, info, warn or error.
	Level    string
	FilePath string

	// MaxSizeMB triggers rotation. MaxFiles rotated files are kept.
	MaxSizeMB int
	MaxFiles  int

	// Tee receives a copy of every line when set. Never stdout for serve.
	Tee io.Writer
}

// DefaultConfig logs at info, or debug when debug is set, to LogPath.
func DefaultConfig(debug bool) Config {
	cfg := Config{
		Level:     "info",
		FilePath:  LogPath(),
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
	if debug {
		cfg.Level = "debug"
	}
	return cfg
}

// Setup builds a JSON logger writing to a rotating file. Every record
// carries the process id because index, watch and serve runs share the
// file. The returned cleanup flushes and closes it.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if cfg.FilePath == "" {
		return nil, nil, fmt.Errorf("log file path is empty")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 5
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = writer
	if cfg.Tee != nil {
		out = io.MultiWriter(writer, cfg.Tee)
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: LevelFromString(cfg.Level),
	})).With(slog.Int("pid", os.Getpid()))

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return logger, cleanup, nil
}

// Install sets up cfg and makes it the slog default.
func Install(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	logger.Debug("logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return cleanup, nil
}

// LevelFromString parses a level name. Unknown names are info.
func LevelFromString(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
