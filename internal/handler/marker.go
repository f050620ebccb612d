package handler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IncompleteMarker exists in the data directory while an initial build
// runs. Finding it at startup means the last build never finished.
const IncompleteMarker = "indexing.incomplete"

// HasIncompleteMarker reports whether a build was left unfinished.
func HasIncompleteMarker(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, IncompleteMarker))
	return err == nil
}

func markIncomplete(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	content := []byte(time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dataDir, IncompleteMarker), content, 0o644)
}

func clearIncomplete(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, IncompleteMarker))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove marker file: %w", err)
	}
	return nil
}
