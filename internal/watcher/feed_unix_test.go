//go:build unix

package watcher

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_Apply_SkipsFIFO(t *testing.T) {
	// Given: a FIFO next to a regular file, and a feed tracking everything
	at := writeFiles(t, "a.go")
	require.NoError(t, syscall.Mkfifo(at("pipe.go"), 0o644))
	rec := &recordedChanges{}
	f := &Feed{ProjectID: "p", Changes: rec}

	// When
	r := f.Apply([]FileEvent{
		{Path: at("pipe.go"), Operation: OpCreate},
		{Path: at("a.go"), Operation: OpModify},
	})

	// Then: the FIFO is never tracked
	assert.Equal(t, 1, r.Dirty)
	assert.Equal(t, []string{at("a.go")}, rec.dirty)
}
