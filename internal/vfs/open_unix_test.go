//go:build unix

package vfs

import (
	"errors"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFile_FIFOIsNotValid(t *testing.T) {
	// Given: a named pipe nobody writes to
	path := filepath.Join(t.TempDir(), "pipe")
	require.NoError(t, syscall.Mkfifo(path, 0o644))
	f := NewLocalFile(path)

	// Then: it is not a valid file and has no length
	assert.False(t, f.Valid())
	assert.False(t, f.IsDir())
	assert.Equal(t, int64(0), f.Length())
}

// regularLooking claims validity so ReadContent reaches the open.
type regularLooking struct{ path string }

func (f regularLooking) Path() string  { return f.path }
func (f regularLooking) Valid() bool   { return true }
func (f regularLooking) IsDir() bool   { return false }
func (f regularLooking) Length() int64 { return 0 }

func TestReadContent_FIFODoesNotBlock(t *testing.T) {
	// Given: a FIFO behind a handle that still looks like a regular file,
	// as when the path is replaced after enumeration
	path := filepath.Join(t.TempDir(), "pipe")
	require.NoError(t, syscall.Mkfifo(path, 0o644))

	// When: its content is read
	done := make(chan error, 1)
	go func() {
		_, err := ReadContent(regularLooking{path: path})
		done <- err
	}()

	// Then: the read fails promptly with ErrNotRegular
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrNotRegular), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadContent blocked on a FIFO")
	}
}
