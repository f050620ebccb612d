// Package vfs provides the file identity used across the indexer. A File
// is a stable handle on a path whose validity is re-checked on demand, so a
// file deleted after enumeration is seen as invalid when a worker picks it
// up.
package vfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// File is the identity of a file or directory in the project tree.
type File interface {
	// Path is the absolute, cleaned path.
	Path() string
	// Valid reports whether the file still exists as a regular file or a
	// directory. Pipes, sockets and devices are never valid.
	Valid() bool
	IsDir() bool
	// Length is the size in bytes, 0 for invalid files and directories.
	Length() int64
}

// LocalFile is a File backed by the local filesystem.
type LocalFile struct {
	path string
}

// NewLocalFile returns a handle on path. The path is made absolute.
func NewLocalFile(path string) *LocalFile {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &LocalFile{path: filepath.Clean(path)}
}

func (f *LocalFile) Path() string { return f.path }

func (f *LocalFile) stat() (fs.FileInfo, bool) {
	info, err := os.Stat(f.path)
	if err != nil || !(info.Mode().IsRegular() || info.IsDir()) {
		return nil, false
	}
	return info, true
}

func (f *LocalFile) Valid() bool {
	_, ok := f.stat()
	return ok
}

func (f *LocalFile) IsDir() bool {
	info, ok := f.stat()
	return ok && info.IsDir()
}

func (f *LocalFile) Length() int64 {
	info, ok := f.stat()
	if !ok || info.IsDir() {
		return 0
	}
	return info.Size()
}

// ModTime returns the modification time, zero when the file is gone.
func (f *LocalFile) ModTime() time.Time {
	info, ok := f.stat()
	if !ok {
		return time.Time{}
	}
	return info.ModTime()
}

func (f *LocalFile) String() string { return f.path }

// ErrNotRegular is returned by ReadContent for pipes, sockets and devices.
var ErrNotRegular = errors.New("not a regular file")

// ReadContent reads the full content of file. Directories and files that
// no longer exist return fs.ErrNotExist.
func ReadContent(file File) ([]byte, error) {
	if !file.Valid() || file.IsDir() {
		return nil, fs.ErrNotExist
	}
	f, err := OpenRegular(file.Path())
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// OpenRegular opens path for reading and fails with ErrNotRegular unless it
// is a regular file. The open never blocks and the check runs on the open
// handle, so a path swapped for a FIFO after enumeration is refused
// instead of hanging the reader.
func OpenRegular(path string) (*os.File, error) {
	f, err := os.OpenFile(path, openFlags, 0)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		if info.IsDir() {
			return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
		}
		return nil, &fs.PathError{Op: "open", Path: path, Err: ErrNotRegular}
	}
	return f, nil
}

// Paths returns the paths of files, in order.
func Paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path()
	}
	return out
}
