//go:build unix

package vfs

import (
	"os"
	"syscall"
)

// Opening a FIFO for reading blocks until a writer shows up unless
// O_NONBLOCK is set. Regular files ignore the flag.
const openFlags = os.O_RDONLY | syscall.O_NONBLOCK
