//go:build !unix

package vfs

import "os"

const openFlags = os.O_RDONLY
