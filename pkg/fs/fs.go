// Package fs is the filesystem seam between bitcheck's engine and the host.
//
//   - [FS] and [File]: the operations the engine performs
//   - [Real]: the host filesystem via package os
//   - [Chaos]: [Real] plus seeded fault injection, for tests
//   - [AtomicWriter]: temp file, fsync, rename, directory fsync
//
// Paths are OS paths as in package os, not the slash paths of io/fs.
//
//	fsys := fs.NewReal()
//	f, err := fsys.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	_, err = io.Copy(hasher, f)
package fs

import (
	"io"
	"os"
)

// File is an open file. [*os.File] satisfies it.
//
// Fd must return the real descriptor while the file is open: the engine
// passes it to fdatasync and posix_fadvise. Implementations must be safe for
// concurrent use.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	Fd() uintptr
	Name() string
	Stat() (os.FileInfo, error)
	Sync() error
	Chmod(mode os.FileMode) error
}

// FS is the set of filesystem calls made while generating, placing,
// verifying and cleaning up test files. Each method behaves like the os
// function of the same name, including error types, so callers can use
// os.IsNotExist, errors.Is(err, syscall.EXDEV) and similar checks.
//
// Implementations must be safe for concurrent use.
type FS interface {
	Open(path string) (File, error)

	// OpenFile is used with O_CREATE|O_EXCL for new test files and with
	// O_WRONLY (no truncation) to get a descriptor for cache invalidation.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// ReadDir returns entries sorted by name.
	ReadDir(path string) ([]os.DirEntry, error)

	Mkdir(path string, perm os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error

	// RemoveAll returns nil if path does not exist.
	RemoveAll(path string) error

	// Rename fails with EXDEV when oldpath and newpath are on different
	// filesystems.
	Rename(oldpath, newpath string) error
}

var _ File = (*os.File)(nil)
