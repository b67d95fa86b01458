//go:build linux

package verify

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/bitcheck/pkg/fs"
)

// FadviseInvalidator flushes a file's dirty pages with fdatasync and then
// asks the kernel to drop the clean ones with POSIX_FADV_DONTNEED.
type FadviseInvalidator struct {
	fs fs.FS
}

// NewFadviseInvalidator returns an invalidator that opens files through fsys.
func NewFadviseInvalidator(fsys fs.FS) *FadviseInvalidator {
	return &FadviseInvalidator{fs: fsys}
}

// Invalidate opens path for writing (without truncating), fdatasyncs it and
// drops its page cache over the whole length.
func (i *FadviseInvalidator) Invalidate(path string) error {
	f, err := i.fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	fd := int(f.Fd())

	err = unix.Fdatasync(fd)
	if err != nil {
		return fmt.Errorf("fdatasync: %w", err)
	}

	err = unix.Fadvise(fd, 0, 0, unix.FADV_DONTNEED)
	if err != nil {
		return fmt.Errorf("fadvise: %w", err)
	}

	return nil
}

func defaultInvalidator(fsys fs.FS) (Invalidator, error) {
	return NewFadviseInvalidator(fsys), nil
}
