//go:build linux

package verify

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/calvinalkan/bitcheck/pkg/fs"
)

// SyncfsBarrier commits the whole filesystem holding dir with syncfs(2).
// One call covers every placed file.
type SyncfsBarrier struct {
	fs fs.FS
}

// NewSyncfsBarrier returns a barrier that opens dir through fsys.
func NewSyncfsBarrier(fsys fs.FS) *SyncfsBarrier {
	return &SyncfsBarrier{fs: fsys}
}

// Sync calls syncfs on dir. files is unused.
func (b *SyncfsBarrier) Sync(dir string, _ []string) error {
	d, err := b.fs.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	err = unix.Syncfs(int(d.Fd()))
	if err != nil {
		return fmt.Errorf("syncfs %s: %w", dir, err)
	}

	return nil
}

func defaultBarrier(fsys fs.FS) Barrier {
	return NewSyncfsBarrier(fsys)
}
