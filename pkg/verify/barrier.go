package verify

import (
	"errors"

	"github.com/calvinalkan/bitcheck/pkg/fs"
)

// Barrier makes every placed file durable before verification starts.
type Barrier interface {
	Sync(dir string, files []string) error
}

// FsyncBarrier fsyncs each file and then the directory.
type FsyncBarrier struct {
	fs fs.FS
}

// NewFsyncBarrier returns a barrier that opens files through fsys.
func NewFsyncBarrier(fsys fs.FS) *FsyncBarrier {
	return &FsyncBarrier{fs: fsys}
}

// Sync fsyncs files in order, then dir.
func (b *FsyncBarrier) Sync(dir string, files []string) error {
	for _, path := range files {
		f, err := b.fs.Open(path)
		if err != nil {
			return err
		}

		syncErr := f.Sync()
		closeErr := f.Close()

		if syncErr != nil || closeErr != nil {
			return errors.Join(syncErr, closeErr)
		}
	}

	return fs.SyncDir(b.fs, dir)
}
