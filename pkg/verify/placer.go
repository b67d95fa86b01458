package verify

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/calvinalkan/bitcheck/pkg/fs"
)

// Placer moves staged files into the target directory without touching
// their content.
type Placer struct {
	fs        fs.FS
	targetDir string
	strict    bool
	log       *slog.Logger
}

// NewPlacer returns a Placer for targetDir. With strict set, a cross-device
// rename is a fatal [KindPlacement] error; otherwise the file is copied.
func NewPlacer(fsys fs.FS, targetDir string, strict bool, log *slog.Logger) *Placer {
	if log == nil {
		log = discardLogger()
	}

	return &Placer{fs: fsys, targetDir: targetDir, strict: strict, log: log}
}

// Place moves stagingPath into the target directory under the same base name
// and returns the new path. After Place returns nil the staging copy is gone.
//
// The content is never hashed here. When the staging area is on another
// filesystem the bytes are streamed into a temp file next to the target and
// renamed into place, then the staging copy is removed.
func (p *Placer) Place(stagingPath string) (string, error) {
	target := filepath.Join(p.targetDir, filepath.Base(stagingPath))

	err := p.fs.Rename(stagingPath, target)
	if err == nil {
		return target, nil
	}

	if p.strict || !errors.Is(err, syscall.EXDEV) {
		return "", newError(KindPlacement, "rename", stagingPath, err)
	}

	p.log.Debug("cross-device placement, copying", "path", stagingPath, "target", target)

	err = p.copyAcross(stagingPath, target)
	if err != nil {
		return "", newError(KindPlacement, "copy", stagingPath, err)
	}

	return target, nil
}

func (p *Placer) copyAcross(src, dst string) error {
	f, err := p.fs.Open(src)
	if err != nil {
		return err
	}

	// Directory durability is left to the pass barrier.
	writeErr := fs.NewAtomicWriter(p.fs).Write(dst, f, fs.AtomicWriteOptions{Perm: 0o600})
	closeErr := f.Close()

	if writeErr != nil {
		return fmt.Errorf("write %s: %w", dst, writeErr)
	}

	if closeErr != nil {
		return closeErr
	}

	err = p.fs.Remove(src)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staging copy: %w", err)
	}

	return nil
}
