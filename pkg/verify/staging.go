package verify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/calvinalkan/bitcheck/pkg/digest"
	"github.com/calvinalkan/bitcheck/pkg/entropy"
	"github.com/calvinalkan/bitcheck/pkg/fs"
)

var errStagingChanged = errors.New("staging copy differs from generated content")

// StagingWriter creates random files in a memory-backed directory and
// fingerprints them before they go anywhere near the device under test.
type StagingWriter struct {
	fs       fs.FS
	dir      string
	source   entropy.Source
	digester *digest.Digester
}

// NewStagingWriter returns a writer that creates files in dir.
func NewStagingWriter(fsys fs.FS, dir string, source entropy.Source, digester *digest.Digester) *StagingWriter {
	return &StagingWriter{fs: fsys, dir: dir, source: source, digester: digester}
}

// Write creates dir/name with exactly size random bytes and returns its path
// and digest.
//
// The digest is computed while the bytes are written and then confirmed by
// reading the staging copy back, so it describes what the staging area
// actually holds.
func (w *StagingWriter) Write(name string, size int64) (string, digest.Digest, error) {
	path := filepath.Join(w.dir, name)

	f, err := w.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", "", newError(KindGeneration, "create", path, err)
	}

	h := w.digester.New()

	n, copyErr := io.Copy(io.MultiWriter(f, h), w.source.Stream(size))
	closeErr := f.Close()

	if copyErr != nil {
		return "", "", newError(KindGeneration, "write", path, fmt.Errorf("after %d of %d bytes: %w", n, size, copyErr))
	}

	if n != size {
		return "", "", newError(KindGeneration, "write", path, fmt.Errorf("entropy source ended after %d of %d bytes", n, size))
	}

	if closeErr != nil {
		return "", "", newError(KindGeneration, "close", path, closeErr)
	}

	written := w.digester.Of(h)

	stored, err := w.sumFile(path, size)
	if err != nil {
		return "", "", err
	}

	if !digest.Equal(written, stored) {
		return "", "", newError(KindGeneration, "confirm", path, fmt.Errorf("%w: wrote %s, read %s", errStagingChanged, written, stored))
	}

	return path, written, nil
}

func (w *StagingWriter) sumFile(path string, size int64) (digest.Digest, error) {
	f, err := w.fs.Open(path)
	if err != nil {
		return "", newError(KindGeneration, "open", path, err)
	}
	defer f.Close()

	sum, err := w.digester.SumN(f, size)
	if err != nil {
		return "", newError(KindHash, "digest", path, err)
	}

	return sum, nil
}
