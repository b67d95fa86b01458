package verify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/calvinalkan/bitcheck/pkg/digest"
	"github.com/calvinalkan/bitcheck/pkg/fs"
)

// errInterrupted unwinds a pass after [Controller.Interrupt].
var errInterrupted = errors.New("interrupted")

type phase uint8

const (
	phaseGenerating phase = iota
	phaseSyncing
	phaseVerifying
	phaseDone
)

func (p phase) String() string {
	return [...]string{"generating", "syncing", "verifying", "done"}[p]
}

// passEngine runs a single pass. It holds no per-pass state; everything a
// pass produces lives in the returned [Pass].
type passEngine struct {
	fs          fs.FS
	targetDir   string
	budget      Budget
	workers     int
	keepFailed  bool
	tag         runTag
	sizes       sizer
	staging     *StagingWriter
	placer      *Placer
	invalidator Invalidator
	barrier     Barrier
	digester    *digest.Digester
	obs         Observer
	log         *slog.Logger
	interrupted *atomic.Bool

	// keep is called for files left in place by keepFailed.
	keep func(path string)
}

func (e *passEngine) run(ctx context.Context, index int) (Pass, error) {
	pass := Pass{Index: index}
	log := e.log.With("pass", index)

	log.Debug("pass phase", "phase", phaseGenerating)

	start := time.Now()
	files, err := e.generate(ctx, index, planSizes(e.sizes, e.budget))
	pass.GenerateElapsed = time.Since(start)
	pass.Files = files

	for _, f := range files {
		pass.Bytes += f.Size
	}

	if err != nil {
		return pass, err
	}

	log.Debug("pass phase", "phase", phaseSyncing, "files", len(files), "size", pass.Bytes)

	start = time.Now()

	err = e.barrier.Sync(e.targetDir, paths(files))
	if err != nil {
		return pass, newError(KindGeneration, "sync", e.targetDir, err)
	}

	pass.SyncElapsed = time.Since(start)

	log.Debug("pass phase", "phase", phaseVerifying)

	start = time.Now()
	pass.Mismatches, err = e.verify(index, files)
	pass.VerifyElapsed = time.Since(start)

	if err != nil {
		return pass, err
	}

	log.Debug("pass phase", "phase", phaseDone, "mismatches", len(pass.Mismatches))

	e.removePassFiles(pass)

	return pass, nil
}

// generate materializes one file per planned size. Results are stored by
// index so the returned slice is in generation order even with workers.
// Files that were placed before an error are still returned so the caller
// can account for them.
func (e *passEngine) generate(ctx context.Context, index int, sizes []int64) ([]TestFile, error) {
	slots := make([]TestFile, len(sizes))
	done := make([]bool, len(sizes))

	one := func(seq int) error {
		if e.interrupted.Load() {
			return errInterrupted
		}

		f, err := e.generateFile(index, seq, sizes[seq])
		if err != nil {
			return err
		}

		slots[seq] = f
		done[seq] = true
		e.obs.OnFileGenerated(index, f)

		return nil
	}

	var err error

	if e.workers <= 1 {
		for seq := range sizes {
			err = one(seq)
			if err != nil {
				break
			}
		}
	} else {
		p := pool.New().WithMaxGoroutines(e.workers).WithContext(context.WithoutCancel(ctx)).WithCancelOnError().WithFirstError()

		for seq := range sizes {
			p.Go(func(ctx context.Context) error {
				if ctx.Err() != nil {
					return nil
				}

				return one(seq)
			})
		}

		err = p.Wait()
	}

	files := make([]TestFile, 0, len(sizes))

	for i, f := range slots {
		if done[i] {
			files = append(files, f)
		}
	}

	return files, err
}

func (e *passEngine) generateFile(index, seq int, size int64) (TestFile, error) {
	stagingPath, sum, err := e.staging.Write(e.tag.fileName(index, seq+1), size)
	if err != nil {
		return TestFile{}, err
	}

	// sum is final from here on. Placement must not alter or re-hash it.
	target, err := e.placer.Place(stagingPath)
	if err != nil {
		return TestFile{}, err
	}

	e.log.Debug("file generated", "pass", index, "path", target, "size", size, "digest", sum)

	return TestFile{Path: target, Size: size, Expected: sum}, nil
}

// verify checks every file in order. Read failures and digest differences
// are mismatches; only a failed cache invalidation stops verification.
func (e *passEngine) verify(index int, files []TestFile) ([]Mismatch, error) {
	var mismatches []Mismatch

	for _, f := range files {
		if e.interrupted.Load() {
			return mismatches, errInterrupted
		}

		err := e.invalidator.Invalidate(f.Path)

		// Teardown may have removed the file while Invalidate was blocked.
		if e.interrupted.Load() {
			return mismatches, errInterrupted
		}

		if err != nil {
			return mismatches, newError(KindCacheInvalidation, "invalidate", f.Path, err)
		}

		actual, err := e.readBack(f)
		if err == nil && digest.Equal(f.Expected, actual) {
			e.obs.OnFileVerified(index, f, actual)

			continue
		}

		if e.interrupted.Load() {
			return mismatches, errInterrupted
		}

		m := Mismatch{File: f, Actual: actual, Err: err}
		mismatches = append(mismatches, m)

		e.log.Warn("mismatch", "pass", index, "path", f.Path, "expected", f.Expected, "actual", actual, "error", err)
		e.obs.OnMismatch(index, m)
	}

	return mismatches, nil
}

func (e *passEngine) readBack(f TestFile) (digest.Digest, error) {
	r, err := e.fs.Open(f.Path)
	if err != nil {
		return "", newError(KindHash, "open", f.Path, err)
	}
	defer r.Close()

	actual, n, err := e.digester.Sum(r)
	if err != nil {
		return "", newError(KindHash, "digest", f.Path, err)
	}

	if n != f.Size {
		return actual, newError(KindHash, "digest", f.Path, digest.ErrShortRead)
	}

	return actual, nil
}

func (e *passEngine) removePassFiles(p Pass) {
	failed := make(map[string]bool, len(p.Mismatches))
	if e.keepFailed {
		for _, m := range p.Mismatches {
			failed[m.File.Path] = true
		}
	}

	for _, f := range p.Files {
		if failed[f.Path] {
			e.keep(f.Path)
			e.log.Info("keeping mismatched file", "pass", p.Index, "path", f.Path)

			continue
		}

		err := e.fs.Remove(f.Path)
		if err != nil && !os.IsNotExist(err) {
			e.log.Warn("remove test file", "pass", p.Index, "path", f.Path, "error", newError(KindCleanup, "remove", f.Path, err))
		}
	}
}

func paths(files []TestFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}

	return out
}
