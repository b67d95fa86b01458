package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/bitcheck/pkg/digest"
	"github.com/calvinalkan/bitcheck/pkg/entropy"
	"github.com/calvinalkan/bitcheck/pkg/fs"
)

// Config describes one run. TargetDir, StagingRoot, Budget, Source and
// Digester are required; everything else has a default.
type Config struct {
	// TargetDir is the directory under test.
	TargetDir string

	// StagingRoot is a memory-backed directory. The run creates and removes
	// its own subdirectory in it.
	StagingRoot string

	Budget Budget

	// Passes is the number of passes to run. 0 runs until the context is
	// done or the run is interrupted.
	Passes int

	// Workers bounds parallel file generation within a pass. Default 1.
	Workers int

	// StrictRename makes a cross-device placement fatal instead of copying.
	StrictRename bool

	// KeepFailed leaves mismatched files in TargetDir.
	KeepFailed bool

	Source   entropy.Source
	Digester *digest.Digester

	// FS defaults to [fs.Real].
	FS fs.FS

	// Invalidator and Barrier default to the platform implementation.
	Invalidator Invalidator
	Barrier     Barrier

	Logger   *slog.Logger
	Observer Observer

	// Tag overrides the generated run tag.
	Tag string

	// Sizes overrides the source of random file sizes. *rand.Rand works.
	Sizes interface{ Int64N(n int64) int64 }
}

// Controller runs passes and owns cancellation and teardown.
type Controller struct {
	fs          fs.FS
	targetDir   string
	stagingDir  string
	passes      int
	tag         runTag
	log         *slog.Logger
	obs         Observer
	engine      *passEngine
	interrupted atomic.Bool

	teardownMu sync.Mutex

	keptMu sync.Mutex
	kept   map[string]bool
}

// New validates cfg and returns a Controller. All errors are [KindSetup].
func New(cfg Config) (*Controller, error) {
	err := cfg.Budget.Validate()
	if err != nil {
		return nil, newError(KindSetup, "budget", "", err)
	}

	if cfg.Passes < 0 {
		return nil, newError(KindSetup, "passes", "", fmt.Errorf("must not be negative, got %d", cfg.Passes))
	}

	if cfg.Source == nil {
		return nil, newError(KindSetup, "entropy", "", errors.New("no entropy source"))
	}

	if cfg.Digester == nil {
		return nil, newError(KindSetup, "digest", "", errors.New("no digest"))
	}

	fsys := cfg.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	for _, dir := range []string{cfg.TargetDir, cfg.StagingRoot} {
		err = checkDir(fsys, dir)
		if err != nil {
			return nil, err
		}
	}

	inv := cfg.Invalidator
	if inv == nil {
		inv, err = defaultInvalidator(fsys)
		if err != nil {
			return nil, newError(KindSetup, "cache bypass", "", err)
		}
	}

	barrier := cfg.Barrier
	if barrier == nil {
		barrier = defaultBarrier(fsys)
	}

	log := cfg.Logger
	if log == nil {
		log = discardLogger()
	}

	obs := cfg.Observer
	if obs == nil {
		obs = NopObserver{}
	}

	var sizes sizer = globalSizer{}
	if cfg.Sizes != nil {
		sizes = cfg.Sizes
	}

	workers := max(cfg.Workers, 1)

	tag := runTag(cfg.Tag)
	if tag == "" {
		tag = runTag(newTag())
	}

	log = log.With("run", string(tag))
	stagingDir := filepath.Join(cfg.StagingRoot, tag.stagingDirName())

	c := &Controller{
		fs:         fsys,
		targetDir:  cfg.TargetDir,
		stagingDir: stagingDir,
		passes:     cfg.Passes,
		tag:        tag,
		log:        log,
		obs:        obs,
		kept:       map[string]bool{},
	}

	c.engine = &passEngine{
		fs:          fsys,
		targetDir:   cfg.TargetDir,
		budget:      cfg.Budget,
		workers:     workers,
		keepFailed:  cfg.KeepFailed,
		tag:         tag,
		sizes:       sizes,
		staging:     NewStagingWriter(fsys, stagingDir, cfg.Source, cfg.Digester),
		placer:      NewPlacer(fsys, cfg.TargetDir, cfg.StrictRename, log),
		invalidator: inv,
		barrier:     barrier,
		digester:    cfg.Digester,
		obs:         obs,
		log:         log,
		interrupted: &c.interrupted,
		keep:        c.keep,
	}

	return c, nil
}

// Tag returns the run tag embedded in every file name of this run.
func (c *Controller) Tag() string { return string(c.tag) }

// StagingDir returns the run's staging directory.
func (c *Controller) StagingDir() string { return c.stagingDir }

// Run executes passes until the pass count is reached, ctx is done (checked
// between passes), [Controller.Interrupt] is called, or a fatal error occurs.
// Teardown always runs before Run returns.
//
// The returned error is non-nil only for [OutcomeFailed].
func (c *Controller) Run(ctx context.Context) (Result, error) {
	var (
		res   Result
		fatal error
	)

	c.log.Info("run started", "target", c.targetDir, "staging", c.stagingDir, "passes", c.passes)

	err := c.fs.Mkdir(c.stagingDir, 0o700)
	if err != nil {
		fatal = newError(KindSetup, "create staging dir", c.stagingDir, err)
	}

	for i := 1; fatal == nil && (c.passes == 0 || i <= c.passes); i++ {
		if c.interrupted.Load() {
			break
		}

		if ctx.Err() != nil {
			res.Stopped = true

			break
		}

		pass, err := c.engine.run(ctx, i)
		if err != nil {
			// Mismatches found before the error were already reported.
			res.Summary.AddPartial(pass)
			fatal = err

			break
		}

		res.Summary.Add(pass)
		c.obs.OnPassDone(pass)

		c.log.Info("pass done", "pass", i, "files", len(pass.Files), "size", pass.Bytes, "mismatches", len(pass.Mismatches),
			"elapsed", pass.GenerateElapsed+pass.SyncElapsed+pass.VerifyElapsed)
	}

	res.CleanupErr = c.teardown()

	switch {
	case c.interrupted.Load():
		// Errors after an interrupt are usually caused by teardown pulling
		// files out from under the pass.
		if fatal != nil && !errors.Is(fatal, errInterrupted) {
			c.log.Debug("error after interrupt", "error", fatal)
		}

		res.Outcome = OutcomeInterrupted
		fatal = nil
	case fatal != nil:
		res.Outcome = OutcomeFailed
	case res.Summary.TotalMismatches > 0:
		res.Outcome = OutcomeMismatch
	case res.Stopped:
		res.Outcome = OutcomeCancelled
	default:
		res.Outcome = OutcomeOK
	}

	c.log.Info("run finished", "outcome", res.Outcome, "passes", res.Summary.PassesCompleted,
		"files", res.Summary.TotalFiles, "size", res.Summary.TotalBytes, "mismatches", res.Summary.TotalMismatches)

	return res, fatal
}

// Interrupt stops the run as soon as possible and removes run files right
// away. It is safe to call from a signal handler goroutine, more than once,
// and before or after Run.
func (c *Controller) Interrupt() error {
	c.interrupted.Store(true)

	return c.teardown()
}

// Interrupted reports whether Interrupt was called.
func (c *Controller) Interrupted() bool {
	return c.interrupted.Load()
}

// teardown removes the staging run directory and every file in the target
// directory owned by this run, except files kept for inspection. Missing
// files are not errors, so it can run any number of times.
func (c *Controller) teardown() error {
	c.teardownMu.Lock()
	defer c.teardownMu.Unlock()

	var errs []error

	err := c.fs.RemoveAll(c.stagingDir)
	if err != nil {
		errs = append(errs, newError(KindCleanup, "remove staging dir", c.stagingDir, err))
	}

	entries, err := c.fs.ReadDir(c.targetDir)
	if err != nil && !os.IsNotExist(err) {
		errs = append(errs, newError(KindCleanup, "list target dir", c.targetDir, err))
	}

	for _, entry := range entries {
		if entry.IsDir() || !c.tag.owns(entry.Name()) {
			continue
		}

		path := filepath.Join(c.targetDir, entry.Name())
		if c.isKept(path) {
			continue
		}

		err := c.fs.Remove(path)
		if err != nil && !os.IsNotExist(err) {
			errs = append(errs, newError(KindCleanup, "remove", path, err))
		}
	}

	cleanupErr := errors.Join(errs...)
	if cleanupErr != nil {
		c.log.Warn("teardown incomplete", "error", cleanupErr)
	}

	return cleanupErr
}

func (c *Controller) keep(path string) {
	c.keptMu.Lock()
	c.kept[path] = true
	c.keptMu.Unlock()
}

func (c *Controller) isKept(path string) bool {
	c.keptMu.Lock()
	defer c.keptMu.Unlock()

	return c.kept[path]
}

func checkDir(fsys fs.FS, dir string) error {
	if dir == "" {
		return newError(KindSetup, "check dir", dir, errors.New("path is empty"))
	}

	info, err := fsys.Stat(dir)
	if err != nil {
		return newError(KindSetup, "check dir", dir, err)
	}

	if !info.IsDir() {
		return newError(KindSetup, "check dir", dir, errors.New("not a directory"))
	}

	return nil
}
