package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/bitcheck/internal/config"
	"github.com/calvinalkan/bitcheck/internal/logger"
	"github.com/calvinalkan/bitcheck/internal/metrics"
	"github.com/calvinalkan/bitcheck/pkg/digest"
	"github.com/calvinalkan/bitcheck/pkg/entropy"
	"github.com/calvinalkan/bitcheck/pkg/verify"
)

// interruptGrace is how long an interrupted run may take to unwind before
// the command gives up waiting. Run files are already gone by then.
const interruptGrace = 2 * time.Second

var errTooManyArgs = errors.New("too many arguments")

type runFlags struct {
	staging      string
	passes       int
	minSize      config.Size
	maxSize      config.Size
	bytesPerPass config.Size
	digest       string
	entropy      string
	workers      int
	duration     config.Duration
	strictRename bool
	keepFailed   bool
	report       string
	metricsAddr  string
	logLevel     string
	verbose      bool
	perf         bool
}

// RunCmd returns the run command.
func RunCmd(g *Globals) *Command {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)

	// Defaults only show up in help; values from config files win unless a
	// flag is set explicitly.
	def := config.Default()
	f := &runFlags{minSize: def.MinFileSize, maxSize: def.MaxFileSize, bytesPerPass: def.BytesPerPass}

	flags.StringVarP(&f.staging, "staging", "s", "", "Memory-backed staging `dir` (default /dev/shm, else $TMPDIR)")
	flags.IntVarP(&f.passes, "passes", "n", def.Passes, "Number of passes, 0 runs until stopped")
	flags.Var(&f.minSize, "min-size", "Smallest test file, e.g. 64KiB")
	flags.Var(&f.maxSize, "max-size", "Largest test file, e.g. 16MiB")
	flags.VarP(&f.bytesPerPass, "bytes-per-pass", "b", "Bytes written per pass, e.g. 10GiB")
	flags.StringVar(&f.digest, "digest", digest.Auto, "Digest `name`, see 'bitcheck digests'")
	flags.StringVar(&f.entropy, "entropy", entropy.Auto, "Entropy source `name` (chacha20, system)")
	flags.IntVarP(&f.workers, "workers", "j", def.Workers, "Files generated in parallel")
	flags.VarP(&f.duration, "duration", "d", "Stop after the first pass that ends past this duration, e.g. 12h")
	flags.BoolVar(&f.strictRename, "strict-rename", false, "Only ever rename into the target; a cross-device staging dir is then an error instead of falling back to a copy")
	flags.BoolVar(&f.keepFailed, "keep-failed", false, "Leave mismatched files in the target directory")
	flags.StringVar(&f.report, "report", "", "Write a JSON report to `file`")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on `addr`, e.g. :9090")
	flags.StringVar(&f.logLevel, "log-level", "", "Diagnostic log `level` (DEBUG, INFO, WARN, ERROR)")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "Print every file written and verified")
	flags.BoolVar(&f.perf, "perf", false, "Print phase timings and throughput")

	return &Command{
		Flags: flags,
		Usage: "run [flags] [target-dir]",
		Short: "Write, sync, drop caches, read back and compare",
		Long: `Fill target-dir with randomly sized files of random content and verify them.

Each pass writes files until --bytes-per-pass is used up (a remainder smaller
than --min-size is left untested). Every file is written and fingerprinted in
the staging directory, then moved into target-dir. After a sync, each file's
cached pages are dropped and the file is read back from the device. A
different fingerprint is reported as a mismatch, and the pass continues.

Files are moved with a rename. If the staging directory is on another
filesystem the rename fails with EXDEV and, by default, the file is copied
into target-dir instead. Pass --strict-rename to make that an error.

All test files are deleted at the end of each pass. Ctrl-C stops the run and
deletes them immediately. SIGUSR1 stops the run after the current pass.`,
		Exec: func(ctx context.Context, o *IO, args []string) error {
			return execRun(ctx, o, g, flags, f, args)
		},
	}
}

func (f *runFlags) overlay(flags *flag.FlagSet, args []string) (config.Overlay, error) {
	var o config.Overlay

	switch len(args) {
	case 0:
	case 1:
		o.TargetDir = &args[0]
	default:
		return o, fmt.Errorf("%w: want at most one target dir, got %q", errTooManyArgs, args)
	}

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	set("staging", func() { o.StagingDir = &f.staging })
	set("passes", func() { o.Passes = &f.passes })
	set("min-size", func() { o.MinFileSize = &f.minSize })
	set("max-size", func() { o.MaxFileSize = &f.maxSize })
	set("bytes-per-pass", func() { o.BytesPerPass = &f.bytesPerPass })
	set("digest", func() { o.Digest = &f.digest })
	set("entropy", func() { o.Entropy = &f.entropy })
	set("workers", func() { o.Workers = &f.workers })
	set("duration", func() { o.Duration = &f.duration })
	set("strict-rename", func() { o.StrictRename = &f.strictRename })
	set("keep-failed", func() { o.KeepFailed = &f.keepFailed })
	set("report", func() { o.Report = &f.report })
	set("metrics-addr", func() { o.MetricsAddr = &f.metricsAddr })
	set("log-level", func() { o.Log = &config.LogOverlay{Level: &f.logLevel} })

	return o, nil
}

func execRun(ctx context.Context, o *IO, g *Globals, flags *flag.FlagSet, f *runFlags, args []string) error {
	overlay, err := f.overlay(flags, args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.LoadInput{
		WorkDirOverride: g.WorkDir,
		ConfigPath:      g.ConfigPath,
		Overrides:       overlay,
		Env:             g.Env,
	})
	if err != nil {
		return err
	}

	log, closer, err := logger.New(cfg.Log, o.Out(), o.ErrOut())
	if err != nil {
		return err
	}
	defer closer.Close()

	d, err := digest.Select(cfg.Digest)
	if err != nil {
		return err
	}

	src, err := entropy.Select(cfg.Entropy, rand.Reader)
	if err != nil {
		return err
	}

	rep := newReporter(o, f.verbose, f.perf)
	observers := []verify.Observer{rep}

	if cfg.MetricsAddr != "" {
		m := metrics.New()

		serveCtx, stopServing := context.WithCancel(ctx)
		defer stopServing()

		_, _, err = m.Serve(serveCtx, cfg.MetricsAddr, log)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}

		observers = append(observers, m)
	}

	budget := verify.Budget{
		MinFileSize:  int64(cfg.MinFileSize),
		MaxFileSize:  int64(cfg.MaxFileSize),
		BytesPerPass: int64(cfg.BytesPerPass),
	}

	ctrl, err := verify.New(verify.Config{
		TargetDir:    cfg.TargetDir,
		StagingRoot:  cfg.StagingDir,
		Budget:       budget,
		Passes:       cfg.Passes,
		Workers:      cfg.Workers,
		StrictRename: cfg.StrictRename,
		KeepFailed:   cfg.KeepFailed,
		Source:       src,
		Digester:     d,
		Logger:       log,
		Observer:     verify.Observers(observers...),
	})
	if err != nil {
		return err
	}

	printHeader(o, ctrl, cfg, d, src)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	if cfg.Duration > 0 {
		var cancel context.CancelFunc

		runCtx, cancel = context.WithTimeout(runCtx, time.Duration(cfg.Duration))
		defer cancel()
	}

	started := time.Now()
	res, runErr := waitRun(runCtx, ctrl, rep, stop, g.Signals, log)
	finished := time.Now()

	rep.printSummary(res.Outcome, res.Summary)

	if res.CleanupErr != nil {
		o.Warn("cleanup incomplete: %v", res.CleanupErr)
	}

	if cfg.Report != "" {
		_, passes := rep.snapshot()

		r := report{
			Tag:        ctrl.Tag(),
			TargetDir:  cfg.TargetDir,
			StagingDir: ctrl.StagingDir(),
			Digest:     d.Name(),
			Entropy:    src.Name(),
			Budget:     budget,
			Started:    started,
			Finished:   finished,
			Outcome:    res.Outcome.String(),
			Summary:    res.Summary,
			Passes:     passes,
		}

		if runErr != nil {
			r.Error = runErr.Error()
		}

		if res.CleanupErr != nil {
			r.CleanupErrs = res.CleanupErr.Error()
		}

		err = writeReport(cfg.Report, r)
		if err != nil {
			o.Warn("%v", err)
		} else {
			log.Info("report written", "path", cfg.Report)
		}
	}

	return exitFor(res.Outcome, runErr)
}

// waitRun runs ctrl and forwards signals to it. If an interrupted run does
// not return within interruptGrace, the progress recorded so far is used.
func waitRun(ctx context.Context, ctrl *verify.Controller, rep *reporter, stop context.CancelFunc,
	signals <-chan os.Signal, log *slog.Logger,
) (verify.Result, error) {
	type runResult struct {
		res verify.Result
		err error
	}

	done := make(chan runResult, 1)

	go func() {
		res, err := ctrl.Run(ctx)
		done <- runResult{res: res, err: err}
	}()

	var giveUp <-chan time.Time

	for {
		select {
		case r := <-done:
			return r.res, r.err

		case sig, ok := <-signals:
			if !ok {
				signals = nil

				continue
			}

			if isStopSignal(sig) {
				log.Info("stop requested, finishing current pass", "signal", sig.String())
				stop()

				continue
			}

			log.Info("interrupted, removing run files", "signal", sig.String())

			// Cleanup errors are reported again by Run's own teardown.
			_ = ctrl.Interrupt()

			if giveUp == nil {
				giveUp = time.After(interruptGrace)
			}

		case <-giveUp:
			summary, _ := rep.snapshot()
			log.Warn("run did not stop in time, exiting", "grace", interruptGrace)

			return verify.Result{Outcome: verify.OutcomeInterrupted, Summary: summary}, nil
		}
	}
}

func exitFor(outcome verify.Outcome, err error) error {
	switch outcome {
	case verify.OutcomeOK, verify.OutcomeCancelled:
		return nil
	case verify.OutcomeMismatch:
		return &ExitCodeError{Code: ExitMismatch}
	case verify.OutcomeInterrupted:
		return &ExitCodeError{Code: ExitInterrupted}
	default:
		if err == nil {
			err = errors.New("run failed")
		}

		return err
	}
}

func printHeader(o *IO, ctrl *verify.Controller, cfg config.Config, d *digest.Digester, src entropy.Source) {
	passes := "until stopped"
	if cfg.Passes > 0 {
		passes = humanize.Comma(int64(cfg.Passes))
	}

	o.Printf("run %s\n", ctrl.Tag())
	o.Printf("  target:  %s\n", cfg.TargetDir)
	o.Printf("  staging: %s\n", ctrl.StagingDir())
	o.Printf("  digest:  %s, entropy: %s\n", d.Name(), src.Name())
	o.Printf("  budget:  %s per pass, files %s to %s\n", cfg.BytesPerPass, cfg.MinFileSize, cfg.MaxFileSize)
	o.Printf("  passes:  %s\n", passes)

	if cfg.Duration > 0 {
		o.Printf("  stop after: %s\n", cfg.Duration)
	}

	o.Println()
}
