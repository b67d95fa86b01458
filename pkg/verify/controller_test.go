package verify_test

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/bitcheck/pkg/digest"
	"github.com/calvinalkan/bitcheck/pkg/entropy"
	"github.com/calvinalkan/bitcheck/pkg/fs"
	"github.com/calvinalkan/bitcheck/pkg/verify"
)

const (
	kib = 1024
	mib = 1024 * kib
)

type fixture struct {
	target  string
	staging string
	cfg     verify.Config
	rec     *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	src, err := entropy.Select(entropy.Auto, rand.Reader)
	require.NoError(t, err)

	d, err := digest.Select(digest.Auto)
	require.NoError(t, err)

	f := &fixture{
		target:  t.TempDir(),
		staging: t.TempDir(),
		rec:     &recorder{},
	}

	f.cfg = verify.Config{
		TargetDir:   f.target,
		StagingRoot: f.staging,
		Budget:      verify.Budget{MinFileSize: 4 * kib, MaxFileSize: 64 * kib, BytesPerPass: 512 * kib},
		Passes:      1,
		Source:      src,
		Digester:    d,
		Invalidator: noopInvalidator(),
		Observer:    f.rec,
	}

	return f
}

func (f *fixture) run(t *testing.T) (*verify.Controller, verify.Result, error) {
	t.Helper()

	c, err := verify.New(f.cfg)
	require.NoError(t, err)

	res, err := c.Run(context.Background())

	return c, res, err
}

func Test_Run_Generates_Files_Within_Budget_And_Finds_No_Mismatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Budget = verify.Budget{MinFileSize: 64 * kib, MaxFileSize: 1 * mib, BytesPerPass: 5 * mib}

	_, res, err := f.run(t)
	require.NoError(t, err)

	if got, want := res.Outcome, verify.OutcomeOK; got != want {
		t.Fatalf("outcome=%s, want=%s", got, want)
	}

	require.Len(t, f.rec.passes, 1)
	pass := f.rec.passes[0]

	var sum int64

	for _, file := range pass.Files {
		if file.Size < 64*kib || file.Size > 1*mib {
			t.Errorf("%s: size=%d out of range", file.Path, file.Size)
		}

		sum += file.Size
	}

	if sum > 5*mib || sum < 5*mib-64*kib {
		t.Errorf("sum=%d, want in [%d, %d]", sum, 5*mib-64*kib, 5*mib)
	}

	if got, want := pass.Bytes, sum; got != want {
		t.Errorf("pass.Bytes=%d, want=%d", got, want)
	}

	if got, want := len(f.rec.verified), len(pass.Files); got != want {
		t.Errorf("verified=%d, want=%d", got, want)
	}

	if got, want := res.Summary, (verify.RunSummary{
		PassesCompleted: 1,
		TotalBytes:      sum,
		TotalFiles:      len(pass.Files),
		GenerateElapsed: pass.GenerateElapsed,
		SyncElapsed:     pass.SyncElapsed,
		VerifyElapsed:   pass.VerifyElapsed,
	}); got != want {
		t.Errorf("summary=%+v, want=%+v", got, want)
	}

	assertDirEmpty(t, f.target)
	assertDirEmpty(t, f.staging)
}

func Test_Run_Verifies_Files_In_Generation_Order(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Workers = 4

	_, res, err := f.run(t)
	require.NoError(t, err)
	require.Equal(t, verify.OutcomeOK, res.Outcome)

	files := f.rec.passes[0].Files
	names := make([]string, len(files))

	for i, file := range files {
		names[i] = filepath.Base(file.Path)

		if got, want := f.rec.verified[i].Path, file.Path; got != want {
			t.Fatalf("verified[%d]=%s, want=%s", i, got, want)
		}
	}

	if !sort.StringsAreSorted(names) {
		t.Fatalf("files not in generation order: %v", names)
	}
}

func Test_Run_Reports_Single_Mismatch_When_One_Byte_Is_Flipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	flip := &flipBarrier{inner: verify.NewFsyncBarrier(fs.NewReal()), index: 2, digester: f.cfg.Digester}
	f.cfg.Barrier = flip

	_, res, err := f.run(t)
	require.NoError(t, err)

	if got, want := res.Outcome, verify.OutcomeMismatch; got != want {
		t.Fatalf("outcome=%s, want=%s", got, want)
	}

	if got, want := res.Summary.TotalMismatches, 1; got != want {
		t.Fatalf("mismatches=%d, want=%d", got, want)
	}

	pass := f.rec.passes[0]
	m := pass.Mismatches[0]

	if got, want := m.File, pass.Files[2]; got != want {
		t.Errorf("mismatch file=%+v, want=%+v", got, want)
	}

	if got, want := m.Actual, flip.actual; got != want {
		t.Errorf("actual=%s, want=%s", got, want)
	}

	if m.Err != nil {
		t.Errorf("mismatch err=%v, want nil", m.Err)
	}

	if got, want := len(f.rec.verified), len(pass.Files)-1; got != want {
		t.Errorf("verified=%d, want=%d", got, want)
	}

	assertDirEmpty(t, f.target)
}

func Test_Run_Keeps_Mismatched_File_When_KeepFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.KeepFailed = true
	f.cfg.Barrier = &flipBarrier{inner: verify.NewFsyncBarrier(fs.NewReal()), index: 0, digester: f.cfg.Digester}

	_, res, err := f.run(t)
	require.NoError(t, err)
	require.Equal(t, verify.OutcomeMismatch, res.Outcome)

	want := []string{filepath.Base(f.rec.passes[0].Files[0].Path)}
	if got := dirNames(t, f.target); !equalStrings(got, want) {
		t.Fatalf("target=%v, want=%v", got, want)
	}
}

func Test_Run_Records_Unreadable_File_As_Mismatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Barrier = barrierFunc(func(_ string, files []string) error {
		return os.Remove(files[1])
	})

	_, res, err := f.run(t)
	require.NoError(t, err)
	require.Equal(t, verify.OutcomeMismatch, res.Outcome)

	m := f.rec.passes[0].Mismatches[0]
	if !errors.Is(m.Err, verify.ErrHash) {
		t.Errorf("mismatch err=%v, want ErrHash", m.Err)
	}

	if !errors.Is(m.Err, os.ErrNotExist) {
		t.Errorf("mismatch err=%v, want ErrNotExist", m.Err)
	}

	if got, want := m.Err.Error(), "hash error: open "+m.File.Path+": no such file or directory"; got != want {
		t.Errorf("mismatch err=%q, want=%q", got, want)
	}

	if m.Actual != "" {
		t.Errorf("actual=%q, want empty", m.Actual)
	}
}

func Test_Run_Aggregates_Multiple_Passes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Passes = 3

	_, res, err := f.run(t)
	require.NoError(t, err)

	var files int

	var bytes int64

	for i, p := range f.rec.passes {
		if got, want := p.Index, i+1; got != want {
			t.Errorf("pass index=%d, want=%d", got, want)
		}

		files += len(p.Files)
		bytes += p.Bytes
	}

	if got, want := res.Summary.PassesCompleted, 3; got != want {
		t.Errorf("passes=%d, want=%d", got, want)
	}

	if res.Summary.TotalFiles != files || res.Summary.TotalBytes != bytes {
		t.Errorf("summary=%+v, want files=%d bytes=%d", res.Summary, files, bytes)
	}
}

func Test_Run_Stops_At_Pass_Boundary_When_Context_Cancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Passes = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.rec.onPassDone = func(verify.Pass) { cancel() }

	c, err := verify.New(f.cfg)
	require.NoError(t, err)

	res, err := c.Run(ctx)
	require.NoError(t, err)

	if got, want := res.Outcome, verify.OutcomeCancelled; got != want {
		t.Fatalf("outcome=%s, want=%s", got, want)
	}

	if !res.Stopped {
		t.Error("Stopped=false, want true")
	}

	if got, want := res.Summary.PassesCompleted, 1; got != want {
		t.Errorf("passes=%d, want=%d", got, want)
	}

	assertDirEmpty(t, f.target)
}

func Test_Run_Starts_No_Pass_When_Context_Already_Done(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := verify.New(f.cfg)
	require.NoError(t, err)

	res, err := c.Run(ctx)
	require.NoError(t, err)

	if got, want := res.Outcome, verify.OutcomeCancelled; got != want {
		t.Fatalf("outcome=%s, want=%s", got, want)
	}

	if len(f.rec.generated) != 0 {
		t.Errorf("generated %d files, want none", len(f.rec.generated))
	}
}

func Test_Interrupt_Removes_Only_Run_Files(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Passes = 0

	unrelated := []string{"bitcheck-0123456789abcdef-p0001-000001.bin", "data.bin", "notes.txt"}
	for _, name := range unrelated {
		require.NoError(t, os.WriteFile(filepath.Join(f.target, name), []byte("keep me"), 0o600))
	}

	require.NoError(t, os.WriteFile(filepath.Join(f.staging, "other.tmp"), []byte("keep me"), 0o600))

	c, err := verify.New(f.cfg)
	require.NoError(t, err)

	f.rec.onGenerated = func(n int) {
		if n == 3 {
			_ = c.Interrupt()
		}
	}

	res, err := c.Run(context.Background())
	require.NoError(t, err)

	if got, want := res.Outcome, verify.OutcomeInterrupted; got != want {
		t.Fatalf("outcome=%s, want=%s", got, want)
	}

	if got, want := res.Summary.PassesCompleted, 0; got != want {
		t.Errorf("passes=%d, want=%d", got, want)
	}

	if got := dirNames(t, f.target); !equalStrings(got, unrelated) {
		t.Errorf("target=%v, want=%v", got, unrelated)
	}

	if got, want := dirNames(t, f.staging), []string{"other.tmp"}; !equalStrings(got, want) {
		t.Errorf("staging=%v, want=%v", got, want)
	}

	if !c.Interrupted() {
		t.Error("Interrupted()=false, want true")
	}
}

func Test_Teardown_Is_Safe_To_Repeat(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	c, res, err := f.run(t)
	require.NoError(t, err)
	require.NoError(t, res.CleanupErr)

	require.NoError(t, c.Interrupt())
	require.NoError(t, c.Interrupt())
}

func Test_Interrupt_Before_Run_Prevents_Any_Pass(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	c, err := verify.New(f.cfg)
	require.NoError(t, err)
	require.NoError(t, c.Interrupt())

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, verify.OutcomeInterrupted, res.Outcome)
	require.Empty(t, f.rec.generated)
	assertDirEmpty(t, f.staging)
}

func Test_Run_Fails_With_PlacementError_When_Rename_Fails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.FS = fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{RenameFailRate: 1})

	_, res, err := f.run(t)

	if got, want := res.Outcome, verify.OutcomeFailed; got != want {
		t.Fatalf("outcome=%s, want=%s", got, want)
	}

	if !errors.Is(err, verify.ErrPlacement) || !verify.IsFatal(err) {
		t.Fatalf("err=%v, want fatal ErrPlacement", err)
	}

	if !fs.IsChaosErr(err) {
		t.Errorf("err=%v, want injected error in chain", err)
	}

	assertDirEmpty(t, f.target)
	assertDirEmpty(t, f.staging)
}

func Test_Run_Copies_Across_Devices_Unless_Strict(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.FS = fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{CrossDeviceRate: 1})

	_, res, err := f.run(t)
	require.NoError(t, err)
	require.Equal(t, verify.OutcomeOK, res.Outcome)
	require.NotEmpty(t, f.rec.passes[0].Files)
	assertDirEmpty(t, f.target)

	strict := newFixture(t)
	strict.cfg.FS = fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{CrossDeviceRate: 1})
	strict.cfg.StrictRename = true

	_, res, err = strict.run(t)
	require.Equal(t, verify.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, err, verify.ErrPlacement)
	assertDirEmpty(t, strict.target)
}

func Test_Run_Fails_With_GenerationError_When_Staging_Write_Fails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.FS = fs.NewChaos(fs.NewReal(), 7, fs.ChaosConfig{WriteFailRate: 1})

	_, res, err := f.run(t)
	require.Equal(t, verify.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, err, verify.ErrGeneration)
	assertDirEmpty(t, f.staging)
}

func Test_Run_Survives_Short_Reads(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.FS = fs.NewChaos(fs.NewReal(), 3, fs.ChaosConfig{PartialReadRate: 0.5})

	_, res, err := f.run(t)
	require.NoError(t, err)
	require.Equal(t, verify.OutcomeOK, res.Outcome)
}

func Test_Run_Fails_With_CacheInvalidationError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Invalidator = verify.InvalidatorFunc(func(string) error { return errors.New("fadvise: EIO") })

	_, res, err := f.run(t)
	require.Equal(t, verify.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, err, verify.ErrCacheInvalidation)
	assertDirEmpty(t, f.target)
}

func Test_Run_Keeps_Mismatches_Found_Before_A_Fatal_Error(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Barrier = &flipBarrier{inner: verify.NewFsyncBarrier(fs.NewReal()), index: 0, digester: f.cfg.Digester}

	var calls int

	f.cfg.Invalidator = verify.InvalidatorFunc(func(string) error {
		calls++
		if calls == 3 {
			return errors.New("fadvise: EIO")
		}

		return nil
	})

	_, res, err := f.run(t)
	require.ErrorIs(t, err, verify.ErrCacheInvalidation)
	require.Equal(t, verify.OutcomeFailed, res.Outcome)

	if got, want := res.Summary.TotalMismatches, 1; got != want {
		t.Errorf("mismatches=%d, want=%d", got, want)
	}

	if got, want := res.Summary.PassesCompleted, 0; got != want {
		t.Errorf("passes=%d, want=%d", got, want)
	}

	require.Len(t, f.rec.mismatches, 1)
	require.Empty(t, f.rec.passes)
	assertDirEmpty(t, f.target)
}

func Test_Run_Does_Not_Report_Mismatch_When_Interrupted_During_Invalidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	var (
		c     *verify.Controller
		calls int
	)

	f.cfg.Invalidator = verify.InvalidatorFunc(func(string) error {
		calls++
		if calls == 2 {
			_ = c.Interrupt()
		}

		return nil
	})

	c, err := verify.New(f.cfg)
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)

	if got, want := res.Outcome, verify.OutcomeInterrupted; got != want {
		t.Fatalf("outcome=%s, want=%s", got, want)
	}

	if got, want := calls, 2; got != want {
		t.Errorf("invalidate calls=%d, want=%d", got, want)
	}

	require.Empty(t, f.rec.mismatches)
	require.Zero(t, res.Summary.TotalMismatches)
	assertDirEmpty(t, f.target)
}

func Test_New_Rejects_Invalid_Config(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*verify.Config)
	}{
		{name: "min above max", mutate: func(c *verify.Config) { c.Budget.MinFileSize = c.Budget.MaxFileSize + 1 }},
		{name: "negative passes", mutate: func(c *verify.Config) { c.Passes = -1 }},
		{name: "missing target", mutate: func(c *verify.Config) { c.TargetDir = filepath.Join(c.TargetDir, "nope") }},
		{name: "staging is file", mutate: func(c *verify.Config) {
			path := filepath.Join(c.StagingRoot, "file")
			_ = os.WriteFile(path, nil, 0o600)
			c.StagingRoot = path
		}},
		{name: "no digest", mutate: func(c *verify.Config) { c.Digester = nil }},
		{name: "no source", mutate: func(c *verify.Config) { c.Source = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tt.mutate(&f.cfg)

			_, err := verify.New(f.cfg)
			if !errors.Is(err, verify.ErrSetup) {
				t.Fatalf("err=%v, want ErrSetup", err)
			}
		})
	}
}

func Test_Run_Uses_Tag_In_Every_File_Name(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cfg.Tag = "feedface"

	c, _, err := f.run(t)
	require.NoError(t, err)
	require.Equal(t, "feedface", c.Tag())
	require.Equal(t, filepath.Join(f.staging, "bitcheck-feedface"), c.StagingDir())

	for _, file := range f.rec.generated {
		if !strings.HasPrefix(filepath.Base(file.Path), "bitcheck-feedface-") {
			t.Errorf("%s: missing run tag", file.Path)
		}
	}
}

// recorder collects observer events. OnFileGenerated may run concurrently.
type recorder struct {
	mu          sync.Mutex
	generated   []verify.TestFile
	verified    []verify.TestFile
	mismatches  []verify.Mismatch
	passes      []verify.Pass
	onGenerated func(n int)
	onPassDone  func(verify.Pass)
}

func (r *recorder) OnFileGenerated(_ int, f verify.TestFile) {
	r.mu.Lock()
	r.generated = append(r.generated, f)
	n := len(r.generated)
	r.mu.Unlock()

	if r.onGenerated != nil {
		r.onGenerated(n)
	}
}

func (r *recorder) OnFileVerified(_ int, f verify.TestFile, _ digest.Digest) {
	r.verified = append(r.verified, f)
}

func (r *recorder) OnMismatch(_ int, m verify.Mismatch) {
	r.mismatches = append(r.mismatches, m)
}

func (r *recorder) OnPassDone(p verify.Pass) {
	r.passes = append(r.passes, p)

	if r.onPassDone != nil {
		r.onPassDone(p)
	}
}

// flipBarrier syncs and then corrupts one byte of files[index].
type flipBarrier struct {
	inner    verify.Barrier
	index    int
	digester *digest.Digester
	actual   digest.Digest
}

func (b *flipBarrier) Sync(dir string, files []string) error {
	err := b.inner.Sync(dir, files)
	if err != nil {
		return err
	}

	path := files[b.index]

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data[len(data)/2] ^= 0xFF
	b.actual = b.digester.Bytes(data)

	return os.WriteFile(path, data, 0o600)
}

type barrierFunc func(dir string, files []string) error

func (f barrierFunc) Sync(dir string, files []string) error { return f(dir, files) }

func noopInvalidator() verify.Invalidator {
	return verify.InvalidatorFunc(func(string) error { return nil })
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()

	if names := dirNames(t, dir); len(names) != 0 {
		t.Errorf("%s not empty: %v", dir, names)
	}
}

func equalStrings(a, b []string) bool {
	return strings.Join(a, "\x00") == strings.Join(b, "\x00")
}
