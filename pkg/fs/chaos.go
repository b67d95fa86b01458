package fs

import (
	"errors"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
)

// ChaosConfig controls fault injection probabilities.
// Each rate is a float64 from 0.0 (never) to 1.0 (always).
//
// The zero value disables all fault injection. Unset fields default to 0.0.
type ChaosConfig struct {
	// OpenFailRate controls how often FS.Open and FS.OpenFile fail. Read-only
	// opens return EACCES, EIO, EMFILE or ENFILE; write opens add ENOSPC,
	// EDQUOT and EROFS.
	OpenFailRate float64

	// ReadFailRate controls how often File.Read fails with EIO, returning
	// zero bytes. A verifier sees this as an unreadable file.
	ReadFailRate float64

	// PartialReadRate controls how often File.Read returns a short read
	// (n < len(buf), err == nil). This is legal io.Reader behavior and tests
	// that callers loop until EOF.
	PartialReadRate float64

	// WriteFailRate controls how often File.Write fails entirely with EIO,
	// ENOSPC, EDQUOT or EROFS.
	WriteFailRate float64

	// PartialWriteRate controls how often File.Write writes a prefix of the
	// data and then fails with EIO or ENOSPC.
	PartialWriteRate float64

	// SyncFailRate controls how often File.Sync fails with EIO, ENOSPC,
	// EDQUOT or EROFS.
	SyncFailRate float64

	// RenameFailRate controls how often FS.Rename fails. Returns an
	// *os.LinkError with EACCES, EIO, ENOSPC, EROFS or EPERM. EXDEV is
	// controlled separately by CrossDeviceRate.
	RenameFailRate float64

	// CrossDeviceRate controls how often FS.Rename fails with EXDEV, as if
	// source and destination were on different filesystems. Renames within
	// one directory never get EXDEV.
	CrossDeviceRate float64

	// RemoveFailRate controls how often FS.Remove and FS.RemoveAll fail with
	// EACCES, EPERM, EBUSY, EIO or EROFS.
	RemoveFailRate float64

	// MkdirFailRate controls how often FS.Mkdir fails with EACCES, EIO,
	// ENOSPC or EROFS.
	MkdirFailRate float64
}

// ChaosMode controls how [Chaos] behaves.
type ChaosMode uint8

const (
	// ChaosModeActive enables fault-rate injection.
	// This is the default mode for a new [Chaos].
	ChaosModeActive ChaosMode = iota

	// ChaosModeNoOp passes every operation directly to the underlying FS.
	ChaosModeNoOp
)

// ChaosStats contains counts of injected faults.
type ChaosStats struct {
	OpenFails     int64
	ReadFails     int64
	PartialReads  int64
	WriteFails    int64
	PartialWrites int64
	SyncFails     int64
	RenameFails   int64
	CrossDevices  int64
	RemoveFails   int64
	MkdirFails    int64
}

// Total returns the total number of injected faults.
func (s ChaosStats) Total() int64 {
	return s.OpenFails + s.ReadFails + s.PartialReads + s.WriteFails + s.PartialWrites +
		s.SyncFails + s.RenameFails + s.CrossDevices + s.RemoveFails + s.MkdirFails
}

// chaosError marks an error as intentionally injected by [Chaos].
//
// It wraps the underlying error so errors.Is/As continue to work. Errno-style
// errors are wrapped in an [*fs.PathError] (or [*os.LinkError] for rename)
// so helpers like [os.IsPermission] keep working via unwrapping.
type chaosError struct {
	Err error
}

func (e *chaosError) Error() string {
	return "chaos: " + e.Err.Error()
}

func (e *chaosError) Unwrap() error {
	return e.Err
}

// IsChaosErr reports whether err (or any wrapped error) was injected by [Chaos].
func IsChaosErr(err error) bool {
	var injected *chaosError

	return errors.As(err, &injected)
}

// Chaos wraps an [FS] and injects random failures for testing.
//
// It is a "real filesystem + fault injection" wrapper, not a filesystem
// simulator. Each call independently decides whether to inject. Chaos never
// injects ENOENT (missing-path errors come from the wrapped [FS]) and never
// injects EINTR.
//
// Return-shape constraints match [os.File]: injected read failures return
// n == 0, partial writes return n > 0 with a non-nil error.
type Chaos struct {
	fs     FS
	config ChaosConfig
	mode   atomic.Uint32

	rngMu sync.Mutex
	rng   *rand.Rand

	openFails     atomic.Int64
	readFails     atomic.Int64
	partialReads  atomic.Int64
	writeFails    atomic.Int64
	partialWrites atomic.Int64
	syncFails     atomic.Int64
	renameFails   atomic.Int64
	crossDevices  atomic.Int64
	removeFails   atomic.Int64
	mkdirFails    atomic.Int64
}

// NewChaos creates a new [Chaos] filesystem wrapping the given [FS].
// The seed controls random fault injection for reproducibility.
// Panics if underlying is nil.
func NewChaos(underlying FS, seed int64, config ChaosConfig) *Chaos {
	if underlying == nil {
		panic("underlying fs is nil")
	}

	return &Chaos{
		fs:     underlying,
		config: config,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
	}
}

// SetMode switches between [ChaosModeActive] and [ChaosModeNoOp].
// Safe to call concurrently with filesystem operations.
func (c *Chaos) SetMode(m ChaosMode) { c.mode.Store(uint32(m)) }

// Stats returns the current fault injection counts.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		OpenFails:     c.openFails.Load(),
		ReadFails:     c.readFails.Load(),
		PartialReads:  c.partialReads.Load(),
		WriteFails:    c.writeFails.Load(),
		PartialWrites: c.partialWrites.Load(),
		SyncFails:     c.syncFails.Load(),
		RenameFails:   c.renameFails.Load(),
		CrossDevices:  c.crossDevices.Load(),
		RemoveFails:   c.removeFails.Load(),
		MkdirFails:    c.mkdirFails.Load(),
	}
}

// Open opens a file for reading with fault injection.
func (c *Chaos) Open(path string) (File, error) {
	return c.OpenFile(path, os.O_RDONLY, 0)
}

// OpenFile opens a file with the specified flags and permissions with fault injection.
func (c *Chaos) OpenFile(path string, flag int, perm os.FileMode) (File, error) {
	if c.should(c.config.OpenFailRate) {
		c.openFails.Add(1)

		errnos := []syscall.Errno{syscall.EACCES, syscall.EIO, syscall.EMFILE, syscall.ENFILE}
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
			errnos = append(errnos, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS)
		}

		return nil, pathError("open", path, c.pick(errnos))
	}

	file, err := c.fs.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}

	return &chaosFile{f: file, chaos: c, path: path}, nil
}

// ReadDir is a passthrough; directory listing faults are not modeled.
func (c *Chaos) ReadDir(path string) ([]os.DirEntry, error) {
	return c.fs.ReadDir(path)
}

// Mkdir creates a directory with fault injection.
func (c *Chaos) Mkdir(path string, perm os.FileMode) error {
	err := c.mkdirChaos(path)
	if err != nil {
		return err
	}

	return c.fs.Mkdir(path, perm)
}

// Stat is a passthrough.
func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	return c.fs.Stat(path)
}

// Remove removes a file with fault injection.
func (c *Chaos) Remove(path string) error {
	err := c.removeChaos("remove", path)
	if err != nil {
		return err
	}

	return c.fs.Remove(path)
}

// RemoveAll removes a path and its contents with fault injection.
func (c *Chaos) RemoveAll(path string) error {
	err := c.removeChaos("removeall", path)
	if err != nil {
		return err
	}

	return c.fs.RemoveAll(path)
}

// Rename renames a file with fault injection.
func (c *Chaos) Rename(oldpath, newpath string) error {
	if filepath.Dir(oldpath) != filepath.Dir(newpath) && c.should(c.config.CrossDeviceRate) {
		c.crossDevices.Add(1)

		return linkError("rename", oldpath, newpath, syscall.EXDEV)
	}

	if c.should(c.config.RenameFailRate) {
		c.renameFails.Add(1)

		errno := c.pick([]syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS, syscall.EPERM})

		return linkError("rename", oldpath, newpath, errno)
	}

	return c.fs.Rename(oldpath, newpath)
}

func (c *Chaos) mkdirChaos(path string) error {
	if !c.should(c.config.MkdirFailRate) {
		return nil
	}

	c.mkdirFails.Add(1)

	return pathError("mkdir", path, c.pick([]syscall.Errno{syscall.EACCES, syscall.EIO, syscall.ENOSPC, syscall.EROFS}))
}

func (c *Chaos) removeChaos(op, path string) error {
	if !c.should(c.config.RemoveFailRate) {
		return nil
	}

	c.removeFails.Add(1)

	return pathError(op, path, c.pick([]syscall.Errno{syscall.EACCES, syscall.EPERM, syscall.EBUSY, syscall.EIO, syscall.EROFS}))
}

// should returns true with the given probability when chaos is injecting.
func (c *Chaos) should(rate float64) bool {
	if ChaosMode(c.mode.Load()) != ChaosModeActive || rate <= 0 {
		return false
	}

	c.rngMu.Lock()
	result := c.rng.Float64()
	c.rngMu.Unlock()

	return result < rate
}

// randIntn returns a random int in [0, n) (thread-safe).
func (c *Chaos) randIntn(n int) int {
	c.rngMu.Lock()
	result := c.rng.IntN(n)
	c.rngMu.Unlock()

	return result
}

func (c *Chaos) pick(errs []syscall.Errno) syscall.Errno {
	return errs[c.randIntn(len(errs))]
}

func pathError(op, path string, errno syscall.Errno) error {
	return &chaosError{Err: &fs.PathError{Op: op, Path: path, Err: errno}}
}

func linkError(op, oldpath, newpath string, errno syscall.Errno) error {
	return &chaosError{Err: &os.LinkError{Op: op, Old: oldpath, New: newpath, Err: errno}}
}

// chaosFile wraps a [File] and injects faults on Read, Write and Sync.
type chaosFile struct {
	f     File
	chaos *Chaos
	path  string
}

var _ File = (*chaosFile)(nil)

func (cf *chaosFile) Read(buf []byte) (int, error) {
	if cf.chaos.should(cf.chaos.config.ReadFailRate) {
		cf.chaos.readFails.Add(1)

		return 0, pathError("read", cf.path, syscall.EIO)
	}

	// Limit the underlying read instead of shrinking the returned count,
	// otherwise the offset advances past bytes the caller never saw.
	if len(buf) > 1 && cf.chaos.should(cf.chaos.config.PartialReadRate) {
		cf.chaos.partialReads.Add(1)
		cutoff := cf.chaos.randIntn(len(buf)-1) + 1

		return cf.f.Read(buf[:cutoff])
	}

	return cf.f.Read(buf)
}

func (cf *chaosFile) Write(data []byte) (int, error) {
	if cf.chaos.should(cf.chaos.config.WriteFailRate) {
		cf.chaos.writeFails.Add(1)

		return 0, pathError("write", cf.path, cf.chaos.pick([]syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}))
	}

	if len(data) > 1 && cf.chaos.should(cf.chaos.config.PartialWriteRate) {
		cf.chaos.partialWrites.Add(1)
		cutoff := cf.chaos.randIntn(len(data)-1) + 1

		n, err := cf.f.Write(data[:cutoff])
		if err != nil {
			return n, err
		}

		return n, pathError("write", cf.path, cf.chaos.pick([]syscall.Errno{syscall.EIO, syscall.ENOSPC}))
	}

	return cf.f.Write(data)
}

func (cf *chaosFile) Sync() error {
	if cf.chaos.should(cf.chaos.config.SyncFailRate) {
		cf.chaos.syncFails.Add(1)

		return pathError("sync", cf.path, cf.chaos.pick([]syscall.Errno{syscall.EIO, syscall.ENOSPC, syscall.EDQUOT, syscall.EROFS}))
	}

	return cf.f.Sync()
}

func (cf *chaosFile) Close() error { return cf.f.Close() }
func (cf *chaosFile) Seek(off int64, whence int) (int64, error) { return cf.f.Seek(off, whence) }
func (cf *chaosFile) Fd() uintptr { return cf.f.Fd() }
func (cf *chaosFile) Name() string { return cf.f.Name() }
func (cf *chaosFile) Stat() (os.FileInfo, error) { return cf.f.Stat() }
func (cf *chaosFile) Chmod(mode os.FileMode) error { return cf.f.Chmod(mode) }

var (
	_ FS        = (*Chaos)(nil)
	_ io.Reader = (*chaosFile)(nil)
)
