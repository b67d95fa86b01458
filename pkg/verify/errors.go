package verify

import (
	"errors"
	"fmt"
	"os"
)

// Kind classifies an [Error].
type Kind uint8

const (
	// KindSetup covers bad configuration and unusable directories, digests
	// or entropy sources. Nothing has been written yet.
	KindSetup Kind = iota + 1

	// KindGeneration covers entropy, staging write and durability barrier
	// failures.
	KindGeneration

	// KindHash means a digest could not read its full input during
	// generation. During verification the same failure is a mismatch.
	KindHash

	// KindPlacement means a staged file could not be moved into the target
	// directory.
	KindPlacement

	// KindCacheInvalidation means cached pages could not be dropped, so a
	// verification read could not be trusted.
	KindCacheInvalidation

	// KindCleanup is a failure to delete run files. It is logged and never
	// changes the outcome of a run.
	KindCleanup
)

// Sentinels for errors.Is. Every [*Error] unwraps to the one matching its
// [Kind].
var (
	ErrSetup             = errors.New("setup error")
	ErrGeneration        = errors.New("generation error")
	ErrHash              = errors.New("hash error")
	ErrPlacement         = errors.New("placement error")
	ErrCacheInvalidation = errors.New("cache invalidation error")
	ErrCleanup           = errors.New("cleanup error")

	// ErrUnsupported is returned at setup on platforms without a cache
	// bypass implementation.
	ErrUnsupported = errors.New("cache bypass not supported on this platform")
)

func (k Kind) sentinel() error {
	switch k {
	case KindSetup:
		return ErrSetup
	case KindGeneration:
		return ErrGeneration
	case KindHash:
		return ErrHash
	case KindPlacement:
		return ErrPlacement
	case KindCacheInvalidation:
		return ErrCacheInvalidation
	case KindCleanup:
		return ErrCleanup
	default:
		return nil
	}
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is the error type returned by this package.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + ": " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// IsFatal reports whether err ends a run. Cleanup errors are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind != KindCleanup
	}

	return true
}

// newError builds an [*Error]. A top-level *os.PathError for the same path
// is replaced by its cause so the path is not printed twice.
func newError(kind Kind, op, path string, err error) *Error {
	if pe, ok := err.(*os.PathError); ok && path != "" && pe.Path == path {
		err = pe.Err
	}

	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}
