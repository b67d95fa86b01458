package verify

import (
	"time"

	"github.com/calvinalkan/bitcheck/pkg/digest"
)

// TestFile is one generated file. Expected is computed from the staging copy
// before the file reaches the target directory.
type TestFile struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Expected digest.Digest `json:"expected"`
}

// Mismatch records a file whose content read back differs from Expected.
// Actual is empty when the file could not be read at all; Err says why.
type Mismatch struct {
	File   TestFile      `json:"file"`
	Actual digest.Digest `json:"actual,omitempty"`
	Err    error         `json:"-"`
}

// Pass is the result of one generate, sync, verify cycle.
type Pass struct {
	Index           int           `json:"index"`
	Files           []TestFile    `json:"files"`
	Bytes           int64         `json:"bytes"`
	GenerateElapsed time.Duration `json:"generate_elapsed"`
	SyncElapsed     time.Duration `json:"sync_elapsed"`
	VerifyElapsed   time.Duration `json:"verify_elapsed"`
	Mismatches      []Mismatch    `json:"mismatches"`
}

// RunSummary aggregates completed passes.
type RunSummary struct {
	PassesCompleted int           `json:"passes_completed"`
	TotalBytes      int64         `json:"total_bytes"`
	TotalFiles      int           `json:"total_files"`
	TotalMismatches int           `json:"total_mismatches"`
	GenerateElapsed time.Duration `json:"generate_elapsed"`
	SyncElapsed     time.Duration `json:"sync_elapsed"`
	VerifyElapsed   time.Duration `json:"verify_elapsed"`
}

// Add folds a completed pass into the summary.
func (s *RunSummary) Add(p Pass) {
	s.PassesCompleted++
	s.TotalBytes += p.Bytes
	s.TotalFiles += len(p.Files)
	s.TotalMismatches += len(p.Mismatches)
	s.GenerateElapsed += p.GenerateElapsed
	s.SyncElapsed += p.SyncElapsed
	s.VerifyElapsed += p.VerifyElapsed
}

// AddPartial folds in the mismatches of a pass that did not complete. The
// pass does not count towards PassesCompleted.
func (s *RunSummary) AddPartial(p Pass) {
	s.TotalMismatches += len(p.Mismatches)
}

// Outcome is how a run ended.
type Outcome uint8

const (
	// OutcomeOK means every requested pass completed without mismatches.
	OutcomeOK Outcome = iota

	// OutcomeMismatch means at least one completed pass found a mismatch.
	OutcomeMismatch

	// OutcomeCancelled means the run stopped at a pass boundary because its
	// context was done, with no mismatches so far.
	OutcomeCancelled

	// OutcomeInterrupted means [Controller.Interrupt] was called.
	OutcomeInterrupted

	// OutcomeFailed means a fatal error ended the run.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is returned by [Controller.Run].
type Result struct {
	Outcome Outcome
	Summary RunSummary

	// Stopped is set when the context ended the run before all passes ran.
	// Outcome is then OutcomeCancelled, or OutcomeMismatch if any completed
	// pass found one.
	Stopped bool

	// CleanupErr collects teardown failures. It never changes Outcome.
	CleanupErr error
}
