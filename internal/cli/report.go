package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/bitcheck/pkg/digest"
	"github.com/calvinalkan/bitcheck/pkg/verify"
)

// report is the JSON document written by --report.
type report struct {
	Tag         string            `json:"tag"`
	TargetDir   string            `json:"target_dir"`
	StagingDir  string            `json:"staging_dir"`
	Digest      string            `json:"digest"`
	Entropy     string            `json:"entropy"`
	Budget      verify.Budget     `json:"budget"`
	Started     time.Time         `json:"started"`
	Finished    time.Time         `json:"finished"`
	Outcome     string            `json:"outcome"`
	Error       string            `json:"error,omitempty"`
	Summary     verify.RunSummary `json:"summary"`
	Passes      []passRecord      `json:"passes"`
	CleanupErrs string            `json:"cleanup_errors,omitempty"`
}

// passRecord is a [verify.Pass] without the file list, which can be large.
type passRecord struct {
	Index           int              `json:"index"`
	Files           int              `json:"files"`
	Bytes           int64            `json:"bytes"`
	GenerateElapsed time.Duration    `json:"generate_elapsed"`
	SyncElapsed     time.Duration    `json:"sync_elapsed"`
	VerifyElapsed   time.Duration    `json:"verify_elapsed"`
	Mismatches      []mismatchRecord `json:"mismatches"`
}

type mismatchRecord struct {
	Path     string        `json:"path"`
	Size     int64         `json:"size"`
	Expected digest.Digest `json:"expected"`
	Actual   digest.Digest `json:"actual,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func newPassRecord(p verify.Pass) passRecord {
	rec := passRecord{
		Index:           p.Index,
		Files:           len(p.Files),
		Bytes:           p.Bytes,
		GenerateElapsed: p.GenerateElapsed,
		SyncElapsed:     p.SyncElapsed,
		VerifyElapsed:   p.VerifyElapsed,
		Mismatches:      make([]mismatchRecord, 0, len(p.Mismatches)),
	}

	for _, m := range p.Mismatches {
		mr := mismatchRecord{Path: m.File.Path, Size: m.File.Size, Expected: m.File.Expected, Actual: m.Actual}
		if m.Err != nil {
			mr.Error = m.Err.Error()
		}

		rec.Mismatches = append(rec.Mismatches, mr)
	}

	return rec
}

// writeReport replaces path with r in one rename, so a reader never sees a
// partial report.
func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	data = append(data, '\n')

	err = atomic.WriteFile(path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}

	return nil
}
