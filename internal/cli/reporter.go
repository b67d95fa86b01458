package cli

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/calvinalkan/bitcheck/pkg/digest"
	"github.com/calvinalkan/bitcheck/pkg/verify"
)

// reporter prints run progress to stdout and keeps per-pass records for the
// JSON report.
type reporter struct {
	io      *IO
	verbose bool
	perf    bool

	mu      sync.Mutex
	summary verify.RunSummary
	passes  []passRecord
}

var _ verify.Observer = (*reporter)(nil)

func newReporter(o *IO, verbose, perf bool) *reporter {
	return &reporter{io: o, verbose: verbose, perf: perf}
}

func (r *reporter) OnFileGenerated(pass int, f verify.TestFile) {
	if r.verbose {
		r.io.Printf("pass %d: wrote    %s %s %s\n", pass, f.Path, humanize.IBytes(uint64(f.Size)), f.Expected)
	}
}

func (r *reporter) OnFileVerified(pass int, f verify.TestFile, _ digest.Digest) {
	if r.verbose {
		r.io.Printf("pass %d: ok       %s\n", pass, f.Path)
	}
}

func (r *reporter) OnMismatch(pass int, m verify.Mismatch) {
	actual := string(m.Actual)
	if actual == "" {
		actual = "(unreadable)"
	}

	r.io.Printf("pass %d: MISMATCH %s expected %s actual %s\n", pass, m.File.Path, m.File.Expected, actual)

	if m.Err != nil {
		r.io.Printf("pass %d:          %v\n", pass, m.Err)
	}
}

func (r *reporter) OnPassDone(p verify.Pass) {
	r.mu.Lock()
	r.summary.Add(p)
	r.passes = append(r.passes, newPassRecord(p))
	r.mu.Unlock()

	r.io.Printf("pass %d: %d files, %s, %d mismatches\n",
		p.Index, len(p.Files), humanize.IBytes(uint64(p.Bytes)), len(p.Mismatches))

	if r.perf {
		r.io.Printf("pass %d: generate %s (%s), sync %s, verify %s (%s)\n", p.Index,
			round(p.GenerateElapsed), throughput(p.Bytes, p.GenerateElapsed),
			round(p.SyncElapsed),
			round(p.VerifyElapsed), throughput(p.Bytes, p.VerifyElapsed))
	}
}

// snapshot returns what completed passes have produced so far. Used when the
// run goroutine cannot be waited for after an interrupt.
func (r *reporter) snapshot() (verify.RunSummary, []passRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.summary, append([]passRecord(nil), r.passes...)
}

func (r *reporter) printSummary(outcome verify.Outcome, s verify.RunSummary) {
	r.io.Println()
	r.io.Printf("result:     %s\n", outcome)
	r.io.Printf("passes:     %d\n", s.PassesCompleted)
	r.io.Printf("files:      %s\n", humanize.Comma(int64(s.TotalFiles)))
	r.io.Printf("bytes:      %s (%s)\n", humanize.IBytes(uint64(s.TotalBytes)), humanize.Comma(s.TotalBytes))
	r.io.Printf("mismatches: %d\n", s.TotalMismatches)

	if r.perf {
		r.io.Printf("generate:   %s (%s)\n", round(s.GenerateElapsed), throughput(s.TotalBytes, s.GenerateElapsed))
		r.io.Printf("sync:       %s\n", round(s.SyncElapsed))
		r.io.Printf("verify:     %s (%s)\n", round(s.VerifyElapsed), throughput(s.TotalBytes, s.VerifyElapsed))
	}
}

func throughput(n int64, d time.Duration) string {
	if d <= 0 {
		return "-"
	}

	return humanize.IBytes(uint64(float64(n)/d.Seconds())) + "/s"
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
