package cli

import (
	"fmt"
	"io"
	"sync"
)

// IO handles command output. Results go to stdout; errors and warnings go to
// stderr. Safe for concurrent use, since run progress is reported from
// worker goroutines.
type IO struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	warnings []string
}

// NewIO creates a new IO instance.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// Out returns the stdout writer.
func (o *IO) Out() io.Writer { return o.out }

// ErrOut returns the stderr writer.
func (o *IO) ErrOut() io.Writer { return o.errOut }

// Warn records a warning that is printed to stderr by [IO.Finish]. Warnings
// never change the exit code.
func (o *IO) Warn(format string, a ...any) {
	o.mu.Lock()
	o.warnings = append(o.warnings, fmt.Sprintf(format, a...))
	o.mu.Unlock()
}

// Println writes to stdout.
func (o *IO) Println(a ...any) {
	o.mu.Lock()
	_, _ = fmt.Fprintln(o.out, a...)
	o.mu.Unlock()
}

// Printf writes formatted output to stdout.
func (o *IO) Printf(format string, a ...any) {
	o.mu.Lock()
	_, _ = fmt.Fprintf(o.out, format, a...)
	o.mu.Unlock()
}

// ErrPrintln writes to stderr.
func (o *IO) ErrPrintln(a ...any) {
	o.mu.Lock()
	_, _ = fmt.Fprintln(o.errOut, a...)
	o.mu.Unlock()
}

// Finish prints collected warnings to stderr.
func (o *IO) Finish() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}

	o.warnings = nil
}
