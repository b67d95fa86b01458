//go:build unix

package cli

import (
	"os"
	"syscall"
)

// NotifySignals lists the signals main should forward to [Run].
func NotifySignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1}
}

// isStopSignal reports whether sig asks for a stop after the current pass
// rather than an interrupt.
func isStopSignal(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}
