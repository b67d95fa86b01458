//go:build !unix

package cli

import (
	"os"
	"syscall"
)

// NotifySignals lists the signals main should forward to [Run].
func NotifySignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

func isStopSignal(os.Signal) bool { return false }
