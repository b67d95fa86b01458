package verify

import (
	"io"
	"log/slog"

	"github.com/calvinalkan/bitcheck/pkg/digest"
)

// Observer receives progress events from a run.
//
// OnFileGenerated may be called from several goroutines when Workers > 1.
// The other methods are called from the run goroutine, in generation order.
type Observer interface {
	OnFileGenerated(pass int, f TestFile)
	OnFileVerified(pass int, f TestFile, actual digest.Digest)
	OnMismatch(pass int, m Mismatch)
	OnPassDone(p Pass)
}

// NopObserver ignores every event. Embed it to implement part of [Observer].
type NopObserver struct{}

func (NopObserver) OnFileGenerated(int, TestFile) {}
func (NopObserver) OnFileVerified(int, TestFile, digest.Digest) {}
func (NopObserver) OnMismatch(int, Mismatch) {}
func (NopObserver) OnPassDone(Pass) {}

// Observers fans events out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))

	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}

	return out
}

type multiObserver []Observer

func (m multiObserver) OnFileGenerated(pass int, f TestFile) {
	for _, o := range m {
		o.OnFileGenerated(pass, f)
	}
}

func (m multiObserver) OnFileVerified(pass int, f TestFile, actual digest.Digest) {
	for _, o := range m {
		o.OnFileVerified(pass, f, actual)
	}
}

func (m multiObserver) OnMismatch(pass int, mm Mismatch) {
	for _, o := range m {
		o.OnMismatch(pass, mm)
	}
}

func (m multiObserver) OnPassDone(p Pass) {
	for _, o := range m {
		o.OnPassDone(p)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
