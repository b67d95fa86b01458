// Package metrics exposes run progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calvinalkan/bitcheck/pkg/digest"
	"github.com/calvinalkan/bitcheck/pkg/verify"
)

const namespace = "bitcheck"

// Metrics implements [verify.Observer] and records into its own registry.
type Metrics struct {
	registry *prometheus.Registry

	BytesGenerated  prometheus.Counter
	FilesGenerated  prometheus.Counter
	FilesVerified   prometheus.Counter
	Mismatches      prometheus.Counter
	PassesCompleted prometheus.Counter
	PhaseSeconds    *prometheus.HistogramVec
	Throughput      *prometheus.GaugeVec
}

var _ verify.Observer = (*Metrics)(nil)

// New creates the metrics and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BytesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_generated_total",
			Help:      "Bytes written to the target directory.",
		}),
		FilesGenerated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_generated_total",
			Help:      "Test files placed in the target directory.",
		}),
		FilesVerified: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_verified_total",
			Help:      "Test files read back with a matching digest.",
		}),
		Mismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mismatches_total",
			Help:      "Test files read back with a different digest or not readable at all.",
		}),
		PassesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_completed_total",
			Help:      "Completed generate, sync, verify passes.",
		}),
		PhaseSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_phase_seconds",
			Help:      "Time spent per pass phase.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16), // 100ms to ~55m
		}, []string{"phase"}),
		Throughput: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_bytes_per_second",
			Help:      "Throughput of the most recent pass per phase.",
		}, []string{"phase"}),
	}
}

func (m *Metrics) OnFileGenerated(_ int, f verify.TestFile) {
	m.FilesGenerated.Inc()
	m.BytesGenerated.Add(float64(f.Size))
}

func (m *Metrics) OnFileVerified(int, verify.TestFile, digest.Digest) {
	m.FilesVerified.Inc()
}

func (m *Metrics) OnMismatch(int, verify.Mismatch) {
	m.Mismatches.Inc()
}

func (m *Metrics) OnPassDone(p verify.Pass) {
	m.PassesCompleted.Inc()

	for phase, d := range map[string]time.Duration{
		"generate": p.GenerateElapsed,
		"sync":     p.SyncElapsed,
		"verify":   p.VerifyElapsed,
	} {
		m.PhaseSeconds.WithLabelValues(phase).Observe(d.Seconds())

		if d > 0 {
			m.Throughput.WithLabelValues(phase).Set(float64(p.Bytes) / d.Seconds())
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve listens on addr and serves /metrics until ctx is done. The listener
// is opened before Serve returns so address errors surface immediately; the
// returned channel yields the server's exit error.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan error, 1)

	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}

		done <- err
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			log.Warn("metrics server shutdown", "error", err)
		}
	}()

	log.Info("serving metrics", "addr", ln.Addr().String())

	return ln.Addr(), done, nil
}
