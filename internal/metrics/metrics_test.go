package metrics_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/bitcheck/internal/metrics"
	"github.com/calvinalkan/bitcheck/pkg/verify"
)

func TestObserver_Counts_Events(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	f := verify.TestFile{Path: "/t/a.bin", Size: 4096, Expected: "xxh64:00"}

	m.OnFileGenerated(1, f)
	m.OnFileGenerated(1, f)
	m.OnFileVerified(1, f, f.Expected)
	m.OnMismatch(1, verify.Mismatch{File: f, Actual: "xxh64:01"})
	m.OnPassDone(verify.Pass{Index: 1, Bytes: 8192, GenerateElapsed: time.Second, VerifyElapsed: 2 * time.Second})

	assert.InDelta(t, 2, testutil.ToFloat64(m.FilesGenerated), 0)
	assert.InDelta(t, 8192, testutil.ToFloat64(m.BytesGenerated), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FilesVerified), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Mismatches), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PassesCompleted), 0)
	assert.InDelta(t, 8192, testutil.ToFloat64(m.Throughput.WithLabelValues("generate")), 0)
	assert.InDelta(t, 4096, testutil.ToFloat64(m.Throughput.WithLabelValues("verify")), 0)
}

func TestHandler_Exposes_Metrics(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.OnFileGenerated(1, verify.TestFile{Size: 10})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bitcheck_bytes_generated_total 10")
}

func TestServe_Stops_When_Context_Done(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()

	addr, done, err := m.Serve(ctx, "127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)

	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	assert.True(t, strings.Contains(string(body), "bitcheck_passes_completed_total"))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
