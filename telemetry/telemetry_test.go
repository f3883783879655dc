package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledRegistryIsNoop(t *testing.T) {
	r := NewRegistry(false, "pub-1")
	assert.False(t, r.Enabled())
	assert.Nil(t, r.Handler())
	assert.Nil(t, r.Gatherer())

	m := NewMetrics(r)
	assert.IsType(t, NoopStat{}, m.FilesDeletedTotal)
	assert.IsType(t, noopCounterVec{}, m.RunsTotal)

	// Must not panic
	m.RunsTotal.With(ResultSuccess).Inc()
	m.StageDurationSeconds.With("local").Observe(1)
	m.SourcePendingFiles.Set(3)
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.False(t, r.Enabled())
	assert.Nil(t, r.Handler())

	m := NoopMetrics()
	m.NotificationsTotal.With("slack", ResultError).Inc()
}

func TestEnabledRegistryExportsMetrics(t *testing.T) {
	r := NewRegistry(true, "pub-1")
	require.True(t, r.Enabled())

	m := NewMetrics(r)
	m.RunsTotal.With(ResultPartial).Inc()
	m.StageAttemptsTotal.With("cloud", "success").Add(2)
	m.FilesDeletedTotal.Inc()

	count, err := testutil.GatherAndCount(r.Gatherer(), "catalogpub_stage_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `catalogpub_runs_total{publisher_id="pub-1",result="partial"} 1`)
	assert.Contains(t, body, `catalogpub_files_deleted_total{publisher_id="pub-1"} 1`)
}

type fakePending struct {
	calls atomic.Int32
	n     int
}

func (f *fakePending) Pending(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return f.n, nil
}

type recordingGauge struct {
	NoopStat
	last atomic.Int64
}

func (g *recordingGauge) Set(v float64) { g.last.Store(int64(v)) }

func TestSourceCollector(t *testing.T) {
	src := &fakePending{n: 4}
	gauge := &recordingGauge{}

	sc := NewSourceCollector(src, gauge, 10*time.Millisecond)
	sc.Start()

	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	sc.Stop()
	sc.Stop()

	assert.Equal(t, int64(4), gauge.last.Load())
}
