package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consciouslab/qrand/pkg/qrng"
	"github.com/consciouslab/qrand/pkg/spool"
)

type fakeCache struct {
	status qrng.Status
	stats  qrng.Stats
}

func (f *fakeCache) Status() qrng.Status { return f.status }
func (f *fakeCache) Stats() qrng.Stats   { return f.stats }

type fakeSpool struct {
	status spool.Status
}

func (f *fakeSpool) Status() spool.Status { return f.status }

type fakeUploader struct {
	stats UploaderStats
}

func (f *fakeUploader) MetricsSnapshot() UploaderStats { return f.stats }

func gatherValue(t *testing.T, families []*dto.MetricFamily, name string) float64 {
	t.Helper()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		m := mf.GetMetric()[0]
		if m.GetGauge() != nil {
			return m.GetGauge().GetValue()
		}
		return m.GetCounter().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestCollectors_ExportSnapshots(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())

	RegisterCacheCollector(&fakeCache{
		status: qrng.Status{RemainingBits: 42, StandbyBits: 7, Prefetching: true},
		stats:  qrng.Stats{SuccessfulRequests: 3, FailedRequests: 1, CacheHits: 99, PrefetchCount: 2},
	})
	RegisterSpoolCollector(&fakeSpool{
		status: spool.Status{BufferedBits: 5, FilesWritten: 2, BitsFlushed: 128},
	})
	RegisterUploaderCollector(&fakeUploader{
		stats: UploaderStats{FilesUploaded: 4, BitsUploaded: 256, IncompleteBatches: 1, LastUploadUnix: 1700000000},
	})

	families, err := GetRegistry().Gather()
	require.NoError(t, err)

	assert.Equal(t, 42.0, gatherValue(t, families, "qrand_cache_remaining_bits"))
	assert.Equal(t, 7.0, gatherValue(t, families, "qrand_cache_standby_bits"))
	assert.Equal(t, 1.0, gatherValue(t, families, "qrand_cache_prefetching"))
	assert.Equal(t, 99.0, gatherValue(t, families, "qrand_cache_hits_total"))
	assert.Equal(t, 2.0, gatherValue(t, families, "qrand_prefetch_total"))
	assert.Equal(t, 5.0, gatherValue(t, families, "qrand_spool_buffered_bits"))
	assert.Equal(t, 128.0, gatherValue(t, families, "qrand_spool_bits_flushed_total"))
	assert.Equal(t, 4.0, gatherValue(t, families, "qrand_uploader_files_total"))
	assert.Equal(t, 1.0, gatherValue(t, families, "qrand_uploader_incomplete_batches_total"))
	assert.Equal(t, 1700000000.0, gatherValue(t, families, "qrand_uploader_last_success_timestamp_seconds"))

	// The labeled request counter has one series per result.
	var results []string
	for _, mf := range families {
		if mf.GetName() != "qrand_api_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				results = append(results, lp.GetValue())
			}
		}
	}
	assert.ElementsMatch(t, []string{"success", "failure"}, results)
}
