package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/consciouslab/qrand/pkg/qrng"
	"github.com/consciouslab/qrand/pkg/spool"
)

// CacheSource is the view of the bit cache the collector scrapes.
type CacheSource interface {
	Status() qrng.Status
	Stats() qrng.Stats
}

// cacheCollector exports cache engine state on each scrape. Reading the
// snapshot at scrape time means the engine carries no metrics code at all.
type cacheCollector struct {
	cache CacheSource

	remainingBits  *prometheus.Desc
	standbyBits    *prometheus.Desc
	prefetching    *prometheus.Desc
	requestsTotal  *prometheus.Desc
	cacheHitsTotal *prometheus.Desc
	prefetchTotal  *prometheus.Desc
	rateLimitTotal *prometheus.Desc
	timeoutsTotal  *prometheus.Desc
	netErrorsTotal *prometheus.Desc
}

// RegisterCacheCollector registers a collector exporting cache state.
// It is a no-op when metrics are disabled.
func RegisterCacheCollector(cache CacheSource) {
	if !IsEnabled() {
		return
	}

	Register(&cacheCollector{
		cache: cache,
		remainingBits: prometheus.NewDesc(
			"qrand_cache_remaining_bits",
			"Unconsumed bits left in the active buffer",
			nil, nil,
		),
		standbyBits: prometheus.NewDesc(
			"qrand_cache_standby_bits",
			"Bits waiting in the standby buffer",
			nil, nil,
		),
		prefetching: prometheus.NewDesc(
			"qrand_cache_prefetching",
			"Whether a background prefetch is in flight (0 or 1)",
			nil, nil,
		),
		requestsTotal: prometheus.NewDesc(
			"qrand_api_requests_total",
			"Upstream quantum API fetches by result",
			[]string{"result"}, nil,
		),
		cacheHitsTotal: prometheus.NewDesc(
			"qrand_cache_hits_total",
			"Bits served from the cache",
			nil, nil,
		),
		prefetchTotal: prometheus.NewDesc(
			"qrand_prefetch_total",
			"Background prefetches started",
			nil, nil,
		),
		rateLimitTotal: prometheus.NewDesc(
			"qrand_api_rate_limit_hits_total",
			"Upstream HTTP 429 responses",
			nil, nil,
		),
		timeoutsTotal: prometheus.NewDesc(
			"qrand_api_timeout_errors_total",
			"Upstream request timeouts",
			nil, nil,
		),
		netErrorsTotal: prometheus.NewDesc(
			"qrand_api_network_errors_total",
			"Upstream network failures",
			nil, nil,
		),
	})
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.remainingBits
	ch <- c.standbyBits
	ch <- c.prefetching
	ch <- c.requestsTotal
	ch <- c.cacheHitsTotal
	ch <- c.prefetchTotal
	ch <- c.rateLimitTotal
	ch <- c.timeoutsTotal
	ch <- c.netErrorsTotal
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	status := c.cache.Status()
	stats := c.cache.Stats()

	ch <- prometheus.MustNewConstMetric(c.remainingBits, prometheus.GaugeValue, float64(status.RemainingBits))
	ch <- prometheus.MustNewConstMetric(c.standbyBits, prometheus.GaugeValue, float64(status.StandbyBits))

	prefetching := 0.0
	if status.Prefetching {
		prefetching = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.prefetching, prometheus.GaugeValue, prefetching)

	ch <- prometheus.MustNewConstMetric(c.requestsTotal, prometheus.CounterValue, float64(stats.SuccessfulRequests), "success")
	ch <- prometheus.MustNewConstMetric(c.requestsTotal, prometheus.CounterValue, float64(stats.FailedRequests), "failure")
	ch <- prometheus.MustNewConstMetric(c.cacheHitsTotal, prometheus.CounterValue, float64(stats.CacheHits))
	ch <- prometheus.MustNewConstMetric(c.prefetchTotal, prometheus.CounterValue, float64(stats.PrefetchCount))
	ch <- prometheus.MustNewConstMetric(c.rateLimitTotal, prometheus.CounterValue, float64(stats.RateLimitHits))
	ch <- prometheus.MustNewConstMetric(c.timeoutsTotal, prometheus.CounterValue, float64(stats.TimeoutErrors))
	ch <- prometheus.MustNewConstMetric(c.netErrorsTotal, prometheus.CounterValue, float64(stats.NetworkErrors))
}

// SpoolSource is the view of the spool the collector scrapes.
type SpoolSource interface {
	Status() spool.Status
}

type spoolCollector struct {
	spool SpoolSource

	bufferedBits *prometheus.Desc
	filesWritten *prometheus.Desc
	bitsFlushed  *prometheus.Desc
	flushErrors  *prometheus.Desc
}

// RegisterSpoolCollector registers a collector exporting spool state.
// It is a no-op when metrics are disabled.
func RegisterSpoolCollector(s SpoolSource) {
	if !IsEnabled() {
		return
	}

	Register(&spoolCollector{
		spool: s,
		bufferedBits: prometheus.NewDesc(
			"qrand_spool_buffered_bits",
			"Bits buffered in memory awaiting flush",
			nil, nil,
		),
		filesWritten: prometheus.NewDesc(
			"qrand_spool_files_written_total",
			"Spool files written to disk",
			nil, nil,
		),
		bitsFlushed: prometheus.NewDesc(
			"qrand_spool_bits_flushed_total",
			"Bits flushed to spool files",
			nil, nil,
		),
		flushErrors: prometheus.NewDesc(
			"qrand_spool_flush_errors_total",
			"Failed spool flush attempts",
			nil, nil,
		),
	})
}

func (c *spoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bufferedBits
	ch <- c.filesWritten
	ch <- c.bitsFlushed
	ch <- c.flushErrors
}

func (c *spoolCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.spool.Status()

	ch <- prometheus.MustNewConstMetric(c.bufferedBits, prometheus.GaugeValue, float64(st.BufferedBits))
	ch <- prometheus.MustNewConstMetric(c.filesWritten, prometheus.CounterValue, float64(st.FilesWritten))
	ch <- prometheus.MustNewConstMetric(c.bitsFlushed, prometheus.CounterValue, float64(st.BitsFlushed))
	ch <- prometheus.MustNewConstMetric(c.flushErrors, prometheus.CounterValue, float64(st.FlushErrors))
}

// UploaderStats is the snapshot the uploader collector scrapes.
type UploaderStats struct {
	FilesUploaded     uint64
	BitsUploaded      uint64
	UploadErrors      uint64
	IncompleteBatches uint64
	LastUploadUnix    int64
}

// UploaderSource is the view of the uploader the collector scrapes.
type UploaderSource interface {
	MetricsSnapshot() UploaderStats
}

type uploaderCollector struct {
	uploader UploaderSource

	filesUploaded     *prometheus.Desc
	bitsUploaded      *prometheus.Desc
	uploadErrors      *prometheus.Desc
	incompleteBatches *prometheus.Desc
	lastUpload        *prometheus.Desc
}

// RegisterUploaderCollector registers a collector exporting uploader state.
// It is a no-op when metrics are disabled.
func RegisterUploaderCollector(u UploaderSource) {
	if !IsEnabled() {
		return
	}

	Register(&uploaderCollector{
		uploader: u,
		filesUploaded: prometheus.NewDesc(
			"qrand_uploader_files_total",
			"Spool files uploaded to object storage",
			nil, nil,
		),
		bitsUploaded: prometheus.NewDesc(
			"qrand_uploader_bits_total",
			"Bits uploaded to object storage",
			nil, nil,
		),
		uploadErrors: prometheus.NewDesc(
			"qrand_uploader_errors_total",
			"Failed upload attempts",
			nil, nil,
		),
		incompleteBatches: prometheus.NewDesc(
			"qrand_uploader_incomplete_batches_total",
			"Uploaded batches holding fewer records than the batch size",
			nil, nil,
		),
		lastUpload: prometheus.NewDesc(
			"qrand_uploader_last_success_timestamp_seconds",
			"Unix time of the last successful upload",
			nil, nil,
		),
	})
}

func (c *uploaderCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.filesUploaded
	ch <- c.bitsUploaded
	ch <- c.uploadErrors
	ch <- c.incompleteBatches
	ch <- c.lastUpload
}

func (c *uploaderCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.uploader.MetricsSnapshot()

	ch <- prometheus.MustNewConstMetric(c.filesUploaded, prometheus.CounterValue, float64(st.FilesUploaded))
	ch <- prometheus.MustNewConstMetric(c.bitsUploaded, prometheus.CounterValue, float64(st.BitsUploaded))
	ch <- prometheus.MustNewConstMetric(c.uploadErrors, prometheus.CounterValue, float64(st.UploadErrors))
	ch <- prometheus.MustNewConstMetric(c.incompleteBatches, prometheus.CounterValue, float64(st.IncompleteBatches))
	ch <- prometheus.MustNewConstMetric(c.lastUpload, prometheus.GaugeValue, float64(st.LastUploadUnix))
}
