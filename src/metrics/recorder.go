package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 基于独立Registry的Prometheus指标
type Recorder struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec
	aggregationSeconds  *prometheus.HistogramVec
	datasetRecords      prometheus.Gauge
	datasetReloads      *prometheus.CounterVec
	reportJobs          *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	// Go运行时与进程指标
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bikeshare_http_requests_total",
			Help: "Total HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bikeshare_http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		aggregationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bikeshare_aggregation_duration_seconds",
			Help:    "Duration of aggregations by dimension.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"dimension"}),
		datasetRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bikeshare_dataset_records",
			Help: "Number of records in the loaded dataset.",
		}),
		datasetReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bikeshare_dataset_reloads_total",
			Help: "Dataset reload attempts by result.",
		}, []string{"result"}),
		reportJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bikeshare_report_jobs_total",
			Help: "Scheduled report deliveries by channel and result.",
		}, []string{"channel", "result"}),
	}

	registry.MustRegister(r.httpRequests)
	registry.MustRegister(r.httpDurationSeconds)
	registry.MustRegister(r.aggregationSeconds)
	registry.MustRegister(r.datasetRecords)
	registry.MustRegister(r.datasetReloads)
	registry.MustRegister(r.reportJobs)

	return r
}

// GetRegistry 返回Registry
func (r *Recorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler /metrics
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RecordRequest(route string, code int, d time.Duration) {
	r.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	r.httpDurationSeconds.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveAggregation 供processor.Aggregator回调
func (r *Recorder) ObserveAggregation(dim string, d time.Duration) {
	r.aggregationSeconds.WithLabelValues(dim).Observe(d.Seconds())
}

func (r *Recorder) SetDatasetRecords(n int) {
	r.datasetRecords.Set(float64(n))
}

// RecordReload result为 ok 或 error
func (r *Recorder) RecordReload(err error) {
	r.datasetReloads.WithLabelValues(result(err)).Inc()
}

func (r *Recorder) RecordReport(channel string, err error) {
	r.reportJobs.WithLabelValues(channel, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
