package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider owns the Prometheus registry of a server and the collectors
// of raster reads.
type Provider struct {
	reg *prometheus.Registry

	reads        *prometheus.CounterVec
	readDuration *prometheus.HistogramVec
	decodedBytes *prometheus.CounterVec
	cacheResults *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewProvider() *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &Provider{
		reg: reg,
		reads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rastex_reads_total",
				Help: "Total number of raster reads by outcome.",
			},
			[]string{"dataset", "outcome"},
		),
		readDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rastex_read_duration_seconds",
				Help:    "Duration of raster reads in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"dataset"},
		),
		decodedBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rastex_decoded_bytes_total",
				Help: "Raw band bytes decoded by raster reads.",
			},
			[]string{"dataset"},
		),
		cacheResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rastex_cache_results_total",
				Help: "Result cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rastex_http_requests_total",
				Help: "Total number of metadata API requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rastex_http_request_duration_seconds",
				Help:    "Duration of metadata API requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"method", "route"},
		),
	}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

// ObserveRead records a finished read. outcome is "ok", "drill" or the
// lower cased status code of a failure such as "notfound".
func (p *Provider) ObserveRead(dataset, outcome string, d time.Duration, decodedBytes int) {
	p.reads.WithLabelValues(dataset, outcome).Inc()
	p.readDuration.WithLabelValues(dataset).Observe(d.Seconds())
	if decodedBytes > 0 {
		p.decodedBytes.WithLabelValues(dataset).Add(float64(decodedBytes))
	}
}

func (p *Provider) IncCacheHit() { p.cacheResults.WithLabelValues("hit").Inc() }
func (p *Provider) IncCacheMiss() { p.cacheResults.WithLabelValues("miss").Inc() }
func (p *Provider) IncCacheError() { p.cacheResults.WithLabelValues("error").Inc() }

func (p *Provider) ObserveHTTP(method, route string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
