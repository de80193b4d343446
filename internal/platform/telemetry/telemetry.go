// Package telemetry exposes Prometheus metrics for the HTTP surface, the
// lifecycle operations and the database pool.
package telemetry

import (
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config labels every series this provider exports.
type Config struct {
	ServiceName string
	Environment string
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "lims-server"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Provider owns a private registry so tests can build as many as they like.
type Provider struct {
	registry *prometheus.Registry

	httpDuration   *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	operations     *prometheus.CounterVec
	opDuration     *prometheus.HistogramVec
}

func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	constLabels := prometheus.Labels{"service": cfg.ServiceName, "env": cfg.Environment}

	p := &Provider{
		registry: prometheus.NewRegistry(),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "lims_http_request_duration_seconds",
			Help:        "HTTP request latency by route and status.",
			Buckets:     durationBuckets,
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "lims_http_active_requests",
			Help:        "Requests currently being served.",
			ConstLabels: constLabels,
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lims_lifecycle_operations_total",
			Help:        "Lifecycle operations by outcome.",
			ConstLabels: constLabels,
		}, []string{"operation", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "lims_lifecycle_operation_duration_seconds",
			Help:        "Lifecycle operation latency including the transaction.",
			Buckets:     durationBuckets,
			ConstLabels: constLabels,
		}, []string{"operation"}),
	}

	p.registry.MustRegister(
		p.httpDuration,
		p.activeRequests,
		p.operations,
		p.opDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry is exposed for tests and for callers adding their own collectors.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// ObserveOperation records one lifecycle operation. outcome is "ok" or an
// error kind such as "conflict" or "transient".
func (p *Provider) ObserveOperation(operation, outcome string, d time.Duration) {
	p.operations.WithLabelValues(operation, outcome).Inc()
	p.opDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RegisterPool exports connection pool gauges read at scrape time.
func (p *Provider) RegisterPool(pool *pgxpool.Pool) {
	gauge := func(name, help string, read func(*pgxpool.Stat) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return read(pool.Stat())
		})
	}
	p.registry.MustRegister(
		gauge("lims_db_pool_total_conns", "Open connections in the pool.",
			func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }),
		gauge("lims_db_pool_idle_conns", "Idle connections in the pool.",
			func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }),
		gauge("lims_db_pool_acquired_conns", "Connections checked out of the pool.",
			func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }),
	)
}

// MetricsMiddleware records latency per route pattern, never per raw path,
// so IDs in URLs do not explode label cardinality.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			p.httpDuration.
				WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry}))
}
