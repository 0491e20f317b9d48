// Package telemetry exposes Prometheus metrics for the HTTP layer, logins
// and the database pool.
package telemetry

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webdiabetes/diabetes-api/internal/platform/apperr"
	"github.com/webdiabetes/diabetes-api/internal/platform/db"
)

// Login outcomes recorded by RecordLogin.
const (
	OutcomeSuccess     = "success"
	OutcomeInvalid     = "invalid_credentials"
	OutcomeInactive    = "inactive"
	OutcomeServerError = "error"
)

type Metrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	authAttempts *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_attempts_total",
				Help: "Total number of login attempts",
			},
			[]string{"kind", "outcome"},
		),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.authAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Middleware counts requests by route template and records their latency.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.requests.WithLabelValues(method, route, strconv.Itoa(statusOf(c, err))).Inc()
			m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// statusOf predicts the response status for err, which the error handler
// has not written yet.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return apperr.HTTPStatus(apperr.KindOf(err))
}

// RecordLogin counts a login attempt. kind names the login endpoint
// ("patient", "admin", "generic").
func (m *Metrics) RecordLogin(kind, outcome string) {
	m.authAttempts.WithLabelValues(kind, outcome).Inc()
}

// ObservePool exports connection pool statistics as gauges read at scrape time.
func (m *Metrics) ObservePool(stats func() *db.PoolStats) {
	gauge := func(name, help string, value func(*db.PoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return value(stats())
		})
	}
	m.registry.MustRegister(
		gauge("db_pool_total_conns", "Connections currently in the pool", func(s *db.PoolStats) float64 { return float64(s.TotalConns) }),
		gauge("db_pool_idle_conns", "Idle connections in the pool", func(s *db.PoolStats) float64 { return float64(s.IdleConns) }),
		gauge("db_pool_acquired_conns", "Connections checked out of the pool", func(s *db.PoolStats) float64 { return float64(s.AcquiredConns) }),
		gauge("db_pool_max_conns", "Configured pool size", func(s *db.PoolStats) float64 { return float64(s.MaxConns) }),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
