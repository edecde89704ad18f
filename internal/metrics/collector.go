// Package metrics exports cache activity as Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiercache/tiercache/pkg/types"
)

// Collector maintains the Prometheus registry for one cache instance. It
// implements types.Observer so it can be attached to the manager like any
// other event consumer.
type Collector struct {
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	hitCounter        *prometheus.CounterVec
	missCounter       *prometheus.CounterVec
	evictionCounter   *prometheus.CounterVec
	entriesGauge      *prometheus.GaugeVec

	server *http.Server
}

// Config represents metrics configuration.
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// NewCollector creates a collector with its own registry.
func NewCollector(cfg *Config) *Collector {
	if cfg == nil {
		cfg = &Config{Namespace: "tiercache", Subsystem: "cache"}
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "tiercache"
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "operations_total",
			Help:      "Total number of cache operations by type, tier, and outcome",
		}, []string{"operation", "tier", "hit"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "operation_duration_seconds",
			Help:      "Cache operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 10, 8),
		}, []string{"operation"}),
		hitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "hits_total",
			Help:      "Total number of cache hits by tier",
		}, []string{"tier"}),
		missCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "misses_total",
			Help:      "Total number of cache misses by tier",
		}, []string{"tier"}),
		evictionCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "evictions_total",
			Help:      "Total number of capacity evictions by tier",
		}, []string{"tier"}),
		entriesGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "entries",
			Help:      "Current number of resident entries by tier",
		}, []string{"tier"}),
	}

	registry.MustRegister(
		c.operationCounter,
		c.operationDuration,
		c.hitCounter,
		c.missCounter,
		c.evictionCounter,
		c.entriesGauge,
	)

	return c
}

// ObserveCacheOperation implements types.Observer.
func (c *Collector) ObserveCacheOperation(event types.OperationEvent) {
	c.operationCounter.WithLabelValues(
		event.Operation, event.CacheLevel, strconv.FormatBool(event.Hit),
	).Inc()
	c.operationDuration.WithLabelValues(event.Operation).Observe(event.Duration.Seconds())
}

// RecordHit counts a hit in the named tier.
func (c *Collector) RecordHit(tier string) {
	c.hitCounter.WithLabelValues(tier).Inc()
}

// RecordMiss counts a miss in the named tier.
func (c *Collector) RecordMiss(tier string) {
	c.missCounter.WithLabelValues(tier).Inc()
}

// RecordEvictions counts n capacity evictions in the named tier.
func (c *Collector) RecordEvictions(tier string, n int) {
	c.evictionCounter.WithLabelValues(tier).Add(float64(n))
}

// SetEntries records the current occupancy of the named tier.
func (c *Collector) SetEntries(tier string, n int) {
	c.entriesGauge.WithLabelValues(tier).Set(float64(n))
}

// Registry exposes the underlying registry for callers that aggregate
// metrics themselves.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Serve starts an HTTP endpoint exposing the registry at /metrics.
func (c *Collector) Serve(addr string) error {
	if c.server != nil {
		return fmt.Errorf("metrics server already running")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		_ = c.server.ListenAndServe()
	}()
	return nil
}

// Shutdown stops the metrics endpoint if one is running.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	err := c.server.Shutdown(ctx)
	c.server = nil
	return err
}
