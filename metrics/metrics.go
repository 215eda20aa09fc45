// Package metrics - Prometheus instrumentation for the operation lifecycle
package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optrack.evalgo.org/statemanager"
)

// Collector holds all Prometheus metrics and implements statemanager.Observer
type Collector struct {
	Created   prometheus.Counter
	Succeeded prometheus.Counter
	Failed    prometheus.Counter
	Reclaimed prometheus.Counter
	Running   prometheus.Gauge
	Duration  prometheus.Histogram
}

// NewCollector creates metrics and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		Created: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_created_total",
			Help:      "Total number of operations created",
		}),
		Succeeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_succeeded_total",
			Help:      "Total number of operations completed successfully",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failed_total",
			Help:      "Total number of operations that failed",
		}),
		Reclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_reclaimed_total",
			Help:      "Total number of stuck operations forced to FAILED by the sweeper",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operation_running",
			Help:      "Number of operations currently running",
		}),
		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent executing operations",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
}

// SeedRunning sets the running gauge, typically from store counts at startup.
func (c *Collector) SeedRunning(n int) {
	c.Running.Set(float64(n))
}

func (c *Collector) OperationCreated(*statemanager.Operation) {
	c.Created.Inc()
}

func (c *Collector) OperationTransitioned(op *statemanager.Operation, from statemanager.Status) {
	if from == statemanager.StatusRunning && op.Status.Terminal() {
		c.Running.Dec()
	}
	switch op.Status {
	case statemanager.StatusRunning:
		c.Running.Inc()
	case statemanager.StatusSuccess:
		c.Succeeded.Inc()
	case statemanager.StatusFailed:
		c.Failed.Inc()
	}
}

func (c *Collector) OperationReclaimed(*statemanager.Operation) {
	c.Reclaimed.Inc()
}

func (c *Collector) OperationExecuted(_ *statemanager.Operation, d time.Duration) {
	c.Duration.Observe(d.Seconds())
}

// MetricsHandler returns an Echo handler serving metrics from gatherer.
// A nil gatherer serves the default Prometheus registry.
func MetricsHandler(gatherer prometheus.Gatherer) echo.HandlerFunc {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})

	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

// RegisterMetricsEndpoint adds the metrics endpoint to e
func RegisterMetricsEndpoint(e *echo.Echo, path string, gatherer prometheus.Gatherer) {
	if path == "" {
		path = "/metrics"
	}

	e.GET(path, MetricsHandler(gatherer))
}
