// Package metrics exposes Prometheus collectors fed by run events.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"browsertour/internal/runner"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector counts runs, tasks, commands and fetches. It owns its registry so
// several collectors can live in one process.
type Collector struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	commandsTotal   *prometheus.CounterVec
	fetchedFields   prometheus.Counter
	navigationTotal prometheus.Counter
	activeRuns      prometheus.Gauge

	logger *zap.Logger
	mu     sync.Mutex
	runs   map[string]*runState
}

type runState struct {
	started time.Time
	failed  bool
}

var _ runner.Observer = (*Collector)(nil)

// NewCollector registers the tour collectors under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
		runs:     make(map[string]*runState),
	}

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of tour runs by outcome",
		},
		[]string{"outcome"},
	)

	c.runDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Tour run duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	c.tasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_consumed_total",
			Help:      "Total number of consumed tasks by kind",
		},
		[]string{"kind"},
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task duration in seconds, settle delay included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.commandsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of dispatched commands by strategy",
		},
		[]string{"strategy"},
	)

	c.fetchedFields = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetched_fields_total",
			Help:      "Total number of result fields produced by fetch jobs",
		},
	)

	c.navigationTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigations_total",
			Help:      "Total number of root task navigations",
		},
	)

	c.activeRuns = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of runs in progress",
		},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// Registry returns the registry the collectors are registered on.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Observe implements runner.Observer.
func (c *Collector) Observe(_ context.Context, ev runner.Event) {
	switch ev.Type {
	case runner.EventRunStarted:
		c.mu.Lock()
		c.runs[ev.RunID] = &runState{started: ev.Time}
		c.mu.Unlock()
		c.activeRuns.Inc()

	case runner.EventRunError:
		c.mu.Lock()
		if st, ok := c.runs[ev.RunID]; ok {
			st.failed = true
		}
		c.mu.Unlock()

	case runner.EventRunFinished:
		c.mu.Lock()
		st, ok := c.runs[ev.RunID]
		delete(c.runs, ev.RunID)
		c.mu.Unlock()
		if !ok {
			return
		}
		c.activeRuns.Dec()
		outcome := "ok"
		if st.failed {
			outcome = "error"
		}
		c.runsTotal.WithLabelValues(outcome).Inc()
		c.runDuration.Observe(ev.Time.Sub(st.started).Seconds())

	case runner.EventTaskConsumed:
		c.tasksTotal.WithLabelValues(kind(ev.Root)).Inc()

	case runner.EventTaskFinished:
		c.taskDuration.WithLabelValues(kind(ev.Root)).Observe(ev.Duration.Seconds())

	case runner.EventCommand:
		c.commandsTotal.WithLabelValues(string(ev.Strategy)).Inc()

	case runner.EventFetched:
		c.fetchedFields.Add(float64(len(ev.Fields)))

	case runner.EventNavigated:
		c.navigationTotal.Inc()
	}
}

func kind(root bool) string {
	if root {
		return "root"
	}
	return "reactive"
}
