package supervisor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector records supervisor activity
type MetricsCollector interface {
	// WorkerStarted records a successful launch
	WorkerStarted()

	// StartFailed records a rejected or failed Start, by error kind
	StartFailed(kind string)

	// WorkerStopped records a stop request that found a live worker
	WorkerStopped(fallbackUsed bool)

	// WorkerExited records a worker that ended without being asked to
	WorkerExited(uptime time.Duration)

	// FatalError records a fatal line on the worker's error stream
	FatalError()

	// Running sets whether a worker currently occupies the slot
	Running(running bool)
}

type noopMetricsCollector struct{}

func (n *noopMetricsCollector) WorkerStarted()                    {}
func (n *noopMetricsCollector) StartFailed(kind string)           {}
func (n *noopMetricsCollector) WorkerStopped(fallbackUsed bool)   {}
func (n *noopMetricsCollector) WorkerExited(uptime time.Duration) {}
func (n *noopMetricsCollector) FatalError()                       {}
func (n *noopMetricsCollector) Running(running bool)              {}

// NewNoopMetricsCollector creates a collector that discards everything
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}

// PrometheusMetricsCollector implements MetricsCollector on its own registry
type PrometheusMetricsCollector struct {
	starts        prometheus.Counter
	startFailures *prometheus.CounterVec
	stops         *prometheus.CounterVec
	exits         prometheus.Counter
	fatalErrors   prometheus.Counter
	uptime        prometheus.Histogram
	running       prometheus.Gauge

	registry *prometheus.Registry
}

func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "gofbot"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.starts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_starts_total",
		Help:      "Total number of bot workers launched",
	})
	pmc.startFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_start_failures_total",
			Help:      "Total number of start requests that did not launch a worker",
		},
		[]string{"kind"},
	)
	pmc.stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_stops_total",
			Help:      "Total number of workers stopped on request",
		},
		[]string{"signal"},
	)
	pmc.exits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_unsolicited_exits_total",
		Help:      "Total number of workers that exited without a stop request",
	})
	pmc.fatalErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_fatal_errors_total",
		Help:      "Total number of fatal lines seen on worker stderr",
	})
	pmc.uptime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "worker_uptime_seconds",
		Help:      "Lifetime of workers that exited on their own",
		Buckets:   []float64{1, 10, 60, 300, 1800, 3600, 4 * 3600, 12 * 3600},
	})
	pmc.running = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_running",
		Help:      "1 while a worker occupies the slot",
	})

	pmc.registry.MustRegister(
		pmc.starts,
		pmc.startFailures,
		pmc.stops,
		pmc.exits,
		pmc.fatalErrors,
		pmc.uptime,
		pmc.running,
	)

	return pmc
}

// Registry returns the registry holding the supervisor metrics
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}

func (pmc *PrometheusMetricsCollector) WorkerStarted() {
	pmc.starts.Inc()
}

func (pmc *PrometheusMetricsCollector) StartFailed(kind string) {
	pmc.startFailures.WithLabelValues(kind).Inc()
}

func (pmc *PrometheusMetricsCollector) WorkerStopped(fallbackUsed bool) {
	signal := "group"
	if fallbackUsed {
		signal = "fallback"
	}
	pmc.stops.WithLabelValues(signal).Inc()
}

func (pmc *PrometheusMetricsCollector) WorkerExited(uptime time.Duration) {
	pmc.exits.Inc()
	pmc.uptime.Observe(uptime.Seconds())
}

func (pmc *PrometheusMetricsCollector) FatalError() {
	pmc.fatalErrors.Inc()
}

func (pmc *PrometheusMetricsCollector) Running(running bool) {
	if running {
		pmc.running.Set(1)
	} else {
		pmc.running.Set(0)
	}
}
