package dht

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsNamespace 指标命名空间
const metricsNamespace = "kaddht"

// metrics DHT 指标
type metrics struct {
	RoutingTableSize   prometheus.Gauge
	OutboundRequests   *prometheus.CounterVec
	OutboundErrors     *prometheus.CounterVec
	OutboundLatency    *prometheus.HistogramVec
	InboundRequests    *prometheus.CounterVec
	DroppedFrames      *prometheus.CounterVec
	Queries            *prometheus.CounterVec
	ProviderLoads      prometheus.Counter
	RandomWalkRuns     prometheus.Counter
	RandomWalkFailures prometheus.Counter
}

func newMetrics() *metrics {
	subsystem := "dht"

	return &metrics{
		RoutingTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "routing_table_size",
			Help:      "Number of peers in the routing table.",
		}),
		OutboundRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "outbound_requests_total",
			Help:      "Number of RPC messages sent.",
		}, []string{"type"}),
		OutboundErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "outbound_errors_total",
			Help:      "Number of failed outbound RPCs.",
		}, []string{"type", "reason"}),
		OutboundLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "outbound_request_seconds",
			Help:      "Round trip time of request/response RPCs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"type"}),
		InboundRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "inbound_requests_total",
			Help:      "Number of RPC messages handled.",
		}, []string{"type", "result"}),
		DroppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "dropped_frames_total",
			Help:      "Number of inbound frames dropped before dispatch.",
		}, []string{"reason"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "queries_total",
			Help:      "Number of public DHT operations by outcome.",
		}, []string{"op", "result"}),
		ProviderLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "provider_datastore_loads_total",
			Help:      "Number of provider sets loaded from the datastore.",
		}),
		RandomWalkRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "random_walk_runs_total",
			Help:      "Number of random walk lookups.",
		}),
		RandomWalkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      "random_walk_failures_total",
			Help:      "Number of random walk lookups that failed unexpectedly.",
		}),
	}
}

// Collectors 返回全部收集器
func (m *metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RoutingTableSize,
		m.OutboundRequests,
		m.OutboundErrors,
		m.OutboundLatency,
		m.InboundRequests,
		m.DroppedFrames,
		m.Queries,
		m.ProviderLoads,
		m.RandomWalkRuns,
		m.RandomWalkFailures,
	}
}

// register 注册到 reg，已注册的收集器忽略
func (m *metrics) register(reg prometheus.Registerer) error {
	if reg == nil {
		return nil
	}
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

func (m *metrics) observeRPC(t MessageType, err error, rtt time.Duration) {
	m.OutboundRequests.WithLabelValues(t.String()).Inc()
	if err != nil {
		m.OutboundErrors.WithLabelValues(t.String(), errorReason(err)).Inc()
		return
	}
	if rtt > 0 {
		m.OutboundLatency.WithLabelValues(t.String()).Observe(rtt.Seconds())
	}
}

func (m *metrics) inboundRequest(t MessageType, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.InboundRequests.WithLabelValues(t.String(), result).Inc()
}

func (m *metrics) droppedFrame(reason string) {
	m.DroppedFrames.WithLabelValues(reason).Inc()
}

func (m *metrics) operation(op string, err error) {
	m.Queries.WithLabelValues(op, errorReason(err)).Inc()
}

func errorReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrLookupFailure):
		return "lookup_failure"
	case errors.Is(err, ErrInvalidRecord):
		return "invalid_record"
	default:
		return "error"
	}
}
