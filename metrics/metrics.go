// Package metrics exposes workerbus's operational counters/gauges via
// github.com/prometheus/client_golang. Stats registries are built explicitly
// and passed down rather than mutating a package-level default registerer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set is the full collection of metrics a Manager records. A nil *Set
// disables instrumentation: every method on Set is nil-receiver safe.
type Set struct {
	restartsTotal          *prometheus.CounterVec
	heartbeatMissesTotal   *prometheus.CounterVec
	reconnectAttemptsTotal *prometheus.CounterVec
	reconnectQueueDepth    *prometheus.GaugeVec
	pendingRequests        *prometheus.GaugeVec
}

// New builds a Set and registers its collectors with reg. Passing a nil
// reg is valid and simply skips registration (useful for tests that don't
// want a global default registry polluted).
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		restartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workerbus_restarts_total",
			Help: "Total number of worker process restarts, by worker id.",
		}, []string{"worker"}),
		heartbeatMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workerbus_heartbeat_misses_total",
			Help: "Total number of missed heartbeat pongs, by worker id.",
		}, []string{"worker"}),
		reconnectAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workerbus_reconnect_attempts_total",
			Help: "Total number of data-channel reconnect attempts, by worker id.",
		}, []string{"worker"}),
		reconnectQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workerbus_reconnect_queue_depth",
			Help: "Current number of queued requests awaiting data-channel reconnect.",
		}, []string{"worker"}),
		pendingRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "workerbus_pending_requests",
			Help: "Current number of in-flight requests on a channel.",
		}, []string{"worker", "channel"}),
	}
	if reg != nil {
		reg.MustRegister(
			s.restartsTotal,
			s.heartbeatMissesTotal,
			s.reconnectAttemptsTotal,
			s.reconnectQueueDepth,
			s.pendingRequests,
		)
	}
	return s
}

func (s *Set) RestartObserved(worker string) {
	if s == nil {
		return
	}
	s.restartsTotal.WithLabelValues(worker).Inc()
}

func (s *Set) HeartbeatMissed(worker string) {
	if s == nil {
		return
	}
	s.heartbeatMissesTotal.WithLabelValues(worker).Inc()
}

func (s *Set) ReconnectAttempted(worker string) {
	if s == nil {
		return
	}
	s.reconnectAttemptsTotal.WithLabelValues(worker).Inc()
}

func (s *Set) SetReconnectQueueDepth(worker string, depth int) {
	if s == nil {
		return
	}
	s.reconnectQueueDepth.WithLabelValues(worker).Set(float64(depth))
}

func (s *Set) SetPendingRequests(worker, channel string, count int) {
	if s == nil {
		return
	}
	s.pendingRequests.WithLabelValues(worker, channel).Set(float64(count))
}
