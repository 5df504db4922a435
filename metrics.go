package procpool

import "github.com/prometheus/client_golang/prometheus"

// prometheusRegisterer is a thin alias over prometheus.Registerer so the
// rest of the package doesn't need to import prometheus directly just to
// accept a registry in an option signature.
type prometheusRegisterer = prometheus.Registerer

// signalMetrics holds the Prometheus collectors for a SignalHandler,
// mirroring the metrics surface smazurov-videonode and tombee-conductor
// both expose for their own HTTP-visible subsystems.
type signalMetrics struct {
	dispatched prometheus.Counter
	dropped    prometheus.Counter
}

func newSignalMetrics(reg prometheusRegisterer) *signalMetrics {
	m := &signalMetrics{
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "procpool",
			Subsystem: "signal",
			Name:      "dispatched_total",
			Help:      "Total number of signals popped from the queue and dispatched to the target.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "procpool",
			Subsystem: "signal",
			Name:      "dropped_total",
			Help:      "Total number of signals dropped because the bounded queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.dispatched, m.dropped)
	}
	return m
}

// poolMetrics holds the Prometheus collectors for a Pool.
type poolMetrics struct {
	workersLive   prometheus.Gauge
	spawnedTotal  prometheus.Counter
	killedTotal   *prometheus.CounterVec
	intensityHits prometheus.Counter
}

func newPoolMetrics(reg prometheusRegisterer, poolName string) *poolMetrics {
	labels := prometheus.Labels{"pool": poolName}
	m := &poolMetrics{
		workersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "procpool",
			Subsystem:   "pool",
			Name:        "workers_live",
			Help:        "Current number of live worker PIDs tracked by the pool.",
			ConstLabels: labels,
		}),
		spawnedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "procpool",
			Subsystem:   "pool",
			Name:        "workers_spawned_total",
			Help:        "Total number of worker processes spawned.",
			ConstLabels: labels,
		}),
		killedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "procpool",
			Subsystem:   "pool",
			Name:        "workers_killed_total",
			Help:        "Total number of signals sent to end a worker, labeled by action.",
			ConstLabels: labels,
		}, []string{"action"}),
		intensityHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "procpool",
			Subsystem:   "pool",
			Name:        "intensity_exceeded_total",
			Help:        "Total number of times respawn intensity was exceeded, delaying reconciliation.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.workersLive, m.spawnedTotal, m.killedTotal, m.intensityHits)
	}
	return m
}
