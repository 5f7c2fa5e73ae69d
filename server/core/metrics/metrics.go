// Package metrics wires the storage core's buffer pool and lock manager
// into Prometheus, following the same client_golang registration style the
// rest of the ecosystem's storage daemons use (a process-wide registry,
// one package-level collector set, safe to register once per process).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BufferPinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wdcore",
		Subsystem: "buffer",
		Name:      "pins_total",
		Help:      "Total number of buffer pin operations.",
	})
	BufferHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wdcore",
		Subsystem: "buffer",
		Name:      "hits_total",
		Help:      "Total number of pins satisfied without a disk read.",
	})
	BufferEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wdcore",
		Subsystem: "buffer",
		Name:      "evictions_total",
		Help:      "Total number of buffers reclaimed from the free list.",
	})
	BufferFlushesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wdcore",
		Subsystem: "buffer",
		Name:      "flushes_total",
		Help:      "Total number of dirty-buffer flush passes initiated.",
	})
	BufferPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wdcore",
		Subsystem: "buffer",
		Name:      "pool_size",
		Help:      "Current number of descriptors in the buffer pool.",
	})
	BufferWaitersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wdcore",
		Subsystem: "buffer",
		Name:      "free_list_waiters",
		Help:      "Goroutines currently blocked waiting for a free buffer.",
	})

	LockAcquiresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wdcore",
		Subsystem: "lock",
		Name:      "acquires_total",
		Help:      "Total lock acquisitions by mode.",
	}, []string{"mode"})
	LockWaitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wdcore",
		Subsystem: "lock",
		Name:      "waits_total",
		Help:      "Total number of times a locker had to block.",
	})
	LockDeadlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wdcore",
		Subsystem: "lock",
		Name:      "deadlocks_total",
		Help:      "Total number of confirmed deadlocks detected.",
	})
)

// Register adds every collector in this package to reg. Called once at
// system bring-up; a nil reg registers against prometheus.DefaultRegisterer.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		BufferPinsTotal, BufferHitsTotal, BufferEvictionsTotal, BufferFlushesTotal,
		BufferPoolSize, BufferWaitersGauge,
		LockAcquiresTotal, LockWaitsTotal, LockDeadlocksTotal,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}
