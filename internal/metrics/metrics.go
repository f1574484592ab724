// Package metrics exposes prometheus instrumentation for the streaming
// client and the relay sinks.
package metrics

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all registered collectors.
type Metrics struct {
	connectionStatus    prometheus.Gauge
	reconnectsTotal     prometheus.Counter
	transportErrors     prometheus.Counter
	framesTotal         *prometheus.CounterVec
	eventsDispatched    prometheus.Counter
	subscriptionsActive prometheus.Gauge
	relayPublishes      *prometheus.CounterVec

	goroutines prometheus.Gauge
	memAlloc   prometheus.Gauge
}

// NewMetrics creates and registers all collectors on the given registerer.
// A nil registerer yields an unregistered (test) instance.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectionStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_stream_connection_status",
			Help: "Whether the streaming connection is currently established (1) or not (0)",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_stream_reconnects_total",
			Help: "Number of reconnection attempts scheduled",
		}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_stream_transport_errors_total",
			Help: "Number of transport-level errors observed",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_stream_frames_total",
			Help: "Inbound frames by result (received, decoded, dropped)",
		}, []string{"result"}),
		eventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_stream_events_dispatched_total",
			Help: "Decoded events fanned out to handlers",
		}),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_stream_subscriptions_active",
			Help: "Topics currently held with a reference count of at least one",
		}),
		relayPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sink_publishes_total",
			Help: "Events forwarded to sinks by sink name and result",
		}, []string{"sink", "result"}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_goroutines",
			Help: "Number of running goroutines",
		}),
		memAlloc: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		}),
	}

	if reg != nil {
		collectors := []prometheus.Collector{
			m.connectionStatus,
			m.reconnectsTotal,
			m.transportErrors,
			m.framesTotal,
			m.eventsDispatched,
			m.subscriptionsActive,
			m.relayPublishes,
			m.goroutines,
			m.memAlloc,
		}
		for _, collector := range collectors {
			if err := reg.Register(collector); err != nil {
				return nil, fmt.Errorf("failed to register collector: %w", err)
			}
		}
	}

	return m, nil
}

// SetConnectionStatus records whether the streaming connection is up.
func (m *Metrics) SetConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
	} else {
		m.connectionStatus.Set(0)
	}
}

// IncReconnects counts a scheduled reconnection attempt.
func (m *Metrics) IncReconnects() {
	m.reconnectsTotal.Inc()
}

// IncTransportErrors counts a transport-level error.
func (m *Metrics) IncTransportErrors() {
	m.transportErrors.Inc()
}

// IncFramesTotal counts an inbound frame by result.
func (m *Metrics) IncFramesTotal(result string) {
	m.framesTotal.WithLabelValues(result).Inc()
}

// IncEventsDispatched counts an event delivered to handlers.
func (m *Metrics) IncEventsDispatched() {
	m.eventsDispatched.Inc()
}

// SetSubscriptionsActive records the number of held topics.
func (m *Metrics) SetSubscriptionsActive(count float64) {
	m.subscriptionsActive.Set(count)
}

// IncRelayPublishes counts a sink publish by result.
func (m *Metrics) IncRelayPublishes(sink, result string) {
	m.relayPublishes.WithLabelValues(sink, result).Inc()
}

// MetricsCollector periodically samples process-level gauges.
type MetricsCollector struct {
	metrics  *Metrics
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a collector with the given sampling interval.
func NewMetricsCollector(m *Metrics, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		metrics:  m,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start begins sampling in the background.
func (c *MetricsCollector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the collector goroutine to exit.
func (c *MetricsCollector) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *MetricsCollector) collect() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	c.metrics.goroutines.Set(float64(runtime.NumGoroutine()))
	c.metrics.memAlloc.Set(float64(stats.Alloc))
}
