package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsignal_events_received_total",
			Help: "Total number of task state-change events received, by event type.",
		},
		[]string{"event_type"},
	)

	EventsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docsignal_events_skipped_total",
			Help: "Total number of events with no recipient configured.",
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsignal_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"outcome"}, // delivered, retrying, failed
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsignal_retries_total",
			Help: "Total number of delivery retries scheduled, by failure reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, http_4xx, timeout, connection_refused, dns_error, network
	)

	PermanentFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docsignal_permanent_failures_total",
			Help: "Total number of deliveries that exhausted all attempts.",
		},
	)

	DeliveryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsignal_delivery_latency_seconds",
			Help:    "Latency of outbound webhook HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docsignal_sweeps_total",
			Help: "Total number of retry scheduler sweeps executed.",
		},
	)

	SweepRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsignal_sweep_records_total",
			Help: "Total number of records processed by sweeps, by result.",
		},
		[]string{"result"}, // succeeded, failed, skipped
	)

	DispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsignal_dispatch_queue_depth",
			Help: "Current number of deliveries waiting in the dispatch queue.",
		},
	)
)

// MustRegister registers all docsignal collectors with the given registry.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsReceivedTotal,
		EventsSkippedTotal,
		DeliveriesTotal,
		RetriesTotal,
		PermanentFailuresTotal,
		DeliveryLatency,
		SweepsTotal,
		SweepRecordsTotal,
		DispatchQueueDepth,
	)
}

// RecordEventReceived increments the received-event counter for an event type.
func RecordEventReceived(eventType string) {
	EventsReceivedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventSkipped increments the no-recipient counter.
func RecordEventSkipped() {
	EventsSkippedTotal.Inc()
}

// RecordDelivery records the outcome of one dispatch attempt.
func RecordDelivery(outcome string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(outcome).Inc()
	if latency > 0 {
		DeliveryLatency.Observe(latency.Seconds())
	}
}

// RecordRetry increments the retry counter for a failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordPermanentFailure increments the exhausted-attempts counter.
func RecordPermanentFailure() {
	PermanentFailuresTotal.Inc()
}

// RecordSweep records one scheduler sweep and its per-record results.
func RecordSweep(succeeded, failed, skipped int) {
	SweepsTotal.Inc()
	SweepRecordsTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	SweepRecordsTotal.WithLabelValues("failed").Add(float64(failed))
	SweepRecordsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// SetDispatchQueueDepth updates the dispatch queue depth gauge.
func SetDispatchQueueDepth(depth int) {
	DispatchQueueDepth.Set(float64(depth))
}
