package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aqua_outbox_events_appended_total",
		Help: "Total number of event records written to the outbox, labelled by event type.",
	}, []string{"event_type"})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aqua_outbox_events_dispatched_total",
		Help: "Total number of dispatch attempts, labelled by event type, path and outcome.",
	}, []string{"event_type", "path", "outcome"})

	UnknownEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aqua_outbox_unknown_events_total",
		Help: "Events completed without a handler because their type is not registered.",
	}, []string{"event_type"})

	ClaimsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aqua_outbox_claims_lost_total",
		Help: "Outcomes discarded because another processor took over the claim.",
	})

	StaleClaimsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aqua_outbox_stale_claims_recovered_total",
		Help: "Records re-claimed after being parked in PROCESSING past the claim timeout.",
	})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aqua_outbox_dispatch_duration_ms",
		Help:    "Handler dispatch latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
	}, []string{"event_type"})

	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aqua_outbox_poll_cycles_total",
		Help: "Poll cycles run, labelled by mode (primary or fallback).",
	}, []string{"mode"})

	CompletedSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aqua_outbox_completed_swept_total",
		Help: "Completed records deleted by the retention sweeper.",
	})

	MemoryQueueEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aqua_memory_queue_enqueued_total",
		Help: "Events placed on the in-memory fast path.",
	})

	MemoryQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aqua_memory_queue_dropped_total",
		Help: "Events left to the poller because the in-memory queue was full.",
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aqua_memory_queue_utilization_ratio",
		Help: "Current in-memory queue utilization (0–1).",
	})
)
