package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the transcript pipeline.
type Metrics struct {
	// Session lifecycle
	LaunchesTotal       *prometheus.CounterVec
	TerminationsTotal   *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	StatusChangesTotal  *prometheus.CounterVec
	ChannelDropsTotal   *prometheus.CounterVec
	ProviderCallSeconds *prometheus.HistogramVec

	// Transcript flow
	TranscriptEventsTotal *prometheus.CounterVec
	DroppedEventsTotal    *prometheus.CounterVec
	DuplicateFinalsTotal  prometheus.Counter
	WebhookRequestsTotal  *prometheus.CounterVec

	// Fan-out
	Subscribers      prometheus.Gauge
	DeliveriesTotal  prometheus.Counter
	PrunedConnsTotal prometheus.Counter

	// Persistence
	PersistenceWritesTotal *prometheus.CounterVec
	PersistenceQueueDepth  prometheus.Gauge
}

// New registers the collectors with reg. Tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LaunchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_launches_total",
				Help: "Session launch attempts by result",
			},
			[]string{"mode", "result"},
		),
		TerminationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_terminations_total",
				Help: "Session terminations by cause",
			},
			[]string{"cause"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meeting_active_sessions",
				Help: "Sessions currently held in the registry",
			},
		),
		StatusChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_status_changes_total",
				Help: "Applied session status transitions by target status",
			},
			[]string{"status"},
		),
		ChannelDropsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_channel_drops_total",
				Help: "Transcript channel failures by outcome",
			},
			[]string{"outcome"},
		),
		ProviderCallSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meeting_provider_call_seconds",
				Help:    "Latency of provider gateway calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"op", "result"},
		),
		TranscriptEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_transcript_events_total",
				Help: "Normalized transcript events by channel and finality",
			},
			[]string{"channel", "final"},
		),
		DroppedEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_transcript_dropped_total",
				Help: "Inbound transcript payloads dropped before emit",
			},
			[]string{"reason"},
		),
		DuplicateFinalsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meeting_transcript_duplicate_finals_total",
				Help: "Final segments suppressed as redeliveries",
			},
		),
		WebhookRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_webhook_requests_total",
				Help: "Inbound provider webhooks by event type",
			},
			[]string{"provider", "event"},
		),
		Subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meeting_hub_subscribers",
				Help: "Live realtime connections",
			},
		),
		DeliveriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meeting_hub_deliveries_total",
				Help: "Messages handed to realtime connections",
			},
		),
		PrunedConnsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "meeting_hub_pruned_total",
				Help: "Realtime connections pruned after a failed send",
			},
		),
		PersistenceWritesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meeting_persistence_writes_total",
				Help: "Meeting record writes by operation and result",
			},
			[]string{"op", "result"},
		),
		PersistenceQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "meeting_persistence_queue_depth",
				Help: "Pending persistence jobs across all workers",
			},
		),
	}
}

// NewNop returns collectors bound to a private registry
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
