package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RealtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_realtime_connections",
			Help: "Number of users holding a registered realtime connection.",
		},
	)

	RealtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_realtime_events_total",
			Help: "Client events handled on the realtime channel.",
		},
		[]string{"event", "result"},
	)

	RealtimePushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_realtime_pushes_total",
			Help: "Server events routed to users, by outcome (delivered, queued, dropped).",
		},
		[]string{"event", "result"},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_sent_total",
			Help: "Messages accepted for delivery, by path (direct or queued).",
		},
		[]string{"path"},
	)

	PendingFlushedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_pending_flushed_total",
			Help: "Queued messages delivered on reconnect.",
		},
	)

	MessagesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_expired_total",
			Help: "Messages removed by the expiry sweep.",
		},
	)

	MessagesPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_messages_purged_total",
			Help: "Deleted or expired rows physically removed.",
		},
	)

	MessageDeletionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_message_deletions_total",
			Help: "Message deletions, by scope.",
		},
		[]string{"scope", "result"},
	)

	BundleUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keys_bundle_uploads_total",
			Help: "Prekey bundle uploads, by kind (created, replaced, topped_up, failure).",
		},
		[]string{"kind"},
	)

	PreKeyBundlesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keys_prekey_bundles_fetched_total",
			Help: "Prekey bundle fetches, by result.",
		},
		[]string{"result"},
	)

	SignedPreKeysRotatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keys_signed_prekeys_rotated_total",
			Help: "Signed prekey rotations, by result.",
		},
		[]string{"result"},
	)

	PreKeysCleanedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keys_prekeys_cleaned_total",
			Help: "Used one-time prekeys removed.",
		},
	)

	PresenceBroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_presence_broadcasts_total",
			Help: "Presence changes fanned out to contacts.",
		},
		[]string{"status"},
	)

	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_job_runs_total",
			Help: "Background job runs, by job and result.",
		},
		[]string{"job", "result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		RealtimeConnections,
		RealtimeEventsTotal,
		RealtimePushesTotal,
		MessagesSentTotal,
		PendingFlushedTotal,
		MessagesExpiredTotal,
		MessagesPurgedTotal,
		MessageDeletionsTotal,
		BundleUploadsTotal,
		PreKeyBundlesFetchedTotal,
		SignedPreKeysRotatedTotal,
		PreKeysCleanedTotal,
		PresenceBroadcastsTotal,
		JobRunsTotal,
	}
}

// MustRegister registers every collector on the default registry with a
// constant service label.
func MustRegister(serviceName string) {
	Register(prometheus.DefaultRegisterer, serviceName)
}

func Register(reg prometheus.Registerer, serviceName string) {
	prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, reg).MustRegister(collectors()...)
}

// Result maps an error onto the success/failure label used by the counters.
func Result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
