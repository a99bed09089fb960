package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RecordsBackedUp = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whatskeeper_records_total", Help: "Message records appended to backup logs"},
		[]string{"type"},
	)
	MediaFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "whatskeeper_media_failures_total", Help: "Media downloads that failed during backup"},
	)
	Dispatched = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "whatskeeper_dispatched_total", Help: "Scheduled entries delivered"},
	)
	DispatchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "whatskeeper_dispatch_failures_total", Help: "Scheduled entries consumed despite a failed send"},
	)
	Reconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whatskeeper_reconciliations_total", Help: "Reconciliation passes by trigger"},
		[]string{"trigger"},
	)
	Transcriptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whatskeeper_transcriptions_total", Help: "Transcription attempts by outcome"},
		[]string{"outcome"},
	)
	Summaries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whatskeeper_summaries_total", Help: "Templated service invocations by outcome"},
		[]string{"service", "outcome"},
	)
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "whatskeeper_api_requests_total", Help: "Admin API requests"},
		[]string{"method", "endpoint", "status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RecordsBackedUp,
		MediaFailures,
		Dispatched,
		DispatchFailures,
		Reconciliations,
		Transcriptions,
		Summaries,
		APIRequests,
	)
}
