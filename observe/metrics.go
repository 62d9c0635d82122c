package observe

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of the sync pipeline.
type Metrics struct {
	ReportsSubmitted  prometheus.Counter
	ReportsFailed     *prometheus.CounterVec
	ReportPolls       *prometheus.CounterVec
	DocumentsFetched  prometheus.Counter
	DocumentBytes     prometheus.Counter
	RowsDecoded       prometheus.Counter
	RowsInvalid       prometheus.Counter
	RowDiagnostics    *prometheus.CounterVec
	EventsReconciled  *prometheus.CounterVec
	SyncsCompleted    prometheus.Counter
	SyncsFailed       *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	ReportWait        prometheus.Histogram
	StatusTransitions *prometheus.CounterVec
	EventsPurged      prometheus.Counter
	Degradations      *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ReportsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_reports_submitted_total",
			Help: "Total number of report jobs submitted upstream.",
		}),
		ReportsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_reports_failed_total",
			Help: "Total number of report jobs that ended without a document, labelled by reason.",
		}, []string{"reason"}),
		ReportPolls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_report_polls_total",
			Help: "Total number of report status polls, labelled by returned status.",
		}, []string{"status"}),
		DocumentsFetched: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_documents_fetched_total",
			Help: "Total number of report documents downloaded.",
		}),
		DocumentBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_document_bytes_total",
			Help: "Total decompressed bytes of downloaded report documents.",
		}),
		RowsDecoded: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_rows_decoded_total",
			Help: "Total number of data rows decoded from report documents.",
		}),
		RowsInvalid: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_rows_invalid_total",
			Help: "Total number of decoded rows dropped for missing FNSKU or ASIN.",
		}),
		RowDiagnostics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_row_diagnostics_total",
			Help: "Total number of substituted field values, labelled by field.",
		}, []string{"field"}),
		EventsReconciled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_reconciled_total",
			Help: "Total number of eligible events reconciled, labelled by outcome.",
		}, []string{"outcome"}),
		SyncsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_syncs_completed_total",
			Help: "Total number of syncs that completed.",
		}),
		SyncsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_syncs_failed_total",
			Help: "Total number of syncs that failed, labelled by stage.",
		}, []string{"stage"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_sync_duration_seconds",
			Help:    "End-to-end sync latency in seconds.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		ReportWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_report_wait_seconds",
			Help:    "Time from submission until a report was ready.",
			Buckets: []float64{5, 10, 30, 60, 120, 180, 300},
		}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_status_transitions_total",
			Help: "Total number of event status transitions, labelled by source and target.",
		}, []string{"from", "to"}),
		EventsPurged: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_events_purged_total",
			Help: "Total number of RESOLVED events removed by retention.",
		}),
		Degradations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_degradations_total",
			Help: "Total number of best-effort side effects that failed, labelled by component.",
		}, []string{"component"}),
	}
}
