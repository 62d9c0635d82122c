/*
Package observe is the observability side channel of the sync pipeline.

PURPOSE:
  Pipeline components report checkpoints to an Observer instead of logging
  directly. The default Observer writes structured logrus entries and
  updates Prometheus collectors, so one call site feeds both.

CHECKPOINTS:
  submit -> poll (per attempt) -> ready -> fetch -> decode
  -> row diagnostic (per substituted field) -> reconcile (per event)
  -> sync complete | sync failed
  sweep complete, status change, retention purge, degraded side effect

The interface takes primitive values only so that every package, the
ledger included, can depend on it.
*/
package observe

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Reconcile outcomes.
const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// Observer receives pipeline checkpoints.
type Observer interface {
	ReportSubmitted(kind, reportID string, start, end time.Time)
	ReportPolled(reportID, status string, attempt int)
	ReportReady(reportID, documentID string, attempts int, waited time.Duration)
	ReportFailed(reportID, reason string, err error)
	DocumentFetched(documentID string, size int, compressed bool)
	Decoded(rows, valid, invalid int)
	RowDiagnostic(field, value, reason string)
	EventReconciled(outcome, key string, err error)
	SyncCompleted(reportID string, processed, created, updated int, took time.Duration)
	SyncFailed(stage string, err error)
	SweepCompleted(waitingToClaimable, claimableToResolved int)
	StatusChanged(eventID, from, to string)
	RetentionPurged(deleted int, cutoff time.Time)
	Degraded(component string, err error)
}

// =============================================================================
// LOGRUS + PROMETHEUS OBSERVER
// =============================================================================

// Telemetry is the Observer used in production.
type Telemetry struct {
	log     *logrus.Logger
	metrics *Metrics
}

// New builds a Telemetry observer and registers its metrics on reg.
func New(logger *logrus.Logger, reg prometheus.Registerer) *Telemetry {
	return &Telemetry{log: logger, metrics: NewMetrics(reg)}
}

// Discard returns an observer that drops everything. For tests.
func Discard() *Telemetry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(logger, prometheus.NewRegistry())
}

func (t *Telemetry) ReportSubmitted(kind, reportID string, start, end time.Time) {
	t.metrics.ReportsSubmitted.Inc()
	t.log.WithFields(logrus.Fields{
		"component":  "report",
		"kind":       kind,
		"report_id":  reportID,
		"data_start": start.Format(time.RFC3339),
		"data_end":   end.Format(time.RFC3339),
	}).Info("report submitted")
}

func (t *Telemetry) ReportPolled(reportID, status string, attempt int) {
	label := status
	if label == "" {
		label = "EMPTY"
	}
	t.metrics.ReportPolls.WithLabelValues(label).Inc()
	entry := t.log.WithFields(logrus.Fields{
		"component": "report",
		"report_id": reportID,
		"status":    status,
		"attempt":   attempt,
	})
	if status == "" {
		entry.Warn("report status missing, still polling")
		return
	}
	entry.Debug("report polled")
}

func (t *Telemetry) ReportReady(reportID, documentID string, attempts int, waited time.Duration) {
	t.metrics.ReportWait.Observe(waited.Seconds())
	t.log.WithFields(logrus.Fields{
		"component":   "report",
		"report_id":   reportID,
		"document_id": documentID,
		"attempts":    attempts,
		"waited":      waited.String(),
	}).Info("report ready")
}

func (t *Telemetry) ReportFailed(reportID, reason string, err error) {
	t.metrics.ReportsFailed.WithLabelValues(reason).Inc()
	t.log.WithFields(logrus.Fields{
		"component": "report",
		"report_id": reportID,
		"reason":    reason,
	}).WithError(err).Error("report failed")
}

func (t *Telemetry) DocumentFetched(documentID string, size int, compressed bool) {
	t.metrics.DocumentsFetched.Inc()
	t.metrics.DocumentBytes.Add(float64(size))
	t.log.WithFields(logrus.Fields{
		"component":   "report",
		"document_id": documentID,
		"bytes":       size,
		"compressed":  compressed,
	}).Info("document fetched")
}

func (t *Telemetry) Decoded(rows, valid, invalid int) {
	t.metrics.RowsDecoded.Add(float64(rows))
	t.metrics.RowsInvalid.Add(float64(invalid))
	t.log.WithFields(logrus.Fields{
		"component": "normalize",
		"rows":      rows,
		"valid":     valid,
		"invalid":   invalid,
	}).Info("document decoded")
}

func (t *Telemetry) RowDiagnostic(field, value, reason string) {
	t.metrics.RowDiagnostics.WithLabelValues(field).Inc()
	t.log.WithFields(logrus.Fields{
		"component": "normalize",
		"field":     field,
		"value":     value,
	}).Warn(reason)
}

func (t *Telemetry) EventReconciled(outcome, key string, err error) {
	t.metrics.EventsReconciled.WithLabelValues(outcome).Inc()
	entry := t.log.WithFields(logrus.Fields{
		"component": "reconcile",
		"outcome":   outcome,
		"key":       key,
	})
	if err != nil {
		entry.WithError(err).Error("event reconcile failed")
		return
	}
	entry.Debug("event reconciled")
}

func (t *Telemetry) SyncCompleted(reportID string, processed, created, updated int, took time.Duration) {
	t.metrics.SyncsCompleted.Inc()
	t.metrics.SyncDuration.Observe(took.Seconds())
	t.log.WithFields(logrus.Fields{
		"component": "sync",
		"report_id": reportID,
		"processed": processed,
		"created":   created,
		"updated":   updated,
		"took":      took.String(),
	}).Info("sync completed")
}

func (t *Telemetry) SyncFailed(stage string, err error) {
	t.metrics.SyncsFailed.WithLabelValues(stage).Inc()
	t.log.WithFields(logrus.Fields{
		"component": "sync",
		"stage":     stage,
	}).WithError(err).Error("sync failed")
}

func (t *Telemetry) SweepCompleted(waitingToClaimable, claimableToResolved int) {
	t.metrics.StatusTransitions.WithLabelValues("WAITING", "CLAIMABLE").Add(float64(waitingToClaimable))
	t.metrics.StatusTransitions.WithLabelValues("CLAIMABLE", "RESOLVED").Add(float64(claimableToResolved))
	t.log.WithFields(logrus.Fields{
		"component":             "sweep",
		"waiting_to_claimable":  waitingToClaimable,
		"claimable_to_resolved": claimableToResolved,
	}).Info("status sweep completed")
}

func (t *Telemetry) StatusChanged(eventID, from, to string) {
	t.metrics.StatusTransitions.WithLabelValues(from, to).Inc()
	t.log.WithFields(logrus.Fields{
		"component": "ledger",
		"event_id":  eventID,
		"from":      from,
		"to":        to,
	}).Info("event status changed")
}

func (t *Telemetry) RetentionPurged(deleted int, cutoff time.Time) {
	t.metrics.EventsPurged.Add(float64(deleted))
	t.log.WithFields(logrus.Fields{
		"component": "retention",
		"deleted":   deleted,
		"cutoff":    cutoff.Format(time.RFC3339),
	}).Info("resolved events purged")
}

func (t *Telemetry) Degraded(component string, err error) {
	t.metrics.Degradations.WithLabelValues(component).Inc()
	t.log.WithFields(logrus.Fields{
		"component": component,
	}).WithError(err).Warn("best-effort step failed")
}
