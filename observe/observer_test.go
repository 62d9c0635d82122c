package observe

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterValue sums every series of a gathered counter matching labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue series
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func newTestTelemetry() (*Telemetry, *prometheus.Registry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	reg := prometheus.NewRegistry()
	return New(logger, reg), reg, hook
}

func TestTelemetry_SyncCheckpoints(t *testing.T) {
	tel, reg, hook := newTestTelemetry()

	tel.ReportSubmitted("GET_LEDGER_DETAIL_VIEW_DATA", "R1", time.Now(), time.Now())
	tel.ReportPolled("R1", "IN_PROGRESS", 1)
	tel.ReportPolled("R1", "", 2)
	tel.SyncCompleted("R1", 3, 2, 1, time.Second)
	tel.SyncFailed("poll", errors.New("boom"))

	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_reports_submitted_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_report_polls_total", map[string]string{"status": "EMPTY"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "ledger_report_polls_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_syncs_completed_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_syncs_failed_total", map[string]string{"stage": "poll"}))

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.ErrorLevel, last.Level)
	assert.Equal(t, "sync", last.Data["component"])
	assert.Equal(t, "poll", last.Data["stage"])
}

func TestTelemetry_MissingPollStatusWarns(t *testing.T) {
	tel, _, hook := newTestTelemetry()

	tel.ReportPolled("R1", "", 4)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.Entries[0].Level)
	assert.Equal(t, 4, hook.Entries[0].Data["attempt"])
}

func TestTelemetry_RowDiagnosticUsesReasonAsMessage(t *testing.T) {
	tel, reg, hook := newTestTelemetry()

	tel.RowDiagnostic("Quantity", "lots", "unparseable integer, using 0")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "unparseable integer, using 0", entry.Message)
	assert.Equal(t, "lots", entry.Data["value"])
	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_row_diagnostics_total", map[string]string{"field": "Quantity"}))
}

func TestTelemetry_StatusTransitions(t *testing.T) {
	tel, reg, _ := newTestTelemetry()

	tel.SweepCompleted(3, 1)
	tel.StatusChanged("e1", "CLAIMABLE", "CLAIMED")

	assert.Equal(t, 3.0, counterValue(t, reg, "ledger_status_transitions_total", map[string]string{"from": "WAITING", "to": "CLAIMABLE"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_status_transitions_total", map[string]string{"from": "CLAIMABLE", "to": "RESOLVED"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_status_transitions_total", map[string]string{"to": "CLAIMED"}))
}

func TestTelemetry_ReconcileFailureLogsError(t *testing.T) {
	tel, reg, hook := newTestTelemetry()

	tel.EventReconciled(OutcomeCreated, "k1", nil)
	tel.EventReconciled(OutcomeFailed, "k2", errors.New("disk full"))

	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_events_reconciled_total", map[string]string{"outcome": OutcomeFailed}))
	assert.Equal(t, logrus.DebugLevel, hook.Entries[0].Level)
	assert.Equal(t, logrus.ErrorLevel, hook.Entries[1].Level)
}

func TestTelemetry_Degraded(t *testing.T) {
	tel, reg, hook := newTestTelemetry()

	tel.Degraded("archive", errors.New("bucket missing"))

	assert.Equal(t, 1.0, counterValue(t, reg, "ledger_degradations_total", map[string]string{"component": "archive"}))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", "json", &buf)

	logger.WithField("component", "test").Debug("hello")

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "test", line["component"])
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("chatty", "text", &buf)

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.Contains(t, buf.String(), "unknown log level")
}
