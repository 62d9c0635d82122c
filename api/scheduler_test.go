package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/ledger/store"
	"github.com/warp/reimbursement-engine/observe"
	"github.com/warp/reimbursement-engine/pipeline"
)

func newTestScheduler(t *testing.T, syncer *fakeSyncer, clock *time.Time) (*SyncScheduler, *store.Memory, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	obs := observe.New(logger, prometheus.NewRegistry())
	mem := store.NewMemory()
	now := func() time.Time { return *clock }

	s := NewSyncScheduler(syncer, ledger.NewSweeper(mem, obs, now), logger)
	s.Now = now
	return s, mem, hook
}

func TestScheduler_SyncsOncePerDay(t *testing.T) {
	// GIVEN: a scheduler whose syncs succeed
	clock := now
	syncer := &fakeSyncer{daily: pipeline.DailyResult{Sync: ledger.SyncRun{ReportID: "R1"}}}
	s, _, _ := newTestScheduler(t, syncer, &clock)

	// WHEN: it ticks twice on the same day, then once the next day
	s.RunNow()
	clock = clock.Add(3 * time.Hour)
	s.RunNow()
	clock = clock.Add(24 * time.Hour)
	s.RunNow()

	// THEN: only the first tick of each day syncs
	assert.Equal(t, 2, syncer.calls)
}

func TestScheduler_RetriesFailedDay(t *testing.T) {
	// GIVEN: a scheduler whose first sync fails
	clock := now
	syncer := &fakeSyncer{err: errors.New("upstream down")}
	s, _, hook := newTestScheduler(t, syncer, &clock)

	// WHEN: it ticks, recovers, and ticks again
	s.RunNow()
	syncer.err = nil
	s.RunNow()
	s.RunNow()

	// THEN: the failed day is retried once, then remembered
	assert.Equal(t, 2, syncer.calls)
	var errorsLogged int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorsLogged++
		}
	}
	assert.Equal(t, 1, errorsLogged)
}

func TestScheduler_SkipsQuietlyWhenLocked(t *testing.T) {
	// GIVEN: another process holds the sync lock
	clock := now
	syncer := &fakeSyncer{err: &pipeline.StageError{Stage: pipeline.StageLock, Err: ledger.ErrSyncInProgress}}
	s, _, hook := newTestScheduler(t, syncer, &clock)

	// WHEN: it ticks
	s.RunNow()

	// THEN: nothing is logged as an error
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, e.Level, e.Message)
	}
}

func TestScheduler_SweepsAndCleansBetweenSyncs(t *testing.T) {
	// GIVEN: today's sync already ran, a WAITING event just aged in,
	// and a RESOLVED event is past retention
	clock := now
	syncer := &fakeSyncer{}
	s, mem, _ := newTestScheduler(t, syncer, &clock)
	s.SetRetentionDays(30)
	s.RunNow()

	ctx := context.Background()
	require.NoError(t, mem.Insert(ctx, ledger.Event{
		ID: "aged",
		EventData: ledger.EventData{
			EventDate: ledger.Day(now).AddDate(0, 0, -8), FNSKU: "X1", ASIN: "B1",
			EventType: ledger.EventAdjustments, Quantity: -1, UnreconciledQuantity: 1,
		},
		Status: ledger.StatusWaiting,
	}))
	require.NoError(t, mem.Insert(ctx, ledger.Event{
		ID: "stale",
		EventData: ledger.EventData{
			EventDate: ledger.Day(now).AddDate(0, 0, -100), FNSKU: "X2", ASIN: "B2",
			EventType: ledger.EventAdjustments, Quantity: -1,
		},
		Status:    ledger.StatusResolved,
		UpdatedAt: now.AddDate(0, 0, -31),
	}))

	// WHEN: it ticks again the same day
	s.RunNow()

	// THEN: the sweep promoted one event and cleanup purged the other
	assert.Equal(t, 1, syncer.calls)
	aged, err := mem.Get(ctx, "aged")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClaimable, aged.Status)
	_, err = mem.Get(ctx, "stale")
	assert.ErrorIs(t, err, ledger.ErrEventNotFound)
}

func TestScheduler_SweepsWhileSyncKeepsFailing(t *testing.T) {
	// GIVEN: upstream rejects every sync and a WAITING event is old enough
	clock := now
	syncer := &fakeSyncer{err: &pipeline.StageError{Stage: pipeline.StagePoll, Err: ledger.ErrReportFailed}}
	s, mem, _ := newTestScheduler(t, syncer, &clock)
	ctx := context.Background()
	require.NoError(t, mem.Insert(ctx, ledger.Event{
		ID: "aged",
		EventData: ledger.EventData{
			EventDate: ledger.Day(now).AddDate(0, 0, -10), FNSKU: "X1", ASIN: "B1",
			EventType: ledger.EventAdjustments, Quantity: -1, UnreconciledQuantity: 1,
		},
		Status: ledger.StatusWaiting,
	}))

	// WHEN: it ticks several times
	for i := 0; i < 3; i++ {
		s.RunNow()
	}

	// THEN: every tick retried the sync and the sweep still promoted the event
	assert.Equal(t, 3, syncer.calls)
	aged, err := mem.Get(ctx, "aged")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClaimable, aged.Status)
}

func TestScheduler_SweepFailureKeepsDay(t *testing.T) {
	// GIVEN: the daily sync ingested but its sweep failed
	clock := now
	syncer := &fakeSyncer{err: &pipeline.StageError{Stage: pipeline.StageSweep, Err: errors.New("locked")}}
	s, _, _ := newTestScheduler(t, syncer, &clock)

	// WHEN: it ticks twice the same day
	s.RunNow()
	s.RunNow()

	// THEN: the report is not requested again
	assert.Equal(t, 1, syncer.calls)
}

func TestScheduler_SetRetentionDaysDoesNotWaitForRun(t *testing.T) {
	// GIVEN: a tick blocked inside the daily sync
	clock := now
	syncer := &fakeSyncer{entered: make(chan struct{}), release: make(chan struct{})}
	s, _, _ := newTestScheduler(t, syncer, &clock)
	ticked := make(chan struct{})
	go func() {
		s.RunNow()
		close(ticked)
	}()
	<-syncer.entered

	// WHEN: the retention horizon changes mid-run
	set := make(chan struct{})
	go func() {
		s.SetRetentionDays(45)
		close(set)
	}()

	// THEN: the change lands without waiting for the run
	select {
	case <-set:
	case <-time.After(time.Second):
		t.Fatal("SetRetentionDays blocked on the running tick")
	}
	assert.Equal(t, 45, s.RetentionDays())

	close(syncer.release)
	<-ticked
}

func TestScheduler_StartStop(t *testing.T) {
	// GIVEN: a disabled scheduler
	clock := now
	syncer := &fakeSyncer{}
	s, _, _ := newTestScheduler(t, syncer, &clock)
	s.Enabled = false

	// WHEN: started and stopped
	s.Start()
	s.Stop()

	// THEN: nothing ran
	assert.Zero(t, syncer.calls)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.GetNextRunTime(), time.Minute)
}
