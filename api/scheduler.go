/*
scheduler.go - Automated daily sync scheduler

PURPOSE:
  Periodically runs the daily sync (yesterday's report, then the status
  sweep) and the retention cleanup without an operator calling
  /automation/sync.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Syncs a given UTC day at most once: after a successful run the day is
    remembered and later ticks only sweep
  - The status sweep runs on every tick, also while the upstream sync keeps
    failing
  - A run already in progress elsewhere (advisory lock) is skipped quietly
  - Sync history is recorded by the orchestrator itself

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)
  - SetRetentionDays: Cleanup horizon (default: 90), safe during a run

USAGE:
  scheduler := NewSyncScheduler(syncer, sweeper, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: AutomationSync endpoint (manual trigger)
  - pipeline/sync.go: RunDaily
*/
package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/pipeline"
)

// SyncScheduler runs the daily sync on a ticker.
type SyncScheduler struct {
	Syncer        Syncer
	Sweeper       *ledger.Sweeper
	Log           *logrus.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           ledger.Clock

	ticker        *time.Ticker
	stop          chan bool
	wg            sync.WaitGroup
	mu            sync.Mutex
	lastDay       time.Time
	runMu         sync.Mutex
	cancel        context.CancelFunc
	runCtx        context.Context
	retentionDays atomic.Int64
}

// NewSyncScheduler creates a new scheduler.
func NewSyncScheduler(syncer Syncer, sweeper *ledger.Sweeper, log *logrus.Logger) *SyncScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SyncScheduler{
		Syncer:        syncer,
		Sweeper:       sweeper,
		Log:           log,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           ledger.SystemClock,
		stop:          make(chan bool),
		runCtx:        ctx,
		cancel:        cancel,
	}
	s.retentionDays.Store(ledger.DefaultRetentionDays)
	return s
}

// Start begins the scheduler.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log().Info("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.log().WithField("interval", s.CheckInterval.String()).Info("scheduler started")
}

// Stop stops the scheduler and cancels a run in flight.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		s.cancel()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log().Info("scheduler stopped")
	}
}

func (s *SyncScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow()

	for {
		select {
		case <-s.ticker.C:
			s.RunNow()
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one scheduler pass (for testing/admin).
func (s *SyncScheduler) RunNow() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ctx := s.runCtx
	today := ledger.Day(s.Now())
	swept := false

	if today.After(s.lastDay) {
		res, err := s.Syncer.RunDaily(ctx)
		var se *pipeline.StageError
		switch {
		case errors.Is(err, ledger.ErrSyncInProgress):
			s.log().Info("daily sync already running elsewhere, skipping")
		case errors.As(err, &se) && se.Stage == pipeline.StageSweep:
			// ingestion succeeded, only the sweep needs another go
			s.lastDay = today
			s.log().WithError(err).Error("daily sweep failed")
		case err != nil:
			s.log().WithError(err).Error("daily sync failed")
		default:
			s.lastDay = today
			swept = true
			s.log().WithFields(logrus.Fields{
				"report_id": res.Sync.ReportID,
				"processed": res.Sync.ProcessedCount,
				"created":   res.Sync.NewEventsCount,
				"updated":   res.Sync.UpdatedEventsCount,
				"promoted":  res.Sweep.WaitingToClaimable,
				"resolved":  res.Sweep.ClaimableToResolved,
			}).Info("daily sync completed")
		}
	}

	if !swept {
		if _, err := s.Sweeper.Sweep(ctx); err != nil {
			s.log().WithError(err).Error("status sweep failed")
		}
	}

	if _, err := s.Sweeper.Cleanup(ctx, s.RetentionDays()); err != nil {
		s.log().WithError(err).Error("retention cleanup failed")
	}
}

// SetRetentionDays changes the cleanup horizon. It never waits for a run.
func (s *SyncScheduler) SetRetentionDays(days int) {
	if days > 0 {
		s.retentionDays.Store(int64(days))
	}
}

// RetentionDays returns the current cleanup horizon.
func (s *SyncScheduler) RetentionDays() int {
	return int(s.retentionDays.Load())
}

// GetNextRunTime returns when the next scheduled check will occur.
func (s *SyncScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(s.CheckInterval)
}

func (s *SyncScheduler) log() *logrus.Entry {
	return s.Log.WithField("component", "scheduler")
}
