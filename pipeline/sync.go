/*
sync.go - Sync orchestrator

PURPOSE:
  Runs one end-to-end ingestion for a date range:

    submit -> poll -> download -> decode -> normalize -> reconcile

  and returns the reconciliation counts together with the report id.

AROUND THE CORE FLOW:
  - an advisory lock keyed by report kind serializes runs; a held lock
    fails fast with ledger.ErrSyncInProgress
  - a RunRecord is saved as running, then completed or failed
  - the raw document and the run summary are archived
  - a run summary is published for downstream consumers

  Archive and notification failures are reported through the observer as
  degradations. They never fail the run.

ERRORS:
  Every failure is a *StageError naming the stage that failed and wrapping
  the typed cause, so errors.Is/As still reach ledger sentinels.

SEE ALSO:
  - report/client.go:    submit, poll, fetch
  - ledger/reconcile.go: create-or-update
  - ledger/sweep.go:     status sweep run by RunDaily
*/
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/reimbursement-engine/archive"
	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/lock"
	"github.com/warp/reimbursement-engine/normalize"
	"github.com/warp/reimbursement-engine/notify"
	"github.com/warp/reimbursement-engine/observe"
	"github.com/warp/reimbursement-engine/report"
	"github.com/warp/reimbursement-engine/tabular"
)

// Stages of a sync run.
const (
	StageLock      = "lock"
	StageSubmit    = "submit"
	StagePoll      = "poll"
	StageDownload  = "download"
	StageDecode    = "decode"
	StageReconcile = "reconcile"
	StageSweep     = "sweep"
)

// StageError identifies the stage a sync failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("sync failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Reports is the slice of the report client the orchestrator drives.
type Reports interface {
	Submit(ctx context.Context, kind string, start, end time.Time) (string, error)
	PollUntilReady(ctx context.Context, reportID string, maxWait, interval time.Duration) (report.Handle, error)
	FetchDocument(ctx context.Context, documentID string) ([]byte, error)
}

// Options tune a Syncer. Zero values use the defaults.
type Options struct {
	Kind         string
	MaxWait      time.Duration
	PollInterval time.Duration
	LockTTL      time.Duration
}

// DefaultLockTTL outlives the longest poll plus reconciliation of a large report.
const DefaultLockTTL = 15 * time.Minute

// Deps are the collaborators of a Syncer. Runs, Locker, Archive and Notifier
// are optional.
type Deps struct {
	Reports    Reports
	Normalizer *normalize.Normalizer
	Engine     *ledger.Engine
	Sweeper    *ledger.Sweeper
	Runs       ledger.RunStore
	Locker     lock.Locker
	Archive    archive.Archiver
	Notifier   notify.Publisher
	Obs        observe.Observer
	Now        ledger.Clock
}

// Syncer is the sync orchestrator.
type Syncer struct {
	Deps
	opts Options
}

// NewSyncer fills in defaults for missing options and optional collaborators.
func NewSyncer(deps Deps, opts Options) *Syncer {
	if opts.Kind == "" {
		opts.Kind = report.KindLedgerDetail
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = report.DefaultMaxWait
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = report.DefaultPollInterval
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	// the lease is never refreshed, so it must outlive the poll
	if opts.LockTTL <= opts.MaxWait {
		opts.LockTTL = opts.MaxWait + DefaultLockTTL
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Archive == nil {
		deps.Archive = archive.Nop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Now == nil {
		deps.Now = ledger.SystemClock
	}
	return &Syncer{Deps: deps, opts: opts}
}

// DailyResult is the outcome of RunDaily.
type DailyResult struct {
	Sync  ledger.SyncRun     `json:"sync"`
	Sweep ledger.SweepResult `json:"sweep"`
}

// =============================================================================
// RUN
// =============================================================================

// RunSync ingests the report for [start, end).
func (s *Syncer) RunSync(ctx context.Context, start, end time.Time) (ledger.SyncRun, error) {
	started := time.Now()

	lease, err := s.Locker.Acquire(ctx, lock.SyncKey(s.opts.Kind), s.opts.LockTTL)
	if err != nil {
		return ledger.SyncRun{}, s.fail(StageLock, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.Obs.Degraded("lock", err)
		}
	}()

	rec := ledger.RunRecord{
		ID:        uuid.NewString(),
		Kind:      s.opts.Kind,
		DataStart: start.UTC(),
		DataEnd:   end.UTC(),
		State:     ledger.RunRunning,
		StartedAt: s.Now(),
	}
	s.saveRun(ctx, rec)

	run, err := s.ingest(ctx, start, end, &rec)
	finished := s.Now()
	rec.CompletedAt = &finished
	rec.ReportID = run.ReportID
	rec.Counts = run.Counts
	if err != nil {
		rec.State = ledger.RunFailed
		rec.Error = err.Error()
	} else {
		rec.State = ledger.RunCompleted
	}
	s.saveRun(context.WithoutCancel(ctx), rec)
	s.publish(context.WithoutCancel(ctx), rec)

	if err != nil {
		return run, err
	}
	s.Obs.SyncCompleted(run.ReportID, run.ProcessedCount, run.NewEventsCount, run.UpdatedEventsCount, time.Since(started))
	return run, nil
}

func (s *Syncer) ingest(ctx context.Context, start, end time.Time, rec *ledger.RunRecord) (ledger.SyncRun, error) {
	reportID, err := s.Reports.Submit(ctx, s.opts.Kind, start, end)
	if err != nil {
		return ledger.SyncRun{}, s.fail(StageSubmit, err)
	}
	run := ledger.SyncRun{ReportID: reportID}
	rec.ReportID = reportID

	handle, err := s.Reports.PollUntilReady(ctx, reportID, s.opts.MaxWait, s.opts.PollInterval)
	if err != nil {
		return run, s.fail(StagePoll, err)
	}

	raw, err := s.Reports.FetchDocument(ctx, handle.DocumentID)
	if err != nil {
		return run, s.fail(StageDownload, err)
	}
	s.archive(ctx, archive.DocumentName(s.opts.Kind, reportID, start), "text/tab-separated-values", raw)

	rows, err := tabular.Decode(string(raw))
	if err != nil {
		return run, s.fail(StageDecode, err)
	}
	events, _ := s.Normalizer.NormalizeAll(rows)

	counts, err := s.Engine.Reconcile(ctx, events)
	run.Counts = counts
	if err != nil {
		return run, s.fail(StageReconcile, err)
	}
	return run, nil
}

// RunDaily syncs yesterday (UTC) and then sweeps statuses.
func (s *Syncer) RunDaily(ctx context.Context) (DailyResult, error) {
	start, end := ledger.Yesterday(s.Now())

	run, err := s.RunSync(ctx, start, end)
	if err != nil {
		return DailyResult{Sync: run}, err
	}

	sweep, err := s.Sweeper.Sweep(ctx)
	if err != nil {
		return DailyResult{Sync: run, Sweep: sweep}, s.fail(StageSweep, err)
	}
	return DailyResult{Sync: run, Sweep: sweep}, nil
}

// =============================================================================
// SIDE CHANNELS
// =============================================================================

func (s *Syncer) fail(stage string, err error) error {
	s.Obs.SyncFailed(stage, err)
	return &StageError{Stage: stage, Err: err}
}

func (s *Syncer) saveRun(ctx context.Context, rec ledger.RunRecord) {
	if s.Runs == nil {
		return
	}
	if err := s.Runs.SaveRun(ctx, rec); err != nil {
		s.Obs.Degraded("runs", err)
	}
}

func (s *Syncer) archive(ctx context.Context, name, contentType string, data []byte) {
	if err := s.Archive.Put(ctx, name, contentType, data); err != nil {
		s.Obs.Degraded("archive", err)
	}
}

func (s *Syncer) publish(ctx context.Context, rec ledger.RunRecord) {
	summary := notify.Summary{
		RunID:              rec.ID,
		Kind:               rec.Kind,
		ReportID:           rec.ReportID,
		State:              string(rec.State),
		DataStartTime:      rec.DataStart,
		DataEndTime:        rec.DataEnd,
		ProcessedCount:     rec.Counts.ProcessedCount,
		NewEventsCount:     rec.Counts.NewEventsCount,
		UpdatedEventsCount: rec.Counts.UpdatedEventsCount,
		Error:              rec.Error,
	}
	if rec.CompletedAt != nil {
		summary.CompletedAt = *rec.CompletedAt
	}

	if rec.ReportID != "" {
		if body, err := json.MarshalIndent(summary, "", "  "); err == nil {
			s.archive(ctx, archive.SummaryName(rec.Kind, rec.ReportID, rec.DataStart), "application/json", body)
		}
	}
	if err := s.Notifier.Publish(ctx, summary); err != nil {
		s.Obs.Degraded("notify", err)
	}
}
