package ledger

import (
	"context"
	"time"

	"github.com/warp/reimbursement-engine/observe"
)

// DefaultRetentionDays is how long RESOLVED events are kept after their last update.
const DefaultRetentionDays = 90

// =============================================================================
// SWEEPER - periodic status advancement and retention
// =============================================================================

// Sweeper advances persisted statuses independently of ingestion.
type Sweeper struct {
	store Store
	obs   observe.Observer
	now   Clock
}

// NewSweeper creates a Sweeper. A nil clock uses SystemClock.
func NewSweeper(store Store, obs observe.Observer, now Clock) *Sweeper {
	if now == nil {
		now = SystemClock
	}
	return &Sweeper{store: store, obs: obs, now: now}
}

// Sweep promotes WAITING events that turned ClaimableAfterDays old while
// still unreconciled, then resolves CLAIMABLE events whose unreconciled
// quantity dropped to zero. CLAIMED and PAID are never touched. Running it
// twice in a row changes nothing the second time.
//
// A WAITING event whose unreconciled quantity already reached zero stays
// WAITING here; the sweep has no WAITING -> RESOLVED step.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	cutoff := now.AddDate(0, 0, -ClaimableAfterDays)

	promoted, err := s.store.PromoteWaiting(ctx, cutoff, now)
	if err != nil {
		return SweepResult{}, err
	}
	resolved, err := s.store.ResolveClaimable(ctx, now)
	if err != nil {
		return SweepResult{WaitingToClaimable: promoted, UpdatedCount: promoted}, err
	}

	s.obs.SweepCompleted(promoted, resolved)
	return SweepResult{
		UpdatedCount:        promoted + resolved,
		WaitingToClaimable:  promoted,
		ClaimableToResolved: resolved,
	}, nil
}

// Cleanup deletes RESOLVED events not updated for retentionDays.
// A non-positive retentionDays uses DefaultRetentionDays.
func (s *Sweeper) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	deleted, err := s.store.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.obs.RetentionPurged(deleted, cutoff)
	return deleted, nil
}
