/*
reconcile.go - Folding normalized report rows into the persisted ledger

ALGORITHM (per batch):
  1. Drop ineligible rows (see EventData.Eligible). Silently.
  2. Look up the persisted event by natural key.
  3. Absent:  compute the initial status and insert.
  4. Present: compare the mutable fields. If any differ, refresh them and
              advance the status; otherwise skip without writing.
  5. A failure on one event is reported and skipped. The rest of the batch
     continues and the failed event is not counted.

COUNTS:
  ProcessedCount     eligible events handled without error
  NewEventsCount     inserts
  UpdatedEventsCount refreshes that wrote a change

REFRESH AND STATUS:
  The status of a refreshed event is Advance(stored, computed). A refresh
  never demotes an event and never moves CLAIMED or PAID.

INSERT RACES:
  Two overlapping syncs can both miss on FindByKey. The store rejects the
  second insert with ErrDuplicateKey and the engine falls back to the
  refresh path against the row that won.

SEE ALSO:
  - status.go:          ComputeStatus, Advance
  - pipeline/sync.go:   serializes runs with an advisory lock
*/
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/warp/reimbursement-engine/observe"
)

// Engine reconciles normalized events against a Store.
type Engine struct {
	store Store
	obs   observe.Observer
	now   Clock
}

// NewEngine creates a reconciliation engine. A nil clock uses SystemClock.
func NewEngine(store Store, obs observe.Observer, now Clock) *Engine {
	if now == nil {
		now = SystemClock
	}
	return &Engine{store: store, obs: obs, now: now}
}

// Reconcile applies a batch of events. It only returns an error when ctx is
// cancelled; per-event failures are reported through the observer.
func (e *Engine) Reconcile(ctx context.Context, events []EventData) (Counts, error) {
	var counts Counts
	for _, data := range events {
		if !data.Eligible() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		outcome, err := e.reconcileOne(ctx, data)
		e.obs.EventReconciled(outcome, data.Key().String(), err)
		if err != nil {
			continue
		}

		counts.ProcessedCount++
		switch outcome {
		case observe.OutcomeCreated:
			counts.NewEventsCount++
		case observe.OutcomeUpdated:
			counts.UpdatedEventsCount++
		}
	}
	return counts, nil
}

func (e *Engine) reconcileOne(ctx context.Context, data EventData) (string, error) {
	key := data.Key()
	existing, err := e.store.FindByKey(ctx, key)
	switch {
	case errors.Is(err, ErrEventNotFound):
		err = e.create(ctx, data)
		if errors.Is(err, ErrDuplicateKey) {
			existing, err = e.store.FindByKey(ctx, key)
			if err != nil {
				return observe.OutcomeFailed, err
			}
			return e.refresh(ctx, existing, data)
		}
		if err != nil {
			return observe.OutcomeFailed, err
		}
		return observe.OutcomeCreated, nil
	case err != nil:
		return observe.OutcomeFailed, err
	}
	return e.refresh(ctx, existing, data)
}

func (e *Engine) create(ctx context.Context, data EventData) error {
	now := e.now()
	data.EventDate = Day(data.EventDate)
	return e.store.Insert(ctx, Event{
		ID:        uuid.NewString(),
		EventData: data,
		Status:    ComputeStatus(data.EventDate, data.UnreconciledQuantity, now),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (e *Engine) refresh(ctx context.Context, existing Event, data EventData) (string, error) {
	if !data.Changed(existing) {
		return observe.OutcomeUnchanged, nil
	}

	now := e.now()
	updated := existing
	updated.Quantity = data.Quantity
	updated.ReconciledQuantity = data.ReconciledQuantity
	updated.UnreconciledQuantity = data.UnreconciledQuantity
	updated.Disposition = data.Disposition
	updated.ProductTitle = data.ProductTitle
	updated.Status = Advance(existing.Status,
		ComputeStatus(existing.EventDate, data.UnreconciledQuantity, now))
	updated.UpdatedAt = now

	if err := e.store.Update(ctx, updated); err != nil {
		return observe.OutcomeFailed, err
	}
	if updated.Status != existing.Status {
		e.obs.StatusChanged(existing.ID, string(existing.Status), string(updated.Status))
	}
	return observe.OutcomeUpdated, nil
}
