/*
store.go - Persistence interface for ledger events and sync runs

PURPOSE:
  Defines the boundary between the reconciliation logic and the database.
  Implementations must treat the natural key as unique: at most one event
  exists per NaturalKey.

KEY INTERFACES:
  Store:    event lookup, insert, refresh, listing and bulk status sweeps
  RunStore: history of sync runs

BULK SWEEPS:
  PromoteWaiting and ResolveClaimable are set-based updates. They must only
  ever touch rows in the named source status so CLAIMED and PAID rows are
  never moved by a sweep.

COMPARE-AND-SET:
  TransitionStatus moves a single row only if it is still in the expected
  status. Operator actions rely on this to stay race free.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - ledger/store/memory.go: in-memory for testing

SEE ALSO:
  - reconcile.go: create-or-update using FindByKey/Insert/Update
  - sweep.go:     bulk promotion and retention
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interface for event persistence
// =============================================================================

// Store persists ledger events.
type Store interface {
	// FindByKey returns the event for a natural key. Returns ErrEventNotFound if absent.
	FindByKey(ctx context.Context, key NaturalKey) (Event, error)

	// Insert persists a new event. Returns ErrDuplicateKey if the natural key exists.
	Insert(ctx context.Context, e Event) error

	// Update overwrites the mutable fields and status of an existing event.
	Update(ctx context.Context, e Event) error

	// Get returns an event by id. Returns ErrEventNotFound if absent.
	Get(ctx context.Context, id string) (Event, error)

	// List returns one page of events matching filter, newest event date first,
	// and the total number of matches.
	List(ctx context.Context, filter Filter, page Page) ([]Event, int, error)

	// ListByStatus returns up to limit events in status, newest event date first.
	// A non-positive limit returns all of them.
	ListByStatus(ctx context.Context, status Status, limit int) ([]Event, error)

	// PromoteWaiting moves WAITING events with EventDate <= cutoff and
	// unreconciled > 0 to CLAIMABLE. Returns the number of rows moved.
	PromoteWaiting(ctx context.Context, cutoff, now time.Time) (int, error)

	// ResolveClaimable moves CLAIMABLE events with unreconciled = 0 to RESOLVED.
	ResolveClaimable(ctx context.Context, now time.Time) (int, error)

	// TransitionStatus moves event id from one status to another if it is
	// currently in from. Returns ErrEventNotFound or a *TransitionError.
	TransitionStatus(ctx context.Context, id string, from, to Status, now time.Time) (Event, error)

	// CountByStatus aggregates event counts and unreconciled units per status.
	CountByStatus(ctx context.Context) (map[Status]StatusTotals, error)

	// DeleteResolvedBefore removes RESOLVED events last updated before cutoff.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StatusTotals aggregates one status.
type StatusTotals struct {
	Count int
	Units int // sum of UnreconciledQuantity
}

// Filter narrows List. Empty fields do not filter.
type Filter struct {
	Statuses           []Status
	EventTypes         []string
	FulfillmentCenters []string
	DateFrom           *time.Time // inclusive
	DateTo             *time.Time // inclusive
	FNSKU              string     // case-insensitive substring
	ASIN               string
	SKU                string
}

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// =============================================================================
// RUN STORE - sync history
// =============================================================================

// RunState is the lifecycle of a recorded sync run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// RunRecord is one persisted sync attempt.
type RunRecord struct {
	ID          string
	Kind        string
	DataStart   time.Time
	DataEnd     time.Time
	State       RunState
	ReportID    string
	Counts      Counts
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunStore persists sync history.
type RunStore interface {
	// SaveRun inserts or replaces a run by ID.
	SaveRun(ctx context.Context, run RunRecord) error

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
