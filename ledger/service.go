/*
service.go - Operator-facing reads and actions on the ledger

PURPOSE:
  Everything an operator does after ingestion: browse events, look at
  aggregate exposure, produce claim text, and record that a claim was
  filed or reimbursed.

OPERATOR TRANSITIONS:
  MarkClaimed  CLAIMABLE -> CLAIMED
  MarkPaid     CLAIMED   -> PAID

  Both are compare-and-set in the store. Unknown ids fail with
  ErrEventNotFound, any other source status with a *TransitionError.

ESTIMATED VALUE:
  Sum over CLAIMABLE events of UnreconciledQuantity x unit cost, where the
  unit cost comes from the CostBook (per SKU, else the default).
*/
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/reimbursement-engine/observe"
)

// Listing limits.
const (
	DefaultPageSize      = 50
	MaxPageSize          = 100
	DefaultClaimableSize = 100
	MaxClaimableSize     = 500
)

// Service serves operator reads and actions.
type Service struct {
	store Store
	costs *CostBook
	obs   observe.Observer
	now   Clock
}

// NewService creates a Service. A nil clock uses SystemClock; nil costs
// values every unit at zero.
func NewService(store Store, costs *CostBook, obs observe.Observer, now Clock) *Service {
	if now == nil {
		now = SystemClock
	}
	if costs == nil {
		costs = NewCostBook(decimal.Zero, nil)
	}
	return &Service{store: store, costs: costs, obs: obs, now: now}
}

// =============================================================================
// READS
// =============================================================================

// List returns one page of events and the total match count.
// Page numbers below 1 become 1; sizes are clamped to [1, MaxPageSize].
func (s *Service) List(ctx context.Context, filter Filter, page Page) ([]Event, int, Page, error) {
	page = ClampPage(page, DefaultPageSize, MaxPageSize)
	events, total, err := s.store.List(ctx, filter, page)
	return events, total, page, err
}

// Claimable returns up to limit CLAIMABLE events, newest first.
func (s *Service) Claimable(ctx context.Context, limit int) ([]Event, error) {
	limit = clamp(limit, DefaultClaimableSize, MaxClaimableSize)
	return s.store.ListByStatus(ctx, StatusClaimable, limit)
}

// Stats is the aggregate exposure of the ledger.
type Stats struct {
	TotalClaimableUnits  int             `json:"totalClaimableUnits"`
	TotalEstimatedValue  decimal.Decimal `json:"totalEstimatedValue"`
	TotalWaiting         int             `json:"totalWaiting"`
	TotalResolved        int             `json:"totalResolved"`
	TotalClaimed         int             `json:"totalClaimed"`
	TotalPaid            int             `json:"totalPaid"`
	ClaimableEventsCount int             `json:"claimableEventsCount"`
	WaitingEventsCount   int             `json:"waitingEventsCount"`
}

// Stats aggregates counts, units and estimated value.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	totals, err := s.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	claimable, err := s.store.ListByStatus(ctx, StatusClaimable, 0)
	if err != nil {
		return Stats{}, err
	}

	value := decimal.Zero
	for _, e := range claimable {
		value = value.Add(s.costs.Value(e.SKU, abs(e.UnreconciledQuantity)))
	}

	return Stats{
		TotalClaimableUnits:  totals[StatusClaimable].Units,
		TotalEstimatedValue:  value.Round(2),
		TotalWaiting:         totals[StatusWaiting].Units,
		TotalResolved:        totals[StatusResolved].Count,
		TotalClaimed:         totals[StatusClaimed].Count,
		TotalPaid:            totals[StatusPaid].Count,
		ClaimableEventsCount: totals[StatusClaimable].Count,
		WaitingEventsCount:   totals[StatusWaiting].Count,
	}, nil
}

// ClaimText renders the reimbursement request for one event.
func (s *Service) ClaimText(ctx context.Context, id string) (string, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return FormatClaim(e), nil
}

// FormatClaim renders the reimbursement request text for e.
func FormatClaim(e Event) string {
	fc := deref(e.FulfillmentCenter)
	if fc == "" {
		fc = "Unknown"
	}
	return fmt.Sprintf("FNSKU %s (ASIN %s) lost in FC %s on %s. Quantity unreconciled: %d. Please review and reimburse.",
		e.FNSKU, e.ASIN, fc, e.EventDate.Format(DateLayout), abs(e.UnreconciledQuantity))
}

// =============================================================================
// OPERATOR ACTIONS
// =============================================================================

// MarkClaimed records that a claim was filed for a CLAIMABLE event.
func (s *Service) MarkClaimed(ctx context.Context, id string) (Event, error) {
	return s.transition(ctx, id, StatusClaimed)
}

// MarkPaid records that a CLAIMED event was reimbursed.
func (s *Service) MarkPaid(ctx context.Context, id string) (Event, error) {
	return s.transition(ctx, id, StatusPaid)
}

func (s *Service) transition(ctx context.Context, id string, to Status) (Event, error) {
	from, ok := RequiredSource(to)
	if !ok {
		return Event{}, &TransitionError{EventID: id, To: to}
	}
	e, err := s.store.TransitionStatus(ctx, id, from, to, s.now())
	if err != nil {
		return Event{}, err
	}
	s.obs.StatusChanged(id, string(from), string(to))
	return e, nil
}

// =============================================================================
// COST BOOK - unit costs for estimated claim value
// =============================================================================

// CostBook maps SKUs to unit costs. Safe for concurrent use; Replace swaps
// the whole catalog at once.
type CostBook struct {
	mu    sync.RWMutex
	def   decimal.Decimal
	bySKU map[string]decimal.Decimal
}

// NewCostBook creates a catalog with a default unit cost.
func NewCostBook(def decimal.Decimal, bySKU map[string]decimal.Decimal) *CostBook {
	c := &CostBook{}
	c.Replace(def, bySKU)
	return c
}

// Replace swaps the catalog.
func (c *CostBook) Replace(def decimal.Decimal, bySKU map[string]decimal.Decimal) {
	costs := make(map[string]decimal.Decimal, len(bySKU))
	for sku, cost := range bySKU {
		costs[sku] = cost
	}
	c.mu.Lock()
	c.def = def
	c.bySKU = costs
	c.mu.Unlock()
}

// UnitCost returns the cost of one unit of sku.
func (c *CostBook) UnitCost(sku string) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if cost, ok := c.bySKU[sku]; ok {
		return cost
	}
	return c.def
}

// Value returns units x UnitCost(sku).
func (c *CostBook) Value(sku string, units int) decimal.Decimal {
	return c.UnitCost(sku).Mul(decimal.NewFromInt(int64(units)))
}

// =============================================================================
// HELPERS
// =============================================================================

// ClampPage applies defaults and bounds to a requested page.
func ClampPage(p Page, defSize, maxSize int) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	p.Size = clamp(p.Size, defSize, maxSize)
	return p
}

func clamp(n, def, hi int) int {
	if n <= 0 {
		return def
	}
	if n > hi {
		return hi
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
