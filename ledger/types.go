/*
Package ledger holds the inventory ledger domain: events, the status state
machine, the reconciliation engine and the persistence contract.

KEY CONCEPTS IN THIS FILE (types.go):
  - EventData:  one normalized row of an upstream ledger report
  - Event:      a persisted EventData with identity, status and timestamps
  - NaturalKey: the tuple that identifies one physical movement across
                repeated report pulls
  - SyncRun / SweepResult: summaries returned by a sync and a status sweep

ELIGIBILITY:
  Only movements that took units out of inventory (quantity < 0) and that
  the upstream platform has not yet explained (unreconciled > 0) are ever
  persisted, and only for the eligible event types below. Everything else
  is dropped silently.

TRUST UPSTREAM:
  ReconciledQuantity + UnreconciledQuantity is not required to equal
  abs(Quantity). The values are stored exactly as reported.

SEE ALSO:
  - status.go:    lifecycle rules
  - reconcile.go: create-vs-update decisions
  - store.go:     persistence interface
*/
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Upstream event types. Types not listed here are passed through as-is.
const (
	EventShipments       = "Shipments"
	EventWhseTransfers   = "WhseTransfers"
	EventAdjustments     = "Adjustments"
	EventReceipts        = "Receipts"
	EventCustomerReturns = "CustomerReturns"
	EventVendorReturns   = "VendorReturns"
)

// EligibleEventTypes are the movement types that can become claims.
var EligibleEventTypes = []string{EventShipments, EventWhseTransfers, EventAdjustments, EventReceipts}

// IsEligibleType reports whether eventType can become a claim.
func IsEligibleType(eventType string) bool {
	for _, t := range EligibleEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// DefaultCountry is used when a row carries no country.
const DefaultCountry = "US"

// =============================================================================
// EVENT DATA - normalized upstream row
// =============================================================================

// EventData is one ledger movement as reported upstream, before persistence.
type EventData struct {
	EventDate            time.Time // calendar day, UTC midnight
	FNSKU                string
	ASIN                 string
	SKU                  string
	ProductTitle         string
	EventType            string
	ReferenceID          *string
	Quantity             int
	FulfillmentCenter    *string
	Disposition          *string
	Reason               *string
	ReconciledQuantity   int
	UnreconciledQuantity int
	Country              string
	RawTimestamp         time.Time
	StoreID              *string
}

// HasIdentity reports whether the row names both an FNSKU and an ASIN.
func (d EventData) HasIdentity() bool {
	return d.FNSKU != "" && d.ASIN != ""
}

// Eligible reports whether the row should be persisted at all.
func (d EventData) Eligible() bool {
	return d.HasIdentity() &&
		IsEligibleType(d.EventType) &&
		d.Quantity < 0 &&
		d.UnreconciledQuantity > 0
}

// Key returns the natural key of the movement.
func (d EventData) Key() NaturalKey {
	return NaturalKey{
		FNSKU:             d.FNSKU,
		ASIN:              d.ASIN,
		EventDate:         Day(d.EventDate),
		EventType:         d.EventType,
		ReferenceID:       deref(d.ReferenceID),
		FulfillmentCenter: deref(d.FulfillmentCenter),
	}
}

// Changed reports whether any mutable field differs from the persisted event.
func (d EventData) Changed(existing Event) bool {
	return existing.Quantity != d.Quantity ||
		existing.ReconciledQuantity != d.ReconciledQuantity ||
		existing.UnreconciledQuantity != d.UnreconciledQuantity ||
		deref(existing.Disposition) != deref(d.Disposition) ||
		existing.ProductTitle != d.ProductTitle
}

// =============================================================================
// EVENT - persisted row
// =============================================================================

// Event is the single persisted row the system owns for a natural key.
type Event struct {
	ID string
	EventData
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// NATURAL KEY
// =============================================================================

// NaturalKey identifies one physical movement across report runs.
// An absent ReferenceID or FulfillmentCenter is the empty string.
type NaturalKey struct {
	FNSKU             string
	ASIN              string
	EventDate         time.Time
	EventType         string
	ReferenceID       string
	FulfillmentCenter string
}

func (k NaturalKey) String() string {
	return strings.Join([]string{
		k.FNSKU, k.ASIN, k.EventDate.Format(DateLayout), k.EventType, k.ReferenceID, k.FulfillmentCenter,
	}, "|")
}

// =============================================================================
// RUN SUMMARIES
// =============================================================================

// Counts is the outcome of one reconciliation pass.
type Counts struct {
	ProcessedCount     int `json:"processedCount"`
	NewEventsCount     int `json:"newEventsCount"`
	UpdatedEventsCount int `json:"updatedEventsCount"`
}

// SyncRun summarizes one end-to-end sync.
type SyncRun struct {
	ReportID string `json:"reportId"`
	Counts
}

func (r SyncRun) String() string {
	return fmt.Sprintf("report %s: processed=%d new=%d updated=%d",
		r.ReportID, r.ProcessedCount, r.NewEventsCount, r.UpdatedEventsCount)
}

// SweepResult summarizes one status sweep.
type SweepResult struct {
	UpdatedCount        int `json:"updatedCount"`
	WaitingToClaimable  int `json:"waitingToClaimable"`
	ClaimableToResolved int `json:"claimableToResolved"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StrPtr returns nil for an empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
