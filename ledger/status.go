/*
status.go - Reimbursement lifecycle of a ledger event

STATES:
  WAITING    younger than ClaimableAfterDays, upstream may still explain it
  CLAIMABLE  old enough and still unreconciled, a claim can be filed
  RESOLVED   old enough and fully reconciled upstream
  CLAIMED    an operator filed a claim (operator-driven)
  PAID       the claim was reimbursed (operator-driven)

TRANSITIONS:
  WAITING -> CLAIMABLE -> RESOLVED     computed (creation, refresh, sweep)
  CLAIMABLE -> CLAIMED -> PAID         operator actions only

RULE (ComputeStatus):
  age = floor((now - eventDate) / 1 day)
  age < 7                -> WAITING
  unreconciled > 0       -> CLAIMABLE
  otherwise              -> RESOLVED

  Upstream settles most discrepancies within about a week, so younger
  events are not claimed yet.

MONOTONICITY:
  Computed statuses only move forward. Advance merges a stored status with a
  freshly computed one and never moves backwards or off CLAIMED/PAID.

SEE ALSO:
  - sweep.go:     periodic promotion of persisted events
  - reconcile.go: status at creation and on refresh
*/
package ledger

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a persisted event.
type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusClaimable Status = "CLAIMABLE"
	StatusResolved  Status = "RESOLVED"
	StatusClaimed   Status = "CLAIMED"
	StatusPaid      Status = "PAID"
)

// ClaimableAfterDays is the age at which an unreconciled event becomes claimable.
const ClaimableAfterDays = 7

// AllStatuses in lifecycle order.
var AllStatuses = []Status{StatusWaiting, StatusClaimable, StatusResolved, StatusClaimed, StatusPaid}

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// OperatorOwned reports whether only operators may move the event.
func (s Status) OperatorOwned() bool {
	return s == StatusClaimed || s == StatusPaid
}

// rank orders the computed states.
func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusClaimable:
		return 1
	case StatusResolved:
		return 2
	}
	return -1
}

// ComputeStatus applies the lifecycle rule to an event's age and counters.
func ComputeStatus(eventDate time.Time, unreconciled int, now time.Time) Status {
	if AgeDays(eventDate, now) < ClaimableAfterDays {
		return StatusWaiting
	}
	if unreconciled > 0 {
		return StatusClaimable
	}
	return StatusResolved
}

// Advance merges a persisted status with a newly computed one.
// CLAIMED and PAID are kept; otherwise the furthest state wins.
func Advance(current, computed Status) Status {
	if current.OperatorOwned() {
		return current
	}
	if computed.rank() > current.rank() {
		return computed
	}
	return current
}

// operatorTransitions lists the only transitions operators may perform.
var operatorTransitions = map[Status]Status{
	StatusClaimed: StatusClaimable,
	StatusPaid:    StatusClaimed,
}

// RequiredSource returns the status an event must be in to be moved to target
// by an operator.
func RequiredSource(target Status) (Status, bool) {
	from, ok := operatorTransitions[target]
	return from, ok
}
