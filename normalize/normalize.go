/*
Package normalize maps decoded ledger report rows to typed ledger events.

TOLERANCE:
  A report carries thousands of rows and one malformed value must not cost
  the whole batch. Nothing here returns an error:
    - dates / date-times that don't parse become "now" (the date truncated
      to the day) and emit a diagnostic
    - integers that don't parse become 0 and emit a diagnostic
    - empty optional columns become nil
    - an empty country becomes "US"

VALIDITY:
  NormalizeAll counts rows without an FNSKU or an ASIN as invalid and drops
  them. Eligibility (type, sign, unreconciled units) is the reconciliation
  engine's concern.
*/
package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/warp/reimbursement-engine/ledger"
	"github.com/warp/reimbursement-engine/observe"
	"github.com/warp/reimbursement-engine/tabular"
)

// Report columns.
const (
	ColDate                 = "Date"
	ColFNSKU                = "FNSKU"
	ColASIN                 = "ASIN"
	ColMSKU                 = "MSKU"
	ColTitle                = "Title"
	ColEventType            = "Event Type"
	ColReferenceID          = "Reference ID"
	ColQuantity             = "Quantity"
	ColFulfillmentCenter    = "Fulfillment Center"
	ColDisposition          = "Disposition"
	ColReason               = "Reason"
	ColReconciledQuantity   = "Reconciled Quantity"
	ColUnreconciledQuantity = "Unreconciled Quantity"
	ColCountry              = "Country"
	ColDateAndTime          = "Date and Time"
	ColStore                = "Store"
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"1-2-2006",
}

var dateTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"1/2/2006 15:04:05",
}

// Normalizer converts rows into ledger.EventData.
type Normalizer struct {
	obs observe.Observer
	now ledger.Clock
}

// New creates a Normalizer. A nil clock uses ledger.SystemClock.
func New(obs observe.Observer, now ledger.Clock) *Normalizer {
	if now == nil {
		now = ledger.SystemClock
	}
	return &Normalizer{obs: obs, now: now}
}

// NormalizeAll converts every row and drops the ones without identity.
func (n *Normalizer) NormalizeAll(rows []tabular.Row) (valid []ledger.EventData, invalid int) {
	valid = make([]ledger.EventData, 0, len(rows))
	for _, row := range rows {
		data := n.Normalize(row)
		if !data.HasIdentity() {
			invalid++
			continue
		}
		valid = append(valid, data)
	}
	n.obs.Decoded(len(rows), len(valid), invalid)
	return valid, invalid
}

// Normalize converts one row.
func (n *Normalizer) Normalize(row tabular.Row) ledger.EventData {
	country := row[ColCountry]
	if country == "" {
		country = ledger.DefaultCountry
	}
	return ledger.EventData{
		EventDate:            n.date(row[ColDate]),
		FNSKU:                row[ColFNSKU],
		ASIN:                 row[ColASIN],
		SKU:                  row[ColMSKU],
		ProductTitle:         row[ColTitle],
		EventType:            row[ColEventType],
		ReferenceID:          ledger.StrPtr(row[ColReferenceID]),
		Quantity:             n.integer(ColQuantity, row[ColQuantity]),
		FulfillmentCenter:    ledger.StrPtr(row[ColFulfillmentCenter]),
		Disposition:          ledger.StrPtr(row[ColDisposition]),
		Reason:               ledger.StrPtr(row[ColReason]),
		ReconciledQuantity:   n.integer(ColReconciledQuantity, row[ColReconciledQuantity]),
		UnreconciledQuantity: n.integer(ColUnreconciledQuantity, row[ColUnreconciledQuantity]),
		Country:              country,
		RawTimestamp:         n.dateTime(row[ColDateAndTime]),
		StoreID:              ledger.StrPtr(row[ColStore]),
	}
}

// =============================================================================
// FIELD PARSERS
// =============================================================================

func (n *Normalizer) date(s string) time.Time {
	if t, ok := parse(s, dateLayouts); ok {
		return ledger.Day(t)
	}
	n.diagnose(ColDate, s, "unparseable date, using today")
	return ledger.Day(n.now())
}

func (n *Normalizer) dateTime(s string) time.Time {
	if t, ok := parse(s, dateTimeLayouts); ok {
		return t.UTC()
	}
	n.diagnose(ColDateAndTime, s, "unparseable date-time, using now")
	return n.now().UTC()
}

func (n *Normalizer) integer(field, s string) int {
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		n.diagnose(field, s, "unparseable integer, using 0")
		return 0
	}
	return v
}

func (n *Normalizer) diagnose(field, value, reason string) {
	if value == "" {
		reason = "missing value: " + reason
	}
	n.obs.RowDiagnostic(field, value, reason)
}

func parse(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
