/*
Package export renders claimable events as an XLSX workbook for operators
who file claims outside the dashboard.

One sheet, one row per event, newest first as given. The last column holds
the estimated value from the cost book and the claim text ready to paste.
*/
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/warp/reimbursement-engine/ledger"
)

// SheetName is the only sheet in the workbook.
const SheetName = "Claimable"

// ContentType of the rendered workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var headings = []string{
	"Event ID", "Event Date", "FNSKU", "ASIN", "SKU", "Title", "Event Type",
	"Fulfillment Center", "Reference ID", "Quantity", "Unreconciled", "Estimated Value", "Claim Text",
}

// Claimable builds the workbook. A nil cost book leaves the value column empty.
func Claimable(events []ledger.Event, costs *ledger.CostBook) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		_ = f.Close()
		return nil, err
	}

	for i, h := range headings {
		if err := f.SetCellValue(SheetName, cell(i, 1), h); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	for r, e := range events {
		row := r + 2
		values := []any{
			e.ID,
			e.EventDate.Format(ledger.DateLayout),
			e.FNSKU,
			e.ASIN,
			e.SKU,
			e.ProductTitle,
			e.EventType,
			optional(e.FulfillmentCenter),
			optional(e.ReferenceID),
			e.Quantity,
			e.UnreconciledQuantity,
			"",
			ledger.FormatClaim(e),
		}
		if costs != nil {
			values[11] = costs.Value(e.SKU, e.UnreconciledQuantity).StringFixed(2)
		}
		for c, v := range values {
			if err := f.SetCellValue(SheetName, cell(c, row), v); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}
	return f, nil
}

// WriteClaimable renders the workbook straight to w.
func WriteClaimable(w io.Writer, events []ledger.Event, costs *ledger.CostBook) error {
	f, err := Claimable(events, costs)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
