/*
Package tabular decodes tab-separated report payloads into header-keyed rows.

FORMAT:
  - records end at a newline, fields at a tab
  - a double quote toggles quoted mode; inside it tabs and newlines are
    part of the value
  - quote characters are dropped from headers and values
  - every value is trimmed
  - blank lines are skipped; the first non-blank record is the header
  - short records are padded with "", extra values are ignored
  - a quote still open at the end of the payload only affects its own
    line: decoding restarts there with quotes scoped to one line

A payload with no header at all is a *ledger.DecodeError. A header with no
data rows decodes to zero rows.
*/
package tabular

import (
	"strings"

	"github.com/warp/reimbursement-engine/ledger"
)

// Row maps header names to values.
type Row map[string]string

// Decode parses raw into rows keyed by the header record.
func Decode(raw string) ([]Row, error) {
	records := split(raw)
	if len(records) == 0 {
		return nil, &ledger.DecodeError{Source: "document", Reason: "payload has no header row"}
	}

	header := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// split returns the non-blank records with trimmed, unquoted fields.
//
// A quote left open at the end of the payload is a stray character, not a
// quoted value (an inch mark in a title, say). Everything from the record
// where it opened is decoded again with quoting scoped to a single line, so
// only that record is damaged.
func split(raw string) [][]string {
	records, tail, open := scan(raw, false)
	if open {
		rest, _, _ := scan(tail, true)
		records = append(records, rest...)
	}
	return records
}

// scan walks raw once. With lineScoped set a newline always ends the record.
// Otherwise, when raw ends inside quotes, the partial record is not returned;
// tail holds the input from its first byte and open is true.
func scan(raw string, lineScoped bool) (records [][]string, tail string, open bool) {
	var (
		fields      []string
		field       strings.Builder
		inQuote     bool
		nonBlank    bool
		recordStart int
	)

	endField := func() {
		fields = append(fields, strings.TrimSpace(field.String()))
		field.Reset()
	}
	endRecord := func() {
		endField()
		if nonBlank {
			records = append(records, fields)
		}
		fields = nil
		nonBlank = false
	}

	for i, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
			nonBlank = true
		case r == '\n' && (lineScoped || !inQuote):
			inQuote = false
			endRecord()
			recordStart = i + 1
		case inQuote:
			field.WriteRune(r)
		case r == '\t':
			endField()
		default:
			field.WriteRune(r)
			if r != ' ' && r != '\r' {
				nonBlank = true
			}
		}
	}
	if inQuote && !lineScoped {
		return records, raw[recordStart:], true
	}
	endRecord()
	return records, "", false
}
