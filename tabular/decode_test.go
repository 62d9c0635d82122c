package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reimbursement-engine/ledger"
)

func TestDecode_QuotedTabStaysInField(t *testing.T) {
	rows, err := Decode("A\tB\nval1\t\"val,2a\tval2b\"")

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"A": "val1", "B": "val,2a\tval2b"}, rows[0])
}

func TestDecode_QuotedNewlineStaysInField(t *testing.T) {
	rows, err := Decode("Title\tQty\n\"Mug\nlarge\"\t-1\nPlate\t-2\n")

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Mug\nlarge", rows[0]["Title"])
	assert.Equal(t, "-1", rows[0]["Qty"])
	assert.Equal(t, "Plate", rows[1]["Title"])
}

func TestDecode_StripsQuotesAndTrims(t *testing.T) {
	rows, err := Decode("\"Date\"\t \"FNSKU\" \r\n  2025-08-01 \t\"X001\"\r\n")

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{"Date": "2025-08-01", "FNSKU": "X001"}, rows[0])
}

func TestDecode_SkipsBlankLines(t *testing.T) {
	rows, err := Decode("\n\n  \nA\tB\n\n1\t2\n   \n3\t4\n\n")

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "3", rows[1]["A"])
}

func TestDecode_PadsShortAndDropsExtra(t *testing.T) {
	rows, err := Decode("A\tB\tC\n1\n1\t2\t3\t4")

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{"A": "1", "B": "", "C": ""}, rows[0])
	assert.Equal(t, Row{"A": "1", "B": "2", "C": "3"}, rows[1])
}

func TestDecode_HeaderOnlyIsEmpty(t *testing.T) {
	rows, err := Decode("A\tB\n")

	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecode_EmptyPayloadIsDecodeError(t *testing.T) {
	for _, raw := range []string{"", "\n\n", "  \r\n\t\n"} {
		_, err := Decode(raw)
		assert.ErrorIs(t, err, ledger.ErrDecode, "%q", raw)
	}
}

func TestDecode_StrayQuoteOnlyDamagesItsOwnRow(t *testing.T) {
	rows, err := Decode("Title\tFNSKU\nMonitor 27\" wide\tF1\nCable\tF2\nMouse\tF3\n")

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Contains(t, rows[0]["Title"], "Monitor 27")
	assert.Equal(t, Row{"Title": "Cable", "FNSKU": "F2"}, rows[1])
	assert.Equal(t, Row{"Title": "Mouse", "FNSKU": "F3"}, rows[2])
}

func TestDecode_StrayQuoteAfterQuotedNewline(t *testing.T) {
	rows, err := Decode("Title\tQty\n\"Mug\nlarge\"\t-1\nMonitor 27\" wide\t-2\nCable\t-3\n")

	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Row{"Title": "Mug\nlarge", "Qty": "-1"}, rows[0])
	assert.Contains(t, rows[1]["Title"], "Monitor 27")
	assert.Equal(t, Row{"Title": "Cable", "Qty": "-3"}, rows[2])
}
