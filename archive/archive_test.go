package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNames(t *testing.T) {
	day := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "GET_LEDGER_DETAIL_VIEW_DATA/2025-08-01/R1.tsv", DocumentName("GET_LEDGER_DETAIL_VIEW_DATA", "R1", day))
	assert.Equal(t, "GET_LEDGER_DETAIL_VIEW_DATA/2025-08-01/R1.summary.json", SummaryName("GET_LEDGER_DETAIL_VIEW_DATA", "R1", day))
}

func TestDir_PutCreatesNestedFile(t *testing.T) {
	root := t.TempDir()
	d := NewDir(root)

	err := d.Put(context.Background(), "kind/2025-08-01/R1.tsv", "text/tab-separated-values", []byte("A\tB\n"))

	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(root, "kind", "2025-08-01", "R1.tsv"))
	require.NoError(t, err)
	assert.Equal(t, "A\tB\n", string(raw))
}

func TestDir_PutStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	d := NewDir(root)

	require.NoError(t, d.Put(context.Background(), "../../escape.txt", "text/plain", []byte("x")))

	_, err := os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)
}
