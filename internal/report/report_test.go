package report

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"pdfcp/internal/aggregate"
	"pdfcp/internal/catalog"
	"pdfcp/internal/domain"
)

func sample() aggregate.Result {
	line := func(layer domain.Layer, key domain.ActionKey, year int, qty, budget float64) domain.ActionLine {
		return domain.ActionLine{Layer: layer, Dimension: domain.Dimension{ActionKey: key, Year: year}, Quantity: qty, Budget: budget}
	}
	return aggregate.Aggregate([]domain.ActionLine{
		line(domain.LayerConcerted, domain.ActionReboisement, 2024, 100, 500000),
		line(domain.LayerContracted, domain.ActionReboisement, 2024, 100, 500000),
		line(domain.LayerExecuted, domain.ActionReboisement, 2024, 95, 475000),
		line(domain.LayerConcerted, domain.ActionPistes, 2025, 4, 120000),
	}, aggregate.Options{Reference: catalog.Default()})
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))

	raw := buf.Bytes()
	require.True(t, bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}), "missing BOM")

	r := csv.NewReader(bytes.NewReader(raw[3:]))
	r.Comma = ';'
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, Header, records[0])
	assert.Equal(t, []string{"2024", "Reboisement", "ha", "100", "500000", "100", "500000", "95", "475000", "0", "-25000", "95"}, records[1])
	assert.Equal(t, "2025", records[2][0])
	assert.Equal(t, "km", records[2][2])
	assert.Equal(t, Undefined, records[2][11], "no CP budget, no rate")

	total := records[3]
	assert.Equal(t, "TOTAL", total[0])
	assert.Equal(t, "", total[1])
	assert.Equal(t, "620000", total[4])
	assert.Equal(t, "-120000", total[9])
	assert.Equal(t, "95", total[11])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sample()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 4)

	assert.Equal(t, "Année", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "Taux Exec (%)", sheet.Rows[0].Cells[11].String())
	assert.Equal(t, "Pistes forestières", sheet.Rows[2].Cells[1].String())
	assert.Equal(t, Undefined, sheet.Rows[2].Cells[11].String())
	assert.Equal(t, "TOTAL", sheet.Rows[3].Cells[0].String())
}
