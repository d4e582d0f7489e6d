package report

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"pdfcp/internal/aggregate"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Réconciliation"

// WriteXLSX writes res as a single-sheet workbook with the CSV columns.
// Amounts and rates are numeric cells; undefined rates are text.
func WriteXLSX(w io.Writer, res aggregate.Result) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}
	head := sheet.AddRow()
	for _, h := range Header {
		head.AddCell().SetString(h)
	}
	for _, r := range res.Rows {
		row := sheet.AddRow()
		row.AddCell().SetInt(r.Year)
		fillRow(row, r)
	}
	total := sheet.AddRow()
	total.AddCell().SetString("TOTAL")
	g := res.GrandTotal
	g.Label, g.Unit = "", ""
	fillRow(total, g)

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write xlsx")
	}
	return nil
}

func fillRow(row *xlsx.Row, r aggregate.Row) {
	c, m := r.Layers, r.Metrics
	row.AddCell().SetString(r.Label)
	row.AddCell().SetString(r.Unit)
	for _, v := range []float64{
		c.Concerted.Quantity, c.Concerted.Budget,
		c.Contracted.Quantity, c.Contracted.Budget,
		c.Executed.Quantity, c.Executed.Budget,
		m.DeltaCPConc.Value, m.DeltaExecCP.Value,
	} {
		row.AddCell().SetFloat(v)
	}
	if m.ExecRate != nil {
		row.AddCell().SetInt(*m.ExecRate)
	} else {
		row.AddCell().SetString(Undefined)
	}
}
