// Package report exports a reconciliation as CSV or XLSX. Both formats
// carry one row per (year, action) followed by a TOTAL row.
package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"pdfcp/internal/aggregate"
)

// Header is the export column set.
var Header = []string{
	"Année", "Composante", "Unité",
	"Conc. Qty", "Conc. Budget",
	"CP Qty", "CP Budget",
	"Exec Qty", "Exec Budget",
	"Δ CP-Conc", "Δ Exec-CP", "Taux Exec (%)",
}

// Undefined is written where a rate has no reference.
const Undefined = "-"

// Records renders res as string records, header first and TOTAL last.
func Records(res aggregate.Result) [][]string {
	out := make([][]string, 0, len(res.Rows)+2)
	out = append(out, Header)
	for _, r := range res.Rows {
		out = append(out, record(strconv.Itoa(r.Year), r))
	}
	total := record("TOTAL", res.GrandTotal)
	total[1], total[2] = "", ""
	return append(out, total)
}

func record(first string, r aggregate.Row) []string {
	c, m := r.Layers, r.Metrics
	rate := Undefined
	if m.ExecRate != nil {
		rate = strconv.Itoa(*m.ExecRate)
	}
	return []string{
		first, r.Label, r.Unit,
		num(c.Concerted.Quantity), num(c.Concerted.Budget),
		num(c.Contracted.Quantity), num(c.Contracted.Budget),
		num(c.Executed.Quantity), num(c.Executed.Budget),
		num(m.DeltaCPConc.Value), num(m.DeltaExecCP.Value), rate,
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WriteCSV writes res as semicolon-separated UTF-8 with a byte order mark.
func WriteCSV(w io.Writer, res aggregate.Result) error {
	tw := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(tw)
	cw.Comma = ';'
	if err := cw.WriteAll(Records(res)); err != nil {
		return eris.Wrap(err, "report: write csv")
	}
	return eris.Wrap(tw.Close(), "report: flush csv")
}
