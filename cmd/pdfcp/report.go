package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pdfcp/internal/aggregate"
	"pdfcp/internal/app"
	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
	"pdfcp/internal/report"
)

func reportCmd() *cobra.Command {
	var (
		f                 engine.ReconcileFilter
		action, grouping  string
		csvPath, xlsxPath string
	)
	cmd := &cobra.Command{
		Use:   "report <program>",
		Short: "Reconcile the three layers",
		Long:  "Prints the reconciliation table, or writes it with --csv / --xlsx. Exports always group by year and action.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ActionKey = domain.ActionKey(action)
			f.Grouping = aggregate.Grouping(grouping)
			if csvPath != "" || xlsxPath != "" {
				f.Grouping = aggregate.ByActionYear
			}
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				rec, err := a.Engine.Reconcile(ctx, p.ID, f)
				if err != nil {
					return err
				}
				if csvPath != "" {
					if err := writeFile(csvPath, rec.Result, report.WriteCSV); err != nil {
						return err
					}
				}
				if xlsxPath != "" {
					if err := writeFile(xlsxPath, rec.Result, report.WriteXLSX); err != nil {
						return err
					}
				}
				if csvPath != "" || xlsxPath != "" {
					return nil
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				return printReconciliation(rec)
			})
		},
	}
	cmd.Flags().IntVar(&f.YearFrom, "from", 0, "first year")
	cmd.Flags().IntVar(&f.YearTo, "to", 0, "last year")
	cmd.Flags().StringVar(&action, "action", "", "action key filter")
	cmd.Flags().StringVar(&grouping, "group-by", string(aggregate.ByActionYear), "action_year or location")
	cmd.Flags().StringVar(&csvPath, "csv", "", "write CSV to this file")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "write XLSX to this file")
	return cmd
}

func writeFile(path string, res aggregate.Result, write func(io.Writer, aggregate.Result) error) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(out, res); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func printReconciliation(rec engine.Reconciliation) error {
	records := report.Records(rec.Result)
	header := make(table.Row, 0, len(records[0])+2)
	for _, h := range records[0] {
		header = append(header, h)
	}
	header = append(header, "Santé", "Alertes")
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("%s %s (%s)", rec.Program.Code, rec.Program.Title, rec.Program.ValidationStatus))
	tw.AppendHeader(header)
	for i, cells := range records[1 : len(records)-1] {
		row := rec.Result.Rows[i]
		tw.AppendRow(toRow(cells, string(row.Metrics.Health), len(row.AlertIDs)))
	}
	total := rec.Result.GrandTotal
	tw.AppendFooter(toRow(records[len(records)-1], string(total.Metrics.Health), len(total.AlertIDs)))
	tw.Render()
	return nil
}

func toRow(cells []string, extra ...any) table.Row {
	row := make(table.Row, 0, len(cells)+len(extra))
	for _, c := range cells {
		row = append(row, c)
	}
	return append(row, extra...)
}
