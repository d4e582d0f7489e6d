package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pdfcp/internal/aggregate"
	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
	"pdfcp/internal/report"
)

type ReconcileQuery struct {
	Program   string `path:"program"`
	YearFrom  int    `query:"year_from"`
	YearTo    int    `query:"year_to"`
	ActionKey string `query:"action_key"`
}

func (q ReconcileQuery) filter(grouping aggregate.Grouping) engine.ReconcileFilter {
	return engine.ReconcileFilter{
		YearFrom:  q.YearFrom,
		YearTo:    q.YearTo,
		ActionKey: domain.ActionKey(q.ActionKey),
		Grouping:  grouping,
	}
}

type exportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "reconciliation",
		Method:      http.MethodGet,
		Path:        "/programs/{program}/reconciliation",
		Summary:     "Reconcile the three layers",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ReconcileQuery
		Grouping string `query:"grouping" enum:"action_year,location"`
	}) (*struct {
		Body engine.Reconciliation `json:"body"`
	}, error) {
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		rec, rerr := e.Reconcile(ctx, p.ID, input.filter(aggregate.Grouping(input.Grouping)))
		if rerr != nil {
			return nil, handleError(rerr)
		}
		return &struct {
			Body engine.Reconciliation `json:"body"`
		}{Body: rec}, nil
	})

	exports := []struct {
		id, ext, contentType string
		write                func(io.Writer, aggregate.Result) error
	}{
		{"export-csv", "csv", "text/csv; charset=utf-8", report.WriteCSV},
		{"export-xlsx", "xlsx", xlsxContentType, report.WriteXLSX},
	}
	for _, x := range exports {
		huma.Register(api, huma.Operation{
			OperationID: x.id,
			Method:      http.MethodGet,
			Path:        "/programs/{program}/export." + x.ext,
			Summary:     "Export reconciliation as " + x.ext,
			Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusServiceUnavailable},
		}, func(ctx context.Context, input *ReconcileQuery) (*exportOutput, error) {
			p, err := resolveProgram(ctx, e, input.Program)
			if err != nil {
				return nil, err
			}
			// Exports are always one row per (year, action).
			rec, rerr := e.Reconcile(ctx, p.ID, input.filter(aggregate.ByActionYear))
			if rerr != nil {
				return nil, handleError(rerr)
			}
			var buf bytes.Buffer
			if werr := x.write(&buf, rec.Result); werr != nil {
				return nil, handleError(werr)
			}
			return &exportOutput{
				ContentType:        x.contentType,
				ContentDisposition: fmt.Sprintf(`attachment; filename="%s-reconciliation.%s"`, p.Code, x.ext),
				Body:               buf.Bytes(),
			}, nil
		})
	}
}
