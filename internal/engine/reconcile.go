package engine

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pdfcp/internal/aggregate"
	"pdfcp/internal/alerts"
	"pdfcp/internal/domain"
	"pdfcp/internal/metrics"
)

// ReconcileFilter narrows a reconciliation. Zero values mean no bound.
type ReconcileFilter struct {
	YearFrom  int                `json:"year_from,omitempty"`
	YearTo    int                `json:"year_to,omitempty"`
	ActionKey domain.ActionKey   `json:"action_key,omitempty"`
	Grouping  aggregate.Grouping `json:"grouping,omitempty"`
}

func (f ReconcileFilter) keep(l domain.ActionLine) bool {
	if f.YearFrom != 0 && l.Year < f.YearFrom {
		return false
	}
	if f.YearTo != 0 && l.Year > f.YearTo {
		return false
	}
	return f.ActionKey == "" || l.ActionKey == f.ActionKey
}

// Reconciliation is the read model of one program: the three layers summed
// side by side with rates, deltas, signals and linked field alerts.
type Reconciliation struct {
	Program     domain.Program   `json:"program"`
	Filter      ReconcileFilter  `json:"filter"`
	Result      aggregate.Result `json:"result"`
	GeneratedAt string           `json:"generated_at" format:"date-time"`
}

// Reconcile loads the program's lines and its open field alerts
// concurrently and aggregates them.
func (e Engine) Reconcile(ctx context.Context, programID string, f ReconcileFilter) (Reconciliation, error) {
	start := time.Now()
	defer metrics.ObserveReconcile(start)

	if f.Grouping == "" {
		f.Grouping = aggregate.ByActionYear
	}
	if !f.Grouping.Valid() {
		return Reconciliation{}, domain.NewValidationError(domain.RuleRequired, "grouping", "unknown grouping %q", f.Grouping)
	}
	if f.ActionKey != "" && !f.ActionKey.Valid() {
		return Reconciliation{}, domain.NewValidationError(domain.RuleUnknownAction, "action_key", "unknown action %q", f.ActionKey)
	}
	if f.YearFrom != 0 && f.YearTo != 0 && f.YearFrom > f.YearTo {
		return Reconciliation{}, domain.NewValidationError(domain.RuleYearRange, "year_from", "year_from %d is after year_to %d", f.YearFrom, f.YearTo)
	}
	p, err := e.GetProgram(ctx, programID)
	if err != nil {
		return Reconciliation{}, err
	}

	// Alerts of the program commune load alongside the lines; communes that
	// only appear on lines are fetched once the lines are known.
	filter := alerts.Filter{YearFrom: p.YearStart, YearTo: p.YearEnd}
	if f.YearFrom != 0 {
		filter.YearFrom = f.YearFrom
	}
	if f.YearTo != 0 {
		filter.YearTo = f.YearTo
	}
	if p.CommuneID != "" {
		filter.CommuneIDs = []string{p.CommuneID}
	}

	var (
		lines []domain.ActionLine
		open  []domain.Alert
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lines, err = e.Store.ListActionLines(gctx, p.ID, nil)
		return storeErr("list action lines", err)
	})
	if e.Alerts != nil && len(filter.CommuneIDs) > 0 {
		g.Go(func() error {
			var err error
			open, err = e.openAlerts(gctx, filter)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		e.log().Warn("reconciliation read failed", zap.String("program_id", p.ID), zap.Error(err))
		return Reconciliation{}, err
	}

	kept := lines[:0:0]
	for _, l := range lines {
		if f.keep(l) {
			kept = append(kept, l)
		}
	}
	if e.Alerts != nil {
		extra := lineCommunes(kept, p.CommuneID)
		if len(extra) > 0 || len(filter.CommuneIDs) == 0 {
			more := filter
			more.CommuneIDs = extra
			got, err := e.openAlerts(ctx, more)
			if err != nil {
				e.log().Warn("reconciliation read failed", zap.String("program_id", p.ID), zap.Error(err))
				return Reconciliation{}, err
			}
			open = mergeAlerts(open, got)
		}
	}
	res := aggregate.Aggregate(kept, aggregate.Options{
		Grouping:       f.Grouping,
		DefaultCommune: p.CommuneID,
		Reference:      e.catalog(),
	})
	res.AnnotateAlerts(open)

	return Reconciliation{Program: p, Filter: f, Result: res, GeneratedAt: e.now()}, nil
}

func (e Engine) openAlerts(ctx context.Context, f alerts.Filter) ([]domain.Alert, error) {
	open, err := e.Alerts.ListOpenAlerts(ctx, f)
	if err != nil {
		return nil, &domain.TransportError{Op: "list open alerts", Err: err}
	}
	return open, nil
}

// lineCommunes returns the communes named on lines other than the program's,
// sorted.
func lineCommunes(lines []domain.ActionLine, programCommune string) []string {
	var out []string
	for _, l := range lines {
		if l.CommuneID != "" && l.CommuneID != programCommune && !slices.Contains(out, l.CommuneID) {
			out = append(out, l.CommuneID)
		}
	}
	slices.Sort(out)
	return out
}

// mergeAlerts appends the alerts of b missing from a.
func mergeAlerts(a, b []domain.Alert) []domain.Alert {
	seen := make(map[string]bool, len(a))
	for _, al := range a {
		seen[al.ID] = true
	}
	for _, al := range b {
		if !seen[al.ID] {
			seen[al.ID] = true
			a = append(a, al)
		}
	}
	return a
}
