// Package aggregate sums action lines per layer into reconciliation rows.
package aggregate

import (
	"sort"

	"pdfcp/internal/alerts"
	"pdfcp/internal/compare"
	"pdfcp/internal/domain"
)

type Grouping string

const (
	// ByActionYear keys rows by (action_key, year).
	ByActionYear Grouping = "action_year"
	// ByLocation additionally splits rows by commune, perimetre and site.
	ByLocation Grouping = "location"
)

func (g Grouping) Valid() bool {
	return g == ByActionYear || g == ByLocation
}

// Reference supplies display labels and canonical units.
type Reference interface {
	Label(domain.ActionKey) string
	Unit(domain.ActionKey) string
}

type Options struct {
	Grouping Grouping
	// DefaultCommune locates lines that carry no commune of their own.
	DefaultCommune string
	Reference      Reference
}

// Row is an aggregated, derived record. It is never persisted.
type Row struct {
	Year        int              `json:"year,omitempty"`
	ActionKey   domain.ActionKey `json:"action_key,omitempty"`
	Label       string           `json:"label,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	CommuneID   string           `json:"commune_id,omitempty"`
	PerimetreID string           `json:"perimetre_id,omitempty"`
	SiteID      string           `json:"site_id,omitempty"`
	Communes    []string         `json:"communes,omitempty"`
	Perimetres  []string         `json:"perimetres,omitempty"`
	Sites       []string         `json:"sites,omitempty"`
	Layers      compare.Chain    `json:"layers"`
	Metrics     compare.Metrics  `json:"metrics"`
	Signals     []compare.Signal `json:"signals,omitempty"`
	HasAlert    bool             `json:"has_alert"`
	AlertIDs    []string         `json:"alert_ids,omitempty"`
}

// Location is the alert-matching view of the row.
func (r Row) Location() alerts.Location {
	return alerts.Location{
		Communes:   r.Communes,
		Perimetres: r.Perimetres,
		Sites:      r.Sites,
		ActionKey:  r.ActionKey,
		Year:       r.Year,
	}
}

// Result is the full aggregation of a line set.
type Result struct {
	Grouping Grouping `json:"grouping"`
	// Rows are ordered by year, action key, then location.
	Rows []Row `json:"rows"`
	// YearTotals has one row per year across actions.
	YearTotals []Row `json:"year_totals"`
	// ActionTotals has one row per action across years.
	ActionTotals []Row `json:"action_totals"`
	GrandTotal   Row   `json:"grand_total"`
}

type rowKey struct {
	year      int
	action    domain.ActionKey
	commune   string
	perimetre string
	site      string
}

// Aggregate sums lines by layer. Every line contributes to exactly one row,
// so the rows sum to the raw per-layer totals.
func Aggregate(lines []domain.ActionLine, opts Options) Result {
	if !opts.Grouping.Valid() {
		opts.Grouping = ByActionYear
	}
	res := Result{Grouping: opts.Grouping}

	rows := map[rowKey]*Row{}
	for _, l := range lines {
		commune := l.CommuneID
		if commune == "" {
			commune = opts.DefaultCommune
		}
		k := rowKey{year: l.Year, action: l.ActionKey}
		if opts.Grouping == ByLocation {
			k.commune, k.perimetre, k.site = commune, l.PerimetreID, l.SiteID
		}
		r, ok := rows[k]
		if !ok {
			r = &Row{
				Year:        k.year,
				ActionKey:   k.action,
				CommuneID:   k.commune,
				PerimetreID: k.perimetre,
				SiteID:      k.site,
			}
			r.Label, r.Unit = describe(opts.Reference, l)
			rows[k] = r
		}
		r.Communes = addDistinct(r.Communes, commune)
		r.Perimetres = addDistinct(r.Perimetres, l.PerimetreID)
		r.Sites = addDistinct(r.Sites, l.SiteID)
		addLine(&r.Layers, l)
	}

	for _, r := range rows {
		res.Rows = append(res.Rows, *r)
	}
	sort.Slice(res.Rows, func(i, j int) bool {
		a, b := res.Rows[i], res.Rows[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.ActionKey != b.ActionKey {
			return a.ActionKey < b.ActionKey
		}
		if a.CommuneID != b.CommuneID {
			return a.CommuneID < b.CommuneID
		}
		if a.PerimetreID != b.PerimetreID {
			return a.PerimetreID < b.PerimetreID
		}
		return a.SiteID < b.SiteID
	})
	for i := range res.Rows {
		finish(&res.Rows[i])
	}
	res.rollup()
	return res
}

// AnnotateAlerts links open alerts to every keyed row and propagates the
// matches to the totals.
func (res *Result) AnnotateAlerts(open []domain.Alert) {
	for i := range res.Rows {
		r := &res.Rows[i]
		r.AlertIDs = alerts.Link(open, r.Location())
		r.HasAlert = len(r.AlertIDs) > 0
	}
	res.rollup()
}

// rollup rebuilds the totals from the keyed rows.
func (res *Result) rollup() {
	years := map[int]*Row{}
	actions := map[domain.ActionKey]*Row{}
	grand := Row{}
	for _, r := range res.Rows {
		y, ok := years[r.Year]
		if !ok {
			y = &Row{Year: r.Year}
			years[r.Year] = y
		}
		a, ok := actions[r.ActionKey]
		if !ok {
			a = &Row{ActionKey: r.ActionKey, Label: r.Label, Unit: r.Unit}
			actions[r.ActionKey] = a
		}
		for _, t := range []*Row{y, a, &grand} {
			merge(t, r)
		}
	}

	res.YearTotals = res.YearTotals[:0]
	for _, y := range years {
		finish(y)
		res.YearTotals = append(res.YearTotals, *y)
	}
	sort.Slice(res.YearTotals, func(i, j int) bool { return res.YearTotals[i].Year < res.YearTotals[j].Year })

	res.ActionTotals = res.ActionTotals[:0]
	for _, a := range actions {
		finish(a)
		res.ActionTotals = append(res.ActionTotals, *a)
	}
	sort.Slice(res.ActionTotals, func(i, j int) bool { return res.ActionTotals[i].ActionKey < res.ActionTotals[j].ActionKey })

	finish(&grand)
	res.GrandTotal = grand
}

func merge(into *Row, r Row) {
	into.Layers = into.Layers.Add(r.Layers)
	for _, c := range r.Communes {
		into.Communes = addDistinct(into.Communes, c)
	}
	for _, p := range r.Perimetres {
		into.Perimetres = addDistinct(into.Perimetres, p)
	}
	for _, s := range r.Sites {
		into.Sites = addDistinct(into.Sites, s)
	}
	for _, id := range r.AlertIDs {
		into.AlertIDs = addDistinct(into.AlertIDs, id)
	}
	into.HasAlert = len(into.AlertIDs) > 0
}

func finish(r *Row) {
	r.Metrics = compare.Evaluate(r.Layers)
	r.Signals = compare.Signals(r.Layers)
}

func addLine(c *compare.Chain, l domain.ActionLine) {
	s := compare.Sum{Quantity: l.Quantity, Budget: l.Budget, Lines: 1}
	switch l.Layer {
	case domain.LayerConcerted:
		c.Concerted = c.Concerted.Add(s)
	case domain.LayerContracted:
		c.Contracted = c.Contracted.Add(s)
	case domain.LayerExecuted:
		c.Executed = c.Executed.Add(s)
	}
}

func describe(ref Reference, l domain.ActionLine) (label, unit string) {
	label, unit = l.ActionLabel, l.Unit
	if ref != nil {
		label = ref.Label(l.ActionKey)
		if u := ref.Unit(l.ActionKey); u != "" {
			unit = u
		}
	}
	if label == "" {
		label = string(l.ActionKey)
	}
	return label, unit
}

func addDistinct(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
