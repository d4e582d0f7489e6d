package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfcp/internal/catalog"
	"pdfcp/internal/compare"
	"pdfcp/internal/domain"
)

func mk(layer domain.Layer, key domain.ActionKey, year int, perimetre string, qty, budget float64) domain.ActionLine {
	return domain.ActionLine{
		Layer:    layer,
		Quantity: qty,
		Budget:   budget,
		Dimension: domain.Dimension{
			ActionKey:   key,
			Year:        year,
			PerimetreID: perimetre,
		},
	}
}

func fixture() []domain.ActionLine {
	return []domain.ActionLine{
		mk(domain.LayerConcerted, domain.ActionReboisement, 2024, "P1", 100, 500000),
		mk(domain.LayerContracted, domain.ActionReboisement, 2024, "P1", 100, 500000),
		mk(domain.LayerExecuted, domain.ActionReboisement, 2024, "P1", 95, 475000),
		mk(domain.LayerConcerted, domain.ActionReboisement, 2025, "P2", 50, 250000),
		mk(domain.LayerConcerted, domain.ActionCMD, 2024, "P1", 20, 40000),
		mk(domain.LayerConcerted, domain.ActionCMD, 2024, "P2", 30, 60000),
		mk(domain.LayerContracted, domain.ActionCMD, 2024, "P2", 30, 0),
		mk(domain.LayerExecuted, domain.ActionCMD, 2024, "P2", 0, 0),
	}
}

func TestAggregateByActionYear(t *testing.T) {
	res := Aggregate(fixture(), Options{DefaultCommune: "C1", Reference: catalog.Default()})

	require.Len(t, res.Rows, 3)
	assert.Equal(t, domain.ActionCMD, res.Rows[0].ActionKey)
	assert.Equal(t, 2024, res.Rows[0].Year)
	assert.Equal(t, domain.ActionReboisement, res.Rows[1].ActionKey)
	assert.Equal(t, 2025, res.Rows[2].Year)

	cmd := res.Rows[0]
	assert.Equal(t, 50.0, cmd.Layers.Concerted.Quantity)
	assert.Equal(t, 2, cmd.Layers.Concerted.Lines)
	assert.Equal(t, []string{"P1", "P2"}, cmd.Perimetres)
	assert.Equal(t, []string{"C1"}, cmd.Communes)
	assert.Equal(t, "ha", cmd.Unit)
	assert.Nil(t, cmd.Metrics.ExecRate, "zero CP budget leaves the rate undefined")
	assert.Equal(t, compare.HealthNonClasse, cmd.Metrics.Health)

	reb := res.Rows[1]
	require.NotNil(t, reb.Metrics.ExecRate)
	assert.Equal(t, 95, *reb.Metrics.ExecRate)
	assert.Equal(t, compare.HealthConforme, reb.Metrics.Health)
	assert.Equal(t, compare.StatusRealise, reb.Metrics.Status)
}

func TestAggregateTotalsRoundTrip(t *testing.T) {
	lines := fixture()
	res := Aggregate(lines, Options{})

	var raw compare.Chain
	for _, l := range lines {
		addLine(&raw, l)
	}
	var rows compare.Chain
	for _, r := range res.Rows {
		rows = rows.Add(r.Layers)
	}
	assert.Equal(t, raw, rows)
	assert.Equal(t, raw, res.GrandTotal.Layers)

	var years, actions compare.Chain
	for _, r := range res.YearTotals {
		years = years.Add(r.Layers)
	}
	for _, r := range res.ActionTotals {
		actions = actions.Add(r.Layers)
	}
	assert.Equal(t, raw, years)
	assert.Equal(t, raw, actions)

	require.Len(t, res.YearTotals, 2)
	assert.Equal(t, 2024, res.YearTotals[0].Year)
	require.Len(t, res.ActionTotals, 2)
	assert.Equal(t, 150.0, res.ActionTotals[1].Layers.Concerted.Quantity)
}

func TestAggregateByLocation(t *testing.T) {
	res := Aggregate(fixture(), Options{Grouping: ByLocation, DefaultCommune: "C1"})
	require.Len(t, res.Rows, 4)
	assert.Equal(t, "P1", res.Rows[0].PerimetreID)
	assert.Equal(t, "P2", res.Rows[1].PerimetreID)
	assert.Equal(t, "C1", res.Rows[0].CommuneID)
}

func TestAnnotateAlerts(t *testing.T) {
	y := 2025
	res := Aggregate(fixture(), Options{DefaultCommune: "C1"})
	res.AnnotateAlerts([]domain.Alert{
		{ID: "loc", CommuneID: "C1", Status: domain.AlertOpen},
		{ID: "p2-2025", CommuneID: "C1", PerimetreID: "P2", Year: &y, Status: domain.AlertOpen},
		{ID: "done", CommuneID: "C1", Status: domain.AlertResolved},
		{ID: "elsewhere", CommuneID: "C9", Status: domain.AlertOpen},
	})

	for _, r := range res.Rows {
		assert.True(t, r.HasAlert)
		assert.Contains(t, r.AlertIDs, "loc")
		assert.NotContains(t, r.AlertIDs, "done")
	}
	assert.Equal(t, []string{"loc", "p2-2025"}, res.Rows[2].AlertIDs)
	assert.Equal(t, []string{"loc"}, res.Rows[0].AlertIDs)
	assert.ElementsMatch(t, []string{"loc", "p2-2025"}, res.GrandTotal.AlertIDs)
	assert.True(t, res.GrandTotal.HasAlert)
}

func TestAggregateEmpty(t *testing.T) {
	res := Aggregate(nil, Options{})
	assert.Empty(t, res.Rows)
	assert.Equal(t, compare.Chain{}, res.GrandTotal.Layers)
	assert.Equal(t, compare.HealthNonClasse, res.GrandTotal.Metrics.Health)
}
