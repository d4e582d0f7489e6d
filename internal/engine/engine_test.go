package engine_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfcp/internal/aggregate"
	"pdfcp/internal/alerts"
	"pdfcp/internal/compare"
	"pdfcp/internal/db"
	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
	"pdfcp/internal/events"
	"pdfcp/internal/migrate"
	"pdfcp/internal/repo"
)

var (
	admin      = domain.Actor{ID: "admin", Name: "Administrateur", Role: domain.ScopeAdmin}
	adp        = domain.Actor{ID: "adp-1", Name: "ADP Tizguite", Role: domain.ScopeLocal}
	dpanef     = domain.Actor{ID: "dpanef-1", Name: "DPANEF Ifrane", Role: domain.ScopeProvincial}
	proofPhoto = "https://drive.example.org/pdfcp/photo-2024.jpg"
)

type testEnv struct {
	Engine engine.Engine
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	r := repo.Repo{DB: conn}
	eng, err := engine.New(r, r, nil)
	require.NoError(t, err)
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Repo: r, Ctx: ctx}
}

func (env testEnv) program(t *testing.T) domain.Program {
	t.Helper()
	p, err := env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{
		Code: "PDFCP-IFR-01", Title: "PDFCP Tizguite", YearStart: 2024, YearEnd: 2026,
		CommuneID: "C1", ProvinceID: "IFR", TotalBudget: 2_000_000, Actor: admin,
	})
	require.NoError(t, err)
	return p
}

func (env testEnv) add(t *testing.T, opts engine.LineAddOptions) domain.ActionLine {
	t.Helper()
	if opts.Actor.ID == "" {
		opts.Actor = admin
	}
	l, err := env.Engine.AddLine(env.Ctx, opts)
	require.NoError(t, err)
	return l
}

func (env testEnv) advance(t *testing.T, programID string, actor domain.Actor, targets ...domain.ValidationStatus) domain.Program {
	t.Helper()
	var p domain.Program
	for _, target := range targets {
		var err error
		p, err = env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProgramID: programID, Target: target, Actor: actor})
		require.NoError(t, err, "to %s", target)
	}
	return p
}

func requireRule(t *testing.T, err error, rule string) {
	t.Helper()
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, rule, verr.Rule, verr.Message)
}

func TestCreateProgramStartsInBrouillon(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	assert.Equal(t, domain.StatusBrouillon, p.ValidationStatus)
	assert.False(t, p.Locked)

	got, err := env.Engine.GetProgram(env.Ctx, "PDFCP-IFR-01")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	hist, err := env.Engine.History(env.Ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.ActionCreated, hist[0].Action)

	_, err = env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{
		Code: "X", Title: "bad range", YearStart: 2026, YearEnd: 2024, Actor: admin,
	})
	requireRule(t, err, "gtefield")

	_, err = env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{Code: "Y", Title: "no actor", YearStart: 2024, YearEnd: 2024})
	requireRule(t, err, domain.RuleRequired)
}

// Scenario A.
func TestGenerateContractedAndDeviationJustification(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	conc := env.add(t, engine.LineAddOptions{
		ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionReboisement,
		Year: 2024, Quantity: 100, Budget: 500000,
	})
	assert.Equal(t, "ha", conc.Unit)

	res, err := env.Engine.GenerateLayerFromSource(env.Ctx, engine.GenerateOptions{
		ProgramID: p.ID, Source: domain.LayerConcerted, Target: domain.LayerContracted, Actor: admin,
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	cp := res.Created[0]
	assert.Equal(t, conc.ID, cp.Lineage)
	assert.Equal(t, 100.0, cp.Quantity)
	assert.Equal(t, 500000.0, cp.Budget)

	qty := 80.0
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, cp.ID, engine.LinePatch{Quantity: &qty, Actor: admin})
	requireRule(t, err, domain.RuleDeviationJustified)

	why := "Budget révisé"
	updated, err := env.Engine.UpdateLine(env.Ctx, p.ID, cp.ID, engine.LinePatch{Quantity: &qty, DeviationJustification: &why, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, 80.0, updated.Quantity)
	assert.Equal(t, why, updated.DeviationJustification)

	// A later amount change must bring its own justification.
	budget := 420000.0
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, cp.ID, engine.LinePatch{Budget: &budget, Actor: admin})
	requireRule(t, err, domain.RuleDeviationJustified)

	// Notes alone do not touch the amounts.
	notes := "parcelle nord"
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, cp.ID, engine.LinePatch{Notes: &notes, Actor: admin})
	require.NoError(t, err)
}

func TestGenerateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	for _, y := range []int{2024, 2025} {
		env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionPistes, Year: y, Quantity: 12, Budget: 300000})
	}
	opts := engine.GenerateOptions{ProgramID: p.ID, Source: domain.LayerConcerted, Target: domain.LayerContracted, Actor: admin}

	first, err := env.Engine.GenerateLayerFromSource(env.Ctx, opts)
	require.NoError(t, err)
	assert.Len(t, first.Created, 2)

	second, err := env.Engine.GenerateLayerFromSource(env.Ctx, opts)
	require.NoError(t, err)
	assert.Empty(t, second.Created)

	layer := domain.LayerContracted
	lines, err := env.Engine.ListLines(env.Ctx, p.ID, &layer)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestGenerateSkipsExecutedCopiesNeedingProof(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	funded := env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerContracted, ActionKey: domain.ActionReboisement, Year: 2024, Quantity: 50, Budget: 250000})
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerContracted, ActionKey: domain.ActionSensibilisation, Year: 2024, Quantity: 4})

	res, err := env.Engine.GenerateLayerFromSource(env.Ctx, engine.GenerateOptions{
		ProgramID: p.ID, Source: domain.LayerContracted, Target: domain.LayerExecuted, Actor: admin,
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, domain.ActionSensibilisation, res.Created[0].ActionKey)
	assert.Equal(t, domain.ExecPlanned, res.Created[0].ExecutionStatus)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, funded.ID, res.Skipped[0].SourceID)
	assert.Equal(t, domain.RuleProofRequired, res.Skipped[0].Rule)

	_, err = env.Engine.GenerateLayerFromSource(env.Ctx, engine.GenerateOptions{
		ProgramID: p.ID, Source: domain.LayerConcerted, Target: domain.LayerExecuted, Actor: admin,
	})
	requireRule(t, err, domain.RuleGeneratePair)
}

func TestLineFieldRules(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	conc := env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionReboisement, Year: 2024, Quantity: 10, Budget: 1000})

	base := engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerContracted, ActionKey: domain.ActionReboisement, Year: 2024, Quantity: 10, Budget: 1000, Actor: admin}
	cases := []struct {
		name   string
		mutate func(o *engine.LineAddOptions)
		rule   string
	}{
		{"negative quantity", func(o *engine.LineAddOptions) { o.Quantity = -1 }, domain.RuleQuantityNonNegative},
		{"negative budget", func(o *engine.LineAddOptions) { o.Budget = -5 }, domain.RuleBudgetNonNegative},
		{"NaN quantity", func(o *engine.LineAddOptions) { o.Quantity = math.NaN() }, domain.RuleQuantityNonNegative},
		{"infinite quantity", func(o *engine.LineAddOptions) { o.Quantity = math.Inf(1) }, domain.RuleQuantityNonNegative},
		{"NaN budget", func(o *engine.LineAddOptions) { o.Budget = math.NaN() }, domain.RuleBudgetNonNegative},
		{"infinite budget", func(o *engine.LineAddOptions) { o.Budget = math.Inf(-1) }, domain.RuleBudgetNonNegative},
		{"unit mismatch", func(o *engine.LineAddOptions) { o.Unit = "km" }, domain.RuleUnitMismatch},
		{"unknown action", func(o *engine.LineAddOptions) { o.ActionKey = "Irrigation" }, domain.RuleUnknownAction},
		{"year outside program", func(o *engine.LineAddOptions) { o.Year = 2030 }, domain.RuleYearRange},
		{"unknown layer", func(o *engine.LineAddOptions) { o.Layer = "PLANNED" }, domain.RuleLayer},
		{"execution date on CP", func(o *engine.LineAddOptions) { o.ExecutionDate = "2024-05-01" }, domain.RuleExecutionOnly},
		{"dangling lineage", func(o *engine.LineAddOptions) { o.Lineage = "missing" }, domain.RuleLineageMissing},
		{"deviation without justification", func(o *engine.LineAddOptions) { o.Lineage = conc.ID; o.Quantity = 8 }, domain.RuleDeviationJustified},
		{"concerted with lineage", func(o *engine.LineAddOptions) { o.Layer = domain.LayerConcerted; o.Lineage = conc.ID }, domain.RuleLineageLayer},
		{"executed from concerted", func(o *engine.LineAddOptions) {
			o.Layer = domain.LayerExecuted
			o.Lineage = conc.ID
			o.ProofRefs = []string{proofPhoto}
		}, domain.RuleLineageLayer},
		{"executed without proof", func(o *engine.LineAddOptions) { o.Layer = domain.LayerExecuted }, domain.RuleProofRequired},
		{"relative proof ref", func(o *engine.LineAddOptions) {
			o.Layer = domain.LayerExecuted
			o.ProofRefs = []string{"photos/p1.jpg"}
		}, domain.RuleProofURI},
		{"bad execution date", func(o *engine.LineAddOptions) {
			o.Layer = domain.LayerExecuted
			o.ProofRefs = []string{proofPhoto}
			o.ExecutionDate = "01/05/2024"
		}, domain.RuleExecutionStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := base
			tc.mutate(&opts)
			_, err := env.Engine.AddLine(env.Ctx, opts)
			requireRule(t, err, tc.rule)
		})
	}

	lines, err := env.Engine.ListLines(env.Ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Len(t, lines, 1, "rejected lines must not be written")

	cp := base
	cp.Lineage = conc.ID
	cp.Quantity = 8
	cp.DeviationJustification = "Superficie réduite"
	env.add(t, cp)

	exec := base
	exec.Layer = domain.LayerExecuted
	exec.ProofRefs = []string{proofPhoto}
	exec.ExecutionDate = "2024-05-01"
	l := env.add(t, exec)
	assert.Equal(t, domain.ExecPlanned, l.ExecutionStatus)
}

func TestNonFiniteAmountsAreRejected(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	l := env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionPistes, Year: 2024, Quantity: 5, Budget: 100})

	nan := math.NaN()
	_, err := env.Engine.UpdateLine(env.Ctx, p.ID, l.ID, engine.LinePatch{Quantity: &nan, Actor: admin})
	requireRule(t, err, domain.RuleQuantityNonNegative)

	_, err = env.Engine.QuickEntry(env.Ctx, engine.QuickEntryOptions{
		ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionPistes, Years: []int{2025}, Quantity: math.NaN(), Actor: admin,
	})
	requireRule(t, err, domain.RuleQuickEntry)
	_, err = env.Engine.QuickEntry(env.Ctx, engine.QuickEntryOptions{
		ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionPistes, Years: []int{2025}, Quantity: 1, Budget: math.Inf(1), Actor: admin,
	})
	requireRule(t, err, domain.RuleBudgetNonNegative)

	_, err = env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{
		Code: "INF", Title: "unbounded", YearStart: 2024, YearEnd: 2024, TotalBudget: math.Inf(1), Actor: admin,
	})
	requireRule(t, err, "finite")

	lines, err := env.Engine.ListLines(env.Ctx, p.ID, nil)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 5.0, lines[0].Quantity)
}

func TestEditingSourceKeepsDerivedLinesJustified(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	conc := env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionReboisement, Year: 2024, Quantity: 100, Budget: 500000})
	res, err := env.Engine.GenerateLayerFromSource(env.Ctx, engine.GenerateOptions{
		ProgramID: p.ID, Source: domain.LayerConcerted, Target: domain.LayerContracted, Actor: admin,
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	cp := res.Created[0]

	qty := 150.0
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, conc.ID, engine.LinePatch{Quantity: &qty, Actor: admin})
	requireRule(t, err, domain.RuleDeviationJustified)
	assert.Contains(t, err.Error(), cp.ID)

	got, err := env.Repo.GetActionLine(env.Ctx, p.ID, conc.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Quantity, "rejected edit must not be written")

	// Amount-free edits of the source are unaffected.
	notes := "parcelle sud"
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, conc.ID, engine.LinePatch{Notes: &notes, Actor: admin})
	require.NoError(t, err)

	why := "CP maintenu malgré la révision du Concerté"
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, cp.ID, engine.LinePatch{DeviationJustification: &why, Actor: admin})
	require.NoError(t, err)
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, conc.ID, engine.LinePatch{Quantity: &qty, Actor: admin})
	require.NoError(t, err)

	exec := env.add(t, engine.LineAddOptions{
		ProgramID: p.ID, Layer: domain.LayerExecuted, ActionKey: domain.ActionReboisement, Year: 2024,
		Quantity: 100, Budget: 500000, Lineage: cp.ID, ProofRefs: []string{proofPhoto},
	})
	budget := 480000.0
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, cp.ID, engine.LinePatch{Budget: &budget, DeviationJustification: &why, Actor: admin})
	requireRule(t, err, domain.RuleDeviationJustified)
	assert.Contains(t, err.Error(), exec.ID)
}

// Scenario D and the monotonic lock.
func TestLockCascadesToConcertedLines(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	conc := env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionCMD, Year: 2025, Quantity: 30, Budget: 90000})
	cp := env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerContracted, ActionKey: domain.ActionCMD, Year: 2025, Quantity: 30, Budget: 90000})

	p = env.advance(t, p.ID, admin, domain.StatusConcerteADP, domain.StatusValideDPANEF, domain.StatusValideCentral)
	assert.False(t, p.Locked)
	p = env.advance(t, p.ID, admin, domain.StatusVerrouille)
	assert.True(t, p.Locked)

	got, err := env.Repo.GetActionLine(env.Ctx, p.ID, conc.ID)
	require.NoError(t, err)
	assert.True(t, got.Locked)

	qty := 31.0
	var locked *domain.LockedError
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, conc.ID, engine.LinePatch{Quantity: &qty, Actor: admin})
	require.ErrorAs(t, err, &locked)
	require.ErrorAs(t, env.Engine.DeleteLine(env.Ctx, p.ID, conc.ID, admin), &locked)
	_, err = env.Engine.AddLine(env.Ctx, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionCMD, Year: 2026, Quantity: 1, Actor: admin})
	require.ErrorAs(t, err, &locked)
	title := "renamed"
	_, err = env.Engine.UpdateProgram(env.Ctx, p.ID, engine.ProgramPatch{Title: &title, Actor: admin})
	require.ErrorAs(t, err, &locked)

	// Contracted lines stay editable.
	why := "avenant"
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, cp.ID, engine.LinePatch{Quantity: &qty, DeviationJustification: &why, Actor: admin})
	require.NoError(t, err)

	_, err = env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProgramID: p.ID, Target: domain.StatusValideCentral, Actor: admin})
	requireRule(t, err, domain.RuleTransition)
}

// Scenario E.
func TestUnlockRequiresJustification(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	conc := env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionReboisement, Year: 2024, Quantity: 100, Budget: 500000})
	env.advance(t, p.ID, admin, domain.StatusConcerteADP, domain.StatusValideDPANEF, domain.StatusValideCentral, domain.StatusVerrouille)

	_, err := env.Engine.Unlock(env.Ctx, engine.UnlockOptions{ProgramID: p.ID, Justification: "  ", Actor: admin})
	requireRule(t, err, domain.RuleJustificationRequired)

	var forbidden *domain.ForbiddenError
	_, err = env.Engine.Unlock(env.Ctx, engine.UnlockOptions{ProgramID: p.ID, Justification: "x", Actor: dpanef})
	require.ErrorAs(t, err, &forbidden)

	p, err = env.Engine.Unlock(env.Ctx, engine.UnlockOptions{ProgramID: p.ID, Justification: "Erreur de saisie corrigée", Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValideCentral, p.ValidationStatus)
	assert.False(t, p.Locked)
	assert.Equal(t, "Erreur de saisie corrigée", p.UnlockJustification)
	assert.Equal(t, admin.ID, p.UnlockedBy)

	got, err := env.Repo.GetActionLine(env.Ctx, p.ID, conc.ID)
	require.NoError(t, err)
	assert.False(t, got.Locked)

	hist, err := env.Engine.History(env.Ctx, p.ID)
	require.NoError(t, err)
	last := hist[len(hist)-1]
	assert.Equal(t, domain.ActionUnlocked, last.Action)
	assert.Equal(t, domain.StatusVerrouille, last.FromStatus)
	assert.Equal(t, domain.StatusValideCentral, last.ToStatus)
	assert.Equal(t, "Erreur de saisie corrigée", last.Note)

	qty := 90.0
	why := "correction"
	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, conc.ID, engine.LinePatch{Quantity: &qty, DeviationJustification: &why, Actor: admin})
	require.NoError(t, err)
}

func TestTransitionRejectsStaleExpected(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	env.advance(t, p.ID, adp, domain.StatusConcerteADP)

	_, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{
		ProgramID: p.ID, Expected: domain.StatusBrouillon, Target: domain.StatusConcerteADP, Actor: adp,
	})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.StatusConcerteADP, conflict.Actual)

	hist, err := env.Engine.History(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestRolesGateTransitions(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)

	var forbidden *domain.ForbiddenError
	_, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProgramID: p.ID, Target: domain.StatusConcerteADP, Actor: dpanef})
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, domain.ScopeProvincial, forbidden.Role)

	_, err = env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProgramID: p.ID, Target: domain.StatusConcerteADP,
		Actor: domain.Actor{ID: "anon"}})
	require.ErrorAs(t, err, &forbidden)

	env.advance(t, p.ID, adp, domain.StatusConcerteADP)
	p = env.advance(t, p.ID, dpanef, domain.StatusValideDPANEF)
	assert.Equal(t, domain.StatusValideDPANEF, p.ValidationStatus)

	env.Engine.Policy.Enforce = false
	env.advance(t, p.ID, domain.Actor{ID: "anon"}, domain.StatusValideCentral)
}

func TestSkipFollowsWorkflowOption(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	env.Engine.Workflow.AllowSkip = false
	_, err := env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProgramID: p.ID, Target: domain.StatusValideCentral, Actor: admin})
	requireRule(t, err, domain.RuleTransition)

	env.Engine.Workflow.AllowSkip = true
	p = env.advance(t, p.ID, admin, domain.StatusValideCentral)
	assert.Equal(t, domain.StatusValideCentral, p.ValidationStatus)
}

func TestCancelValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)

	_, err := env.Engine.CancelValidation(env.Ctx, engine.CancelOptions{ProgramID: p.ID, Reason: "x", Actor: admin})
	requireRule(t, err, domain.RuleTransition)

	env.advance(t, p.ID, admin, domain.StatusConcerteADP, domain.StatusValideDPANEF)
	_, err = env.Engine.CancelValidation(env.Ctx, engine.CancelOptions{ProgramID: p.ID, Actor: dpanef})
	requireRule(t, err, domain.RuleReasonRequired)

	var forbidden *domain.ForbiddenError
	_, err = env.Engine.CancelValidation(env.Ctx, engine.CancelOptions{ProgramID: p.ID, Reason: "doublon", Actor: adp})
	require.ErrorAs(t, err, &forbidden)

	p, err = env.Engine.CancelValidation(env.Ctx, engine.CancelOptions{ProgramID: p.ID, Reason: "Données ADP incomplètes", Actor: dpanef})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBrouillon, p.ValidationStatus)
	assert.Equal(t, "Données ADP incomplètes", p.CancellationReason)

	hist, err := env.Engine.History(env.Ctx, p.ID)
	require.NoError(t, err)
	last := hist[len(hist)-1]
	assert.Equal(t, domain.CancellationAction(domain.StatusValideDPANEF), last.Action)
	assert.Equal(t, "Annulation motivée: Données ADP incomplètes", last.Note)

	env.advance(t, p.ID, admin, domain.StatusVerrouille)
	_, err = env.Engine.CancelValidation(env.Ctx, engine.CancelOptions{ProgramID: p.ID, Reason: "trop tard", Actor: admin})
	requireRule(t, err, domain.RuleTransition)
}

func TestQuickEntry(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)

	lines, err := env.Engine.QuickEntry(env.Ctx, engine.QuickEntryOptions{
		ProgramID: p.ID, Layer: domain.LayerConcerted, PerimetreID: "P1", ActionKey: domain.ActionApiculture,
		Years: []int{2026, 2024, 2026}, Quantity: 20, Budget: 40000, Actor: admin,
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 2024, lines[0].Year)
	assert.Equal(t, 2026, lines[1].Year)
	assert.Equal(t, "ruches", lines[0].Unit)

	_, err = env.Engine.QuickEntry(env.Ctx, engine.QuickEntryOptions{
		ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionApiculture, Years: []int{2025}, Actor: admin,
	})
	requireRule(t, err, domain.RuleQuickEntry)

	_, err = env.Engine.QuickEntry(env.Ctx, engine.QuickEntryOptions{
		ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionApiculture, Quantity: 1, Actor: admin,
	})
	requireRule(t, err, domain.RuleQuickEntry)

	_, err = env.Engine.QuickEntry(env.Ctx, engine.QuickEntryOptions{
		ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionApiculture,
		Years: []int{2025, 2031}, Quantity: 1, Actor: admin,
	})
	requireRule(t, err, domain.RuleYearRange)

	all, err := env.Engine.ListLines(env.Ctx, p.ID, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2, "a rejected quick entry writes nothing")
}

// Scenarios B and C through the read model.
func TestReconcileRatesAndHealth(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerContracted, ActionKey: domain.ActionReboisement, Year: 2024, Quantity: 100, Budget: 500000})
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerExecuted, ActionKey: domain.ActionReboisement, Year: 2024,
		Quantity: 95, Budget: 475000, ProofRefs: []string{proofPhoto}, ExecutionStatus: domain.ExecDone})
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerContracted, ActionKey: domain.ActionSensibilisation, Year: 2025})
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerExecuted, ActionKey: domain.ActionSensibilisation, Year: 2025})

	rec, err := env.Engine.Reconcile(env.Ctx, p.ID, engine.ReconcileFilter{})
	require.NoError(t, err)
	require.Len(t, rec.Result.Rows, 2)

	reb := rec.Result.Rows[0]
	require.NotNil(t, reb.Metrics.ExecRate)
	assert.Equal(t, 95, *reb.Metrics.ExecRate)
	assert.Equal(t, compare.HealthConforme, reb.Metrics.Health)

	sens := rec.Result.Rows[1]
	assert.Nil(t, sens.Metrics.ExecRate)
	assert.Equal(t, compare.HealthNonClasse, sens.Metrics.Health)
}

func TestReconcileRoundTripAndFilters(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	var raw compare.Chain
	seed := []engine.LineAddOptions{
		{Layer: domain.LayerConcerted, ActionKey: domain.ActionReboisement, Year: 2024, PerimetreID: "P1", Quantity: 60, Budget: 300000},
		{Layer: domain.LayerConcerted, ActionKey: domain.ActionReboisement, Year: 2024, PerimetreID: "P2", CommuneID: "C2", Quantity: 40, Budget: 200000},
		{Layer: domain.LayerConcerted, ActionKey: domain.ActionPistes, Year: 2025, Quantity: 8, Budget: 640000},
		{Layer: domain.LayerContracted, ActionKey: domain.ActionReboisement, Year: 2024, PerimetreID: "P1", Quantity: 60, Budget: 310000},
		{Layer: domain.LayerExecuted, ActionKey: domain.ActionReboisement, Year: 2024, PerimetreID: "P1", Quantity: 45, Budget: 200000, ProofRefs: []string{proofPhoto}},
	}
	for _, o := range seed {
		o.ProgramID = p.ID
		l := env.add(t, o)
		s := compare.Sum{Quantity: l.Quantity, Budget: l.Budget, Lines: 1}
		switch l.Layer {
		case domain.LayerConcerted:
			raw.Concerted = raw.Concerted.Add(s)
		case domain.LayerContracted:
			raw.Contracted = raw.Contracted.Add(s)
		case domain.LayerExecuted:
			raw.Executed = raw.Executed.Add(s)
		}
	}

	for _, g := range []aggregate.Grouping{aggregate.ByActionYear, aggregate.ByLocation} {
		rec, err := env.Engine.Reconcile(env.Ctx, p.ID, engine.ReconcileFilter{Grouping: g})
		require.NoError(t, err)
		var sum compare.Chain
		for _, r := range rec.Result.Rows {
			sum = sum.Add(r.Layers)
		}
		assert.Equal(t, raw, sum, "grouping %s", g)
		assert.Equal(t, raw, rec.Result.GrandTotal.Layers, "grouping %s", g)
	}

	rec, err := env.Engine.Reconcile(env.Ctx, p.ID, engine.ReconcileFilter{YearFrom: 2025})
	require.NoError(t, err)
	require.Len(t, rec.Result.Rows, 1)
	assert.Equal(t, domain.ActionPistes, rec.Result.Rows[0].ActionKey)

	rec, err = env.Engine.Reconcile(env.Ctx, p.ID, engine.ReconcileFilter{ActionKey: domain.ActionReboisement, Grouping: aggregate.ByLocation})
	require.NoError(t, err)
	require.Len(t, rec.Result.Rows, 2)
	assert.Equal(t, "C1", rec.Result.Rows[0].CommuneID, "lines without a commune use the program's")

	_, err = env.Engine.Reconcile(env.Ctx, p.ID, engine.ReconcileFilter{YearFrom: 2026, YearTo: 2024})
	requireRule(t, err, domain.RuleYearRange)
}

func TestReconcileLinksOpenAlerts(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionReboisement, Year: 2024, Quantity: 10, Budget: 1000})
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionPistes, Year: 2024, Quantity: 2, Budget: 1000})

	y := 2024
	for _, a := range []domain.Alert{
		{ID: "al-1", CommuneID: "C1", ActionType: domain.ActionReboisement, Year: &y, Status: domain.AlertOpen, Title: "Pâturage illicite"},
		{ID: "al-2", CommuneID: "C1", ActionType: domain.ActionReboisement, Status: domain.AlertResolved},
		{ID: "al-3", CommuneID: "C9", Status: domain.AlertOpen},
	} {
		a.CreatedAt = "2025-02-01T00:00:00Z"
		require.NoError(t, env.Repo.InsertAlert(env.Ctx, a))
	}

	rec, err := env.Engine.Reconcile(env.Ctx, p.ID, engine.ReconcileFilter{})
	require.NoError(t, err)
	require.Len(t, rec.Result.Rows, 2)
	assert.False(t, rec.Result.Rows[0].HasAlert, "Pistes")
	assert.True(t, rec.Result.Rows[1].HasAlert, "Reboisement")
	assert.Equal(t, []string{"al-1"}, rec.Result.Rows[1].AlertIDs)
	assert.True(t, rec.Result.GrandTotal.HasAlert)
}

// recordingAlerts remembers the filters the engine asks for.
type recordingAlerts struct {
	repo.Repo
	mu      sync.Mutex
	filters []alerts.Filter
}

func (r *recordingAlerts) ListOpenAlerts(ctx context.Context, f alerts.Filter) ([]domain.Alert, error) {
	r.mu.Lock()
	r.filters = append(r.filters, f)
	r.mu.Unlock()
	return r.Repo.ListOpenAlerts(ctx, f)
}

func insertAlerts(t *testing.T, env testEnv, list ...domain.Alert) {
	t.Helper()
	for _, a := range list {
		a.Status = domain.AlertOpen
		a.CreatedAt = "2025-02-01T00:00:00Z"
		require.NoError(t, env.Repo.InsertAlert(env.Ctx, a))
	}
}

func TestReconcileScopesAlertsToProgramCommunes(t *testing.T) {
	env := newTestEnv(t)
	rec := &recordingAlerts{Repo: env.Repo}
	eng, err := engine.New(env.Repo, rec, nil)
	require.NoError(t, err)
	eng.Now = env.Engine.Now
	env.Engine = eng

	p := env.program(t)
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionReboisement, Year: 2024, Quantity: 10, Budget: 1000})
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, CommuneID: "C2", ActionKey: domain.ActionReboisement, Year: 2025, Quantity: 10, Budget: 1000})
	insertAlerts(t, env,
		domain.Alert{ID: "al-c1", CommuneID: "C1"},
		domain.Alert{ID: "al-c2", CommuneID: "C2", ActionType: domain.ActionReboisement},
		domain.Alert{ID: "al-c9", CommuneID: "C9"},
		domain.Alert{ID: "al-any", Kind: "incendie"},
	)

	out, err := env.Engine.Reconcile(env.Ctx, p.ID, engine.ReconcileFilter{})
	require.NoError(t, err)
	require.Equal(t, []alerts.Filter{
		{CommuneIDs: []string{"C1"}, YearFrom: 2024, YearTo: 2026},
		{CommuneIDs: []string{"C2"}, YearFrom: 2024, YearTo: 2026},
	}, rec.filters)

	require.Len(t, out.Result.Rows, 2)
	assert.ElementsMatch(t, []string{"al-c1", "al-any"}, out.Result.Rows[0].AlertIDs)
	assert.ElementsMatch(t, []string{"al-c2", "al-any"}, out.Result.Rows[1].AlertIDs)

	// Lines on the program commune only need the one concurrent read.
	rec.filters = nil
	_, err = env.Engine.Reconcile(env.Ctx, p.ID, engine.ReconcileFilter{YearTo: 2024})
	require.NoError(t, err)
	assert.Equal(t, []alerts.Filter{{CommuneIDs: []string{"C1"}, YearFrom: 2024, YearTo: 2024}}, rec.filters)
}

func TestCommunelessAlertAppliesToEveryProgram(t *testing.T) {
	env := newTestEnv(t)
	first := env.program(t)
	second, err := env.Engine.CreateProgram(env.Ctx, engine.ProgramCreateOptions{
		Code: "PDFCP-AZR-02", Title: "PDFCP Azrou", YearStart: 2024, YearEnd: 2026, CommuneID: "C2", Actor: admin,
	})
	require.NoError(t, err)
	for _, p := range []domain.Program{first, second} {
		env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionReboisement, Year: 2024, Quantity: 10, Budget: 1000})
	}
	y := 2024
	insertAlerts(t, env,
		domain.Alert{ID: "al-wide", ActionType: domain.ActionReboisement, Year: &y},
		domain.Alert{ID: "al-c1", CommuneID: "C1"},
	)

	want := map[string][]string{first.ID: {"al-wide", "al-c1"}, second.ID: {"al-wide"}}
	for id, ids := range want {
		out, err := env.Engine.Reconcile(env.Ctx, id, engine.ReconcileFilter{})
		require.NoError(t, err)
		require.Len(t, out.Result.Rows, 1)
		assert.ElementsMatch(t, ids, out.Result.Rows[0].AlertIDs, id)
	}
}

func TestArchivedProgramIsReadOnly(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	l := env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerContracted, ActionKey: domain.ActionPistes, Year: 2024, Quantity: 3, Budget: 10})

	p, err := env.Engine.ArchiveProgram(env.Ctx, p.ID, admin)
	require.NoError(t, err)
	assert.True(t, p.Archived)

	var locked *domain.LockedError
	_, err = env.Engine.AddLine(env.Ctx, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerContracted, ActionKey: domain.ActionPistes, Year: 2025, Quantity: 1, Actor: admin})
	require.ErrorAs(t, err, &locked)
	require.ErrorAs(t, env.Engine.DeleteLine(env.Ctx, p.ID, l.ID, admin), &locked)
	_, err = env.Engine.TransitionStatus(env.Ctx, engine.TransitionOptions{ProgramID: p.ID, Target: domain.StatusConcerteADP, Actor: admin})
	require.ErrorAs(t, err, &locked)

	_, err = env.Engine.Reconcile(env.Ctx, p.ID, engine.ReconcileFilter{})
	require.NoError(t, err)
}

func TestUpdateProgramKeepsLinesInRange(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionPistes, Year: 2026, Quantity: 3})

	end := 2025
	_, err := env.Engine.UpdateProgram(env.Ctx, p.ID, engine.ProgramPatch{YearEnd: &end, Actor: admin})
	requireRule(t, err, domain.RuleYearRange)

	end = 2028
	title := "PDFCP Tizguite II"
	p, err = env.Engine.UpdateProgram(env.Ctx, p.ID, engine.ProgramPatch{YearEnd: &end, Title: &title, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, 2028, p.YearEnd)
	assert.Equal(t, title, p.Title)
}

func TestLineEventsRecordChanges(t *testing.T) {
	env := newTestEnv(t)
	p := env.program(t)
	l := env.add(t, engine.LineAddOptions{ProgramID: p.ID, Layer: domain.LayerConcerted, ActionKey: domain.ActionPFNL, Year: 2024, Quantity: 100, Budget: 5000})
	qty := 120.0
	_, err := env.Engine.UpdateLine(env.Ctx, p.ID, l.ID, engine.LinePatch{Quantity: &qty, Actor: adp})
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteLine(env.Ctx, p.ID, l.ID, admin))

	evts, err := env.Engine.LineEvents(env.Ctx, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, events.LineDeleted, evts[0].Type)
	assert.Equal(t, events.LineUpdated, evts[1].Type)
	assert.Equal(t, adp.ID, evts[1].ActorID)
	changes, ok := evts[1].Payload["changes"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, changes, "quantity")
	assert.NotContains(t, changes, "budget")
	assert.Equal(t, events.LineCreated, evts[2].Type)

	_, err = env.Engine.UpdateLine(env.Ctx, p.ID, l.ID, engine.LinePatch{Quantity: &qty, Actor: admin})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
