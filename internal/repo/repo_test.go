package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfcp/internal/alerts"
	"pdfcp/internal/db"
	"pdfcp/internal/domain"
	"pdfcp/internal/events"
	"pdfcp/internal/migrate"
)

const ts = "2025-03-01T10:00:00Z"

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return Repo{DB: conn}
}

func seedProgram(t *testing.T, r Repo, id string) domain.Program {
	t.Helper()
	p := domain.Program{
		ID: id, Code: "PDFCP-" + id, Title: "Programme " + id, YearStart: 2024, YearEnd: 2026,
		CommuneID: "C1", ValidationStatus: domain.StatusBrouillon,
		CreatedBy: "admin", CreatedAt: ts, UpdatedAt: ts,
	}
	created := domain.ValidationHistoryEntry{
		ID: id + "-h0", ProgramID: id, Action: domain.ActionCreated, ToStatus: domain.StatusBrouillon,
		ActorID: "admin", CreatedAt: ts,
	}
	require.NoError(t, r.InsertProgram(context.Background(), p, created))
	return p
}

func line(id, programID string, layer domain.Layer, qty, budget float64) domain.ActionLine {
	return domain.ActionLine{
		ID: id, ProgramID: programID,
		Dimension: domain.Dimension{ActionKey: domain.ActionReboisement, Year: 2024, PerimetreID: "P1"},
		Layer:     layer, Unit: "ha", Quantity: qty, Budget: budget,
		CreatedBy: "admin", CreatedAt: ts, UpdatedAt: ts,
	}
}

func TestInsertProgramRejectsDuplicateCode(t *testing.T) {
	r := newTestRepo(t)
	seedProgram(t, r, "p1")

	p := domain.Program{ID: "p2", Code: "PDFCP-p1", Title: "dup", YearStart: 2024, YearEnd: 2024,
		ValidationStatus: domain.StatusBrouillon, CreatedBy: "admin", CreatedAt: ts, UpdatedAt: ts}
	err := r.InsertProgram(context.Background(), p, domain.ValidationHistoryEntry{ID: "h", ProgramID: "p2",
		Action: domain.ActionCreated, ToStatus: domain.StatusBrouillon, ActorID: "admin", CreatedAt: ts})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "code", verr.Field)
}

func TestInsertLinesAssignsSequenceAndEvents(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	seedProgram(t, r, "p1")

	a := line("l1", "p1", domain.LayerConcerted, 10, 1000)
	b := line("l2", "p1", domain.LayerConcerted, 5, 500)
	out, err := r.InsertActionLines(ctx, []domain.ActionLine{a, b},
		[]domain.LineEvent{events.Created(a, "admin", ts), events.Created(b, "admin", ts)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Less(t, out[0].Seq, out[1].Seq)

	got, err := r.GetActionLine(ctx, "p1", "l1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.Quantity)
	assert.Equal(t, "P1", got.PerimetreID)

	evts, err := r.ListLineEvents(ctx, "p1", 0)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, events.LineCreated, evts[0].Type)
	assert.Equal(t, "l2", evts[0].LineID)
}

func TestStatusChangeLocksConcertedLines(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	seedProgram(t, r, "p1")
	_, err := r.InsertActionLines(ctx, []domain.ActionLine{
		line("c1", "p1", domain.LayerConcerted, 10, 1000),
		line("k1", "p1", domain.LayerContracted, 10, 900),
	}, nil)
	require.NoError(t, err)

	sc := domain.StatusChange{
		ProgramID: "p1", Expected: domain.StatusBrouillon, Target: domain.StatusVerrouille, Locked: true,
		Entry: domain.ValidationHistoryEntry{ID: "h1", ProgramID: "p1", Action: domain.StatusChangeAction(domain.StatusVerrouille),
			FromStatus: domain.StatusBrouillon, ToStatus: domain.StatusVerrouille, ActorID: "admin", CreatedAt: ts},
	}
	require.NoError(t, r.ApplyStatusChange(ctx, sc))

	c1, err := r.GetActionLine(ctx, "p1", "c1")
	require.NoError(t, err)
	assert.True(t, c1.Locked)
	k1, err := r.GetActionLine(ctx, "p1", "k1")
	require.NoError(t, err)
	assert.False(t, k1.Locked)

	c1.Quantity = 99
	err = r.UpdateActionLine(ctx, c1, events.Updated(c1, c1, "admin", ts))
	var locked *domain.LockedError
	require.ErrorAs(t, err, &locked)

	err = r.DeleteActionLine(ctx, "p1", "c1", events.Deleted(c1, "admin", ts))
	require.ErrorAs(t, err, &locked)

	_, err = r.InsertActionLines(ctx, []domain.ActionLine{line("c2", "p1", domain.LayerConcerted, 1, 1)}, nil)
	require.ErrorAs(t, err, &locked)

	// CONTRACTED lines stay editable.
	k1.Budget = 950
	require.NoError(t, r.UpdateActionLine(ctx, k1, events.Updated(k1, k1, "admin", ts)))

	p, err := r.GetProgram(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.Locked)
	assert.Equal(t, domain.StatusVerrouille, p.ValidationStatus)
}

func TestStatusChangeStaleExpectedConflicts(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	seedProgram(t, r, "p1")

	sc := domain.StatusChange{
		ProgramID: "p1", Expected: domain.StatusConcerteADP, Target: domain.StatusValideDPANEF,
		Entry: domain.ValidationHistoryEntry{ID: "h1", ProgramID: "p1", ToStatus: domain.StatusValideDPANEF, ActorID: "x", CreatedAt: ts},
	}
	err := r.ApplyStatusChange(ctx, sc)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.StatusBrouillon, conflict.Actual)

	hist, err := r.ListValidationHistory(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.ActionCreated, hist[0].Action)
}

func TestArchivedProgramRefusesWrites(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	p := seedProgram(t, r, "p1")

	require.NoError(t, r.ArchiveProgram(ctx, "p1", domain.ValidationHistoryEntry{ID: "h1", ProgramID: "p1",
		Action: domain.ActionArchived, FromStatus: domain.StatusBrouillon, ToStatus: domain.StatusBrouillon, ActorID: "admin", CreatedAt: ts}))

	var locked *domain.LockedError
	_, err := r.InsertActionLines(ctx, []domain.ActionLine{line("k1", "p1", domain.LayerContracted, 1, 1)}, nil)
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "program is archived", locked.Reason)

	p.Title = "renamed"
	require.ErrorAs(t, r.UpdateProgram(ctx, p), &locked)

	listed, err := r.ListPrograms(ctx, domain.ProgramFilter{})
	require.NoError(t, err)
	assert.Empty(t, listed)
	listed, err = r.ListPrograms(ctx, domain.ProgramFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestMissingRecordsReportNotFound(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	_, err := r.GetProgram(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetActionLine(ctx, "nope", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	err = r.DeleteActionLine(ctx, "nope", "nope", domain.LineEvent{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOpenAlertsFilters(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	y2024, y2030 := 2024, 2030
	for _, a := range []domain.Alert{
		{ID: "a1", CommuneID: "C1", Year: &y2024, Status: domain.AlertOpen, CreatedAt: ts},
		{ID: "a2", CommuneID: "C1", Status: domain.AlertResolved, CreatedAt: ts},
		{ID: "a3", CommuneID: "C2", Status: domain.AlertOpen, CreatedAt: ts},
		{ID: "a4", Status: domain.AlertInProgress, CreatedAt: ts},
		{ID: "a5", CommuneID: "C1", Year: &y2030, Status: domain.AlertOpen, CreatedAt: ts},
	} {
		require.NoError(t, r.InsertAlert(ctx, a))
	}

	got, err := r.ListOpenAlerts(ctx, alerts.Filter{CommuneIDs: []string{"C1"}, YearFrom: 2024, YearTo: 2026})
	require.NoError(t, err)
	var ids []string
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "a4"}, ids)

	all, err := r.ListAlerts(ctx, alerts.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestActorByAPIKey(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	require.NoError(t, r.UpsertActor(ctx, domain.Actor{ID: "dpanef", Name: "DPANEF Ifrane", Role: domain.ScopeProvincial}, ts))
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k1", ActorID: "dpanef", KeyHash: HashAPIKey(" secret "), CreatedAt: ts}))

	a, err := r.ActorByAPIKey(ctx, HashAPIKey("secret"))
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeProvincial, a.Role)

	_, err = r.ActorByAPIKey(ctx, HashAPIKey("other"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.UpsertActor(ctx, domain.Actor{ID: "dpanef", Role: domain.ScopeRegional}, ts))
	a, err = r.GetActor(ctx, "dpanef")
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeRegional, a.Role)
}

func TestAPIKeyListingAndRevocation(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)
	require.NoError(t, r.UpsertActor(ctx, domain.Actor{ID: "adp", Role: domain.ScopeLocal}, ts))
	require.NoError(t, r.UpsertActor(ctx, domain.Actor{ID: "central", Role: domain.ScopeNational}, ts))
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k1", ActorID: "adp", KeyHash: HashAPIKey("one"), CreatedAt: "2025-01-01T00:00:00Z"}))
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k2", ActorID: "adp", KeyHash: HashAPIKey("two"), CreatedAt: "2025-02-01T00:00:00Z"}))
	require.NoError(t, r.InsertAPIKey(ctx, domain.APIKey{ID: "k3", ActorID: "central", KeyHash: HashAPIKey("three"), CreatedAt: "2025-03-01T00:00:00Z"}))

	actors, err := r.ListActors(ctx)
	require.NoError(t, err)
	require.Len(t, actors, 2)
	assert.Equal(t, "adp", actors[0].ID)

	keys, err := r.ListAPIKeys(ctx, "adp")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k2", keys[0].ID)

	all, err := r.ListAPIKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, r.DeleteAPIKey(ctx, "k1"))
	_, err = r.ActorByAPIKey(ctx, HashAPIKey("one"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.DeleteAPIKey(ctx, "k1"), ErrNotFound)

	var verr *domain.ValidationError
	assert.ErrorAs(t, r.DeleteAPIKey(ctx, " "), &verr)
}
