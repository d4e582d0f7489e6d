package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"pdfcp/internal/domain"
)

// ProgramCreateOptions are parameters for creating a program.
type ProgramCreateOptions struct {
	ID          string       `json:"id,omitempty"`
	Code        string       `json:"code" validate:"required"`
	Title       string       `json:"title" validate:"required"`
	YearStart   int          `json:"year_start" validate:"required,gte=1990,lte=2100"`
	YearEnd     int          `json:"year_end" validate:"required,gtefield=YearStart,lte=2100"`
	CommuneID   string       `json:"commune_id,omitempty"`
	ProvinceID  string       `json:"province_id,omitempty"`
	RegionID    string       `json:"region_id,omitempty"`
	TotalBudget float64      `json:"total_budget" validate:"finite,gte=0"`
	Actor       domain.Actor `json:"-"`
}

func (e Engine) CreateProgram(ctx context.Context, opts ProgramCreateOptions) (p domain.Program, err error) {
	defer func() { err = e.done("program.create", err, zap.String("code", opts.Code)) }()
	if err := requireActor(opts.Actor); err != nil {
		return p, err
	}
	opts.Code = strings.TrimSpace(opts.Code)
	opts.Title = strings.TrimSpace(opts.Title)
	if err := checkStruct(opts); err != nil {
		return p, err
	}
	if opts.ID == "" {
		opts.ID = e.newID()
	}
	now := e.now()
	p = domain.Program{
		ID:               opts.ID,
		Code:             opts.Code,
		Title:            opts.Title,
		YearStart:        opts.YearStart,
		YearEnd:          opts.YearEnd,
		CommuneID:        opts.CommuneID,
		ProvinceID:       opts.ProvinceID,
		RegionID:         opts.RegionID,
		TotalBudget:      opts.TotalBudget,
		ValidationStatus: domain.StatusBrouillon,
		CreatedBy:        opts.Actor.ID,
		CreatedAt:        now,
		UpdatedBy:        opts.Actor.ID,
		UpdatedAt:        now,
	}
	created := domain.ValidationHistoryEntry{
		ID:        e.newID(),
		ProgramID: p.ID,
		Action:    domain.ActionCreated,
		ToStatus:  domain.StatusBrouillon,
		ActorID:   opts.Actor.ID,
		ActorName: opts.Actor.Name,
		ActorRole: opts.Actor.Role,
		CreatedAt: now,
	}
	if err := e.Store.InsertProgram(ctx, p, created); err != nil {
		return domain.Program{}, storeErr("insert program", err)
	}
	e.log().Info("program created", zap.String("program_id", p.ID), zap.String("code", p.Code))
	return p, nil
}

// GetProgram resolves a program by id, then by code.
func (e Engine) GetProgram(ctx context.Context, ref string) (domain.Program, error) {
	p, err := e.Store.GetProgram(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		p, err = e.Store.GetProgramByCode(ctx, ref)
	}
	return p, storeErr("get program", err)
}

func (e Engine) ListPrograms(ctx context.Context, f domain.ProgramFilter) ([]domain.Program, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.NewValidationError(domain.RuleTransition, "status", "unknown status %q", f.Status)
	}
	ps, err := e.Store.ListPrograms(ctx, f)
	return ps, storeErr("list programs", err)
}

// ProgramPatch updates program metadata. Nil fields are left unchanged.
type ProgramPatch struct {
	Code        *string      `json:"code,omitempty"`
	Title       *string      `json:"title,omitempty"`
	YearStart   *int         `json:"year_start,omitempty"`
	YearEnd     *int         `json:"year_end,omitempty"`
	CommuneID   *string      `json:"commune_id,omitempty"`
	ProvinceID  *string      `json:"province_id,omitempty"`
	RegionID    *string      `json:"region_id,omitempty"`
	TotalBudget *float64     `json:"total_budget,omitempty"`
	Actor       domain.Actor `json:"-"`
}

// UpdateProgram edits metadata of an unlocked program. The year range may
// not shrink below the years already used by its lines.
func (e Engine) UpdateProgram(ctx context.Context, id string, patch ProgramPatch) (p domain.Program, err error) {
	defer func() { err = e.done("program.update", err, zap.String("program_id", id)) }()
	if err := requireActor(patch.Actor); err != nil {
		return p, err
	}
	p, err = e.loadProgram(ctx, id)
	if err != nil {
		return p, err
	}
	if p.Locked {
		return p, &domain.LockedError{Subject: "program", ID: p.ID, Reason: "validation is locked"}
	}
	set(&p.Code, patch.Code)
	set(&p.Title, patch.Title)
	set(&p.YearStart, patch.YearStart)
	set(&p.YearEnd, patch.YearEnd)
	set(&p.CommuneID, patch.CommuneID)
	set(&p.ProvinceID, patch.ProvinceID)
	set(&p.RegionID, patch.RegionID)
	set(&p.TotalBudget, patch.TotalBudget)
	if err := checkStruct(ProgramCreateOptions{
		Code: p.Code, Title: p.Title, YearStart: p.YearStart, YearEnd: p.YearEnd, TotalBudget: p.TotalBudget,
	}); err != nil {
		return p, err
	}
	if patch.YearStart != nil || patch.YearEnd != nil {
		lines, err := e.Store.ListActionLines(ctx, p.ID, nil)
		if err != nil {
			return p, storeErr("list action lines", err)
		}
		for _, l := range lines {
			if !p.CoversYear(l.Year) {
				return p, domain.NewValidationError(domain.RuleYearRange, "year_start",
					"line %s uses year %d outside %d-%d", l.ID, l.Year, p.YearStart, p.YearEnd)
			}
		}
	}
	p.UpdatedBy = patch.Actor.ID
	p.UpdatedAt = e.now()
	if err := e.Store.UpdateProgram(ctx, p); err != nil {
		return p, storeErr("update program", err)
	}
	return p, nil
}

// ArchiveProgram moves a program to its archived soft state.
func (e Engine) ArchiveProgram(ctx context.Context, id string, actor domain.Actor) (p domain.Program, err error) {
	defer func() { err = e.done("program.archive", err, zap.String("program_id", id)) }()
	if err := requireActor(actor); err != nil {
		return p, err
	}
	p, err = e.loadProgram(ctx, id)
	if err != nil {
		return p, err
	}
	entry := domain.ValidationHistoryEntry{
		ID:         e.newID(),
		ProgramID:  p.ID,
		Action:     domain.ActionArchived,
		FromStatus: p.ValidationStatus,
		ToStatus:   p.ValidationStatus,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		ActorRole:  actor.Role,
		CreatedAt:  e.now(),
	}
	if err := e.Store.ArchiveProgram(ctx, p.ID, entry); err != nil {
		return p, storeErr("archive program", err)
	}
	p.Archived = true
	p.UpdatedBy = actor.ID
	p.UpdatedAt = entry.CreatedAt
	e.log().Info("program archived", zap.String("program_id", p.ID))
	return p, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
