package engine

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"pdfcp/internal/dimension"
	"pdfcp/internal/domain"
	"pdfcp/internal/events"
)

// GenerateOptions are parameters for copying one layer into the next.
type GenerateOptions struct {
	ProgramID string       `json:"-"`
	Source    domain.Layer `json:"source" validate:"required"`
	Target    domain.Layer `json:"target" validate:"required"`
	Actor     domain.Actor `json:"-"`
}

// SkippedSource is a source line that could not be copied as a valid
// target line.
type SkippedSource struct {
	SourceID string `json:"source_id"`
	Rule     string `json:"rule"`
	Message  string `json:"message,omitempty"`
}

type GenerateResult struct {
	Created []domain.ActionLine `json:"created"`
	Skipped []SkippedSource     `json:"skipped,omitempty"`
}

// GenerateLayerFromSource creates a target line for every source line that
// no target line resolves to yet, with lineage set to the source. Running it
// again creates nothing.
func (e Engine) GenerateLayerFromSource(ctx context.Context, opts GenerateOptions) (res GenerateResult, err error) {
	defer func() {
		err = e.done("line.generate", err, zap.String("program_id", opts.ProgramID),
			zap.String("source", string(opts.Source)), zap.String("target", string(opts.Target)))
	}()
	if err := requireActor(opts.Actor); err != nil {
		return res, err
	}
	if err := checkStruct(opts); err != nil {
		return res, err
	}
	if prev, ok := opts.Target.Previous(); !ok || prev != opts.Source {
		return res, domain.NewValidationError(domain.RuleGeneratePair, "target",
			"cannot generate %s from %s; only CONCERTED→CONTRACTED and CONTRACTED→EXECUTED", opts.Target, opts.Source)
	}
	p, err := e.loadProgram(ctx, opts.ProgramID)
	if err != nil {
		return res, err
	}
	sources, err := e.Store.ListActionLines(ctx, p.ID, &opts.Source)
	if err != nil {
		return res, storeErr("list source lines", err)
	}
	targets, err := e.Store.ListActionLines(ctx, p.ID, &opts.Target)
	if err != nil {
		return res, storeErr("list target lines", err)
	}
	covered := dimension.Covered(targets, dimension.NewIndex(sources))

	var (
		fresh []domain.ActionLine
		evts  []domain.LineEvent
	)
	for _, src := range dimension.InsertionOrder(sources) {
		if covered[src.ID] {
			continue
		}
		l := e.newLine(LineAddOptions{
			ProgramID:   p.ID,
			Layer:       opts.Target,
			CommuneID:   src.CommuneID,
			PerimetreID: src.PerimetreID,
			SiteID:      src.SiteID,
			ActionKey:   src.ActionKey,
			ActionLabel: src.ActionLabel,
			Year:        src.Year,
			Unit:        src.Unit,
			Quantity:    src.Quantity,
			Budget:      src.Budget,
			Lineage:     src.ID,
			Notes:       src.Notes,
			Actor:       opts.Actor,
		})
		if err := e.lineRules(l, p); err != nil {
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				return res, err
			}
			res.Skipped = append(res.Skipped, SkippedSource{SourceID: src.ID, Rule: verr.Rule, Message: verr.Message})
			continue
		}
		fresh = append(fresh, l)
		evts = append(evts, events.Created(l, opts.Actor.ID, l.CreatedAt))
	}
	if len(fresh) == 0 {
		return res, nil
	}
	res.Created, err = e.Store.InsertActionLines(ctx, fresh, evts)
	if err != nil {
		return GenerateResult{}, storeErr("insert generated lines", err)
	}
	e.log().Info("layer generated", zap.String("program_id", p.ID), zap.String("target", string(opts.Target)),
		zap.Int("created", len(res.Created)), zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

// QuickEntryOptions describe one action repeated over several years.
type QuickEntryOptions struct {
	ProgramID   string           `json:"-"`
	Layer       domain.Layer     `json:"layer" validate:"required"`
	CommuneID   string           `json:"commune_id,omitempty"`
	PerimetreID string           `json:"perimetre_id,omitempty"`
	SiteID      string           `json:"site_id,omitempty"`
	ActionKey   domain.ActionKey `json:"action_key" validate:"required"`
	ActionLabel string           `json:"action_label,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	Years       []int            `json:"years"`
	Quantity    float64          `json:"quantity"`
	Budget      float64          `json:"budget"`
	ProofRefs   []string         `json:"proof_refs,omitempty"`
	Actor       domain.Actor     `json:"-"`
}

// QuickEntry creates one line per distinct year, all or nothing.
func (e Engine) QuickEntry(ctx context.Context, opts QuickEntryOptions) (out []domain.ActionLine, err error) {
	defer func() { err = e.done("line.quick_entry", err, zap.String("program_id", opts.ProgramID)) }()
	if err := requireActor(opts.Actor); err != nil {
		return nil, err
	}
	if err := checkStruct(opts); err != nil {
		return nil, err
	}
	if len(opts.Years) == 0 {
		return nil, domain.NewValidationError(domain.RuleQuickEntry, "years", "at least one year is required")
	}
	if !finite(opts.Quantity) || opts.Quantity <= 0 {
		return nil, domain.NewValidationError(domain.RuleQuickEntry, "quantity", "quantity must be a finite number > 0 (got %v)", opts.Quantity)
	}
	if !finite(opts.Budget) || opts.Budget < 0 {
		return nil, domain.NewValidationError(domain.RuleBudgetNonNegative, "budget", "budget must be a finite number >= 0 (got %v)", opts.Budget)
	}
	p, err := e.loadProgram(ctx, opts.ProgramID)
	if err != nil {
		return nil, err
	}
	years := slices.Clone(opts.Years)
	slices.Sort(years)
	years = slices.Compact(years)

	lines := make([]domain.ActionLine, 0, len(years))
	evts := make([]domain.LineEvent, 0, len(years))
	for _, y := range years {
		l := e.newLine(LineAddOptions{
			ProgramID:   p.ID,
			Layer:       opts.Layer,
			CommuneID:   opts.CommuneID,
			PerimetreID: opts.PerimetreID,
			SiteID:      opts.SiteID,
			ActionKey:   opts.ActionKey,
			ActionLabel: opts.ActionLabel,
			Year:        y,
			Unit:        opts.Unit,
			Quantity:    opts.Quantity,
			Budget:      opts.Budget,
			ProofRefs:   opts.ProofRefs,
			Actor:       opts.Actor,
		})
		if err := e.checkNewLine(ctx, l, p); err != nil {
			return nil, err
		}
		lines = append(lines, l)
		evts = append(evts, events.Created(l, opts.Actor.ID, l.CreatedAt))
	}
	out, err = e.Store.InsertActionLines(ctx, lines, evts)
	if err != nil {
		return nil, storeErr("insert action lines", err)
	}
	return out, nil
}
