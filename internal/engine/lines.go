package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"pdfcp/internal/domain"
	"pdfcp/internal/events"
)

// LineAddOptions are parameters for adding an action line.
type LineAddOptions struct {
	ProgramID              string                 `json:"-"`
	ID                     string                 `json:"id,omitempty"`
	Layer                  domain.Layer           `json:"layer" validate:"required"`
	CommuneID              string                 `json:"commune_id,omitempty"`
	PerimetreID            string                 `json:"perimetre_id,omitempty"`
	SiteID                 string                 `json:"site_id,omitempty"`
	ActionKey              domain.ActionKey       `json:"action_key" validate:"required"`
	ActionLabel            string                 `json:"action_label,omitempty"`
	Year                   int                    `json:"year" validate:"required"`
	Unit                   string                 `json:"unit,omitempty"`
	Quantity               float64                `json:"quantity"`
	Budget                 float64                `json:"budget"`
	Lineage                string                 `json:"lineage,omitempty"`
	DeviationJustification string                 `json:"deviation_justification,omitempty"`
	ExecutionDate          string                 `json:"execution_date,omitempty"`
	ExecutionStatus        domain.ExecutionStatus `json:"execution_status,omitempty"`
	ProofRefs              []string               `json:"proof_refs,omitempty"`
	Notes                  string                 `json:"notes,omitempty"`
	Actor                  domain.Actor           `json:"-"`
}

func (e Engine) newLine(opts LineAddOptions) domain.ActionLine {
	now := e.now()
	l := domain.ActionLine{
		ID:        opts.ID,
		ProgramID: opts.ProgramID,
		Dimension: domain.Dimension{
			CommuneID:   opts.CommuneID,
			PerimetreID: opts.PerimetreID,
			SiteID:      opts.SiteID,
			ActionKey:   opts.ActionKey,
			Year:        opts.Year,
		},
		ActionLabel:            opts.ActionLabel,
		Layer:                  opts.Layer,
		Unit:                   strings.TrimSpace(opts.Unit),
		Quantity:               opts.Quantity,
		Budget:                 opts.Budget,
		Lineage:                opts.Lineage,
		DeviationJustification: strings.TrimSpace(opts.DeviationJustification),
		ExecutionDate:          opts.ExecutionDate,
		ExecutionStatus:        opts.ExecutionStatus,
		ProofRefs:              opts.ProofRefs,
		Notes:                  opts.Notes,
		CreatedBy:              opts.Actor.ID,
		CreatedAt:              now,
		UpdatedBy:              opts.Actor.ID,
		UpdatedAt:              now,
	}
	if l.ID == "" {
		l.ID = e.newID()
	}
	if l.Unit == "" {
		l.Unit = e.catalog().Unit(l.ActionKey)
	}
	if l.Layer == domain.LayerExecuted && l.ExecutionStatus == "" {
		l.ExecutionStatus = domain.ExecPlanned
	}
	return l
}

// checkNewLine validates a line about to be inserted into p.
func (e Engine) checkNewLine(ctx context.Context, l domain.ActionLine, p domain.Program) error {
	if l.Layer == domain.LayerConcerted && p.Locked {
		return &domain.LockedError{Subject: "program", ID: p.ID, Reason: "concerted lines are locked"}
	}
	if err := e.lineRules(l, p); err != nil {
		return err
	}
	src, err := e.resolveLineage(ctx, l, true)
	if err != nil {
		return err
	}
	if src != nil && Deviates(l, *src) && l.DeviationJustification == "" {
		return deviationError(l, *src)
	}
	return nil
}

// AddLine validates and appends one action line.
func (e Engine) AddLine(ctx context.Context, opts LineAddOptions) (l domain.ActionLine, err error) {
	defer func() {
		err = e.done("line.add", err, zap.String("program_id", opts.ProgramID), zap.String("layer", string(opts.Layer)))
	}()
	if err := requireActor(opts.Actor); err != nil {
		return l, err
	}
	if err := checkStruct(opts); err != nil {
		return l, err
	}
	p, err := e.loadProgram(ctx, opts.ProgramID)
	if err != nil {
		return l, err
	}
	l = e.newLine(opts)
	if err := e.checkNewLine(ctx, l, p); err != nil {
		return domain.ActionLine{}, err
	}
	out, err := e.Store.InsertActionLines(ctx, []domain.ActionLine{l}, []domain.LineEvent{events.Created(l, opts.Actor.ID, l.CreatedAt)})
	if err != nil {
		return domain.ActionLine{}, storeErr("insert action line", err)
	}
	return out[0], nil
}

// LinePatch updates an action line. Nil fields are left unchanged; the
// layer never changes.
type LinePatch struct {
	CommuneID              *string                 `json:"commune_id,omitempty"`
	PerimetreID            *string                 `json:"perimetre_id,omitempty"`
	SiteID                 *string                 `json:"site_id,omitempty"`
	ActionKey              *domain.ActionKey       `json:"action_key,omitempty"`
	ActionLabel            *string                 `json:"action_label,omitempty"`
	Year                   *int                    `json:"year,omitempty"`
	Unit                   *string                 `json:"unit,omitempty"`
	Quantity               *float64                `json:"quantity,omitempty"`
	Budget                 *float64                `json:"budget,omitempty"`
	Lineage                *string                 `json:"lineage,omitempty"`
	DeviationJustification *string                 `json:"deviation_justification,omitempty"`
	ExecutionDate          *string                 `json:"execution_date,omitempty"`
	ExecutionStatus        *domain.ExecutionStatus `json:"execution_status,omitempty"`
	ProofRefs              *[]string               `json:"proof_refs,omitempty"`
	Notes                  *string                 `json:"notes,omitempty"`
	Actor                  domain.Actor            `json:"-"`
}

// UpdateLine applies patch to an unlocked line and re-validates the merged
// result. A quantity or budget change that deviates from the lineage source
// must bring its justification in the same patch.
func (e Engine) UpdateLine(ctx context.Context, programID, id string, patch LinePatch) (l domain.ActionLine, err error) {
	defer func() { err = e.done("line.update", err, zap.String("program_id", programID), zap.String("line_id", id)) }()
	if err := requireActor(patch.Actor); err != nil {
		return l, err
	}
	p, err := e.loadProgram(ctx, programID)
	if err != nil {
		return l, err
	}
	before, err := e.Store.GetActionLine(ctx, programID, id)
	if err != nil {
		return l, storeErr("get action line", err)
	}
	if before.Locked {
		return before, &domain.LockedError{Subject: "action line", ID: id, Reason: "program validation is locked"}
	}

	l = before
	l.ProofRefs = append([]string(nil), before.ProofRefs...)
	set(&l.CommuneID, patch.CommuneID)
	set(&l.PerimetreID, patch.PerimetreID)
	set(&l.SiteID, patch.SiteID)
	set(&l.ActionLabel, patch.ActionLabel)
	set(&l.Year, patch.Year)
	set(&l.Quantity, patch.Quantity)
	set(&l.Budget, patch.Budget)
	set(&l.Lineage, patch.Lineage)
	set(&l.ExecutionDate, patch.ExecutionDate)
	set(&l.ExecutionStatus, patch.ExecutionStatus)
	set(&l.ProofRefs, patch.ProofRefs)
	set(&l.Notes, patch.Notes)
	if patch.ActionKey != nil && *patch.ActionKey != l.ActionKey {
		l.ActionKey = *patch.ActionKey
		l.Unit = e.catalog().Unit(l.ActionKey)
	}
	if patch.Unit != nil && strings.TrimSpace(*patch.Unit) != "" {
		l.Unit = strings.TrimSpace(*patch.Unit)
	}
	if patch.DeviationJustification != nil {
		l.DeviationJustification = strings.TrimSpace(*patch.DeviationJustification)
	}

	if err := e.lineRules(l, p); err != nil {
		return before, err
	}
	// A lineage that is being set must exist; an untouched one may dangle.
	src, err := e.resolveLineage(ctx, l, patch.Lineage != nil)
	if err != nil {
		return before, err
	}
	if src != nil && Deviates(l, *src) {
		amountsChanged := l.Quantity != before.Quantity || l.Budget != before.Budget
		suppliedNow := patch.DeviationJustification != nil && l.DeviationJustification != ""
		if l.DeviationJustification == "" || (amountsChanged && !suppliedNow) {
			return before, deviationError(l, *src)
		}
	}
	if l.Quantity != before.Quantity || l.Budget != before.Budget {
		if err := e.checkDerived(ctx, l); err != nil {
			return before, err
		}
	}

	l.UpdatedBy = patch.Actor.ID
	l.UpdatedAt = e.now()
	if err := e.Store.UpdateActionLine(ctx, l, events.Updated(before, l, patch.Actor.ID, l.UpdatedAt)); err != nil {
		return before, storeErr("update action line", err)
	}
	return l, nil
}

// checkDerived rejects a change to src that would leave a line derived
// from it deviating without a justification.
func (e Engine) checkDerived(ctx context.Context, src domain.ActionLine) error {
	next, ok := src.Layer.Next()
	if !ok {
		return nil
	}
	children, err := e.Store.ListActionLines(ctx, src.ProgramID, &next)
	if err != nil {
		return storeErr("list derived lines", err)
	}
	for _, c := range children {
		if c.Lineage != src.ID || c.DeviationJustification != "" || !Deviates(c, src) {
			continue
		}
		return domain.NewValidationError(domain.RuleDeviationJustified, "deviation_justification",
			"justification required on %s line %s because %s changed", layerName(c.Layer), c.ID, layerName(src.Layer))
	}
	return nil
}

// DeleteLine removes an unlocked line.
func (e Engine) DeleteLine(ctx context.Context, programID, id string, actor domain.Actor) (err error) {
	defer func() { err = e.done("line.delete", err, zap.String("program_id", programID), zap.String("line_id", id)) }()
	if err := requireActor(actor); err != nil {
		return err
	}
	if _, err := e.loadProgram(ctx, programID); err != nil {
		return err
	}
	l, err := e.Store.GetActionLine(ctx, programID, id)
	if err != nil {
		return storeErr("get action line", err)
	}
	if l.Locked {
		return &domain.LockedError{Subject: "action line", ID: id, Reason: "program validation is locked"}
	}
	return storeErr("delete action line", e.Store.DeleteActionLine(ctx, programID, id, events.Deleted(l, actor.ID, e.now())))
}

// ListLines returns the program's lines, optionally for one layer, ordered
// by year, action key and insertion order.
func (e Engine) ListLines(ctx context.Context, programID string, layer *domain.Layer) ([]domain.ActionLine, error) {
	if layer != nil && !layer.Valid() {
		return nil, domain.NewValidationError(domain.RuleLayer, "layer", "unknown layer %q", *layer)
	}
	if _, err := e.Store.GetProgram(ctx, programID); err != nil {
		return nil, storeErr("get program", err)
	}
	lines, err := e.Store.ListActionLines(ctx, programID, layer)
	return lines, storeErr("list action lines", err)
}

// LineEvents returns the newest audit events of a program first.
func (e Engine) LineEvents(ctx context.Context, programID string, limit int) ([]domain.LineEvent, error) {
	evts, err := e.Store.ListLineEvents(ctx, programID, limit)
	return evts, storeErr("list line events", err)
}
