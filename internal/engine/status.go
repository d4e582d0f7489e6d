package engine

import (
	"context"

	"go.uber.org/zap"

	"pdfcp/internal/domain"
	"pdfcp/internal/metrics"
	"pdfcp/internal/workflow"
)

// TransitionOptions move a program forward. Expected is the status the
// caller last read; empty means the stored one.
type TransitionOptions struct {
	ProgramID string                  `json:"-"`
	Expected  domain.ValidationStatus `json:"expected,omitempty"`
	Target    domain.ValidationStatus `json:"target" validate:"required"`
	Note      string                  `json:"note,omitempty"`
	Actor     domain.Actor            `json:"-"`
}

type UnlockOptions struct {
	ProgramID     string                  `json:"-"`
	Expected      domain.ValidationStatus `json:"expected,omitempty"`
	Justification string                  `json:"justification"`
	Actor         domain.Actor            `json:"-"`
}

type CancelOptions struct {
	ProgramID string                  `json:"-"`
	Expected  domain.ValidationStatus `json:"expected,omitempty"`
	Reason    string                  `json:"reason"`
	Actor     domain.Actor            `json:"-"`
}

// TransitionStatus advances the validation workflow. Entering VERROUILLE
// locks every CONCERTED line of the program in the same write.
func (e Engine) TransitionStatus(ctx context.Context, opts TransitionOptions) (p domain.Program, err error) {
	defer func() {
		err = e.done("status.transition", err, zap.String("program_id", opts.ProgramID), zap.String("target", string(opts.Target)))
	}()
	if err := checkStruct(opts); err != nil {
		return p, err
	}
	return e.move(ctx, opts.ProgramID, opts.Expected, opts.Actor, opts.Note, func(req workflow.Request) (domain.StatusChange, error) {
		req.Target = opts.Target
		sc, err := workflow.Advance(req, e.Workflow)
		if err != nil {
			return sc, err
		}
		return sc, e.Policy.CanEnter(opts.Actor, sc.Target)
	})
}

// Unlock reopens a VERROUILLE program to VALIDE_CENTRAL. A justification
// is mandatory and stored on the program.
func (e Engine) Unlock(ctx context.Context, opts UnlockOptions) (p domain.Program, err error) {
	defer func() { err = e.done("status.unlock", err, zap.String("program_id", opts.ProgramID)) }()
	return e.move(ctx, opts.ProgramID, opts.Expected, opts.Actor, opts.Justification, func(req workflow.Request) (domain.StatusChange, error) {
		sc, err := workflow.Unlock(req)
		if err != nil {
			return sc, err
		}
		return sc, e.Policy.CanUnlock(opts.Actor)
	})
}

// CancelValidation sends an intermediate status back to BROUILLON with a
// reason.
func (e Engine) CancelValidation(ctx context.Context, opts CancelOptions) (p domain.Program, err error) {
	defer func() { err = e.done("status.cancel", err, zap.String("program_id", opts.ProgramID)) }()
	return e.move(ctx, opts.ProgramID, opts.Expected, opts.Actor, opts.Reason, func(req workflow.Request) (domain.StatusChange, error) {
		sc, err := workflow.Cancel(req)
		if err != nil {
			return sc, err
		}
		return sc, e.Policy.CanCancel(opts.Actor, req.Current)
	})
}

// move runs one workflow command: compare the caller's view, plan the
// change, apply it as a single compare-and-swap, and return the stored
// program.
func (e Engine) move(ctx context.Context, programID string, expected domain.ValidationStatus, actor domain.Actor, note string,
	plan func(workflow.Request) (domain.StatusChange, error)) (domain.Program, error) {
	if err := requireActor(actor); err != nil {
		return domain.Program{}, err
	}
	if expected != "" && !expected.Valid() {
		return domain.Program{}, domain.NewValidationError(domain.RuleTransition, "expected", "unknown status %q", expected)
	}
	p, err := e.loadProgram(ctx, programID)
	if err != nil {
		return p, err
	}
	if expected == "" {
		expected = p.ValidationStatus
	}
	if expected != p.ValidationStatus {
		return p, &domain.ConflictError{ProgramID: p.ID, Expected: expected, Actual: p.ValidationStatus}
	}
	sc, err := plan(workflow.Request{
		ProgramID: p.ID,
		Current:   expected,
		Note:      note,
		Actor:     actor,
		EntryID:   e.newID(),
		At:        e.now(),
	})
	if err != nil {
		return p, err
	}
	if err := e.Store.ApplyStatusChange(ctx, sc); err != nil {
		return p, storeErr("apply status change", err)
	}
	metrics.ObserveTransition(sc.Entry.FromStatus, sc.Target, sc.Entry.Action)
	e.log().Info("program status changed",
		zap.String("program_id", p.ID),
		zap.String("from", string(sc.Entry.FromStatus)),
		zap.String("to", string(sc.Target)),
		zap.String("action", string(sc.Entry.Action)),
		zap.String("actor_id", actor.ID))

	updated, err := e.Store.GetProgram(ctx, p.ID)
	return updated, storeErr("get program", err)
}

// History returns the program's validation history, oldest first.
func (e Engine) History(ctx context.Context, programID string) ([]domain.ValidationHistoryEntry, error) {
	if _, err := e.Store.GetProgram(ctx, programID); err != nil {
		return nil, storeErr("get program", err)
	}
	h, err := e.Store.ListValidationHistory(ctx, programID)
	return h, storeErr("list validation history", err)
}
