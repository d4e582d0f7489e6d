// Package workflow is the program validation state machine:
//
//	BROUILLON → CONCERTE_ADP → VALIDE_DPANEF → VALIDE_CENTRAL → VERROUILLE
//
// Advancing moves forward only. Unlock is the one way out of VERROUILLE and
// lands on VALIDE_CENTRAL. Cancellation sends an intermediate status back to
// BROUILLON with a reason. Each accepted move yields a domain.StatusChange
// the store applies as a single compare-and-swap.
package workflow

import (
	"strings"

	"pdfcp/internal/domain"
)

type Options struct {
	// AllowSkip permits advancing past intermediate states.
	AllowSkip bool
}

// Request describes a move as seen by the caller.
type Request struct {
	ProgramID string
	// Current is the status the caller read and expects to replace.
	Current domain.ValidationStatus
	Target  domain.ValidationStatus
	Note    string
	Actor   domain.Actor
	EntryID string
	At      string
}

// Next returns the status that follows s.
func Next(s domain.ValidationStatus) (domain.ValidationStatus, bool) {
	r := s.Rank()
	if r < 0 || r+1 >= len(domain.Statuses) {
		return "", false
	}
	return domain.Statuses[r+1], true
}

// Cancellable reports whether s may be sent back to BROUILLON.
func Cancellable(s domain.ValidationStatus) bool {
	switch s {
	case domain.StatusConcerteADP, domain.StatusValideDPANEF, domain.StatusValideCentral:
		return true
	case domain.StatusBrouillon, domain.StatusVerrouille:
		return false
	}
	return false
}

// Advance validates a forward transition.
func Advance(req Request, opts Options) (domain.StatusChange, error) {
	if !req.Target.Valid() {
		return domain.StatusChange{}, domain.NewValidationError(domain.RuleTransition, "target", "unknown status %q", req.Target)
	}
	from, to := req.Current.Rank(), req.Target.Rank()
	switch {
	case from < 0:
		return domain.StatusChange{}, domain.NewValidationError(domain.RuleTransition, "status", "unknown current status %q", req.Current)
	case to == from:
		return domain.StatusChange{}, domain.NewValidationError(domain.RuleTransition, "target", "program is already %s", req.Target)
	case to < from:
		return domain.StatusChange{}, domain.NewValidationError(domain.RuleTransition, "target",
			"cannot move back from %s to %s; use unlock or cancel", req.Current, req.Target)
	case !opts.AllowSkip && to != from+1:
		next, _ := Next(req.Current)
		return domain.StatusChange{}, domain.NewValidationError(domain.RuleTransition, "target",
			"cannot skip from %s to %s; next status is %s", req.Current, req.Target, next)
	}
	return change(req, domain.StatusChangeAction(req.Target), strings.TrimSpace(req.Note)), nil
}

// Unlock validates the override out of VERROUILLE.
func Unlock(req Request) (domain.StatusChange, error) {
	if req.Current != domain.StatusVerrouille {
		return domain.StatusChange{}, domain.NewValidationError(domain.RuleTransition, "status",
			"only a %s program can be unlocked (status is %s)", domain.StatusVerrouille, req.Current)
	}
	justification := strings.TrimSpace(req.Note)
	if justification == "" {
		return domain.StatusChange{}, domain.NewValidationError(domain.RuleJustificationRequired, "justification",
			"justification required to unlock a validated program")
	}
	req.Target = domain.StatusValideCentral
	sc := change(req, domain.ActionUnlocked, justification)
	sc.UnlockJustification = justification
	return sc, nil
}

// Cancel validates a motivated return to BROUILLON.
func Cancel(req Request) (domain.StatusChange, error) {
	if !Cancellable(req.Current) {
		return domain.StatusChange{}, domain.NewValidationError(domain.RuleTransition, "status",
			"validation cannot be cancelled from %s", req.Current)
	}
	reason := strings.TrimSpace(req.Note)
	if reason == "" {
		return domain.StatusChange{}, domain.NewValidationError(domain.RuleReasonRequired, "reason",
			"reason required to cancel a validation")
	}
	req.Target = domain.StatusBrouillon
	sc := change(req, domain.CancellationAction(req.Current), "Annulation motivée: "+reason)
	sc.CancellationReason = reason
	return sc, nil
}

func change(req Request, action domain.HistoryAction, note string) domain.StatusChange {
	return domain.StatusChange{
		ProgramID: req.ProgramID,
		Expected:  req.Current,
		Target:    req.Target,
		Locked:    req.Target == domain.StatusVerrouille,
		Entry: domain.ValidationHistoryEntry{
			ID:         req.EntryID,
			ProgramID:  req.ProgramID,
			Action:     action,
			FromStatus: req.Current,
			ToStatus:   req.Target,
			Note:       note,
			ActorID:    req.Actor.ID,
			ActorName:  req.Actor.Name,
			ActorRole:  req.Actor.Role,
			CreatedAt:  req.At,
		},
	}
}
