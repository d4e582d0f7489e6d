// Package auth decides which scope levels may drive the validation workflow.
package auth

import (
	"fmt"
	"slices"

	"pdfcp/internal/domain"
)

// Policy maps workflow moves to the scope levels allowed to make them.
type Policy struct {
	Enforce bool
	// Enter lists, per target status, who may advance a program into it.
	Enter map[domain.ValidationStatus][]domain.ScopeLevel
	// Cancel lists, per current status, who may send it back to BROUILLON.
	Cancel map[domain.ValidationStatus][]domain.ScopeLevel
	Unlock []domain.ScopeLevel
}

// DefaultPolicy is the national validation chain: local actors concert,
// provinces validate, the centre validates and only admins lock or unlock.
func DefaultPolicy() Policy {
	return Policy{
		Enforce: true,
		Enter: map[domain.ValidationStatus][]domain.ScopeLevel{
			domain.StatusBrouillon:     {domain.ScopeAdmin},
			domain.StatusConcerteADP:   {domain.ScopeLocal, domain.ScopeAdmin},
			domain.StatusValideDPANEF:  {domain.ScopeProvincial, domain.ScopeAdmin},
			domain.StatusValideCentral: {domain.ScopeNational, domain.ScopeRegional, domain.ScopeAdmin},
			domain.StatusVerrouille:    {domain.ScopeAdmin},
		},
		Cancel: map[domain.ValidationStatus][]domain.ScopeLevel{
			domain.StatusConcerteADP:   {domain.ScopeLocal, domain.ScopeAdmin},
			domain.StatusValideDPANEF:  {domain.ScopeProvincial, domain.ScopeRegional, domain.ScopeAdmin},
			domain.StatusValideCentral: {domain.ScopeProvincial, domain.ScopeRegional, domain.ScopeAdmin},
		},
		Unlock: []domain.ScopeLevel{domain.ScopeAdmin},
	}
}

// NewPolicy builds a policy from string tables, as found in configuration.
// Empty tables keep the defaults.
func NewPolicy(enforce bool, enter, cancel map[string][]string, unlock []string) (Policy, error) {
	p := DefaultPolicy()
	p.Enforce = enforce
	if len(enter) > 0 {
		m, err := parseTable(enter)
		if err != nil {
			return Policy{}, fmt.Errorf("enter roles: %w", err)
		}
		p.Enter = m
	}
	if len(cancel) > 0 {
		m, err := parseTable(cancel)
		if err != nil {
			return Policy{}, fmt.Errorf("cancel roles: %w", err)
		}
		p.Cancel = m
	}
	if len(unlock) > 0 {
		levels, err := parseLevels(unlock)
		if err != nil {
			return Policy{}, fmt.Errorf("unlock roles: %w", err)
		}
		p.Unlock = levels
	}
	return p, nil
}

func parseTable(t map[string][]string) (map[domain.ValidationStatus][]domain.ScopeLevel, error) {
	out := make(map[domain.ValidationStatus][]domain.ScopeLevel, len(t))
	for k, v := range t {
		st, err := domain.ParseValidationStatus(k)
		if err != nil {
			return nil, err
		}
		levels, err := parseLevels(v)
		if err != nil {
			return nil, err
		}
		out[st] = levels
	}
	return out, nil
}

func parseLevels(v []string) ([]domain.ScopeLevel, error) {
	out := make([]domain.ScopeLevel, 0, len(v))
	for _, s := range v {
		l, err := domain.ParseScopeLevel(s)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (p Policy) allow(actor domain.Actor, allowed []domain.ScopeLevel, action string) error {
	if !p.Enforce {
		return nil
	}
	if actor.Role == "" || !slices.Contains(allowed, actor.Role) {
		return &domain.ForbiddenError{Action: action, Role: actor.Role}
	}
	return nil
}

func (p Policy) CanEnter(actor domain.Actor, target domain.ValidationStatus) error {
	return p.allow(actor, p.Enter[target], "move a program to "+string(target))
}

func (p Policy) CanCancel(actor domain.Actor, from domain.ValidationStatus) error {
	return p.allow(actor, p.Cancel[from], "cancel a validation from "+string(from))
}

func (p Policy) CanUnlock(actor domain.Actor) error {
	return p.allow(actor, p.Unlock, "unlock a program")
}
