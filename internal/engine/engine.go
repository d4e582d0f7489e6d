// Package engine is the command layer of the reconciliation and validation
// engine. Every command validates against the authoritative store, applies
// a single atomic write and reports failures with the domain error types.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pdfcp/internal/alerts"
	"pdfcp/internal/catalog"
	"pdfcp/internal/config"
	"pdfcp/internal/domain"
	"pdfcp/internal/engine/auth"
	"pdfcp/internal/metrics"
	"pdfcp/internal/workflow"
)

type Engine struct {
	Store    Store
	Alerts   alerts.Provider
	Catalog  *catalog.Catalog
	Policy   auth.Policy
	Workflow workflow.Options
	Log      *zap.Logger
	Now      func() time.Time
	NewID    func() string
}

// New wires an engine from configuration. A nil cfg uses the defaults.
func New(store Store, provider alerts.Provider, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	policy, err := auth.NewPolicy(cfg.Workflow.EnforceRoles, cfg.Workflow.EnterRoles, cfg.Workflow.CancelRoles, cfg.Workflow.UnlockRoles)
	if err != nil {
		return Engine{}, err
	}
	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		if cat, err = catalog.FromFile(cfg.Catalog.Path); err != nil {
			return Engine{}, err
		}
	}
	return Engine{
		Store:    store,
		Alerts:   provider,
		Catalog:  cat,
		Policy:   policy,
		Workflow: workflow.Options{AllowSkip: cfg.Workflow.AllowSkip},
		Log:      zap.L(),
		Now:      time.Now,
	}, nil
}

func (e Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.L()
}

func (e Engine) catalog() *catalog.Catalog {
	if e.Catalog != nil {
		return e.Catalog
	}
	return catalog.Default()
}

// done records the outcome of a command and logs rejections.
func (e Engine) done(command string, err error, fields ...zap.Field) error {
	metrics.ObserveCommand(command, err)
	if err == nil {
		return nil
	}
	fields = append(fields, zap.String("command", command), zap.Error(err))
	var (
		verr      *domain.ValidationError
		transport *domain.TransportError
	)
	switch {
	case errors.As(err, &verr):
		e.log().Debug("command rejected", append(fields, zap.String("rule", verr.Rule))...)
	case errors.As(err, &transport):
		e.log().Warn("store unavailable", fields...)
	default:
		e.log().Debug("command rejected", fields...)
	}
	return err
}

// storeErr passes domain errors through and reports anything else as a
// transport failure of op.
func storeErr(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return &domain.TransportError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	var (
		verr      *domain.ValidationError
		locked    *domain.LockedError
		conflict  *domain.ConflictError
		forbidden *domain.ForbiddenError
		transport *domain.TransportError
	)
	return errors.Is(err, domain.ErrNotFound) ||
		errors.As(err, &verr) || errors.As(err, &locked) || errors.As(err, &conflict) ||
		errors.As(err, &forbidden) || errors.As(err, &transport)
}

func requireActor(a domain.Actor) error {
	if a.ID == "" {
		return domain.NewValidationError(domain.RuleRequired, "actor_id", "actor identity is required")
	}
	if a.Role != "" && !a.Role.Valid() {
		return domain.NewValidationError(domain.RuleRequired, "actor_role", "unknown actor role %q", a.Role)
	}
	return nil
}

// loadProgram reads a program for a mutation; archived programs are
// read-only.
func (e Engine) loadProgram(ctx context.Context, id string) (domain.Program, error) {
	p, err := e.Store.GetProgram(ctx, id)
	if err != nil {
		return p, storeErr("get program", err)
	}
	if p.Archived {
		return p, &domain.LockedError{Subject: "program", ID: p.ID, Reason: "program is archived"}
	}
	return p, nil
}
