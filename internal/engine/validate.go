package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"pdfcp/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		return finite(fl.Field().Float())
	})
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// checkStruct runs the struct tags of a command and reports the first
// failure as a ValidationError.
func checkStruct(v any) error {
	err := validate.Struct(v)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	rule := domain.RuleRequired
	msg := fe.Field() + " is required"
	if fe.Tag() != "required" {
		rule = fe.Tag()
		msg = fmt.Sprintf("%s fails %s %s", fe.Field(), fe.Tag(), fe.Param())
	}
	return domain.NewValidationError(rule, fe.Field(), "%s", strings.TrimSpace(msg))
}

func validProofRef(ref string) bool {
	return validate.Var(ref, "required,uri") == nil && strings.Contains(ref, "://")
}

// lineRules checks a line against the invariants that do not need the
// store. Lineage is resolved separately by resolveLineage.
func (e Engine) lineRules(l domain.ActionLine, p domain.Program) error {
	if !l.Layer.Valid() {
		return domain.NewValidationError(domain.RuleLayer, "layer", "unknown layer %q", l.Layer)
	}
	comp, ok := e.catalog().Lookup(l.ActionKey)
	if !ok || !l.ActionKey.Valid() {
		return domain.NewValidationError(domain.RuleUnknownAction, "action_key", "unknown action %q", l.ActionKey)
	}
	if !p.CoversYear(l.Year) {
		return domain.NewValidationError(domain.RuleYearRange, "year",
			"year %d is outside the program range %d-%d", l.Year, p.YearStart, p.YearEnd)
	}
	if !finite(l.Quantity) || l.Quantity < 0 {
		return domain.NewValidationError(domain.RuleQuantityNonNegative, "quantity", "quantity must be a finite number >= 0 (got %v)", l.Quantity)
	}
	if !finite(l.Budget) || l.Budget < 0 {
		return domain.NewValidationError(domain.RuleBudgetNonNegative, "budget", "budget must be a finite number >= 0 (got %v)", l.Budget)
	}
	if l.Unit != comp.Unit {
		return domain.NewValidationError(domain.RuleUnitMismatch, "unit",
			"unit %q does not match the %s unit %q", l.Unit, comp.Label, comp.Unit)
	}
	if l.Layer != domain.LayerExecuted {
		switch {
		case l.ExecutionDate != "":
			return domain.NewValidationError(domain.RuleExecutionOnly, "execution_date", "execution date is only accepted on EXECUTED lines")
		case l.ExecutionStatus != "":
			return domain.NewValidationError(domain.RuleExecutionOnly, "execution_status", "execution status is only accepted on EXECUTED lines")
		case len(l.ProofRefs) > 0:
			return domain.NewValidationError(domain.RuleExecutionOnly, "proof_refs", "proof references are only accepted on EXECUTED lines")
		}
		if l.Layer == domain.LayerConcerted && l.Lineage != "" {
			return domain.NewValidationError(domain.RuleLineageLayer, "lineage", "CONCERTED lines have no lineage")
		}
		return nil
	}
	if !l.ExecutionStatus.Valid() {
		return domain.NewValidationError(domain.RuleExecutionStatus, "execution_status", "unknown execution status %q", l.ExecutionStatus)
	}
	if l.ExecutionDate != "" && validate.Var(l.ExecutionDate, "datetime=2006-01-02") != nil {
		return domain.NewValidationError(domain.RuleExecutionStatus, "execution_date", "execution date must be YYYY-MM-DD")
	}
	for _, ref := range l.ProofRefs {
		if !validProofRef(ref) {
			return domain.NewValidationError(domain.RuleProofURI, "proof_refs", "proof reference %q is not an absolute URI", ref)
		}
	}
	if l.Budget > 0 && len(l.ProofRefs) == 0 {
		return domain.NewValidationError(domain.RuleProofRequired, "proof_refs",
			"proof required because the executed line has a budget of %v", l.Budget)
	}
	return nil
}

// resolveLineage returns the explicitly referenced source line. strict
// rejects a dangling reference; otherwise a deleted source leaves the line
// unlinked.
func (e Engine) resolveLineage(ctx context.Context, l domain.ActionLine, strict bool) (*domain.ActionLine, error) {
	if l.Lineage == "" {
		return nil, nil
	}
	prev, ok := l.Layer.Previous()
	if !ok {
		return nil, domain.NewValidationError(domain.RuleLineageLayer, "lineage", "%s lines have no lineage", l.Layer)
	}
	src, err := e.Store.GetActionLine(ctx, l.ProgramID, l.Lineage)
	if errors.Is(err, domain.ErrNotFound) {
		if strict {
			return nil, domain.NewValidationError(domain.RuleLineageMissing, "lineage",
				"lineage %s does not exist in this program", l.Lineage)
		}
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get lineage source", err)
	}
	if src.Layer != prev {
		return nil, domain.NewValidationError(domain.RuleLineageLayer, "lineage",
			"a %s line must derive from a %s line, not %s", l.Layer, prev, src.Layer)
	}
	return &src, nil
}

// Deviates reports whether l differs from its source in quantity or budget.
func Deviates(l, src domain.ActionLine) bool {
	return l.Quantity != src.Quantity || l.Budget != src.Budget
}

func deviationError(l, src domain.ActionLine) error {
	what := "quantity"
	if l.Quantity == src.Quantity {
		what = "budget"
	} else if l.Budget != src.Budget {
		what = "quantity and budget"
	}
	return domain.NewValidationError(domain.RuleDeviationJustified, "deviation_justification",
		"justification required because %s %s differs from %s", layerName(l.Layer), what, layerName(src.Layer))
}

func layerName(l domain.Layer) string {
	switch l {
	case domain.LayerConcerted:
		return "Concerté"
	case domain.LayerContracted:
		return "CP"
	case domain.LayerExecuted:
		return "Exécuté"
	}
	return string(l)
}
