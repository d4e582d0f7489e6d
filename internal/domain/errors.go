package domain

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = eris.New("not found")

// Stable rule identifiers carried by ValidationError.
const (
	RuleQuantityNonNegative   = "quantity_non_negative"
	RuleBudgetNonNegative     = "budget_non_negative"
	RuleDeviationJustified    = "deviation_justification_required"
	RuleProofRequired         = "proof_required"
	RuleProofURI              = "proof_ref_uri"
	RuleUnitMismatch          = "unit_mismatch"
	RuleUnknownAction         = "unknown_action_key"
	RuleLayer                 = "layer"
	RuleLineageLayer          = "lineage_layer"
	RuleLineageMissing        = "lineage_missing"
	RuleYearRange             = "year_out_of_range"
	RuleExecutionOnly         = "execution_fields_only_on_executed"
	RuleExecutionStatus       = "execution_status"
	RuleJustificationRequired = "justification_required"
	RuleReasonRequired        = "reason_required"
	RuleTransition            = "transition_not_allowed"
	RuleRequired              = "required"
	RuleQuickEntry            = "quick_entry"
	RuleGeneratePair          = "generate_layer_pair"
)

// ValidationError is an invariant violation detected before any write.
type ValidationError struct {
	Rule    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

func NewValidationError(rule, field, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Field: field, Message: fmt.Sprintf(format, args...)}
}

// LockedError is a mutation attempt on a locked line or program.
type LockedError struct {
	Subject string
	ID      string
	Reason  string
}

func (e *LockedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s is locked: %s", e.Subject, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %s is locked", e.Subject, e.ID)
}

// ConflictError is a failed compare-and-swap on the program status.
type ConflictError struct {
	ProgramID string
	Expected  ValidationStatus
	Actual    ValidationStatus
}

func (e *ConflictError) Error() string {
	if e.Actual != "" {
		return fmt.Sprintf("program %s status changed (expected %s, found %s); reload and retry", e.ProgramID, e.Expected, e.Actual)
	}
	return fmt.Sprintf("program %s status changed (expected %s); reload and retry", e.ProgramID, e.Expected)
}

// TransportError wraps a failure of an external store or provider.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ForbiddenError is a workflow action the actor's role may not perform.
type ForbiddenError struct {
	Action string
	Role   ScopeLevel
}

func (e *ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("actor role required for %s", e.Action)
	}
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}
