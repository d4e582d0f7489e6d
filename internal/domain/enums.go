package domain

import (
	"fmt"
	"strings"
)

// Layer partitions action lines. A line's layer never changes after creation.
type Layer string

const (
	LayerConcerted  Layer = "CONCERTED"
	LayerContracted Layer = "CONTRACTED"
	LayerExecuted   Layer = "EXECUTED"
)

// Layers lists the layers in chain order.
var Layers = []Layer{LayerConcerted, LayerContracted, LayerExecuted}

func (l Layer) Valid() bool {
	switch l {
	case LayerConcerted, LayerContracted, LayerExecuted:
		return true
	}
	return false
}

// Previous returns the layer a line of l derives from.
func (l Layer) Previous() (Layer, bool) {
	switch l {
	case LayerContracted:
		return LayerConcerted, true
	case LayerExecuted:
		return LayerContracted, true
	case LayerConcerted:
		return "", false
	}
	return "", false
}

// Next returns the layer derived from l.
func (l Layer) Next() (Layer, bool) {
	switch l {
	case LayerConcerted:
		return LayerContracted, true
	case LayerContracted:
		return LayerExecuted, true
	}
	return "", false
}

// Label is the short display name used in exports.
func (l Layer) Label() string {
	switch l {
	case LayerConcerted:
		return "Conc."
	case LayerContracted:
		return "CP"
	case LayerExecuted:
		return "Exec"
	}
	return string(l)
}

func ParseLayer(s string) (Layer, error) {
	l := Layer(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("invalid layer %q", s)
	}
	return l, nil
}

// ValidationStatus is the program workflow state.
type ValidationStatus string

const (
	StatusBrouillon     ValidationStatus = "BROUILLON"
	StatusConcerteADP   ValidationStatus = "CONCERTE_ADP"
	StatusValideDPANEF  ValidationStatus = "VALIDE_DPANEF"
	StatusValideCentral ValidationStatus = "VALIDE_CENTRAL"
	StatusVerrouille    ValidationStatus = "VERROUILLE"
)

// Statuses lists the workflow states in forward order.
var Statuses = []ValidationStatus{
	StatusBrouillon,
	StatusConcerteADP,
	StatusValideDPANEF,
	StatusValideCentral,
	StatusVerrouille,
}

func (s ValidationStatus) Valid() bool {
	return s.Rank() >= 0
}

// Rank is the position of s in the forward order, -1 when unknown.
func (s ValidationStatus) Rank() int {
	switch s {
	case StatusBrouillon:
		return 0
	case StatusConcerteADP:
		return 1
	case StatusValideDPANEF:
		return 2
	case StatusValideCentral:
		return 3
	case StatusVerrouille:
		return 4
	}
	return -1
}

func (s ValidationStatus) Label() string {
	switch s {
	case StatusBrouillon:
		return "Brouillon"
	case StatusConcerteADP:
		return "Concerté ADP"
	case StatusValideDPANEF:
		return "Validé DPANEF"
	case StatusValideCentral:
		return "Validé Central"
	case StatusVerrouille:
		return "Verrouillé"
	}
	return string(s)
}

func ParseValidationStatus(s string) (ValidationStatus, error) {
	st := ValidationStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("invalid validation status %q", s)
	}
	return st, nil
}

// ExecutionStatus applies to EXECUTED lines only.
type ExecutionStatus string

const (
	ExecPlanned    ExecutionStatus = "planned"
	ExecInProgress ExecutionStatus = "in_progress"
	ExecDone       ExecutionStatus = "done"
	ExecCancelled  ExecutionStatus = "cancelled"
	ExecBlocked    ExecutionStatus = "blocked"
)

func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecPlanned, ExecInProgress, ExecDone, ExecCancelled, ExecBlocked:
		return true
	}
	return false
}

func ParseExecutionStatus(s string) (ExecutionStatus, error) {
	st := ExecutionStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("invalid execution status %q", s)
	}
	return st, nil
}

// ScopeLevel is the administrative level an actor acts at.
type ScopeLevel string

const (
	ScopeAdmin      ScopeLevel = "ADMIN"
	ScopeNational   ScopeLevel = "NATIONAL"
	ScopeRegional   ScopeLevel = "REGIONAL"
	ScopeProvincial ScopeLevel = "PROVINCIAL"
	ScopeLocal      ScopeLevel = "LOCAL"
)

func (s ScopeLevel) Valid() bool {
	switch s {
	case ScopeAdmin, ScopeNational, ScopeRegional, ScopeProvincial, ScopeLocal:
		return true
	}
	return false
}

func ParseScopeLevel(s string) (ScopeLevel, error) {
	l := ScopeLevel(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("invalid scope level %q", s)
	}
	return l, nil
}

// ActionKey identifies a program component.
type ActionKey string

const (
	ActionReboisement       ActionKey = "Reboisement"
	ActionRegeneration      ActionKey = "Regeneration"
	ActionCMD               ActionKey = "CMD"
	ActionPistes            ActionKey = "Pistes"
	ActionPointsEau         ActionKey = "Points_Eau"
	ActionPFNL              ActionKey = "PFNL"
	ActionSensibilisation   ActionKey = "Sensibilisation"
	ActionSylvopastoralisme ActionKey = "Sylvopastoralisme"
	ActionApiculture        ActionKey = "Apiculture"
	ActionArboriculture     ActionKey = "Arboriculture"
	ActionEquipement        ActionKey = "Equipement"
)

// ActionKeys lists every known component.
var ActionKeys = []ActionKey{
	ActionReboisement,
	ActionRegeneration,
	ActionCMD,
	ActionPistes,
	ActionPointsEau,
	ActionPFNL,
	ActionSensibilisation,
	ActionSylvopastoralisme,
	ActionApiculture,
	ActionArboriculture,
	ActionEquipement,
}

func (k ActionKey) Valid() bool {
	switch k {
	case ActionReboisement, ActionRegeneration, ActionCMD, ActionPistes, ActionPointsEau,
		ActionPFNL, ActionSensibilisation, ActionSylvopastoralisme, ActionApiculture,
		ActionArboriculture, ActionEquipement:
		return true
	}
	return false
}

func ParseActionKey(s string) (ActionKey, error) {
	k := ActionKey(strings.TrimSpace(s))
	if !k.Valid() {
		return "", fmt.Errorf("invalid action key %q", s)
	}
	return k, nil
}

// AlertStatus is owned by the field-alert subsystem.
type AlertStatus string

const (
	AlertOpen       AlertStatus = "open"
	AlertInProgress AlertStatus = "in_progress"
	AlertResolved   AlertStatus = "resolved"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertOpen, AlertInProgress, AlertResolved:
		return true
	}
	return false
}

// IsOpen reports whether the alert still needs attention.
func (s AlertStatus) IsOpen() bool {
	return s != AlertResolved
}

// HistoryAction tags a validation history entry.
type HistoryAction string

const (
	ActionCreated  HistoryAction = "created"
	ActionUnlocked HistoryAction = "unlocked"
	ActionArchived HistoryAction = "archived"
)

// StatusChangeAction is the tag for an accepted transition into to.
func StatusChangeAction(to ValidationStatus) HistoryAction {
	return HistoryAction("status_change_" + strings.ToLower(string(to)))
}

// CancellationAction is the tag for a cancellation out of from.
func CancellationAction(from ValidationStatus) HistoryAction {
	return HistoryAction("cancellation_" + strings.ToLower(string(from)))
}

// Kind is the tag without its status suffix: status_change, cancellation,
// or the tag itself.
func (a HistoryAction) Kind() string {
	s := string(a)
	for _, prefix := range []string{"status_change", "cancellation"} {
		if strings.HasPrefix(s, prefix+"_") {
			return prefix
		}
	}
	return s
}
