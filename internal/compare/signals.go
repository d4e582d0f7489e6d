package compare

import (
	"fmt"
	"math"
)

type SignalKind string

const (
	SignalRetardExecution   SignalKind = "retard_execution"
	SignalEcartCPConcerte   SignalKind = "ecart_cp_concerte"
	SignalDepassementBudget SignalKind = "depassement_budget"
	SignalFaibleTaux        SignalKind = "faible_taux"
)

func (k SignalKind) Label() string {
	switch k {
	case SignalRetardExecution:
		return "Retard d'exécution"
	case SignalEcartCPConcerte:
		return "Écart CP / Concerté"
	case SignalDepassementBudget:
		return "Dépassement budgétaire"
	case SignalFaibleTaux:
		return "Faible taux d'exécution"
	}
	return string(k)
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritique Severity = "critique"
)

// Signal is an alert derived from the numbers of a row, as opposed to a
// field alert reported by an operator.
type Signal struct {
	Kind      SignalKind `json:"kind"`
	Severity  Severity   `json:"severity" enum:"info,warning,critique"`
	Reference float64    `json:"reference"`
	Observed  float64    `json:"observed"`
	Percent   int        `json:"percent"`
	Message   string     `json:"message"`
}

// Signals evaluates the derived alert rules on one chain.
func Signals(c Chain) []Signal {
	var out []Signal

	cp, exec := c.Contracted, c.Executed
	if cp.Quantity > 0 && exec.Quantity < cp.Quantity {
		taux, _ := Rate(exec.Quantity, cp.Quantity)
		sev := SeverityInfo
		switch {
		case taux < 50:
			sev = SeverityCritique
		case taux < 80:
			sev = SeverityWarning
		}
		out = append(out, Signal{
			Kind: SignalRetardExecution, Severity: sev,
			Reference: cp.Quantity, Observed: exec.Quantity, Percent: taux,
			Message: fmt.Sprintf("Exécution physique à %d%% (%s/%s)", taux, num(exec.Quantity), num(cp.Quantity)),
		})
	}

	conc := c.Concerted
	if conc.Quantity > 0 && cp.Quantity != conc.Quantity {
		delta := cp.Quantity - conc.Quantity
		pct := int(math.Abs(math.Round(delta / conc.Quantity * 100)))
		sev := SeverityInfo
		switch {
		case pct > 30:
			sev = SeverityCritique
		case pct > 15:
			sev = SeverityWarning
		}
		sign := ""
		if delta > 0 {
			sign = "+"
		}
		out = append(out, Signal{
			Kind: SignalEcartCPConcerte, Severity: sev,
			Reference: conc.Quantity, Observed: cp.Quantity, Percent: pct,
			Message: fmt.Sprintf("Écart CP/Concerté: %s%s (%d%%)", sign, num(delta), pct),
		})
	}

	if cp.Budget > 0 && exec.Budget > cp.Budget {
		over := exec.Budget - cp.Budget
		pct := int(math.Round(over / cp.Budget * 100))
		sev := SeverityInfo
		switch {
		case pct > 20:
			sev = SeverityCritique
		case pct > 10:
			sev = SeverityWarning
		}
		out = append(out, Signal{
			Kind: SignalDepassementBudget, Severity: sev,
			Reference: cp.Budget, Observed: exec.Budget, Percent: pct,
			Message: fmt.Sprintf("Dépassement: +%d%% (+%s DH)", pct, num(over)),
		})
	}

	if taux, ok := Rate(exec.Budget, cp.Budget); ok && taux < 80 {
		sev := SeverityWarning
		if taux < 60 {
			sev = SeverityCritique
		}
		out = append(out, Signal{
			Kind: SignalFaibleTaux, Severity: sev,
			Reference: cp.Budget, Observed: exec.Budget, Percent: taux,
			Message: fmt.Sprintf("Taux d'exécution financière: %d%%", taux),
		})
	}
	return out
}

func num(v float64) string {
	return fmt.Sprintf("%g", v)
}
