// Package compare derives execution rates, deltas and classifications from
// aggregated layer sums. Everything here is a pure function of its inputs.
package compare

import "math"

// Rate returns round(e/r*100). The rate is undefined when r is zero; ok is
// false in that case and no default value is implied.
func Rate(e, r float64) (rate int, ok bool) {
	if r == 0 {
		return 0, false
	}
	return int(math.Round(e / r * 100)), true
}

// RatePtr is Rate with the undefined case mapped to nil.
func RatePtr(e, r float64) *int {
	if v, ok := Rate(e, r); ok {
		return &v
	}
	return nil
}

type Health string

const (
	HealthConforme  Health = "Conforme"
	HealthAttention Health = "Attention"
	HealthAlerte    Health = "Alerte"
	HealthCritique  Health = "Critique"
	HealthNonClasse Health = "Non-classé"
)

// Classify maps a rate to its health band.
func Classify(rate *int) Health {
	if rate == nil {
		return HealthNonClasse
	}
	switch t := *rate; {
	case t >= 95:
		return HealthConforme
	case t >= 75:
		return HealthAttention
	case t >= 50:
		return HealthAlerte
	default:
		return HealthCritique
	}
}

// Color is the display color of a health band.
func (h Health) Color() string {
	switch h {
	case HealthConforme:
		return "green"
	case HealthAttention:
		return "amber"
	case HealthAlerte:
		return "orange"
	case HealthCritique:
		return "red"
	case HealthNonClasse:
		return "grey"
	}
	return "grey"
}

// Convention fixes how the sign of a delta reads at one call site.
type Convention int

const (
	// Growth: a positive delta is an allocation increase (CP over Concerté).
	Growth Convention = iota
	// Spend: a positive delta is an overrun (Exécuté over CP).
	Spend
)

type Tone string

const (
	ToneNeutral     Tone = "neutral"
	ToneFavorable   Tone = "favorable"
	ToneUnfavorable Tone = "unfavorable"
)

// Delta is the signed difference realized minus reference.
type Delta struct {
	Value float64 `json:"value"`
	Tone  Tone    `json:"tone" enum:"neutral,favorable,unfavorable"`
}

// NewDelta computes e-r and reads its sign with c.
func NewDelta(e, r float64, c Convention) Delta {
	d := Delta{Value: e - r, Tone: ToneNeutral}
	switch {
	case d.Value == 0:
	case c == Growth && d.Value > 0, c == Spend && d.Value < 0:
		d.Tone = ToneFavorable
	default:
		d.Tone = ToneUnfavorable
	}
	return d
}

type RowStatus string

const (
	StatusNonDemarre RowStatus = "non_démarré"
	StatusRealise    RowStatus = "réalisé"
	StatusDerive     RowStatus = "dérive"
	StatusEnCours    RowStatus = "en_cours"
)

// Status classifies an action's chain from executed vs concerted quantity.
// Within ±5% of the reference is réalisé, below is dérive, above is en_cours.
func Status(executed, reference float64) RowStatus {
	if executed == 0 {
		return StatusNonDemarre
	}
	if reference == 0 {
		return StatusEnCours
	}
	switch {
	case executed*100 >= reference*95 && executed*100 <= reference*105:
		return StatusRealise
	case executed*100 < reference*95:
		return StatusDerive
	default:
		return StatusEnCours
	}
}
