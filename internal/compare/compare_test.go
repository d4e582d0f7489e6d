package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func TestRate(t *testing.T) {
	cases := []struct {
		name string
		e, r float64
		want *int
	}{
		{"exact", 475000, 500000, intp(95)},
		{"rounds half up", 1, 8, intp(13)},
		{"over", 600, 500, intp(120)},
		{"zero realized", 0, 500, intp(0)},
		{"zero reference", 0, 0, nil},
		{"zero reference with realized", 10, 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RatePtr(tc.e, tc.r))
		})
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		rate *int
		want Health
	}{
		{intp(120), HealthConforme},
		{intp(95), HealthConforme},
		{intp(94), HealthAttention},
		{intp(75), HealthAttention},
		{intp(74), HealthAlerte},
		{intp(50), HealthAlerte},
		{intp(49), HealthCritique},
		{intp(0), HealthCritique},
		{nil, HealthNonClasse},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.rate))
	}
}

func TestDeltaConventions(t *testing.T) {
	grow := NewDelta(120, 100, Growth)
	assert.Equal(t, 20.0, grow.Value)
	assert.Equal(t, ToneFavorable, grow.Tone)

	cut := NewDelta(80, 100, Growth)
	assert.Equal(t, -20.0, cut.Value)
	assert.Equal(t, ToneUnfavorable, cut.Tone)

	overrun := NewDelta(120, 100, Spend)
	assert.Equal(t, 20.0, overrun.Value)
	assert.Equal(t, ToneUnfavorable, overrun.Tone)

	under := NewDelta(80, 100, Spend)
	assert.Equal(t, ToneFavorable, under.Tone)

	assert.Equal(t, ToneNeutral, NewDelta(5, 5, Spend).Tone)
}

func TestStatus(t *testing.T) {
	cases := []struct {
		name     string
		exec, rf float64
		want     RowStatus
	}{
		{"not started", 0, 100, StatusNonDemarre},
		{"nothing planned nothing done", 0, 0, StatusNonDemarre},
		{"lower band edge", 95, 100, StatusRealise},
		{"upper band edge", 105, 100, StatusRealise},
		{"exact", 100, 100, StatusRealise},
		{"drift", 94, 100, StatusDerive},
		{"above band", 106, 100, StatusEnCours},
		{"unplanned execution", 10, 0, StatusEnCours},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Status(tc.exec, tc.rf))
		})
	}
}

func TestEvaluateScenarios(t *testing.T) {
	conforme := Evaluate(Chain{
		Concerted:  Sum{Quantity: 100, Budget: 500000},
		Contracted: Sum{Quantity: 100, Budget: 500000},
		Executed:   Sum{Quantity: 95, Budget: 475000},
	})
	require.NotNil(t, conforme.ExecRate)
	assert.Equal(t, 95, *conforme.ExecRate)
	assert.Equal(t, HealthConforme, conforme.Health)
	assert.Equal(t, StatusRealise, conforme.Status)
	assert.Equal(t, -25000.0, conforme.DeltaExecCP.Value)

	empty := Evaluate(Chain{})
	assert.Nil(t, empty.ExecRate)
	assert.Equal(t, HealthNonClasse, empty.Health)
}

func TestSignals(t *testing.T) {
	sigs := Signals(Chain{
		Concerted:  Sum{Quantity: 100},
		Contracted: Sum{Quantity: 140, Budget: 1000},
		Executed:   Sum{Quantity: 56, Budget: 1250},
	})
	byKind := map[SignalKind]Signal{}
	for _, s := range sigs {
		byKind[s.Kind] = s
	}
	require.Len(t, byKind, 3)

	assert.Equal(t, SeverityCritique, byKind[SignalRetardExecution].Severity)
	assert.Equal(t, 40, byKind[SignalRetardExecution].Percent)

	assert.Equal(t, SeverityCritique, byKind[SignalEcartCPConcerte].Severity)
	assert.Equal(t, 40, byKind[SignalEcartCPConcerte].Percent)
	assert.Contains(t, byKind[SignalEcartCPConcerte].Message, "+40")

	assert.Equal(t, SeverityCritique, byKind[SignalDepassementBudget].Severity)
	assert.Equal(t, 25, byKind[SignalDepassementBudget].Percent)

	_, low := byKind[SignalFaibleTaux]
	assert.False(t, low)
}

func TestSignalsFaibleTaux(t *testing.T) {
	sigs := Signals(Chain{Contracted: Sum{Budget: 1000}, Executed: Sum{Budget: 700}})
	require.Len(t, sigs, 1)
	assert.Equal(t, SignalFaibleTaux, sigs[0].Kind)
	assert.Equal(t, SeverityWarning, sigs[0].Severity)
	assert.Equal(t, 70, sigs[0].Percent)

	assert.Empty(t, Signals(Chain{}))
}
