package compare

// Sum is the summed quantity and budget of one layer.
type Sum struct {
	Quantity float64 `json:"quantity"`
	Budget   float64 `json:"budget"`
	Lines    int     `json:"lines"`
}

func (s Sum) Add(o Sum) Sum {
	return Sum{Quantity: s.Quantity + o.Quantity, Budget: s.Budget + o.Budget, Lines: s.Lines + o.Lines}
}

// Chain holds the three layer sums of one aggregated row.
type Chain struct {
	Concerted  Sum `json:"concerted"`
	Contracted Sum `json:"contracted"`
	Executed   Sum `json:"executed"`
}

func (c Chain) Add(o Chain) Chain {
	return Chain{
		Concerted:  c.Concerted.Add(o.Concerted),
		Contracted: c.Contracted.Add(o.Contracted),
		Executed:   c.Executed.Add(o.Executed),
	}
}

// Metrics are the derived fields of an aggregated row.
type Metrics struct {
	// ExecRate is executed budget against contracted budget.
	ExecRate *int `json:"exec_rate"`
	// PlanRate is executed budget against concerted budget.
	PlanRate *int `json:"plan_rate"`
	// PhysicalRate is executed quantity against contracted quantity.
	PhysicalRate *int      `json:"physical_rate"`
	Health       Health    `json:"health" enum:"Conforme,Attention,Alerte,Critique,Non-classé"`
	Status       RowStatus `json:"status" enum:"non_démarré,réalisé,dérive,en_cours"`
	DeltaCPConc  Delta     `json:"delta_cp_conc"`
	DeltaExecCP  Delta     `json:"delta_exec_cp"`
}

// Evaluate computes the metrics of a chain. Budget deltas read CP over
// Concerté as growth and Exécuté over CP as an overrun.
func Evaluate(c Chain) Metrics {
	m := Metrics{
		ExecRate:     RatePtr(c.Executed.Budget, c.Contracted.Budget),
		PlanRate:     RatePtr(c.Executed.Budget, c.Concerted.Budget),
		PhysicalRate: RatePtr(c.Executed.Quantity, c.Contracted.Quantity),
		Status:       Status(c.Executed.Quantity, c.Concerted.Quantity),
		DeltaCPConc:  NewDelta(c.Contracted.Budget, c.Concerted.Budget, Growth),
		DeltaExecCP:  NewDelta(c.Executed.Budget, c.Contracted.Budget, Spend),
	}
	m.Health = Classify(m.ExecRate)
	return m
}
