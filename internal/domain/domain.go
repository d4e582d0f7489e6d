package domain

// Actor is the identity attached to every mutating command.
type Actor struct {
	ID   string     `json:"actor_id"`
	Name string     `json:"actor_name,omitempty"`
	Role ScopeLevel `json:"actor_role"`
}

type Program struct {
	ID                  string           `json:"id"`
	Code                string           `json:"code"`
	Title               string           `json:"title"`
	YearStart           int              `json:"year_start"`
	YearEnd             int              `json:"year_end"`
	CommuneID           string           `json:"commune_id,omitempty"`
	ProvinceID          string           `json:"province_id,omitempty"`
	RegionID            string           `json:"region_id,omitempty"`
	TotalBudget         float64          `json:"total_budget"`
	ValidationStatus    ValidationStatus `json:"validation_status" enum:"BROUILLON,CONCERTE_ADP,VALIDE_DPANEF,VALIDE_CENTRAL,VERROUILLE"`
	Locked              bool             `json:"locked"`
	Archived            bool             `json:"archived"`
	UnlockJustification string           `json:"unlock_justification,omitempty"`
	UnlockedBy          string           `json:"unlocked_by,omitempty"`
	UnlockedAt          string           `json:"unlocked_at,omitempty" format:"date-time"`
	CancellationReason  string           `json:"cancellation_reason,omitempty"`
	CreatedBy           string           `json:"created_by"`
	CreatedAt           string           `json:"created_at" format:"date-time"`
	UpdatedBy           string           `json:"updated_by,omitempty"`
	UpdatedAt           string           `json:"updated_at" format:"date-time"`
}

// CoversYear reports whether y lies inside the program's year range.
func (p Program) CoversYear(y int) bool {
	return y >= p.YearStart && y <= p.YearEnd
}

// Dimension locates an action line.
type Dimension struct {
	CommuneID   string    `json:"commune_id,omitempty"`
	PerimetreID string    `json:"perimetre_id,omitempty"`
	SiteID      string    `json:"site_id,omitempty"`
	ActionKey   ActionKey `json:"action_key"`
	Year        int       `json:"year"`
}

type ActionLine struct {
	ID        string `json:"id"`
	ProgramID string `json:"program_id"`
	Seq       int64  `json:"seq"`
	Dimension
	ActionLabel            string          `json:"action_label,omitempty"`
	Layer                  Layer           `json:"layer" enum:"CONCERTED,CONTRACTED,EXECUTED"`
	Unit                   string          `json:"unit"`
	Quantity               float64         `json:"quantity"`
	Budget                 float64         `json:"budget"`
	Lineage                string          `json:"lineage,omitempty"`
	DeviationJustification string          `json:"deviation_justification,omitempty"`
	ExecutionDate          string          `json:"execution_date,omitempty"`
	ExecutionStatus        ExecutionStatus `json:"execution_status,omitempty"`
	ProofRefs              []string        `json:"proof_refs,omitempty"`
	Notes                  string          `json:"notes,omitempty"`
	Locked                 bool            `json:"locked"`
	CreatedBy              string          `json:"created_by"`
	CreatedAt              string          `json:"created_at" format:"date-time"`
	UpdatedBy              string          `json:"updated_by,omitempty"`
	UpdatedAt              string          `json:"updated_at" format:"date-time"`
}

// ValidationHistoryEntry is append-only.
type ValidationHistoryEntry struct {
	ID         string           `json:"id"`
	ProgramID  string           `json:"program_id"`
	Seq        int64            `json:"seq"`
	Action     HistoryAction    `json:"action"`
	FromStatus ValidationStatus `json:"from_status,omitempty"`
	ToStatus   ValidationStatus `json:"to_status"`
	Note       string           `json:"note,omitempty"`
	ActorID    string           `json:"actor_id"`
	ActorName  string           `json:"actor_name,omitempty"`
	ActorRole  ScopeLevel       `json:"actor_role,omitempty"`
	CreatedAt  string           `json:"created_at" format:"date-time"`
}

// StatusChange is one compare-and-swap on a program's validation status,
// together with everything that must be written with it.
type StatusChange struct {
	ProgramID string
	Expected  ValidationStatus
	Target    ValidationStatus
	// Locked is the program lock after the change; the CONCERTED line
	// locks follow it.
	Locked              bool
	UnlockJustification string
	CancellationReason  string
	Entry               ValidationHistoryEntry
}

// Alert is a field-reported issue owned by an external subsystem.
type Alert struct {
	ID          string      `json:"id"`
	CommuneID   string      `json:"commune_id,omitempty"`
	PerimetreID string      `json:"perimetre_id,omitempty"`
	SiteID      string      `json:"site_id,omitempty"`
	ActionType  ActionKey   `json:"action_type,omitempty"`
	Year        *int        `json:"year,omitempty"`
	Status      AlertStatus `json:"status" enum:"open,in_progress,resolved"`
	Kind        string      `json:"kind,omitempty"`
	Title       string      `json:"title,omitempty"`
	CreatedAt   string      `json:"created_at,omitempty" format:"date-time"`
}

// LineEvent is one entry of the action line audit log.
type LineEvent struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	Type      string         `json:"type"`
	ProgramID string         `json:"program_id"`
	LineID    string         `json:"line_id"`
	Layer     Layer          `json:"layer"`
	ActorID   string         `json:"actor_id"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ProgramFilter narrows program listings.
type ProgramFilter struct {
	Status          ValidationStatus
	CommuneID       string
	IncludeArchived bool
}

// APIKey maps a hashed service credential to an actor.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
