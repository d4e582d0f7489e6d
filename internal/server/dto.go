package server

import (
	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
)

// Request payloads

type CreateProgramRequest struct {
	ID          string  `json:"id,omitempty"`
	Code        string  `json:"code" minLength:"1"`
	Title       string  `json:"title" minLength:"1"`
	YearStart   int     `json:"year_start" minimum:"1990" maximum:"2100"`
	YearEnd     int     `json:"year_end" minimum:"1990" maximum:"2100"`
	CommuneID   string  `json:"commune_id,omitempty"`
	ProvinceID  string  `json:"province_id,omitempty"`
	RegionID    string  `json:"region_id,omitempty"`
	TotalBudget float64 `json:"total_budget,omitempty" minimum:"0"`
}

func (r CreateProgramRequest) options(actor domain.Actor) engine.ProgramCreateOptions {
	return engine.ProgramCreateOptions{
		ID:          r.ID,
		Code:        r.Code,
		Title:       r.Title,
		YearStart:   r.YearStart,
		YearEnd:     r.YearEnd,
		CommuneID:   r.CommuneID,
		ProvinceID:  r.ProvinceID,
		RegionID:    r.RegionID,
		TotalBudget: r.TotalBudget,
		Actor:       actor,
	}
}

type AddLineRequest struct {
	ID                     string                 `json:"id,omitempty"`
	Layer                  domain.Layer           `json:"layer" enum:"CONCERTED,CONTRACTED,EXECUTED"`
	CommuneID              string                 `json:"commune_id,omitempty"`
	PerimetreID            string                 `json:"perimetre_id,omitempty"`
	SiteID                 string                 `json:"site_id,omitempty"`
	ActionKey              domain.ActionKey       `json:"action_key"`
	ActionLabel            string                 `json:"action_label,omitempty"`
	Year                   int                    `json:"year"`
	Unit                   string                 `json:"unit,omitempty"`
	Quantity               float64                `json:"quantity,omitempty"`
	Budget                 float64                `json:"budget,omitempty"`
	Lineage                string                 `json:"lineage,omitempty"`
	DeviationJustification string                 `json:"deviation_justification,omitempty"`
	ExecutionDate          string                 `json:"execution_date,omitempty"`
	ExecutionStatus        domain.ExecutionStatus `json:"execution_status,omitempty"`
	ProofRefs              []string               `json:"proof_refs,omitempty"`
	Notes                  string                 `json:"notes,omitempty"`
}

func (r AddLineRequest) options(programID string, actor domain.Actor) engine.LineAddOptions {
	return engine.LineAddOptions{
		ProgramID:              programID,
		ID:                     r.ID,
		Layer:                  r.Layer,
		CommuneID:              r.CommuneID,
		PerimetreID:            r.PerimetreID,
		SiteID:                 r.SiteID,
		ActionKey:              r.ActionKey,
		ActionLabel:            r.ActionLabel,
		Year:                   r.Year,
		Unit:                   r.Unit,
		Quantity:               r.Quantity,
		Budget:                 r.Budget,
		Lineage:                r.Lineage,
		DeviationJustification: r.DeviationJustification,
		ExecutionDate:          r.ExecutionDate,
		ExecutionStatus:        r.ExecutionStatus,
		ProofRefs:              r.ProofRefs,
		Notes:                  r.Notes,
		Actor:                  actor,
	}
}

type GenerateRequest struct {
	Source domain.Layer `json:"source" enum:"CONCERTED,CONTRACTED"`
	Target domain.Layer `json:"target" enum:"CONTRACTED,EXECUTED"`
}

type QuickEntryRequest struct {
	Layer       domain.Layer     `json:"layer" enum:"CONCERTED,CONTRACTED,EXECUTED"`
	CommuneID   string           `json:"commune_id,omitempty"`
	PerimetreID string           `json:"perimetre_id,omitempty"`
	SiteID      string           `json:"site_id,omitempty"`
	ActionKey   domain.ActionKey `json:"action_key"`
	ActionLabel string           `json:"action_label,omitempty"`
	Unit        string           `json:"unit,omitempty"`
	Years       []int            `json:"years"`
	Quantity    float64          `json:"quantity"`
	Budget      float64          `json:"budget,omitempty"`
	ProofRefs   []string         `json:"proof_refs,omitempty"`
}

func (r QuickEntryRequest) options(programID string, actor domain.Actor) engine.QuickEntryOptions {
	return engine.QuickEntryOptions{
		ProgramID:   programID,
		Layer:       r.Layer,
		CommuneID:   r.CommuneID,
		PerimetreID: r.PerimetreID,
		SiteID:      r.SiteID,
		ActionKey:   r.ActionKey,
		ActionLabel: r.ActionLabel,
		Unit:        r.Unit,
		Years:       r.Years,
		Quantity:    r.Quantity,
		Budget:      r.Budget,
		ProofRefs:   r.ProofRefs,
		Actor:       actor,
	}
}

type TransitionRequest struct {
	Expected domain.ValidationStatus `json:"expected,omitempty" doc:"Status the caller last saw; stale values are rejected with 409"`
	Target   domain.ValidationStatus `json:"target" enum:"BROUILLON,CONCERTE_ADP,VALIDE_DPANEF,VALIDE_CENTRAL,VERROUILLE"`
	Note     string                  `json:"note,omitempty"`
}

type UnlockRequest struct {
	Expected      domain.ValidationStatus `json:"expected,omitempty"`
	Justification string                  `json:"justification"`
}

type CancelRequest struct {
	Expected domain.ValidationStatus `json:"expected,omitempty"`
	Reason   string                  `json:"reason"`
}

type CreateAlertRequest struct {
	ID          string             `json:"id,omitempty"`
	CommuneID   string             `json:"commune_id,omitempty"`
	PerimetreID string             `json:"perimetre_id,omitempty"`
	SiteID      string             `json:"site_id,omitempty"`
	ActionType  domain.ActionKey   `json:"action_type,omitempty"`
	Year        *int               `json:"year,omitempty"`
	Status      domain.AlertStatus `json:"status,omitempty" enum:"open,in_progress,resolved"`
	Kind        string             `json:"kind,omitempty"`
	Title       string             `json:"title,omitempty"`
}

type UpdateAlertRequest struct {
	Status domain.AlertStatus `json:"status" enum:"open,in_progress,resolved"`
}

// Response payloads

type WhoAmIResponse struct {
	ActorID   string            `json:"actor_id"`
	ActorName string            `json:"actor_name,omitempty"`
	Role      domain.ScopeLevel `json:"role,omitempty"`
	Source    string            `json:"source"`
}

type ProgramDetail struct {
	Program domain.Program      `json:"program"`
	Lines   []domain.ActionLine `json:"lines"`
}
