// Package events builds and stores the action line audit log.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"slices"

	"github.com/rotisserie/eris"

	"pdfcp/internal/domain"
)

const (
	LineCreated = "line.created"
	LineUpdated = "line.updated"
	LineDeleted = "line.deleted"
)

type Payload map[string]any

// Change is the before/after value of one field.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

func snapshot(l domain.ActionLine) Payload {
	p := Payload{
		"action_key": l.ActionKey,
		"year":       l.Year,
		"quantity":   l.Quantity,
		"budget":     l.Budget,
		"unit":       l.Unit,
	}
	if l.PerimetreID != "" {
		p["perimetre_id"] = l.PerimetreID
	}
	if l.Lineage != "" {
		p["lineage"] = l.Lineage
	}
	return p
}

func event(typ string, l domain.ActionLine, actorID, ts string, payload Payload) domain.LineEvent {
	return domain.LineEvent{
		TS:        ts,
		Type:      typ,
		ProgramID: l.ProgramID,
		LineID:    l.ID,
		Layer:     l.Layer,
		ActorID:   actorID,
		Payload:   payload,
	}
}

func Created(l domain.ActionLine, actorID, ts string) domain.LineEvent {
	return event(LineCreated, l, actorID, ts, snapshot(l))
}

func Deleted(l domain.ActionLine, actorID, ts string) domain.LineEvent {
	return event(LineDeleted, l, actorID, ts, snapshot(l))
}

// Updated records the fields that differ between before and after.
func Updated(before, after domain.ActionLine, actorID, ts string) domain.LineEvent {
	return event(LineUpdated, after, actorID, ts, Payload{"changes": Diff(before, after)})
}

// Diff lists the user-editable fields that changed.
func Diff(before, after domain.ActionLine) map[string]Change {
	out := map[string]Change{}
	add := func(name string, from, to any, changed bool) {
		if changed {
			out[name] = Change{From: from, To: to}
		}
	}
	add("commune_id", before.CommuneID, after.CommuneID, before.CommuneID != after.CommuneID)
	add("perimetre_id", before.PerimetreID, after.PerimetreID, before.PerimetreID != after.PerimetreID)
	add("site_id", before.SiteID, after.SiteID, before.SiteID != after.SiteID)
	add("action_key", before.ActionKey, after.ActionKey, before.ActionKey != after.ActionKey)
	add("action_label", before.ActionLabel, after.ActionLabel, before.ActionLabel != after.ActionLabel)
	add("year", before.Year, after.Year, before.Year != after.Year)
	add("unit", before.Unit, after.Unit, before.Unit != after.Unit)
	add("quantity", before.Quantity, after.Quantity, before.Quantity != after.Quantity)
	add("budget", before.Budget, after.Budget, before.Budget != after.Budget)
	add("lineage", before.Lineage, after.Lineage, before.Lineage != after.Lineage)
	add("deviation_justification", before.DeviationJustification, after.DeviationJustification,
		before.DeviationJustification != after.DeviationJustification)
	add("execution_date", before.ExecutionDate, after.ExecutionDate, before.ExecutionDate != after.ExecutionDate)
	add("execution_status", before.ExecutionStatus, after.ExecutionStatus, before.ExecutionStatus != after.ExecutionStatus)
	add("proof_refs", before.ProofRefs, after.ProofRefs, !slices.Equal(before.ProofRefs, after.ProofRefs))
	add("notes", before.Notes, after.Notes, before.Notes != after.Notes)
	return out
}

// Encode renders a payload for storage.
func Encode(p map[string]any) (string, error) {
	if p == nil {
		p = map[string]any{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", eris.Wrap(err, "events: marshal payload")
	}
	return string(data), nil
}

// Decode parses a stored payload.
func Decode(raw string) (map[string]any, error) {
	out := map[string]any{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, eris.Wrap(err, "events: unmarshal payload")
	}
	return out, nil
}

// Writer appends line events inside the caller's SQLite transaction.
type Writer struct{}

func (Writer) Append(ctx context.Context, tx *sql.Tx, ev domain.LineEvent) error {
	payload, err := Encode(ev.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO line_events(ts,type,program_id,line_id,layer,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ev.TS, ev.Type, ev.ProgramID, ev.LineID, string(ev.Layer), ev.ActorID, payload)
	if err != nil {
		return eris.Wrap(err, "events: append")
	}
	return nil
}
