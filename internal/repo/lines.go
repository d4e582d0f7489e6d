package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"

	"pdfcp/internal/domain"
	"pdfcp/internal/events"
)

const lineColumns = `seq,id,program_id,COALESCE(commune_id,''),COALESCE(perimetre_id,''),COALESCE(site_id,''),action_key,
COALESCE(action_label,''),year,layer,unit,quantity,budget,COALESCE(lineage,''),COALESCE(deviation_justification,''),
COALESCE(execution_date,''),COALESCE(execution_status,''),COALESCE(proof_refs_json,''),COALESCE(notes,''),locked,
created_by,created_at,COALESCE(updated_by,''),updated_at`

func scanLine(row rowScanner) (domain.ActionLine, error) {
	var (
		l                      domain.ActionLine
		actionKey, layer, exec string
		proofs                 string
	)
	err := row.Scan(&l.Seq, &l.ID, &l.ProgramID, &l.CommuneID, &l.PerimetreID, &l.SiteID, &actionKey,
		&l.ActionLabel, &l.Year, &layer, &l.Unit, &l.Quantity, &l.Budget, &l.Lineage, &l.DeviationJustification,
		&l.ExecutionDate, &exec, &proofs, &l.Notes, &l.Locked,
		&l.CreatedBy, &l.CreatedAt, &l.UpdatedBy, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.ActionKey = domain.ActionKey(actionKey)
	l.Layer = domain.Layer(layer)
	l.ExecutionStatus = domain.ExecutionStatus(exec)
	l.ProofRefs, err = decodeProofs(proofs)
	return l, err
}

func encodeProofs(refs []string) (any, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return nil, eris.Wrap(err, "repo: marshal proof refs")
	}
	return string(data), nil
}

func decodeProofs(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var refs []string
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, eris.Wrap(err, "repo: unmarshal proof refs")
	}
	return refs, nil
}

// InsertActionLines appends lines and their audit events in one
// transaction and returns them with their insertion sequence. CONCERTED
// lines are refused while the program is locked.
func (r Repo) InsertActionLines(ctx context.Context, lines []domain.ActionLine, evts []domain.LineEvent) ([]domain.ActionLine, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "repo: begin")
	}
	defer tx.Rollback()

	guarded := map[string]bool{}
	out := make([]domain.ActionLine, 0, len(lines))
	for _, l := range lines {
		if !guarded[l.ProgramID] {
			if err := lineInsertGuard(ctx, tx, l.ProgramID, lines); err != nil {
				return nil, err
			}
			guarded[l.ProgramID] = true
		}
		proofs, err := encodeProofs(l.ProofRefs)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO action_lines(id,program_id,commune_id,perimetre_id,site_id,action_key,action_label,year,layer,unit,
quantity,budget,lineage,deviation_justification,execution_date,execution_status,proof_refs_json,notes,locked,created_by,created_at,updated_by,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			l.ID, l.ProgramID, nullable(l.CommuneID), nullable(l.PerimetreID), nullable(l.SiteID), string(l.ActionKey), nullable(l.ActionLabel),
			l.Year, string(l.Layer), l.Unit, l.Quantity, l.Budget, nullable(l.Lineage), nullable(l.DeviationJustification),
			nullable(l.ExecutionDate), nullable(string(l.ExecutionStatus)), proofs, nullable(l.Notes), l.Locked,
			l.CreatedBy, l.CreatedAt, nullable(l.UpdatedBy), l.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "repo: insert action line")
		}
		if l.Seq, err = res.LastInsertId(); err != nil {
			return nil, eris.Wrap(err, "repo: action line seq")
		}
		out = append(out, l)
	}
	for _, ev := range evts {
		if err := r.Events.Append(ctx, tx, ev); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "repo: commit")
	}
	return out, nil
}

func lineInsertGuard(ctx context.Context, tx *sql.Tx, programID string, lines []domain.ActionLine) error {
	var locked, archived bool
	err := tx.QueryRowContext(ctx, `SELECT locked,archived FROM programs WHERE id=?`, programID).Scan(&locked, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "repo: read program lock")
	}
	if archived {
		return &domain.LockedError{Subject: "program", ID: programID, Reason: "program is archived"}
	}
	if !locked {
		return nil
	}
	for _, l := range lines {
		if l.ProgramID == programID && l.Layer == domain.LayerConcerted {
			return &domain.LockedError{Subject: "program", ID: programID, Reason: "concerted lines are locked"}
		}
	}
	return nil
}

func (r Repo) GetActionLine(ctx context.Context, programID, id string) (domain.ActionLine, error) {
	l, err := scanLine(r.DB.QueryRowContext(ctx, `SELECT `+lineColumns+` FROM action_lines WHERE program_id=? AND id=?`, programID, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return l, eris.Wrap(err, "repo: get action line")
	}
	return l, err
}

// ListActionLines returns the program's lines ordered by year, action key
// and insertion sequence.
func (r Repo) ListActionLines(ctx context.Context, programID string, layer *domain.Layer) ([]domain.ActionLine, error) {
	query := `SELECT ` + lineColumns + ` FROM action_lines WHERE program_id=?`
	args := []any{programID}
	if layer != nil {
		query += ` AND layer=?`
		args = append(args, string(*layer))
	}
	query += ` ORDER BY year, action_key, seq`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repo: list action lines")
	}
	defer rows.Close()
	var res []domain.ActionLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repo: scan action line")
		}
		res = append(res, l)
	}
	return res, eris.Wrap(rows.Err(), "repo: list action lines")
}

// UpdateActionLine rewrites a line unless it is locked. A locked line is
// reported as LockedError, a missing one as ErrNotFound.
func (r Repo) UpdateActionLine(ctx context.Context, l domain.ActionLine, ev domain.LineEvent) error {
	proofs, err := encodeProofs(l.ProofRefs)
	if err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "repo: begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE action_lines SET commune_id=?,perimetre_id=?,site_id=?,action_key=?,action_label=?,year=?,unit=?,
quantity=?,budget=?,lineage=?,deviation_justification=?,execution_date=?,execution_status=?,proof_refs_json=?,notes=?,updated_by=?,updated_at=?
WHERE program_id=? AND id=? AND locked=0`,
		nullable(l.CommuneID), nullable(l.PerimetreID), nullable(l.SiteID), string(l.ActionKey), nullable(l.ActionLabel), l.Year, l.Unit,
		l.Quantity, l.Budget, nullable(l.Lineage), nullable(l.DeviationJustification), nullable(l.ExecutionDate),
		nullable(string(l.ExecutionStatus)), proofs, nullable(l.Notes), nullable(l.UpdatedBy), l.UpdatedAt,
		l.ProgramID, l.ID)
	if err != nil {
		return eris.Wrap(err, "repo: update action line")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lineGuard(ctx, tx, l.ProgramID, l.ID)
	}
	if err := r.Events.Append(ctx, tx, ev); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "repo: commit")
}

// DeleteActionLine removes a line unless it is locked.
func (r Repo) DeleteActionLine(ctx context.Context, programID, id string, ev domain.LineEvent) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "repo: begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM action_lines WHERE program_id=? AND id=? AND locked=0`, programID, id)
	if err != nil {
		return eris.Wrap(err, "repo: delete action line")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lineGuard(ctx, tx, programID, id)
	}
	if err := r.Events.Append(ctx, tx, ev); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "repo: commit")
}

func lineGuard(ctx context.Context, tx *sql.Tx, programID, id string) error {
	var locked bool
	err := tx.QueryRowContext(ctx, `SELECT locked FROM action_lines WHERE program_id=? AND id=?`, programID, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "repo: read line lock")
	}
	return &domain.LockedError{Subject: "action line", ID: id, Reason: "program validation is locked"}
}

// ListLineEvents returns the newest audit events of a program first.
func (r Repo) ListLineEvents(ctx context.Context, programID string, limit int) ([]domain.LineEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,program_id,line_id,layer,actor_id,payload_json FROM line_events
WHERE program_id=? ORDER BY id DESC LIMIT ?`, programID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "repo: list line events")
	}
	defer rows.Close()
	var res []domain.LineEvent
	for rows.Next() {
		var (
			ev             domain.LineEvent
			layer, payload string
		)
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.ProgramID, &ev.LineID, &layer, &ev.ActorID, &payload); err != nil {
			return nil, eris.Wrap(err, "repo: scan line event")
		}
		ev.Layer = domain.Layer(layer)
		if ev.Payload, err = events.Decode(payload); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, eris.Wrap(rows.Err(), "repo: list line events")
}
