package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"pdfcp/internal/domain"
)

func insertHistory(ctx context.Context, tx *sql.Tx, h domain.ValidationHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO validation_history(id,program_id,action,from_status,to_status,note,actor_id,actor_name,actor_role,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		h.ID, h.ProgramID, string(h.Action), nullable(string(h.FromStatus)), string(h.ToStatus), nullable(h.Note),
		h.ActorID, nullable(h.ActorName), nullable(string(h.ActorRole)), h.CreatedAt)
	return eris.Wrap(err, "repo: insert validation history")
}

// ApplyStatusChange performs the compare-and-swap on validation_status,
// cascades the lock onto the program's CONCERTED lines and appends the
// history entry, all in one transaction. A stale expected status yields
// ConflictError.
func (r Repo) ApplyStatusChange(ctx context.Context, sc domain.StatusChange) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "repo: begin")
	}
	defer tx.Rollback()

	h := sc.Entry
	res, err := tx.ExecContext(ctx, `UPDATE programs SET validation_status=?,locked=?,
unlock_justification=COALESCE(?,unlock_justification),unlocked_by=COALESCE(?,unlocked_by),unlocked_at=COALESCE(?,unlocked_at),
cancellation_reason=COALESCE(?,cancellation_reason),updated_by=?,updated_at=?
WHERE id=? AND validation_status=? AND archived=0`,
		string(sc.Target), sc.Locked,
		nullable(sc.UnlockJustification), unlockField(sc, h.ActorID), unlockField(sc, h.CreatedAt),
		nullable(sc.CancellationReason), nullable(h.ActorID), h.CreatedAt,
		sc.ProgramID, string(sc.Expected))
	if err != nil {
		return eris.Wrap(err, "repo: update program status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return statusConflict(ctx, tx, sc)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE action_lines SET locked=? WHERE program_id=? AND layer=?`,
		sc.Locked, sc.ProgramID, string(domain.LayerConcerted)); err != nil {
		return eris.Wrap(err, "repo: cascade line locks")
	}
	if err := insertHistory(ctx, tx, h); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "repo: commit")
}

func unlockField(sc domain.StatusChange, v string) any {
	if sc.UnlockJustification == "" {
		return nil
	}
	return nullable(v)
}

func statusConflict(ctx context.Context, tx *sql.Tx, sc domain.StatusChange) error {
	var actual string
	var archived bool
	err := tx.QueryRowContext(ctx, `SELECT validation_status,archived FROM programs WHERE id=?`, sc.ProgramID).Scan(&actual, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "repo: read program status")
	}
	if archived {
		return &domain.LockedError{Subject: "program", ID: sc.ProgramID, Reason: "program is archived"}
	}
	return &domain.ConflictError{ProgramID: sc.ProgramID, Expected: sc.Expected, Actual: domain.ValidationStatus(actual)}
}

// ListValidationHistory returns entries in the order they were accepted.
func (r Repo) ListValidationHistory(ctx context.Context, programID string) ([]domain.ValidationHistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT seq,id,program_id,action,COALESCE(from_status,''),to_status,COALESCE(note,''),actor_id,
COALESCE(actor_name,''),COALESCE(actor_role,''),created_at FROM validation_history WHERE program_id=? ORDER BY seq`, programID)
	if err != nil {
		return nil, eris.Wrap(err, "repo: list validation history")
	}
	defer rows.Close()
	var res []domain.ValidationHistoryEntry
	for rows.Next() {
		var (
			h                      domain.ValidationHistoryEntry
			action, from, to, role string
		)
		if err := rows.Scan(&h.Seq, &h.ID, &h.ProgramID, &action, &from, &to, &h.Note, &h.ActorID, &h.ActorName, &role, &h.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "repo: scan validation history")
		}
		h.Action = domain.HistoryAction(action)
		h.FromStatus = domain.ValidationStatus(from)
		h.ToStatus = domain.ValidationStatus(to)
		h.ActorRole = domain.ScopeLevel(role)
		res = append(res, h)
	}
	return res, eris.Wrap(rows.Err(), "repo: list validation history")
}
