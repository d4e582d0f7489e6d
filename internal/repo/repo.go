// Package repo persists programs, action lines and their audit trails.
// Repo is the embedded SQLite store; PostgresRepo serves shared
// deployments. Both satisfy engine.Store.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"pdfcp/internal/domain"
	"pdfcp/internal/events"
)

type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var ErrNotFound = domain.ErrNotFound

const programColumns = `id,code,title,year_start,year_end,COALESCE(commune_id,''),COALESCE(province_id,''),COALESCE(region_id,''),
total_budget,validation_status,locked,archived,COALESCE(unlock_justification,''),COALESCE(unlocked_by,''),COALESCE(unlocked_at,''),
COALESCE(cancellation_reason,''),created_by,created_at,COALESCE(updated_by,''),updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(row rowScanner) (domain.Program, error) {
	var p domain.Program
	var status string
	err := row.Scan(&p.ID, &p.Code, &p.Title, &p.YearStart, &p.YearEnd, &p.CommuneID, &p.ProvinceID, &p.RegionID,
		&p.TotalBudget, &status, &p.Locked, &p.Archived, &p.UnlockJustification, &p.UnlockedBy, &p.UnlockedAt,
		&p.CancellationReason, &p.CreatedBy, &p.CreatedAt, &p.UpdatedBy, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	p.ValidationStatus = domain.ValidationStatus(status)
	return p, err
}

// InsertProgram stores a new program with its "created" history entry.
func (r Repo) InsertProgram(ctx context.Context, p domain.Program, created domain.ValidationHistoryEntry) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "repo: begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO programs(id,code,title,year_start,year_end,commune_id,province_id,region_id,total_budget,
validation_status,locked,archived,created_by,created_at,updated_by,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Code, p.Title, p.YearStart, p.YearEnd, nullable(p.CommuneID), nullable(p.ProvinceID), nullable(p.RegionID),
		p.TotalBudget, string(p.ValidationStatus), p.Locked, p.Archived, p.CreatedBy, p.CreatedAt, nullable(p.UpdatedBy), p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewValidationError(domain.RuleRequired, "code", "program code %s already exists", p.Code)
		}
		return eris.Wrap(err, "repo: insert program")
	}
	if err := insertHistory(ctx, tx, created); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "repo: commit")
}

func (r Repo) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	p, err := scanProgram(r.DB.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE id=?`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return p, eris.Wrap(err, "repo: get program")
	}
	return p, err
}

// GetProgramByCode resolves a program from its human code.
func (r Repo) GetProgramByCode(ctx context.Context, code string) (domain.Program, error) {
	p, err := scanProgram(r.DB.QueryRowContext(ctx, `SELECT `+programColumns+` FROM programs WHERE code=?`, code))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return p, eris.Wrap(err, "repo: get program by code")
	}
	return p, err
}

func (r Repo) ListPrograms(ctx context.Context, f domain.ProgramFilter) ([]domain.Program, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "validation_status=?")
		args = append(args, string(f.Status))
	}
	if f.CommuneID != "" {
		where = append(where, "commune_id=?")
		args = append(args, f.CommuneID)
	}
	if !f.IncludeArchived {
		where = append(where, "archived=0")
	}
	query := `SELECT ` + programColumns + ` FROM programs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY code"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repo: list programs")
	}
	defer rows.Close()
	var res []domain.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, eris.Wrap(err, "repo: scan program")
		}
		res = append(res, p)
	}
	return res, eris.Wrap(rows.Err(), "repo: list programs")
}

// UpdateProgram writes program metadata. Workflow fields are never touched
// here; a locked or archived program is rejected.
func (r Repo) UpdateProgram(ctx context.Context, p domain.Program) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE programs SET code=?,title=?,year_start=?,year_end=?,commune_id=?,province_id=?,region_id=?,
total_budget=?,updated_by=?,updated_at=? WHERE id=? AND locked=0 AND archived=0`,
		p.Code, p.Title, p.YearStart, p.YearEnd, nullable(p.CommuneID), nullable(p.ProvinceID), nullable(p.RegionID),
		p.TotalBudget, nullable(p.UpdatedBy), p.UpdatedAt, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewValidationError(domain.RuleRequired, "code", "program code %s already exists", p.Code)
		}
		return eris.Wrap(err, "repo: update program")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.programGuard(ctx, r.DB, p.ID)
	}
	return nil
}

// ArchiveProgram flags the program archived and appends the history entry.
func (r Repo) ArchiveProgram(ctx context.Context, id string, entry domain.ValidationHistoryEntry) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "repo: begin")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE programs SET archived=1,updated_by=?,updated_at=? WHERE id=? AND archived=0`,
		nullable(entry.ActorID), entry.CreatedAt, id)
	if err != nil {
		return eris.Wrap(err, "repo: archive program")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.programGuard(ctx, tx, id)
	}
	if err := insertHistory(ctx, tx, entry); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "repo: commit")
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// programGuard explains why a guarded program write touched no row.
func (r Repo) programGuard(ctx context.Context, q querier, id string) error {
	var locked, archived bool
	err := q.QueryRowContext(ctx, `SELECT locked,archived FROM programs WHERE id=?`, id).Scan(&locked, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "repo: read program guard")
	}
	switch {
	case locked:
		return &domain.LockedError{Subject: "program", ID: id, Reason: "validation is locked"}
	case archived:
		return &domain.LockedError{Subject: "program", ID: id, Reason: "program is archived"}
	}
	return fmt.Errorf("program %s was not updated", id)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
