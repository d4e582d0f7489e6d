package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"pdfcp/internal/alerts"
	"pdfcp/internal/domain"
	"pdfcp/internal/events"
)

// Pool is the subset of pgxpool.Pool the Postgres store needs. pgxmock
// pools satisfy it too.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresRepo stores programs in a shared PostgreSQL database.
type PostgresRepo struct {
	pool Pool
}

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres connects, pings and returns a PostgresRepo.
func NewPostgres(ctx context.Context, connString string, poolCfg PoolConfig) (*PostgresRepo, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	if poolCfg.MaxConns > 0 {
		pgxCfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		pgxCfg.MinConns = poolCfg.MinConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresRepo{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

func (s *PostgresRepo) Close() {
	s.pool.Close()
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS programs (
	id                   TEXT PRIMARY KEY,
	code                 TEXT NOT NULL UNIQUE,
	title                TEXT NOT NULL,
	year_start           INTEGER NOT NULL,
	year_end             INTEGER NOT NULL,
	commune_id           TEXT,
	province_id          TEXT,
	region_id            TEXT,
	total_budget         DOUBLE PRECISION NOT NULL DEFAULT 0,
	validation_status    TEXT NOT NULL DEFAULT 'BROUILLON',
	locked               BOOLEAN NOT NULL DEFAULT false,
	archived             BOOLEAN NOT NULL DEFAULT false,
	unlock_justification TEXT,
	unlocked_by          TEXT,
	unlocked_at          TEXT,
	cancellation_reason  TEXT,
	created_by           TEXT NOT NULL,
	created_at           TEXT NOT NULL,
	updated_by           TEXT,
	updated_at           TEXT NOT NULL,
	CHECK (year_end >= year_start),
	CHECK (locked = (validation_status = 'VERROUILLE'))
);

CREATE TABLE IF NOT EXISTS action_lines (
	seq                     BIGSERIAL PRIMARY KEY,
	id                      TEXT NOT NULL UNIQUE,
	program_id              TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
	commune_id              TEXT,
	perimetre_id            TEXT,
	site_id                 TEXT,
	action_key              TEXT NOT NULL,
	action_label            TEXT,
	year                    INTEGER NOT NULL,
	layer                   TEXT NOT NULL CHECK (layer IN ('CONCERTED','CONTRACTED','EXECUTED')),
	unit                    TEXT NOT NULL,
	quantity                DOUBLE PRECISION NOT NULL CHECK (quantity >= 0),
	budget                  DOUBLE PRECISION NOT NULL CHECK (budget >= 0),
	lineage                 TEXT,
	deviation_justification TEXT,
	execution_date          TEXT,
	execution_status        TEXT,
	proof_refs              JSONB,
	notes                   TEXT,
	locked                  BOOLEAN NOT NULL DEFAULT false,
	created_by              TEXT NOT NULL,
	created_at              TEXT NOT NULL,
	updated_by              TEXT,
	updated_at              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_lines_program_layer ON action_lines(program_id, layer);

CREATE TABLE IF NOT EXISTS validation_history (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	program_id  TEXT NOT NULL REFERENCES programs(id) ON DELETE CASCADE,
	action      TEXT NOT NULL,
	from_status TEXT,
	to_status   TEXT NOT NULL,
	note        TEXT,
	actor_id    TEXT NOT NULL,
	actor_name  TEXT,
	actor_role  TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validation_history_program ON validation_history(program_id, seq);

CREATE TABLE IF NOT EXISTS line_events (
	id         BIGSERIAL PRIMARY KEY,
	ts         TEXT NOT NULL,
	type       TEXT NOT NULL,
	program_id TEXT NOT NULL,
	line_id    TEXT NOT NULL,
	layer      TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	payload    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_line_events_program ON line_events(program_id, id);

CREATE TABLE IF NOT EXISTS field_alerts (
	id           TEXT PRIMARY KEY,
	commune_id   TEXT,
	perimetre_id TEXT,
	site_id      TEXT,
	action_type  TEXT,
	year         INTEGER,
	status       TEXT NOT NULL DEFAULT 'open',
	kind         TEXT,
	title        TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_field_alerts_status ON field_alerts(status, commune_id);

CREATE TABLE IF NOT EXISTS actors (
	id         TEXT PRIMARY KEY,
	name       TEXT,
	role       TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id         TEXT PRIMARY KEY,
	actor_id   TEXT NOT NULL REFERENCES actors(id) ON DELETE CASCADE,
	name       TEXT,
	key_hash   TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);
`

// Migrate creates the schema when missing.
func (s *PostgresRepo) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func pgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// args numbers positional parameters while a query is assembled.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

func (s *PostgresRepo) InsertProgram(ctx context.Context, p domain.Program, created domain.ValidationHistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `INSERT INTO programs (id, code, title, year_start, year_end, commune_id, province_id, region_id, total_budget,
		validation_status, locked, archived, created_by, created_at, updated_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.ID, p.Code, p.Title, p.YearStart, p.YearEnd, nullable(p.CommuneID), nullable(p.ProvinceID), nullable(p.RegionID),
		p.TotalBudget, string(p.ValidationStatus), p.Locked, p.Archived, p.CreatedBy, p.CreatedAt, nullable(p.UpdatedBy), p.UpdatedAt)
	if err != nil {
		if pgUniqueViolation(err) {
			return domain.NewValidationError(domain.RuleRequired, "code", "program code %s already exists", p.Code)
		}
		return eris.Wrap(err, "postgres: insert program")
	}
	if err := pgInsertHistory(ctx, tx, created); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresRepo) GetProgram(ctx context.Context, id string) (domain.Program, error) {
	return s.getProgram(ctx, `id`, id)
}

func (s *PostgresRepo) GetProgramByCode(ctx context.Context, code string) (domain.Program, error) {
	return s.getProgram(ctx, `code`, code)
}

func (s *PostgresRepo) getProgram(ctx context.Context, col, v string) (domain.Program, error) {
	p, err := scanProgram(s.pool.QueryRow(ctx, `SELECT `+programColumns+` FROM programs WHERE `+col+` = $1`, v))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return p, eris.Wrap(err, "postgres: get program")
	}
	return p, err
}

func (s *PostgresRepo) ListPrograms(ctx context.Context, f domain.ProgramFilter) ([]domain.Program, error) {
	var (
		where []string
		a     args
	)
	if f.Status != "" {
		where = append(where, "validation_status = "+a.add(string(f.Status)))
	}
	if f.CommuneID != "" {
		where = append(where, "commune_id = "+a.add(f.CommuneID))
	}
	if !f.IncludeArchived {
		where = append(where, "NOT archived")
	}
	query := `SELECT ` + programColumns + ` FROM programs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY code"
	rows, err := s.pool.Query(ctx, query, a...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list programs")
	}
	defer rows.Close()
	var res []domain.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan program")
		}
		res = append(res, p)
	}
	return res, eris.Wrap(rows.Err(), "postgres: list programs")
}

func (s *PostgresRepo) UpdateProgram(ctx context.Context, p domain.Program) error {
	tag, err := s.pool.Exec(ctx, `UPDATE programs SET code = $1, title = $2, year_start = $3, year_end = $4, commune_id = $5,
		province_id = $6, region_id = $7, total_budget = $8, updated_by = $9, updated_at = $10
		WHERE id = $11 AND NOT locked AND NOT archived`,
		p.Code, p.Title, p.YearStart, p.YearEnd, nullable(p.CommuneID), nullable(p.ProvinceID), nullable(p.RegionID),
		p.TotalBudget, nullable(p.UpdatedBy), p.UpdatedAt, p.ID)
	if err != nil {
		if pgUniqueViolation(err) {
			return domain.NewValidationError(domain.RuleRequired, "code", "program code %s already exists", p.Code)
		}
		return eris.Wrap(err, "postgres: update program")
	}
	if tag.RowsAffected() == 0 {
		return pgProgramGuard(ctx, s.pool, p.ID)
	}
	return nil
}

func (s *PostgresRepo) ArchiveProgram(ctx context.Context, id string, entry domain.ValidationHistoryEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE programs SET archived = true, updated_by = $1, updated_at = $2 WHERE id = $3 AND NOT archived`,
		nullable(entry.ActorID), entry.CreatedAt, id)
	if err != nil {
		return eris.Wrap(err, "postgres: archive program")
	}
	if tag.RowsAffected() == 0 {
		return pgProgramGuard(ctx, tx, id)
	}
	if err := pgInsertHistory(ctx, tx, entry); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgProgramGuard(ctx context.Context, q pgQuerier, id string) error {
	var locked, archived bool
	err := q.QueryRow(ctx, `SELECT locked, archived FROM programs WHERE id = $1`, id).Scan(&locked, &archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "postgres: read program guard")
	}
	switch {
	case locked:
		return &domain.LockedError{Subject: "program", ID: id, Reason: "validation is locked"}
	case archived:
		return &domain.LockedError{Subject: "program", ID: id, Reason: "program is archived"}
	}
	return fmt.Errorf("program %s was not updated", id)
}

const pgLineColumns = `seq, id, program_id, COALESCE(commune_id, ''), COALESCE(perimetre_id, ''), COALESCE(site_id, ''), action_key,
	COALESCE(action_label, ''), year, layer, unit, quantity, budget, COALESCE(lineage, ''), COALESCE(deviation_justification, ''),
	COALESCE(execution_date, ''), COALESCE(execution_status, ''), COALESCE(proof_refs::text, ''), COALESCE(notes, ''), locked,
	created_by, created_at, COALESCE(updated_by, ''), updated_at`

func (s *PostgresRepo) InsertActionLines(ctx context.Context, lines []domain.ActionLine, evts []domain.LineEvent) ([]domain.ActionLine, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	guarded := map[string]bool{}
	out := make([]domain.ActionLine, 0, len(lines))
	for _, l := range lines {
		if !guarded[l.ProgramID] {
			if err := pgLineInsertGuard(ctx, tx, l.ProgramID, lines); err != nil {
				return nil, err
			}
			guarded[l.ProgramID] = true
		}
		proofs, err := encodeProofs(l.ProofRefs)
		if err != nil {
			return nil, err
		}
		err = tx.QueryRow(ctx, `INSERT INTO action_lines (id, program_id, commune_id, perimetre_id, site_id, action_key, action_label, year,
			layer, unit, quantity, budget, lineage, deviation_justification, execution_date, execution_status, proof_refs, notes, locked,
			created_by, created_at, updated_by, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17::jsonb, $18, $19, $20, $21, $22, $23)
			RETURNING seq`,
			l.ID, l.ProgramID, nullable(l.CommuneID), nullable(l.PerimetreID), nullable(l.SiteID), string(l.ActionKey), nullable(l.ActionLabel),
			l.Year, string(l.Layer), l.Unit, l.Quantity, l.Budget, nullable(l.Lineage), nullable(l.DeviationJustification),
			nullable(l.ExecutionDate), nullable(string(l.ExecutionStatus)), proofs, nullable(l.Notes), l.Locked,
			l.CreatedBy, l.CreatedAt, nullable(l.UpdatedBy), l.UpdatedAt).Scan(&l.Seq)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert action line")
		}
		out = append(out, l)
	}
	for _, ev := range evts {
		if err := pgAppendEvent(ctx, tx, ev); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit")
	}
	return out, nil
}

func pgLineInsertGuard(ctx context.Context, tx pgx.Tx, programID string, lines []domain.ActionLine) error {
	var locked, archived bool
	err := tx.QueryRow(ctx, `SELECT locked, archived FROM programs WHERE id = $1 FOR UPDATE`, programID).Scan(&locked, &archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "postgres: read program lock")
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

func (s *PostgresRepo) GetActionLine(ctx context.Context, programID, id string) (domain.ActionLine, error) {
	l, err := scanLine(s.pool.QueryRow(ctx, `SELECT `+pgLineColumns+` FROM action_lines WHERE program_id = $1 AND id = $2`, programID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return l, ErrNotFound
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return l, eris.Wrap(err, "postgres: get action line")
	}
	return l, err
}

func (s *PostgresRepo) ListActionLines(ctx context.Context, programID string, layer *domain.Layer) ([]domain.ActionLine, error) {
	a := args{programID}
	query := `SELECT ` + pgLineColumns + ` FROM action_lines WHERE program_id = $1`
	if layer != nil {
		query += ` AND layer = ` + a.add(string(*layer))
	}
	query += ` ORDER BY year, action_key, seq`
	rows, err := s.pool.Query(ctx, query, a...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list action lines")
	}
	defer rows.Close()
	var res []domain.ActionLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan action line")
		}
		res = append(res, l)
	}
	return res, eris.Wrap(rows.Err(), "postgres: list action lines")
}

func (s *PostgresRepo) UpdateActionLine(ctx context.Context, l domain.ActionLine, ev domain.LineEvent) error {
	proofs, err := encodeProofs(l.ProofRefs)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `UPDATE action_lines SET commune_id = $1, perimetre_id = $2, site_id = $3, action_key = $4, action_label = $5,
		year = $6, unit = $7, quantity = $8, budget = $9, lineage = $10, deviation_justification = $11, execution_date = $12,
		execution_status = $13, proof_refs = $14::jsonb, notes = $15, updated_by = $16, updated_at = $17
		WHERE program_id = $18 AND id = $19 AND NOT locked`,
		nullable(l.CommuneID), nullable(l.PerimetreID), nullable(l.SiteID), string(l.ActionKey), nullable(l.ActionLabel),
		l.Year, l.Unit, l.Quantity, l.Budget, nullable(l.Lineage), nullable(l.DeviationJustification), nullable(l.ExecutionDate),
		nullable(string(l.ExecutionStatus)), proofs, nullable(l.Notes), nullable(l.UpdatedBy), l.UpdatedAt,
		l.ProgramID, l.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: update action line")
	}
	if tag.RowsAffected() == 0 {
		return pgLineGuard(ctx, tx, l.ProgramID, l.ID)
	}
	if err := pgAppendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresRepo) DeleteActionLine(ctx context.Context, programID, id string, ev domain.LineEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM action_lines WHERE program_id = $1 AND id = $2 AND NOT locked`, programID, id)
	if err != nil {
		return eris.Wrap(err, "postgres: delete action line")
	}
	if tag.RowsAffected() == 0 {
		return pgLineGuard(ctx, tx, programID, id)
	}
	if err := pgAppendEvent(ctx, tx, ev); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func pgLineGuard(ctx context.Context, tx pgx.Tx, programID, id string) error {
	var locked bool
	err := tx.QueryRow(ctx, `SELECT locked FROM action_lines WHERE program_id = $1 AND id = $2`, programID, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "postgres: read line lock")
	}
	return &domain.LockedError{Subject: "action line", ID: id, Reason: "program validation is locked"}
}

func pgAppendEvent(ctx context.Context, tx pgx.Tx, ev domain.LineEvent) error {
	payload, err := events.Encode(ev.Payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO line_events (ts, type, program_id, line_id, layer, actor_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
		ev.TS, ev.Type, ev.ProgramID, ev.LineID, string(ev.Layer), ev.ActorID, payload)
	return eris.Wrap(err, "postgres: append line event")
}

func (s *PostgresRepo) ListLineEvents(ctx context.Context, programID string, limit int) ([]domain.LineEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT id, ts, type, program_id, line_id, layer, actor_id, payload::text FROM line_events
		WHERE program_id = $1 ORDER BY id DESC LIMIT $2`, programID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list line events")
	}
	defer rows.Close()
	var res []domain.LineEvent
	for rows.Next() {
		var (
			ev             domain.LineEvent
			layer, payload string
		)
		if err := rows.Scan(&ev.ID, &ev.TS, &ev.Type, &ev.ProgramID, &ev.LineID, &layer, &ev.ActorID, &payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan line event")
		}
		ev.Layer = domain.Layer(layer)
		if ev.Payload, err = events.Decode(payload); err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, eris.Wrap(rows.Err(), "postgres: list line events")
}

func pgInsertHistory(ctx context.Context, tx pgx.Tx, h domain.ValidationHistoryEntry) error {
	_, err := tx.Exec(ctx, `INSERT INTO validation_history (id, program_id, action, from_status, to_status, note, actor_id, actor_name,
		actor_role, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.ID, h.ProgramID, string(h.Action), nullable(string(h.FromStatus)), string(h.ToStatus), nullable(h.Note),
		h.ActorID, nullable(h.ActorName), nullable(string(h.ActorRole)), h.CreatedAt)
	return eris.Wrap(err, "postgres: insert validation history")
}

// ApplyStatusChange is the Postgres form of the status compare-and-swap.
func (s *PostgresRepo) ApplyStatusChange(ctx context.Context, sc domain.StatusChange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	h := sc.Entry
	tag, err := tx.Exec(ctx, `UPDATE programs SET validation_status = $1, locked = $2,
		unlock_justification = COALESCE($3, unlock_justification), unlocked_by = COALESCE($4, unlocked_by),
		unlocked_at = COALESCE($5, unlocked_at), cancellation_reason = COALESCE($6, cancellation_reason),
		updated_by = $7, updated_at = $8
		WHERE id = $9 AND validation_status = $10 AND NOT archived`,
		string(sc.Target), sc.Locked,
		nullable(sc.UnlockJustification), unlockField(sc, h.ActorID), unlockField(sc, h.CreatedAt),
		nullable(sc.CancellationReason), nullable(h.ActorID), h.CreatedAt,
		sc.ProgramID, string(sc.Expected))
	if err != nil {
		return eris.Wrap(err, "postgres: update program status")
	}
	if tag.RowsAffected() == 0 {
		return pgStatusConflict(ctx, tx, sc)
	}
	if _, err := tx.Exec(ctx, `UPDATE action_lines SET locked = $1 WHERE program_id = $2 AND layer = $3`,
		sc.Locked, sc.ProgramID, string(domain.LayerConcerted)); err != nil {
		return eris.Wrap(err, "postgres: cascade line locks")
	}
	if err := pgInsertHistory(ctx, tx, h); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func pgStatusConflict(ctx context.Context, tx pgx.Tx, sc domain.StatusChange) error {
	var (
		actual   string
		archived bool
	)
	err := tx.QueryRow(ctx, `SELECT validation_status, archived FROM programs WHERE id = $1`, sc.ProgramID).Scan(&actual, &archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "postgres: read program status")
	}
	if archived {
		return &domain.LockedError{Subject: "program", ID: sc.ProgramID, Reason: "program is archived"}
	}
	return &domain.ConflictError{ProgramID: sc.ProgramID, Expected: sc.Expected, Actual: domain.ValidationStatus(actual)}
}

func (s *PostgresRepo) ListValidationHistory(ctx context.Context, programID string) ([]domain.ValidationHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT seq, id, program_id, action, COALESCE(from_status, ''), to_status, COALESCE(note, ''), actor_id,
		COALESCE(actor_name, ''), COALESCE(actor_role, ''), created_at FROM validation_history WHERE program_id = $1 ORDER BY seq`, programID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list validation history")
	}
	defer rows.Close()
	var res []domain.ValidationHistoryEntry
	for rows.Next() {
		var (
			h                      domain.ValidationHistoryEntry
			action, from, to, role string
		)
		if err := rows.Scan(&h.Seq, &h.ID, &h.ProgramID, &action, &from, &to, &h.Note, &h.ActorID, &h.ActorName, &role, &h.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan validation history")
		}
		h.Action = domain.HistoryAction(action)
		h.FromStatus = domain.ValidationStatus(from)
		h.ToStatus = domain.ValidationStatus(to)
		h.ActorRole = domain.ScopeLevel(role)
		res = append(res, h)
	}
	return res, eris.Wrap(rows.Err(), "postgres: list validation history")
}

// ListOpenAlerts implements alerts.Provider against the shared alert table.
func (s *PostgresRepo) ListOpenAlerts(ctx context.Context, f alerts.Filter) ([]domain.Alert, error) {
	return s.listAlerts(ctx, f, true)
}

func (s *PostgresRepo) ListAlerts(ctx context.Context, f alerts.Filter) ([]domain.Alert, error) {
	return s.listAlerts(ctx, f, false)
}

func (s *PostgresRepo) listAlerts(ctx context.Context, f alerts.Filter, openOnly bool) ([]domain.Alert, error) {
	var (
		a     args
		where []string
	)
	if openOnly {
		where = append(where, "status <> "+a.add(string(domain.AlertResolved)))
	}
	if len(f.CommuneIDs) > 0 {
		where = append(where, "(commune_id IS NULL OR commune_id = ANY("+a.add(f.CommuneIDs)+"))")
	}
	if f.YearFrom > 0 {
		where = append(where, "(year IS NULL OR year >= "+a.add(f.YearFrom)+")")
	}
	if f.YearTo > 0 {
		where = append(where, "(year IS NULL OR year <= "+a.add(f.YearTo)+")")
	}
	query := `SELECT id, COALESCE(commune_id, ''), COALESCE(perimetre_id, ''), COALESCE(site_id, ''),
		COALESCE(action_type, ''), year, status, COALESCE(kind, ''), COALESCE(title, ''), created_at
		FROM field_alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := s.pool.Query(ctx, query+" ORDER BY created_at, id", a...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()
	var res []domain.Alert
	for rows.Next() {
		var (
			al             domain.Alert
			action, status string
			year           *int32
		)
		if err := rows.Scan(&al.ID, &al.CommuneID, &al.PerimetreID, &al.SiteID, &action, &year, &status, &al.Kind, &al.Title, &al.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		al.ActionType = domain.ActionKey(action)
		al.Status = domain.AlertStatus(status)
		if year != nil {
			y := int(*year)
			al.Year = &y
		}
		res = append(res, al)
	}
	return res, eris.Wrap(rows.Err(), "postgres: list alerts")
}

func (s *PostgresRepo) UpdateAlertStatus(ctx context.Context, id string, status domain.AlertStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE field_alerts SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return eris.Wrap(err, "postgres: update alert")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresRepo) InsertAlert(ctx context.Context, al domain.Alert) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO field_alerts (id, commune_id, perimetre_id, site_id, action_type, year, status, kind, title, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		al.ID, nullable(al.CommuneID), nullable(al.PerimetreID), nullable(al.SiteID), nullable(string(al.ActionType)),
		nullableInt(al.Year), string(al.Status), nullable(al.Kind), nullable(al.Title), al.CreatedAt)
	return eris.Wrap(err, "postgres: insert alert")
}

func (s *PostgresRepo) UpsertActor(ctx context.Context, a domain.Actor, now string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO actors (id, name, role, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role`,
		a.ID, nullable(a.Name), string(a.Role), now)
	return eris.Wrap(err, "postgres: upsert actor")
}

func (s *PostgresRepo) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.ID == "" || key.ActorID == "" || key.KeyHash == "" {
		return domain.NewValidationError(domain.RuleRequired, "api_key", "id, actor_id and key_hash are required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO api_keys (id, actor_id, name, key_hash, created_at) VALUES ($1, $2, $3, $4, $5)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return eris.Wrap(err, "postgres: insert api key")
}

func (s *PostgresRepo) ActorByAPIKey(ctx context.Context, hash string) (domain.Actor, error) {
	var (
		a    domain.Actor
		role string
	)
	err := s.pool.QueryRow(ctx, `SELECT a.id, COALESCE(a.name, ''), a.role FROM api_keys k JOIN actors a ON a.id = k.actor_id
		WHERE k.key_hash = $1`, hash).Scan(&a.ID, &a.Name, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, eris.Wrap(err, "postgres: actor by api key")
	}
	a.Role = domain.ScopeLevel(role)
	return a, nil
}

func (s *PostgresRepo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var (
		a    domain.Actor
		role string
	)
	err := s.pool.QueryRow(ctx, `SELECT id, COALESCE(name, ''), role FROM actors WHERE id = $1`, id).Scan(&a.ID, &a.Name, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, eris.Wrap(err, "postgres: get actor")
	}
	a.Role = domain.ScopeLevel(role)
	return a, nil
}

func (s *PostgresRepo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, COALESCE(name, ''), role FROM actors ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list actors")
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var (
			a    domain.Actor
			role string
		)
		if err := rows.Scan(&a.ID, &a.Name, &role); err != nil {
			return nil, eris.Wrap(err, "postgres: scan actor")
		}
		a.Role = domain.ScopeLevel(role)
		res = append(res, a)
	}
	return res, eris.Wrap(rows.Err(), "postgres: list actors")
}

func (s *PostgresRepo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	var a args
	query := `SELECT id, actor_id, COALESCE(name, ''), key_hash, created_at FROM api_keys`
	if actorID != "" {
		query += ` WHERE actor_id = ` + a.add(actorID)
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY created_at DESC`, a...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list api keys")
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan api key")
		}
		keys = append(keys, key)
	}
	return keys, eris.Wrap(rows.Err(), "postgres: list api keys")
}

func (s *PostgresRepo) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "postgres: delete api key")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
