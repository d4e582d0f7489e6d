package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"

	"pdfcp/internal/domain"
)

// UpsertActor registers an actor or refreshes its name and scope level.
func (r Repo) UpsertActor(ctx context.Context, a domain.Actor, now string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(id,name,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role`,
		a.ID, nullable(a.Name), string(a.Role), now)
	return eris.Wrap(err, "repo: upsert actor")
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var (
		a    domain.Actor
		role string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),role FROM actors WHERE id=?`, id).Scan(&a.ID, &a.Name, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, eris.Wrap(err, "repo: get actor")
	}
	a.Role = domain.ScopeLevel(role)
	return a, nil
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(name,''),role FROM actors ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "repo: list actors")
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var (
			a    domain.Actor
			role string
		)
		if err := rows.Scan(&a.ID, &a.Name, &role); err != nil {
			return nil, eris.Wrap(err, "repo: scan actor")
		}
		a.Role = domain.ScopeLevel(role)
		res = append(res, a)
	}
	return res, eris.Wrap(rows.Err(), "repo: list actors")
}
