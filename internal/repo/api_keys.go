package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"pdfcp/internal/domain"
)

// HashAPIKey returns the SHA-256 hex digest stored in place of a key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a key whose KeyHash is already hashed.
func (r Repo) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	switch {
	case key.ID == "":
		return domain.NewValidationError(domain.RuleRequired, "id", "id required")
	case key.ActorID == "":
		return domain.NewValidationError(domain.RuleRequired, "actor_id", "actor_id required")
	case key.KeyHash == "":
		return domain.NewValidationError(domain.RuleRequired, "key_hash", "key_hash required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO api_keys(id,actor_id,name,key_hash,created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return eris.Wrap(err, "repo: insert api key")
}

// ActorByAPIKey resolves the actor owning the hashed key.
func (r Repo) ActorByAPIKey(ctx context.Context, hash string) (domain.Actor, error) {
	var (
		a    domain.Actor
		role string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT a.id,COALESCE(a.name,''),a.role FROM api_keys k JOIN actors a ON a.id=k.actor_id
WHERE k.key_hash=?`, hash).Scan(&a.ID, &a.Name, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, eris.Wrap(err, "repo: actor by api key")
	}
	a.Role = domain.ScopeLevel(role)
	return a, nil
}

// ListAPIKeys returns keys newest first, optionally for one actor.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	query := `SELECT id,actor_id,COALESCE(name,''),key_hash,created_at FROM api_keys`
	var args []any
	if actorID != "" {
		query += ` WHERE actor_id=?`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "repo: list api keys")
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.ActorID, &key.Name, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "repo: scan api key")
		}
		keys = append(keys, key)
	}
	return keys, eris.Wrap(rows.Err(), "repo: list api keys")
}

func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError(domain.RuleRequired, "id", "id required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return eris.Wrap(err, "repo: delete api key")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
