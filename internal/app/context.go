// Package app opens the configured store and wires the engine on top of it.
package app

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"pdfcp/internal/alerts"
	"pdfcp/internal/config"
	"pdfcp/internal/db"
	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
	"pdfcp/internal/migrate"
	"pdfcp/internal/repo"
	"pdfcp/internal/server"
)

// Directory manages the actors and API keys used for authentication.
type Directory interface {
	UpsertActor(ctx context.Context, a domain.Actor, now string) error
	GetActor(ctx context.Context, id string) (domain.Actor, error)
	ListActors(ctx context.Context) ([]domain.Actor, error)
	InsertAPIKey(ctx context.Context, key domain.APIKey) error
	ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	ActorByAPIKey(ctx context.Context, hash string) (domain.Actor, error)
}

// Backend is everything a store implementation provides.
type Backend interface {
	engine.Store
	alerts.Provider
	server.AlertStore
	Directory
}

var (
	_ Backend = repo.Repo{}
	_ Backend = (*repo.PostgresRepo)(nil)
)

// Context holds the wired engine and the backend it runs on.
type Context struct {
	Config  *config.Config
	Engine  engine.Engine
	Backend Backend
	close   func() error
}

func (c *Context) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// Open connects to the store named by cfg, applies pending migrations and
// builds the engine.
func Open(ctx context.Context, workspace string, cfg *config.Config) (*Context, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	out := &Context{Config: cfg}
	switch cfg.Store.Driver {
	case "", "sqlite":
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			return nil, err
		}
		n, err := migrate.Migrate(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if n > 0 {
			zap.L().Info("migrations applied", zap.Int("count", n), zap.String("path", db.Path(workspace)))
		}
		out.Backend = repo.Repo{DB: conn}
		out.close = conn.Close
	case "postgres":
		pg, err := repo.NewPostgres(ctx, cfg.Store.DatabaseURL, repo.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		out.Backend = pg
		out.close = func() error { pg.Close(); return nil }
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	e, err := engine.New(out.Backend, out.Backend, cfg)
	if err != nil {
		out.Close()
		return nil, eris.Wrap(err, "app: build engine")
	}
	out.Engine = e
	return out, nil
}
