package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"pdfcp/internal/alerts"
	"pdfcp/internal/app"
	"pdfcp/internal/catalog"
	"pdfcp/internal/config"
	"pdfcp/internal/domain"
	"pdfcp/internal/repo"
	"pdfcp/internal/server"
)

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

func alertCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "alert", Short: "Record and list field alerts"}
	cmd.AddCommand(alertAddCmd())
	cmd.AddCommand(alertListCmd())
	cmd.AddCommand(alertStatusCmd())
	return cmd
}

func printAlerts(list []domain.Alert) error {
	return render(list, table.Row{"ID", "Status", "Commune", "Perimetre", "Site", "Action", "Year", "Title"}, func(add func(table.Row)) {
		for _, a := range list {
			year := ""
			if a.Year != nil {
				year = fmt.Sprint(*a.Year)
			}
			add(table.Row{a.ID, a.Status, a.CommuneID, a.PerimetreID, a.SiteID, a.ActionType, year, a.Title})
		}
	})
}

func alertAddCmd() *cobra.Command {
	var (
		a      domain.Alert
		action string
		year   int
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a field alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.ID = uuid.NewString()
			a.Status = domain.AlertOpen
			a.ActionType = domain.ActionKey(action)
			if a.ActionType != "" && !a.ActionType.Valid() {
				return fmt.Errorf("unknown action %q", action)
			}
			if cmd.Flags().Changed("year") {
				a.Year = &year
			}
			a.CreatedAt = nowRFC3339()
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				if err := ac.Backend.InsertAlert(ctx, a); err != nil {
					return err
				}
				return printAlerts([]domain.Alert{a})
			})
		},
	}
	cmd.Flags().StringVar(&a.CommuneID, "commune", "", "commune id")
	cmd.Flags().StringVar(&a.PerimetreID, "perimetre", "", "perimetre id")
	cmd.Flags().StringVar(&a.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&action, "action", "", "action key")
	cmd.Flags().IntVar(&year, "year", 0, "year")
	cmd.Flags().StringVar(&a.Kind, "kind", "", "alert kind")
	cmd.Flags().StringVar(&a.Title, "title", "", "title")
	return cmd
}

func alertListCmd() *cobra.Command {
	var (
		f        alerts.Filter
		commune  string
		resolved bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List field alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if commune != "" {
				f.CommuneIDs = []string{commune}
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				list := ac.Backend.ListOpenAlerts
				if resolved {
					list = ac.Backend.ListAlerts
				}
				out, err := list(ctx, f)
				if err != nil {
					return err
				}
				return printAlerts(out)
			})
		},
	}
	cmd.Flags().StringVar(&commune, "commune", "", "commune filter")
	cmd.Flags().IntVar(&f.YearFrom, "from", 0, "first year")
	cmd.Flags().IntVar(&f.YearTo, "to", 0, "last year")
	cmd.Flags().BoolVar(&resolved, "all", false, "include resolved alerts")
	return cmd
}

func alertStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <alert-id> <open|in_progress|resolved>",
		Short: "Change an alert's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := domain.AlertStatus(args[1])
			if !st.Valid() {
				return fmt.Errorf("unknown alert status %q", args[1])
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				return ac.Backend.UpdateAlertStatus(ctx, args[0], st)
			})
		},
	}
}

func actorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "actor", Short: "Manage actors and their credentials"}
	cmd.AddCommand(actorAddCmd())
	cmd.AddCommand(actorKeyCmd())
	cmd.AddCommand(actorTokenCmd())
	cmd.AddCommand(actorListCmd())
	cmd.AddCommand(actorKeysCmd())
	cmd.AddCommand(actorRevokeCmd())
	return cmd
}

func actorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				list, err := ac.Backend.ListActors(ctx)
				if err != nil {
					return err
				}
				return render(list, table.Row{"ID", "Name", "Role"}, func(add func(table.Row)) {
					for _, a := range list {
						add(table.Row{a.ID, a.Name, a.Role})
					}
				})
			})
		},
	}
}

func actorKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys [actor-id]",
		Short: "List API keys (hashes only)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actorID := ""
			if len(args) == 1 {
				actorID = args[0]
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				keys, err := ac.Backend.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return render(keys, table.Row{"ID", "Actor", "Name", "Created"}, func(add func(table.Row)) {
					for _, k := range keys {
						add(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
					}
				})
			})
		},
	}
}

func actorRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				if err := ac.Backend.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
}

func parseActor(id, name, role string) (domain.Actor, error) {
	level, err := domain.ParseScopeLevel(role)
	if err != nil {
		return domain.Actor{}, err
	}
	if id == "" {
		return domain.Actor{}, errors.New("--id required")
	}
	return domain.Actor{ID: id, Name: name, Role: level}, nil
}

func actorAddCmd() *cobra.Command {
	var id, name, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an actor with its scope level",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(id, name, role)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				if err := ac.Backend.UpsertActor(ctx, actor, nowRFC3339()); err != nil {
					return err
				}
				return render(actor, table.Row{"ID", "Name", "Role"}, func(add func(table.Row)) {
					add(table.Row{actor.ID, actor.Name, actor.Role})
				})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "actor id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "scope level")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func actorKeyCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "key <actor-id>",
		Short: "Create an API key for an actor (shown once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := "pdfcp_" + hex.EncodeToString(raw)
			key := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   args[0],
				Name:      name,
				KeyHash:   repo.HashAPIKey(secret),
				CreatedAt: nowRFC3339(),
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				if _, err := ac.Backend.GetActor(ctx, key.ActorID); err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						return fmt.Errorf("unknown actor %q (register it with 'pdfcp actor add')", key.ActorID)
					}
					return err
				}
				if err := ac.Backend.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				return render(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": secret},
					table.Row{"ID", "Actor", "Key"}, func(add func(table.Row)) {
						add(table.Row{key.ID, key.ActorID, secret})
					})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func actorTokenCmd() *cobra.Command {
	var (
		id, name, role string
		ttl            time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := parseActor(id, name, role)
			if err != nil {
				return err
			}
			token, err := server.SignToken(loaded.Auth.JWTSecret, actor, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "actor id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", "", "scope level")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func catalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the program components and their units",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat := catalog.Default()
			if loaded.Catalog.Path != "" {
				var err error
				if cat, err = catalog.FromFile(loaded.Catalog.Path); err != nil {
					return err
				}
			}
			comps := cat.Components()
			return render(comps, table.Row{"Key", "Label", "Unit", "Category"}, func(add func(table.Row)) {
				for _, c := range comps {
					add(table.Row{c.Key, c.Label, c.Unit, c.Category})
				}
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect the workspace configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Check a pdfcp.yml file (defaults to the workspace one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := config.FromFile(path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	})
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loaded
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") {
				basePath = cfg.Server.BasePath
			}
			if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowActorHeaders {
				zap.L().Warn("no auth.jwt_secret configured; only API keys will authenticate")
			}
			return withApp(cmd.Context(), func(ctx context.Context, ac *app.Context) error {
				handler, err := server.New(server.Config{
					Engine:      ac.Engine,
					Alerts:      ac.Backend,
					Actors:      ac.Backend,
					BasePath:    basePath,
					Auth:        server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret, AllowActorHeaders: cfg.Auth.AllowActorHeaders},
					CORSOrigins: cfg.Server.CORSOrigins,
					Log:         zap.L(),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdown)
				}()
				fmt.Fprintf(os.Stderr, "Serving PDFCP API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				zap.L().Info("http server listening", zap.String("addr", addr), zap.String("base_path", basePath))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}
