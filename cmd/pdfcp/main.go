package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"pdfcp/internal/app"
	"pdfcp/internal/config"
	"pdfcp/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "pdfcp",
	Short: "PDFCP reconciliation and validation CLI",
	Long: `pdfcp tracks communal forest development programs (PDFCP) across three layers:
- CONCERTED: what was agreed with the local population.
- CONTRACTED: what was budgeted in the annual programme (CP), derived from the concerted layer.
- EXECUTED: what was done in the field, with proof references.
Programs move BROUILLON -> CONCERTE_ADP -> VALIDE_DPANEF -> VALIDE_CENTRAL -> VERROUILLE.
Locking freezes the concerted lines; unlocking needs a justification.
'pdfcp report' reconciles the layers with rates, deltas and linked field alerts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return err
		}
		loaded = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// loaded is the configuration read before each command.
var loaded *config.Config

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PDFCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier")
	rootCmd.PersistentFlags().String("actor-name", "", "actor display name")
	rootCmd.PersistentFlags().String("actor-role", "", "actor scope level (LOCAL, PROVINCIAL, REGIONAL, NATIONAL, ADMIN)")
	for _, name := range []string{"workspace", "json", "actor-id", "actor-name", "actor-role"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(programCmd())
	rootCmd.AddCommand(lineCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(quickEntryCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(alertCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create pdfcp.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Printf("%s already exists\n", path)
			} else if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				fmt.Printf("Workspace ready (store: %s)\n", a.Config.Store.Driver)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing pdfcp.yml")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), loaded)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func currentActor() (domain.Actor, error) {
	actor := domain.Actor{
		ID:   strings.TrimSpace(viper.GetString("actor-id")),
		Name: strings.TrimSpace(viper.GetString("actor-name")),
	}
	if actor.ID == "" {
		return actor, fmt.Errorf("--actor-id required (or PDFCP_ACTOR_ID)")
	}
	if role := viper.GetString("actor-role"); role != "" {
		level, err := domain.ParseScopeLevel(role)
		if err != nil {
			return actor, err
		}
		actor.Role = level
	}
	return actor, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render prints v as JSON under --json, otherwise as a table.
func render(v any, header table.Row, rows func(add func(table.Row))) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	rows(func(r table.Row) { tw.AppendRow(r) })
	tw.Render()
	return nil
}

func optString(cmd *cobra.Command, name, v string) *string {
	if cmd.Flags().Changed(name) {
		return &v
	}
	return nil
}

func optInt(cmd *cobra.Command, name string, v int) *int {
	if cmd.Flags().Changed(name) {
		return &v
	}
	return nil
}

func optFloat(cmd *cobra.Command, name string, v float64) *float64 {
	if cmd.Flags().Changed(name) {
		return &v
	}
	return nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
