package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"pdfcp/internal/app"
	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
)

func lineCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "line", Short: "Manage action lines"}
	cmd.AddCommand(lineAddCmd())
	cmd.AddCommand(lineUpdateCmd())
	cmd.AddCommand(lineDeleteCmd())
	cmd.AddCommand(lineListCmd())
	cmd.AddCommand(lineEventsCmd())
	return cmd
}

func printLines(lines []domain.ActionLine) error {
	return render(lines, table.Row{"ID", "Layer", "Year", "Action", "Commune", "Qty", "Unit", "Budget", "Lineage", "Locked"}, func(add func(table.Row)) {
		for _, l := range lines {
			add(table.Row{l.ID, l.Layer, l.Year, l.ActionKey, l.CommuneID, num(l.Quantity), l.Unit, num(l.Budget), l.Lineage, l.Locked})
		}
	})
}

// withProgram resolves the program argument (id or code) before fn runs.
func withProgram(ctx context.Context, ref string, fn func(context.Context, *app.Context, domain.Program) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.Context) error {
		p, err := a.Engine.GetProgram(ctx, ref)
		if err != nil {
			return err
		}
		return fn(ctx, a, p)
	})
}

func lineAddCmd() *cobra.Command {
	var (
		opts            engine.LineAddOptions
		layer, action   string
		executionStatus string
	)
	cmd := &cobra.Command{
		Use:   "add <program>",
		Short: "Add an action line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			if opts.Layer, err = domain.ParseLayer(layer); err != nil {
				return err
			}
			opts.ActionKey = domain.ActionKey(action)
			opts.ExecutionStatus = domain.ExecutionStatus(executionStatus)
			opts.Actor = actor
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				opts.ProgramID = p.ID
				l, err := a.Engine.AddLine(ctx, opts)
				if err != nil {
					return err
				}
				return printLines([]domain.ActionLine{l})
			})
		},
	}
	cmd.Flags().StringVar(&layer, "layer", "", "CONCERTED, CONTRACTED or EXECUTED")
	cmd.Flags().StringVar(&action, "action", "", "action key (see 'pdfcp catalog')")
	cmd.Flags().StringVar(&opts.ActionLabel, "label", "", "free-text label")
	cmd.Flags().IntVar(&opts.Year, "year", 0, "year")
	cmd.Flags().StringVar(&opts.CommuneID, "commune", "", "commune id")
	cmd.Flags().StringVar(&opts.PerimetreID, "perimetre", "", "perimetre id")
	cmd.Flags().StringVar(&opts.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit (defaults to the catalog unit)")
	cmd.Flags().Float64Var(&opts.Quantity, "qty", 0, "physical quantity")
	cmd.Flags().Float64Var(&opts.Budget, "budget", 0, "budget (MAD)")
	cmd.Flags().StringVar(&opts.Lineage, "lineage", "", "source line id in the previous layer")
	cmd.Flags().StringVar(&opts.DeviationJustification, "justification", "", "deviation justification")
	cmd.Flags().StringVar(&opts.ExecutionDate, "execution-date", "", "execution date (EXECUTED only)")
	cmd.Flags().StringVar(&executionStatus, "execution-status", "", "planned, in_progress, done, cancelled or blocked (EXECUTED only)")
	cmd.Flags().StringSliceVar(&opts.ProofRefs, "proof", nil, "proof reference URI (repeatable)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	_ = cmd.MarkFlagRequired("layer")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func lineUpdateCmd() *cobra.Command {
	var (
		action, label, commune, perimetre, site, unit string
		lineage, justification, executionDate, notes  string
		executionStatus                               string
		year                                          int
		qty, budget                                   float64
		proofs                                        []string
	)
	cmd := &cobra.Command{
		Use:   "update <program> <line-id>",
		Short: "Update an action line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			patch := engine.LinePatch{
				CommuneID:              optString(cmd, "commune", commune),
				PerimetreID:            optString(cmd, "perimetre", perimetre),
				SiteID:                 optString(cmd, "site", site),
				ActionLabel:            optString(cmd, "label", label),
				Year:                   optInt(cmd, "year", year),
				Unit:                   optString(cmd, "unit", unit),
				Quantity:               optFloat(cmd, "qty", qty),
				Budget:                 optFloat(cmd, "budget", budget),
				Lineage:                optString(cmd, "lineage", lineage),
				DeviationJustification: optString(cmd, "justification", justification),
				ExecutionDate:          optString(cmd, "execution-date", executionDate),
				Notes:                  optString(cmd, "notes", notes),
				Actor:                  actor,
			}
			if cmd.Flags().Changed("action") {
				key := domain.ActionKey(action)
				patch.ActionKey = &key
			}
			if cmd.Flags().Changed("execution-status") {
				st := domain.ExecutionStatus(executionStatus)
				patch.ExecutionStatus = &st
			}
			if cmd.Flags().Changed("proof") {
				patch.ProofRefs = &proofs
			}
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				l, err := a.Engine.UpdateLine(ctx, p.ID, args[1], patch)
				if err != nil {
					return err
				}
				return printLines([]domain.ActionLine{l})
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action key")
	cmd.Flags().StringVar(&label, "label", "", "free-text label")
	cmd.Flags().IntVar(&year, "year", 0, "year")
	cmd.Flags().StringVar(&commune, "commune", "", "commune id")
	cmd.Flags().StringVar(&perimetre, "perimetre", "", "perimetre id")
	cmd.Flags().StringVar(&site, "site", "", "site id")
	cmd.Flags().StringVar(&unit, "unit", "", "unit")
	cmd.Flags().Float64Var(&qty, "qty", 0, "physical quantity")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget (MAD)")
	cmd.Flags().StringVar(&lineage, "lineage", "", "source line id")
	cmd.Flags().StringVar(&justification, "justification", "", "deviation justification")
	cmd.Flags().StringVar(&executionDate, "execution-date", "", "execution date")
	cmd.Flags().StringVar(&executionStatus, "execution-status", "", "execution status")
	cmd.Flags().StringSliceVar(&proofs, "proof", nil, "proof reference URIs (replaces the list)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func lineDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <program> <line-id>",
		Short: "Delete an action line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				if err := a.Engine.DeleteLine(ctx, p.ID, args[1], actor); err != nil {
					return err
				}
				fmt.Printf("Deleted line %s\n", args[1])
				return nil
			})
		},
	}
}

func lineListCmd() *cobra.Command {
	var layer string
	cmd := &cobra.Command{
		Use:   "list <program>",
		Short: "List action lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *domain.Layer
			if layer != "" {
				l, err := domain.ParseLayer(layer)
				if err != nil {
					return err
				}
				filter = &l
			}
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				lines, err := a.Engine.ListLines(ctx, p.ID, filter)
				if err != nil {
					return err
				}
				return printLines(lines)
			})
		},
	}
	cmd.Flags().StringVar(&layer, "layer", "", "layer filter")
	return cmd
}

func lineEventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events <program>",
		Short: "Show the action line audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				evts, err := a.Engine.LineEvents(ctx, p.ID, n)
				if err != nil {
					return err
				}
				return render(evts, table.Row{"TS", "Type", "Line", "Layer", "Actor"}, func(add func(table.Row)) {
					for _, ev := range evts {
						add(table.Row{ev.TS, ev.Type, ev.LineID, ev.Layer, ev.ActorID})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func generateCmd() *cobra.Command {
	var source, target string
	cmd := &cobra.Command{
		Use:   "generate <program>",
		Short: "Copy source-layer lines into the next layer",
		Long:  "Copies every CONCERTED (or CONTRACTED) line whose dimension has no line yet in the target layer. Running it twice creates nothing new.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			src, err := domain.ParseLayer(source)
			if err != nil {
				return err
			}
			dst, err := domain.ParseLayer(target)
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				res, err := a.Engine.GenerateLayerFromSource(ctx, engine.GenerateOptions{ProgramID: p.ID, Source: src, Target: dst, Actor: actor})
				if err != nil {
					return err
				}
				return render(res, table.Row{"Source", "Result", "Detail"}, func(add func(table.Row)) {
					for _, l := range res.Created {
						add(table.Row{l.Lineage, "created", l.ID})
					}
					for _, s := range res.Skipped {
						add(table.Row{s.SourceID, "skipped", s.Rule})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&source, "from", "CONCERTED", "source layer")
	cmd.Flags().StringVar(&target, "to", "CONTRACTED", "target layer")
	return cmd
}

func quickEntryCmd() *cobra.Command {
	var (
		opts          engine.QuickEntryOptions
		layer, action string
	)
	cmd := &cobra.Command{
		Use:   "quick-entry <program>",
		Short: "Add the same action for several years",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			if opts.Layer, err = domain.ParseLayer(layer); err != nil {
				return err
			}
			opts.ActionKey = domain.ActionKey(strings.TrimSpace(action))
			opts.Actor = actor
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				opts.ProgramID = p.ID
				lines, err := a.Engine.QuickEntry(ctx, opts)
				if err != nil {
					return err
				}
				return printLines(lines)
			})
		},
	}
	cmd.Flags().StringVar(&layer, "layer", "CONCERTED", "layer")
	cmd.Flags().StringVar(&action, "action", "", "action key")
	cmd.Flags().StringVar(&opts.ActionLabel, "label", "", "free-text label")
	cmd.Flags().IntSliceVar(&opts.Years, "years", nil, "years, comma separated")
	cmd.Flags().StringVar(&opts.CommuneID, "commune", "", "commune id")
	cmd.Flags().StringVar(&opts.PerimetreID, "perimetre", "", "perimetre id")
	cmd.Flags().StringVar(&opts.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit")
	cmd.Flags().Float64Var(&opts.Quantity, "qty", 0, "quantity per year")
	cmd.Flags().Float64Var(&opts.Budget, "budget", 0, "budget per year (MAD)")
	cmd.Flags().StringSliceVar(&opts.ProofRefs, "proof", nil, "proof reference URI (repeatable)")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("years")
	return cmd
}
