package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pdfcp/internal/app"
	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
)

func programCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "program", Short: "Manage programs"}
	cmd.AddCommand(programCreateCmd())
	cmd.AddCommand(programListCmd())
	cmd.AddCommand(programShowCmd())
	cmd.AddCommand(programUpdateCmd())
	cmd.AddCommand(programArchiveCmd())
	return cmd
}

func printProgram(p domain.Program) error {
	return render(p, table.Row{"ID", "Code", "Title", "Years", "Status", "Locked", "Archived"}, func(add func(table.Row)) {
		add(table.Row{p.ID, p.Code, p.Title, yearsOf(p), p.ValidationStatus, p.Locked, p.Archived})
	})
}

func yearsOf(p domain.Program) string {
	return fmt.Sprintf("%d-%d", p.YearStart, p.YearEnd)
}

func programCreateCmd() *cobra.Command {
	var opts engine.ProgramCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a program in BROUILLON",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			opts.Actor = actor
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				p, err := a.Engine.CreateProgram(ctx, opts)
				if err != nil {
					return err
				}
				return printProgram(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "program id (generated when empty)")
	cmd.Flags().StringVar(&opts.Code, "code", "", "program code")
	cmd.Flags().StringVar(&opts.Title, "title", "", "program title")
	cmd.Flags().IntVar(&opts.YearStart, "year-start", 0, "first year")
	cmd.Flags().IntVar(&opts.YearEnd, "year-end", 0, "last year")
	cmd.Flags().StringVar(&opts.CommuneID, "commune", "", "commune id")
	cmd.Flags().StringVar(&opts.ProvinceID, "province", "", "province id")
	cmd.Flags().StringVar(&opts.RegionID, "region", "", "region id")
	cmd.Flags().Float64Var(&opts.TotalBudget, "budget", 0, "total budget (MAD)")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("year-start")
	_ = cmd.MarkFlagRequired("year-end")
	return cmd
}

func programListCmd() *cobra.Command {
	var (
		status string
		f      domain.ProgramFilter
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.ValidationStatus(status)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				ps, err := a.Engine.ListPrograms(ctx, f)
				if err != nil {
					return err
				}
				return render(ps, table.Row{"ID", "Code", "Title", "Years", "Status", "Locked"}, func(add func(table.Row)) {
					for _, p := range ps {
						add(table.Row{p.ID, p.Code, p.Title, yearsOf(p), p.ValidationStatus, p.Locked})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "validation status filter")
	cmd.Flags().StringVar(&f.CommuneID, "commune", "", "commune filter")
	cmd.Flags().BoolVar(&f.IncludeArchived, "archived", false, "include archived programs")
	return cmd
}

func programShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <program>",
		Short: "Show a program and its lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				p, err := a.Engine.GetProgram(ctx, args[0])
				if err != nil {
					return err
				}
				lines, err := a.Engine.ListLines(ctx, p.ID, nil)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(struct {
						Program domain.Program      `json:"program"`
						Lines   []domain.ActionLine `json:"lines"`
					}{p, lines})
				}
				if err := printProgram(p); err != nil {
					return err
				}
				return printLines(lines)
			})
		},
	}
}

func programUpdateCmd() *cobra.Command {
	var (
		code, title, commune, province, region string
		yearStart, yearEnd                     int
		budget                                 float64
	)
	cmd := &cobra.Command{
		Use:   "update <program>",
		Short: "Update program metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			patch := engine.ProgramPatch{
				Code:        optString(cmd, "code", code),
				Title:       optString(cmd, "title", title),
				YearStart:   optInt(cmd, "year-start", yearStart),
				YearEnd:     optInt(cmd, "year-end", yearEnd),
				CommuneID:   optString(cmd, "commune", commune),
				ProvinceID:  optString(cmd, "province", province),
				RegionID:    optString(cmd, "region", region),
				TotalBudget: optFloat(cmd, "budget", budget),
				Actor:       actor,
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				current, err := a.Engine.GetProgram(ctx, args[0])
				if err != nil {
					return err
				}
				p, err := a.Engine.UpdateProgram(ctx, current.ID, patch)
				if err != nil {
					return err
				}
				return printProgram(p)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "program code")
	cmd.Flags().StringVar(&title, "title", "", "program title")
	cmd.Flags().IntVar(&yearStart, "year-start", 0, "first year")
	cmd.Flags().IntVar(&yearEnd, "year-end", 0, "last year")
	cmd.Flags().StringVar(&commune, "commune", "", "commune id")
	cmd.Flags().StringVar(&province, "province", "", "province id")
	cmd.Flags().StringVar(&region, "region", "", "region id")
	cmd.Flags().Float64Var(&budget, "budget", 0, "total budget (MAD)")
	return cmd
}

func programArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <program>",
		Short: "Archive a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				current, err := a.Engine.GetProgram(ctx, args[0])
				if err != nil {
					return err
				}
				p, err := a.Engine.ArchiveProgram(ctx, current.ID, actor)
				if err != nil {
					return err
				}
				return printProgram(p)
			})
		},
	}
}
