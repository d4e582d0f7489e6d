package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"pdfcp/internal/app"
	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "status", Short: "Drive the validation workflow"}
	cmd.AddCommand(statusTransitionCmd())
	cmd.AddCommand(statusUnlockCmd())
	cmd.AddCommand(statusCancelCmd())
	cmd.AddCommand(statusHistoryCmd())
	return cmd
}

func statusTransitionCmd() *cobra.Command {
	var expected, note string
	cmd := &cobra.Command{
		Use:   "transition <program> <target>",
		Short: "Advance a program to a later status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			target, err := domain.ParseValidationStatus(args[1])
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				out, err := a.Engine.TransitionStatus(ctx, engine.TransitionOptions{
					ProgramID: p.ID,
					Expected:  domain.ValidationStatus(expected),
					Target:    target,
					Note:      note,
					Actor:     actor,
				})
				if err != nil {
					return err
				}
				return printProgram(out)
			})
		},
	}
	cmd.Flags().StringVar(&expected, "expected", "", "status you last saw (rejected when stale)")
	cmd.Flags().StringVar(&note, "note", "", "history note")
	return cmd
}

func statusUnlockCmd() *cobra.Command {
	var expected, justification string
	cmd := &cobra.Command{
		Use:   "unlock <program>",
		Short: "Unlock a VERROUILLE program back to VALIDE_CENTRAL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				out, err := a.Engine.Unlock(ctx, engine.UnlockOptions{
					ProgramID:     p.ID,
					Expected:      domain.ValidationStatus(expected),
					Justification: justification,
					Actor:         actor,
				})
				if err != nil {
					return err
				}
				return printProgram(out)
			})
		},
	}
	cmd.Flags().StringVar(&expected, "expected", "", "status you last saw")
	cmd.Flags().StringVar(&justification, "justification", "", "why the program must be reopened")
	_ = cmd.MarkFlagRequired("justification")
	return cmd
}

func statusCancelCmd() *cobra.Command {
	var expected, reason string
	cmd := &cobra.Command{
		Use:   "cancel <program>",
		Short: "Send a program back to BROUILLON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := currentActor()
			if err != nil {
				return err
			}
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				out, err := a.Engine.CancelValidation(ctx, engine.CancelOptions{
					ProgramID: p.ID,
					Expected:  domain.ValidationStatus(expected),
					Reason:    reason,
					Actor:     actor,
				})
				if err != nil {
					return err
				}
				return printProgram(out)
			})
		},
	}
	cmd.Flags().StringVar(&expected, "expected", "", "status you last saw")
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func statusHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <program>",
		Short: "Show the validation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProgram(cmd.Context(), args[0], func(ctx context.Context, a *app.Context, p domain.Program) error {
				entries, err := a.Engine.History(ctx, p.ID)
				if err != nil {
					return err
				}
				return render(entries, table.Row{"At", "Action", "From", "To", "Actor", "Role", "Note"}, func(add func(table.Row)) {
					for _, h := range entries {
						add(table.Row{h.CreatedAt, h.Action, h.FromStatus, h.ToStatus, h.ActorID, h.ActorRole, h.Note})
					}
				})
			})
		},
	}
}
