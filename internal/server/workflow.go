package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
)

func registerWorkflow(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "workflow-transition",
		Method:      http.MethodPost,
		Path:        "/programs/{program}/transition",
		Summary:     "Advance or change validation status",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string            `path:"program"`
		Body    TransitionRequest `json:"body"`
	}) (*programOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		current, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		p, terr := e.TransitionStatus(ctx, engine.TransitionOptions{
			ProgramID: current.ID,
			Expected:  input.Body.Expected,
			Target:    input.Body.Target,
			Note:      input.Body.Note,
			Actor:     actor,
		})
		if terr != nil {
			return nil, handleError(terr)
		}
		return &programOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-unlock",
		Method:      http.MethodPost,
		Path:        "/programs/{program}/unlock",
		Summary:     "Unlock a locked program",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string        `path:"program"`
		Body    UnlockRequest `json:"body"`
	}) (*programOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		current, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		p, uerr := e.Unlock(ctx, engine.UnlockOptions{
			ProgramID:     current.ID,
			Expected:      input.Body.Expected,
			Justification: input.Body.Justification,
			Actor:         actor,
		})
		if uerr != nil {
			return nil, handleError(uerr)
		}
		return &programOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-cancel",
		Method:      http.MethodPost,
		Path:        "/programs/{program}/cancel",
		Summary:     "Cancel the current validation step",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string        `path:"program"`
		Body    CancelRequest `json:"body"`
	}) (*programOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		current, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		p, cerr := e.CancelValidation(ctx, engine.CancelOptions{
			ProgramID: current.ID,
			Expected:  input.Body.Expected,
			Reason:    input.Body.Reason,
			Actor:     actor,
		})
		if cerr != nil {
			return nil, handleError(cerr)
		}
		return &programOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-history",
		Method:      http.MethodGet,
		Path:        "/programs/{program}/history",
		Summary:     "Validation history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Program string `path:"program"`
	}) (*struct {
		Body []domain.ValidationHistoryEntry `json:"body"`
	}, error) {
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		entries, herr := e.History(ctx, p.ID)
		if herr != nil {
			return nil, handleError(herr)
		}
		if entries == nil {
			entries = []domain.ValidationHistoryEntry{}
		}
		return &struct {
			Body []domain.ValidationHistoryEntry `json:"body"`
		}{Body: entries}, nil
	})
}
