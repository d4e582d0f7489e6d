package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
)

type programOutput struct {
	Body domain.Program `json:"body"`
}

// resolveProgram accepts a program id or code in the path.
func resolveProgram(ctx context.Context, e engine.Engine, ref string) (domain.Program, error) {
	p, err := e.GetProgram(ctx, ref)
	if err != nil {
		return p, handleError(err)
	}
	return p, nil
}

func registerPrograms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "programs-create",
		Method:        http.MethodPost,
		Path:          "/programs",
		Summary:       "Create program",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Body CreateProgramRequest `json:"body"`
	}) (*programOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProgram(ctx, input.Body.options(actor))
		if err != nil {
			return nil, handleError(err)
		}
		return &programOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "programs-list",
		Method:      http.MethodGet,
		Path:        "/programs",
		Summary:     "List programs",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status          string `query:"status"`
		CommuneID       string `query:"commune_id"`
		IncludeArchived bool   `query:"include_archived"`
	}) (*struct {
		Body []domain.Program `json:"body"`
	}, error) {
		ps, err := e.ListPrograms(ctx, domain.ProgramFilter{
			Status:          domain.ValidationStatus(input.Status),
			CommuneID:       input.CommuneID,
			IncludeArchived: input.IncludeArchived,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if ps == nil {
			ps = []domain.Program{}
		}
		return &struct {
			Body []domain.Program `json:"body"`
		}{Body: ps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "programs-get",
		Method:      http.MethodGet,
		Path:        "/programs/{program}",
		Summary:     "Get program with its lines",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Program string `path:"program" doc:"Program id or code"`
	}) (*struct {
		Body ProgramDetail `json:"body"`
	}, error) {
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		lines, lerr := e.ListLines(ctx, p.ID, nil)
		if lerr != nil {
			return nil, handleError(lerr)
		}
		if lines == nil {
			lines = []domain.ActionLine{}
		}
		return &struct {
			Body ProgramDetail `json:"body"`
		}{Body: ProgramDetail{Program: p, Lines: lines}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "programs-update",
		Method:      http.MethodPatch,
		Path:        "/programs/{program}",
		Summary:     "Update program metadata",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string              `path:"program"`
		Body    engine.ProgramPatch `json:"body"`
	}) (*programOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		current, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		patch := input.Body
		patch.Actor = actor
		p, uerr := e.UpdateProgram(ctx, current.ID, patch)
		if uerr != nil {
			return nil, handleError(uerr)
		}
		return &programOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "programs-archive",
		Method:      http.MethodPost,
		Path:        "/programs/{program}/archive",
		Summary:     "Archive program",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string `path:"program"`
	}) (*programOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		current, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		p, aerr := e.ArchiveProgram(ctx, current.ID, actor)
		if aerr != nil {
			return nil, handleError(aerr)
		}
		return &programOutput{Body: p}, nil
	})
}
