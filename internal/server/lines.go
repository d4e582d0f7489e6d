package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
)

type lineOutput struct {
	Body domain.ActionLine `json:"body"`
}

type linesOutput struct {
	Body []domain.ActionLine `json:"body"`
}

func registerLines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "lines-list",
		Method:      http.MethodGet,
		Path:        "/programs/{program}/lines",
		Summary:     "List action lines",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Program string `path:"program"`
		Layer   string `query:"layer" enum:"CONCERTED,CONTRACTED,EXECUTED"`
	}) (*linesOutput, error) {
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		var layer *domain.Layer
		if input.Layer != "" {
			l := domain.Layer(input.Layer)
			layer = &l
		}
		lines, lerr := e.ListLines(ctx, p.ID, layer)
		if lerr != nil {
			return nil, handleError(lerr)
		}
		if lines == nil {
			lines = []domain.ActionLine{}
		}
		return &linesOutput{Body: lines}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "lines-add",
		Method:        http.MethodPost,
		Path:          "/programs/{program}/lines",
		Summary:       "Add action line",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string         `path:"program"`
		Body    AddLineRequest `json:"body"`
	}) (*lineOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		l, aerr := e.AddLine(ctx, input.Body.options(p.ID, actor))
		if aerr != nil {
			return nil, handleError(aerr)
		}
		return &lineOutput{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lines-update",
		Method:      http.MethodPatch,
		Path:        "/programs/{program}/lines/{line_id}",
		Summary:     "Update action line",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string           `path:"program"`
		LineID  string           `path:"line_id"`
		Body    engine.LinePatch `json:"body"`
	}) (*lineOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		patch := input.Body
		patch.Actor = actor
		l, uerr := e.UpdateLine(ctx, p.ID, input.LineID, patch)
		if uerr != nil {
			return nil, handleError(uerr)
		}
		return &lineOutput{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "lines-delete",
		Method:        http.MethodDelete,
		Path:          "/programs/{program}/lines/{line_id}",
		Summary:       "Delete action line",
		DefaultStatus: http.StatusNoContent,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string `path:"program"`
		LineID  string `path:"line_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		if derr := e.DeleteLine(ctx, p.ID, input.LineID, actor); derr != nil {
			return nil, handleError(derr)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lines-generate",
		Method:      http.MethodPost,
		Path:        "/programs/{program}/generate",
		Summary:     "Generate a layer from its source layer",
		Description: "Copies every source line whose dimension has no target line yet. Sources that cannot be copied are reported as skipped.",
		Errors:      errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string          `path:"program"`
		Body    GenerateRequest `json:"body"`
	}) (*struct {
		Body engine.GenerateResult `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		res, gerr := e.GenerateLayerFromSource(ctx, engine.GenerateOptions{
			ProgramID: p.ID,
			Source:    input.Body.Source,
			Target:    input.Body.Target,
			Actor:     actor,
		})
		if gerr != nil {
			return nil, handleError(gerr)
		}
		if res.Created == nil {
			res.Created = []domain.ActionLine{}
		}
		return &struct {
			Body engine.GenerateResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "lines-quick-entry",
		Method:        http.MethodPost,
		Path:          "/programs/{program}/quick-entry",
		Summary:       "Add one line per year",
		DefaultStatus: http.StatusCreated,
		Errors:        errorStatuses,
	}, func(ctx context.Context, input *struct {
		Program string            `path:"program"`
		Body    QuickEntryRequest `json:"body"`
	}) (*linesOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		lines, qerr := e.QuickEntry(ctx, input.Body.options(p.ID, actor))
		if qerr != nil {
			return nil, handleError(qerr)
		}
		return &linesOutput{Body: lines}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "lines-events",
		Method:      http.MethodGet,
		Path:        "/programs/{program}/events",
		Summary:     "Action line audit log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Program string `path:"program"`
		Limit   int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.LineEvent `json:"body"`
	}, error) {
		p, err := resolveProgram(ctx, e, input.Program)
		if err != nil {
			return nil, err
		}
		evts, lerr := e.LineEvents(ctx, p.ID, normalizeLimit(input.Limit))
		if lerr != nil {
			return nil, handleError(lerr)
		}
		if evts == nil {
			evts = []domain.LineEvent{}
		}
		return &struct {
			Body []domain.LineEvent `json:"body"`
		}{Body: evts}, nil
	})
}
