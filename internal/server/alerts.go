package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"pdfcp/internal/alerts"
	"pdfcp/internal/domain"
	"pdfcp/internal/engine"
)

type alertOutput struct {
	Body domain.Alert `json:"body"`
}

func registerAlerts(api huma.API, store AlertStore, e engine.Engine) {
	now := func() string {
		if e.Now != nil {
			return e.Now().UTC().Format(time.RFC3339)
		}
		return time.Now().UTC().Format(time.RFC3339)
	}

	huma.Register(api, huma.Operation{
		OperationID: "alerts-list",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List field alerts",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		CommuneID       string `query:"commune_id"`
		YearFrom        int    `query:"year_from"`
		YearTo          int    `query:"year_to"`
		IncludeResolved bool   `query:"include_resolved"`
	}) (*struct {
		Body []domain.Alert `json:"body"`
	}, error) {
		f := alerts.Filter{YearFrom: input.YearFrom, YearTo: input.YearTo}
		if input.CommuneID != "" {
			f.CommuneIDs = []string{input.CommuneID}
		}
		list := store.ListOpenAlerts
		if input.IncludeResolved {
			list = store.ListAlerts
		}
		out, err := list(ctx, f)
		if err != nil {
			return nil, handleError(&domain.TransportError{Op: "list alerts", Err: err})
		}
		if out == nil {
			out = []domain.Alert{}
		}
		return &struct {
			Body []domain.Alert `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "alerts-create",
		Method:        http.MethodPost,
		Path:          "/alerts",
		Summary:       "Record a field alert",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusUnprocessableEntity, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body CreateAlertRequest `json:"body"`
	}) (*alertOutput, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		in := input.Body
		a := domain.Alert{
			ID:          in.ID,
			CommuneID:   in.CommuneID,
			PerimetreID: in.PerimetreID,
			SiteID:      in.SiteID,
			ActionType:  in.ActionType,
			Year:        in.Year,
			Status:      in.Status,
			Kind:        in.Kind,
			Title:       in.Title,
			CreatedAt:   now(),
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Status == "" {
			a.Status = domain.AlertOpen
		}
		if a.ActionType != "" && !a.ActionType.Valid() {
			return nil, handleError(domain.NewValidationError(domain.RuleUnknownAction, "action_type", "unknown action %q", a.ActionType))
		}
		if !a.Status.Valid() {
			return nil, handleError(domain.NewValidationError(domain.RuleRequired, "status", "unknown alert status %q", a.Status))
		}
		if err := store.InsertAlert(ctx, a); err != nil {
			return nil, handleError(&domain.TransportError{Op: "insert alert", Err: err})
		}
		return &alertOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "alerts-update",
		Method:        http.MethodPatch,
		Path:          "/alerts/{alert_id}",
		Summary:       "Change alert status",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		AlertID string             `path:"alert_id"`
		Body    UpdateAlertRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := actorFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if !input.Body.Status.Valid() {
			return nil, handleError(domain.NewValidationError(domain.RuleRequired, "status", "unknown alert status %q", input.Body.Status))
		}
		if err := store.UpdateAlertStatus(ctx, input.AlertID, input.Body.Status); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
