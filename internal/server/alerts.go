package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"visionline/internal/domain"
	"visionline/internal/engine"
)

func registerAlerts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "recent-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts/events/recent",
		Summary:     "Recent alerts",
		Tags:        []string{"alerts"},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"100"`
	}) (*struct {
		Body AlertList `json:"body"`
	}, error) {
		items, err := e.RecentAlerts(ctx, normalizeLimit(input.Limit, 20, 100))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AlertList `json:"body"`
		}{Body: AlertList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-alert",
		Method:      http.MethodGet,
		Path:        "/alerts/{id}",
		Summary:     "Get alert",
		Tags:        []string{"alerts"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Alert `json:"body"`
	}, error) {
		al, err := e.GetAlert(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Alert `json:"body"`
		}{Body: al}, nil
	})
}
