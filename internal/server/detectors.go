package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"visionline/internal/domain"
	"visionline/internal/engine"
)

func registerDetectors(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-detector",
		Method:        http.MethodPost,
		Path:          "/detectors",
		Summary:       "Create detector",
		Tags:          []string{"detectors"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateDetectorRequest `json:"body"`
	}) (*struct {
		Body domain.Detector `json:"body"`
	}, error) {
		det, err := e.CreateDetector(ctx, engine.DetectorCreateOptions{
			Name:                input.Body.Name,
			Mode:                input.Body.Mode,
			Query:               input.Body.Query,
			ConfidenceThreshold: input.Body.ConfidenceThreshold,
			PatienceSeconds:     input.Body.PatienceSeconds,
			ModelID:             input.Body.ModelID,
			ActorID:             actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Detector `json:"body"`
		}{Body: det}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-detectors",
		Method:      http.MethodGet,
		Path:        "/detectors",
		Summary:     "List detectors",
		Tags:        []string{"detectors"},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body DetectorList `json:"body"`
	}, error) {
		items, err := e.ListDetectors(ctx, normalizeLimit(input.Limit, 50, 500))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DetectorList `json:"body"`
		}{Body: DetectorList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-detector",
		Method:      http.MethodGet,
		Path:        "/detectors/{id}",
		Summary:     "Get detector",
		Tags:        []string{"detectors"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Detector `json:"body"`
	}, error) {
		det, err := e.GetDetector(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Detector `json:"body"`
		}{Body: det}, nil
	})
}
