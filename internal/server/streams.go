package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"visionline/internal/domain"
	"visionline/internal/engine"
)

func registerStreams(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-stream",
		Method:        http.MethodPost,
		Path:          "/streams",
		Summary:       "Register RTSP stream",
		Tags:          []string{"streams"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateStreamRequest `json:"body"`
	}) (*struct {
		Body domain.Stream `json:"body"`
	}, error) {
		s, err := e.CreateStream(ctx, engine.StreamCreateOptions{
			Name:      input.Body.Name,
			RTSPURL:   input.Body.RTSPURL,
			ZoneMasks: input.Body.ZoneMasks,
			ActorID:   actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stream `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/streams",
		Summary:     "List streams",
		Tags:        []string{"streams"},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body StreamList `json:"body"`
	}, error) {
		items, err := e.ListStreams(ctx, normalizeLimit(input.Limit, 50, 500))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StreamList `json:"body"`
		}{Body: StreamList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/streams/{id}",
		Summary:     "Get stream",
		Tags:        []string{"streams"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Stream `json:"body"`
	}, error) {
		s, err := e.GetStream(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stream `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-stream",
		Method:      http.MethodPatch,
		Path:        "/streams/{id}",
		Summary:     "Update stream",
		Tags:        []string{"streams"},
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateStreamRequest `json:"body"`
	}) (*struct {
		Body domain.Stream `json:"body"`
	}, error) {
		s, err := e.UpdateStream(ctx, input.ID, engine.StreamUpdateOptions{
			Name:      input.Body.Name,
			RTSPURL:   input.Body.RTSPURL,
			ZoneMasks: input.Body.ZoneMasks,
			IsActive:  input.Body.IsActive,
			ActorID:   actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Stream `json:"body"`
		}{Body: s}, nil
	})
}
