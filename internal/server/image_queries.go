package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"visionline/internal/dispatch"
	"visionline/internal/domain"
	"visionline/internal/engine"
)

func registerImageQueries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-image-query",
		Method:        http.MethodPost,
		Path:          "/image-queries",
		Summary:       "Submit image query",
		Description:   "Stores a pending image query and dispatches one inference job for it.",
		Tags:          []string{"image-queries"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body SubmitImageQueryRequest `json:"body"`
	}) (*struct {
		Body domain.ImageQuery `json:"body"`
	}, error) {
		opts := engine.SubmitOptions{
			DetectorID:  input.Body.DetectorID,
			SnapshotURL: input.Body.SnapshotURL,
			RequestedBy: actorID(ctx),
		}
		if input.Body.RTSPSourceID != nil {
			opts.StreamID = *input.Body.RTSPSourceID
		}
		iq, err := e.SubmitImageQuery(ctx, opts)
		if err != nil {
			if errors.Is(err, dispatch.ErrDispatchFailed) && iq.ID != "" {
				return nil, newAPIError(http.StatusBadGateway, "dispatch_failed", err.Error(), map[string]any{"image_query_id": iq.ID})
			}
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ImageQuery `json:"body"`
		}{Body: iq}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-image-query",
		Method:      http.MethodGet,
		Path:        "/image-queries/{id}",
		Summary:     "Get image query",
		Tags:        []string{"image-queries"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ImageQuery `json:"body"`
	}, error) {
		iq, err := e.GetImageQuery(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ImageQuery `json:"body"`
		}{Body: iq}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "wait-image-query",
		Method:      http.MethodGet,
		Path:        "/image-queries/{id}/wait",
		Summary:     "Wait for an image query result",
		Description: "Blocks until the query is answered or timeout seconds elapse; a timeout yields status pending.",
		Tags:        []string{"image-queries"},
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		Timeout string `query:"timeout" doc:"seconds to wait, default from config"`
		Poll    string `query:"poll" doc:"seconds between reads, default from config"`
	}) (*struct {
		Body WaitResponse `json:"body"`
	}, error) {
		timeout, err := parseSeconds("timeout", input.Timeout)
		if err != nil {
			return nil, handleError(err)
		}
		poll, err := parseSeconds("poll", input.Poll)
		if err != nil {
			return nil, handleError(err)
		}
		out, err := e.WaitImageQuery(ctx, input.ID, timeout, poll)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WaitResponse `json:"body"`
		}{Body: WaitResponse{Status: out.Status, Result: out.Result}}, nil
	})
}

const maxWaitSeconds = float64(math.MaxInt64/int64(time.Second)) - 1

// parseSeconds reads an optional float seconds value. Empty means unset.
func parseSeconds(name, raw string) (*time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %s must be a number of seconds", engine.ErrInvalidInput, name)
	}
	// beyond this the float conversion overflows; the engine caps it further
	if v > maxWaitSeconds {
		v = maxWaitSeconds
	}
	d := time.Duration(v * float64(time.Second))
	return &d, nil
}
