// Package dispatch turns a pending image query into an inference job on the bus.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"visionline/internal/bus"
	"visionline/internal/correlation"
	"visionline/internal/domain"
	"visionline/internal/messages"
)

const DefaultSubject = "inference.jobs"

var (
	ErrNotPending     = errors.New("image query already answered")
	ErrDispatchFailed = errors.New("dispatch failed")
)

type requestIDKey struct{}

// WithRequestID attaches a request id that is copied into job traces.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type Dispatcher struct {
	Bus            bus.Publisher
	Correlations   correlation.Table
	Subject        string
	DefaultModelID string
	Now            func() time.Time
	Logger         *slog.Logger
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Dispatch publishes one job for iq and returns its job id. The correlation
// entry is bound before publishing so a fast worker cannot race it, and is
// removed again when the publish fails. The image query itself is never
// written here.
func (d Dispatcher) Dispatch(ctx context.Context, iq domain.ImageQuery, det domain.Detector, requestedBy string) (string, error) {
	if iq.Complete() || iq.Answer != nil {
		return "", fmt.Errorf("%s: %w", iq.ID, ErrNotPending)
	}
	now := d.now().UTC()
	jobID := domain.NewID(domain.PrefixJob)
	var deadline *time.Time
	if det.PatienceSeconds > 0 {
		dl := now.Add(time.Duration(det.PatienceSeconds * float64(time.Second)))
		deadline = &dl
	}
	modelID := det.ModelID
	if modelID == "" {
		modelID = d.DefaultModelID
	}
	if requestedBy == "" {
		requestedBy = "anonymous"
	}
	msg := messages.JobMessage{
		JobID:       jobID,
		ModelID:     modelID,
		DetectorID:  det.ID,
		RequestedBy: requestedBy,
		Deadline:    deadline,
		Trace: map[string]any{
			"image_query_id": iq.ID,
			"detector_id":    det.ID,
		},
	}
	if iq.StreamID != nil && *iq.StreamID != "" {
		ref := *iq.StreamID
		msg.RTSPRef = &ref
	} else {
		blob := iq.SnapshotURL
		msg.ImageBlobURL = &blob
	}
	if rid := requestID(ctx); rid != "" {
		msg.Trace["request_id"] = rid
	}
	payload, err := messages.EncodeJob(msg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	entry := correlation.Entry{JobID: jobID, ImageQueryID: iq.ID, Deadline: deadline, CreatedAt: now}
	if err := d.Correlations.Bind(ctx, entry); err != nil {
		return "", fmt.Errorf("%w: bind correlation: %v", ErrDispatchFailed, err)
	}
	subject := d.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	if err := d.Bus.Publish(ctx, subject, payload); err != nil {
		if ferr := d.Correlations.Forget(context.WithoutCancel(ctx), jobID); ferr != nil {
			d.logger().Warn("drop correlation after failed publish",
				slog.String("job_id", jobID), slog.String("error", ferr.Error()))
		}
		d.logger().Error("publish job failed",
			slog.String("job_id", jobID),
			slog.String("image_query_id", iq.ID),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: publish %s: %w", ErrDispatchFailed, jobID, err)
	}
	d.logger().Info("job dispatched",
		slog.String("job_id", jobID),
		slog.String("image_query_id", iq.ID),
		slog.String("detector_id", det.ID),
		slog.String("model_id", modelID))
	return jobID, nil
}
