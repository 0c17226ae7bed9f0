// Package correlate applies inference results to the image queries that
// requested them.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"visionline/internal/alerting"
	"visionline/internal/correlation"
	"visionline/internal/domain"
	"visionline/internal/messages"
)

type Kind string

const (
	Applied  Kind = "applied"
	Ignored  Kind = "ignored"
	Rejected Kind = "rejected"
)

const (
	ReasonUnknownJob        = "unknown job"
	ReasonUnknownImageQuery = "unknown image query"
	ReasonAlreadyProcessed  = "already processed"
)

// Outcome describes what happened to one result. Ignored and Rejected are
// normal outcomes, not errors.
type Outcome struct {
	Kind       Kind
	Reason     string
	ImageQuery *domain.ImageQuery
	Alert      *domain.Alert
	// AlertErr reports a failure to persist or deliver the alert. The answer
	// is recorded regardless.
	AlertErr error
}

// Store is the slice of the repository the correlator writes through.
type Store interface {
	GetImageQuery(ctx context.Context, id string) (domain.ImageQuery, error)
	CompleteImageQuery(ctx context.Context, id string, answer domain.Answer, score float64, processedAt time.Time) (bool, error)
	GetDetector(ctx context.Context, id string) (domain.Detector, error)
	InsertAlert(ctx context.Context, a domain.Alert) error
}

// Recorder is notified of answered queries and raised alerts, typically an audit log.
type Recorder interface {
	Answered(ctx context.Context, iq domain.ImageQuery, jobID string)
	AlertRaised(ctx context.Context, a domain.Alert)
}

type Correlator struct {
	Store        Store
	Correlations correlation.Table
	Alerts       alerting.Policy
	Notifier     alerting.Notifier
	Recorder     Recorder
	Now          func() time.Time
	Logger       *slog.Logger
}

func (c Correlator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c Correlator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Apply records msg against its image query at most once. Redeliveries and
// concurrent duplicates come back as Ignored.
func (c Correlator) Apply(ctx context.Context, msg messages.ResultMessage) (Outcome, error) {
	log := c.logger().With(slog.String("job_id", msg.JobID))
	entry, ok, err := c.Correlations.Lookup(ctx, msg.JobID)
	if err != nil {
		return Outcome{}, fmt.Errorf("lookup job %s: %w", msg.JobID, err)
	}
	if !ok {
		log.Warn("result for unknown job")
		return Outcome{Kind: Rejected, Reason: ReasonUnknownJob}, nil
	}
	log = log.With(slog.String("image_query_id", entry.ImageQueryID))

	iq, err := c.Store.GetImageQuery(ctx, entry.ImageQueryID)
	if err != nil {
		if isNotFound(err) {
			log.Warn("result for unknown image query")
			return Outcome{Kind: Rejected, Reason: ReasonUnknownImageQuery}, nil
		}
		return Outcome{}, fmt.Errorf("load image query %s: %w", entry.ImageQueryID, err)
	}
	if iq.Complete() {
		log.Debug("duplicate result ignored")
		return Outcome{Kind: Ignored, Reason: ReasonAlreadyProcessed, ImageQuery: &iq}, nil
	}
	if !msg.ScoreInRange() {
		log.Warn("result score outside [0, 1]", slog.Float64("score", msg.Score))
	}

	processedAt := c.now().UTC()
	if msg.ProcessedAt != nil {
		processedAt = msg.ProcessedAt.UTC()
	}
	applied, err := c.Store.CompleteImageQuery(ctx, iq.ID, msg.Answer, msg.Score, processedAt)
	if err != nil {
		return Outcome{}, fmt.Errorf("complete image query %s: %w", iq.ID, err)
	}
	if !applied {
		log.Debug("concurrent duplicate result ignored")
		current, err := c.Store.GetImageQuery(ctx, iq.ID)
		if err != nil {
			return Outcome{Kind: Ignored, Reason: ReasonAlreadyProcessed}, nil
		}
		return Outcome{Kind: Ignored, Reason: ReasonAlreadyProcessed, ImageQuery: &current}, nil
	}

	answer, score := msg.Answer, msg.Score
	iq.Answer = &answer
	iq.AnswerScore = &score
	iq.ProcessedAt = &processedAt
	out := Outcome{Kind: Applied, ImageQuery: &iq}
	log.Info("image query answered", slog.String("answer", string(answer)), slog.Float64("score", score))

	if err := c.Correlations.Resolve(ctx, msg.JobID, c.now()); err != nil {
		log.Warn("resolve correlation", slog.String("error", err.Error()))
	}
	if c.Recorder != nil {
		c.Recorder.Answered(ctx, iq, msg.JobID)
	}
	out.Alert, out.AlertErr = c.raiseAlert(ctx, iq, log)
	return out, nil
}

func (c Correlator) raiseAlert(ctx context.Context, iq domain.ImageQuery, log *slog.Logger) (*domain.Alert, error) {
	det, err := c.Store.GetDetector(ctx, iq.DetectorID)
	if err != nil {
		log.Error("load detector for alerting", slog.String("error", err.Error()))
		return nil, fmt.Errorf("load detector %s: %w", iq.DetectorID, err)
	}
	a, ok := alerting.MaybeAlert(iq, det, c.Alerts, c.now())
	if !ok {
		return nil, nil
	}
	if err := c.Store.InsertAlert(ctx, a); err != nil {
		log.Error("persist alert", slog.String("error", err.Error()))
		return nil, fmt.Errorf("persist alert: %w", err)
	}
	log.Info("alert raised", slog.String("alert_id", a.ID), slog.String("channel", string(a.Channel)))
	if c.Recorder != nil {
		c.Recorder.AlertRaised(ctx, a)
	}
	if c.Notifier != nil {
		if err := c.Notifier.Notify(ctx, a); err != nil {
			log.Warn("alert delivery failed", slog.String("alert_id", a.ID), slog.String("error", err.Error()))
			return &a, fmt.Errorf("notify: %w", err)
		}
	}
	return &a, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
