package correlate

import (
	"context"
	"log/slog"
	"time"

	"visionline/internal/bus"
	"visionline/internal/messages"
)

const DefaultSubject = "inference.results"

// Consumer feeds results from the bus into a Correlator until its context ends.
// Undecodable payloads are logged and, when DeadLetterSubject is set,
// republished there untouched. Nothing is retried.
type Consumer struct {
	Bus               bus.Bus
	Subject           string
	DeadLetterSubject string
	Correlator        Correlator
	ApplyTimeout      time.Duration
	Logger            *slog.Logger
}

func (c Consumer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Run subscribes and blocks until ctx is cancelled.
func (c Consumer) Run(ctx context.Context) error {
	subject := c.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := c.Bus.Subscribe(subject, func(_ context.Context, msg bus.Message) {
		c.Handle(ctx, msg)
	})
	if err != nil {
		return err
	}
	c.logger().Info("consuming results", slog.String("subject", subject))
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		c.logger().Warn("unsubscribe results", slog.String("error", err.Error()))
	}
	return nil
}

// Handle processes a single delivery.
func (c Consumer) Handle(ctx context.Context, msg bus.Message) {
	log := c.logger()
	result, err := messages.DecodeResult(msg.Data)
	if err != nil {
		log.Warn("discarding undecodable result", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
		if c.DeadLetterSubject != "" {
			if perr := c.Bus.Publish(context.WithoutCancel(ctx), c.DeadLetterSubject, msg.Data); perr != nil {
				log.Error("dead-letter publish failed", slog.String("error", perr.Error()))
			}
		}
		return
	}
	timeout := c.ApplyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	out, err := c.Correlator.Apply(applyCtx, result)
	if err != nil {
		log.Error("apply result", slog.String("job_id", result.JobID), slog.String("error", err.Error()))
		return
	}
	log.Debug("result handled",
		slog.String("job_id", result.JobID),
		slog.String("outcome", string(out.Kind)),
		slog.String("reason", out.Reason))
}
