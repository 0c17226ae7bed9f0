package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"visionline/internal/alerting"
	"visionline/internal/bus"
	"visionline/internal/config"
	"visionline/internal/correlate"
	"visionline/internal/correlation"
	"visionline/internal/dispatch"
	"visionline/internal/domain"
	"visionline/internal/events"
	"visionline/internal/messages"
	"visionline/internal/migrate"
	"visionline/internal/repo"
	"visionline/internal/wait"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDetectorNotFound = errors.New("detector not found")
	ErrStreamNotFound   = errors.New("stream not found")
)

// Engine wires storage, dispatch, correlation and waiting behind one facade
// shared by the HTTP server and the CLI.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Dispatcher dispatch.Dispatcher
	Correlator correlate.Correlator
	Waiter     wait.Coordinator
	Now        func() time.Time
	Logger     *slog.Logger
}

// Options carries the collaborators New cannot derive from config.
type Options struct {
	Driver       string
	Publisher    bus.Publisher
	Correlations correlation.Table
	Notifier     alerting.Notifier
	Logger       *slog.Logger
}

func New(conn *sql.DB, cfg *config.Config, opts Options) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	driver := opts.Driver
	if driver == "" {
		driver = cfg.Database.Driver
	}
	r := repo.New(conn, driver)
	policy, err := alerting.NewPolicy(domain.AlertChannel(cfg.Alerts.Channel), cfg.Alerts.MessageTemplate)
	if err != nil {
		return Engine{}, err
	}
	table := opts.Correlations
	if table == nil {
		table = NewCorrelationTable(cfg, r)
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = alerting.NopNotifier{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = unavailablePublisher{}
	}
	e := Engine{
		DB:     conn,
		Repo:   r,
		Events: events.Writer{DB: conn, Driver: r.Driver},
		Config: cfg,
		Dispatcher: dispatch.Dispatcher{
			Bus:            publisher,
			Correlations:   table,
			Subject:        cfg.Bus.JobsSubject,
			DefaultModelID: cfg.Dispatch.DefaultModelID,
			Logger:         logger.With(slog.String("component", "dispatch")),
		},
		Correlator: correlate.Correlator{
			Store:        r,
			Correlations: table,
			Alerts:       policy,
			Notifier:     notifier,
			Logger:       logger.With(slog.String("component", "correlate")),
		},
		Waiter: wait.Coordinator{
			Reader:         r,
			DefaultTimeout: cfg.WaitTimeout(),
			DefaultPoll:    cfg.WaitPoll(),
			MaxTimeout:     cfg.WaitMaxTimeout(),
		},
		Logger: logger,
	}
	e.Correlator.Recorder = auditRecorder{events: e.Events, logger: logger}
	return e.WithClock(time.Now), nil
}

// NewCorrelationTable builds the table selected by dispatch.correlation.store.
func NewCorrelationTable(cfg *config.Config, r repo.Repo) correlation.Table {
	c := cfg.Dispatch.Correlation
	retention := correlation.Retention{
		Resolved:  c.ResolvedRetention(),
		Expired:   c.ExpiredGrace(),
		Unbounded: c.UnboundedTTL(),
	}
	if c.Store == "sql" {
		return correlation.SQLTable{Repo: r, Retention: retention}
	}
	return correlation.NewMemory(retention)
}

// WithClock returns a copy whose components all read time from now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	e.Dispatcher.Now = now
	e.Correlator.Now = now
	if rec, ok := e.Correlator.Recorder.(auditRecorder); ok {
		rec.events.Now = now
		e.Correlator.Recorder = rec
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) record(ctx context.Context, evtType, kind, id, actor string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, nil, evtType, kind, id, actor, payload); err != nil {
		e.logger().Warn("append event", slog.String("type", evtType), slog.String("error", err.Error()))
	}
}

// ApplyResult records a worker result; see correlate.Correlator.Apply.
func (e Engine) ApplyResult(ctx context.Context, msg messages.ResultMessage) (correlate.Outcome, error) {
	return e.Correlator.Apply(ctx, msg)
}

// SweepCorrelations drops correlation entries past their retention.
func (e Engine) SweepCorrelations(ctx context.Context) (int, error) {
	return e.Dispatcher.Correlations.Sweep(ctx, e.now())
}

// Health reports liveness of the database and the applied schema version.
func (e Engine) Health(ctx context.Context) (int, error) {
	if err := e.DB.PingContext(ctx); err != nil {
		return 0, err
	}
	return migrate.Version(ctx, e.DB)
}

type unavailablePublisher struct{}

func (unavailablePublisher) Publish(context.Context, string, []byte) error {
	return errors.New("no message bus configured")
}

type auditRecorder struct {
	events events.Writer
	logger *slog.Logger
}

func (a auditRecorder) Answered(ctx context.Context, iq domain.ImageQuery, jobID string) {
	payload := events.EventPayload{"job_id": jobID}
	if iq.Answer != nil {
		payload["answer"] = string(*iq.Answer)
	}
	if iq.AnswerScore != nil {
		payload["score"] = *iq.AnswerScore
	}
	if err := a.events.Append(ctx, nil, events.ImageQueryAnswered, "image_query", iq.ID, "worker", payload); err != nil {
		a.logger.Warn("append event", slog.String("type", events.ImageQueryAnswered), slog.String("error", err.Error()))
	}
}

func (a auditRecorder) AlertRaised(ctx context.Context, al domain.Alert) {
	payload := events.EventPayload{"image_query_id": al.ImageQueryID, "channel": string(al.Channel)}
	if err := a.events.Append(ctx, nil, events.AlertRaised, "alert", al.ID, "system", payload); err != nil {
		a.logger.Warn("append event", slog.String("type", events.AlertRaised), slog.String("error", err.Error()))
	}
}
