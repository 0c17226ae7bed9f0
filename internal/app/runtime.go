// Package app assembles config, storage, bus and engine for the CLI commands.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"visionline/internal/alerting"
	"visionline/internal/bus"
	"visionline/internal/config"
	"visionline/internal/correlate"
	"visionline/internal/db"
	"visionline/internal/domain"
	"visionline/internal/engine"
	"visionline/internal/messages"
	"visionline/internal/migrate"
)

// ErrProcessLocalCorrelations is returned when a result would be applied
// against a correlation table that only the dispatching process can see.
var ErrProcessLocalCorrelations = errors.New("dispatch.correlation.store memory is process-local; results from another process need store sql")

// Overrides are flag or environment values applied on top of visionline.yml.
// Empty fields leave the file value alone.
type Overrides struct {
	Addr           string
	DatabaseDriver string
	DatabaseDSN    string
	BusDriver      string
	BusURL         string
	JWTSecret      string
	LogLevel       string
}

// ResolveConfig loads the workspace config and applies overrides.
func ResolveConfig(workspace string, o Overrides) (*config.Config, error) {
	cfg, err := config.Load(config.Path(workspace))
	if err != nil {
		return nil, err
	}
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&cfg.Server.Addr, o.Addr)
	set(&cfg.Database.Driver, o.DatabaseDriver)
	set(&cfg.Database.DSN, o.DatabaseDSN)
	set(&cfg.Bus.Driver, o.BusDriver)
	set(&cfg.Bus.URL, o.BusURL)
	set(&cfg.Auth.JWTSecret, o.JWTSecret)
	set(&cfg.Log.Level, o.LogLevel)
	cfg.Database.Driver = db.NormalizeDriver(cfg.Database.Driver)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenStore opens the configured database and applies migrations.
func OpenStore(cfg *config.Config, workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN, Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

// NewBus connects the configured message bus.
func NewBus(cfg *config.Config, logger *slog.Logger) (bus.Bus, error) {
	switch cfg.Bus.Driver {
	case "nats":
		nb, err := bus.ConnectNATS(cfg.Bus.URL, "visionline", logger)
		if err != nil {
			return nil, err
		}
		nb.QueueGroup = cfg.Bus.QueueGroup
		return nb, nil
	case "memory", "":
		return bus.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}

// NewNotifier routes alerts to the configured delivery channel.
func NewNotifier(cfg *config.Config, logger *slog.Logger) alerting.Notifier {
	channels := map[domain.AlertChannel]alerting.Notifier{}
	if hook := cfg.Alerts.Webhook; strings.TrimSpace(hook.URL) != "" {
		channels[domain.ChannelWebhook] = alerting.WebhookNotifier{
			URL:     hook.URL,
			Secret:  hook.Secret,
			Timeout: time.Duration(hook.TimeoutSeconds) * time.Second,
		}
	}
	return alerting.Router{Channels: channels, Logger: logger}
}

// Runtime is a fully wired process: store, bus and engine.
type Runtime struct {
	Config *config.Config
	DB     *sql.DB
	Bus    bus.Bus
	Engine engine.Engine
	Logger *slog.Logger
}

// Open wires a Runtime. Close releases the bus and the database.
func Open(workspace string, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := OpenStore(cfg, workspace)
	if err != nil {
		return nil, err
	}
	b, err := NewBus(cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e, err := engine.New(conn, cfg, engine.Options{
		Driver:    cfg.Database.Driver,
		Publisher: b,
		Notifier:  NewNotifier(cfg, logger),
		Logger:    logger,
	})
	if err != nil {
		b.Close()
		conn.Close()
		return nil, err
	}
	return &Runtime{Config: cfg, DB: conn, Bus: b, Engine: e, Logger: logger}, nil
}

func (r *Runtime) Close() error {
	return errors.Join(r.Bus.Close(), r.DB.Close())
}

// Consumer returns the result consumer bound to this runtime's bus.
func (r *Runtime) Consumer() correlate.Consumer {
	return correlate.Consumer{
		Bus:               r.Bus,
		Subject:           r.Config.Bus.ResultsSubject,
		DeadLetterSubject: r.Config.Bus.DeadLetterSubject,
		Correlator:        r.Engine.Correlator,
		Logger:            r.Logger.With(slog.String("component", "consumer")),
	}
}

// RunSweeper drops expired correlation entries every interval until ctx ends.
func (r *Runtime) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Engine.SweepCorrelations(ctx)
			if err != nil {
				r.Logger.Warn("sweep correlations", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				r.Logger.Debug("swept correlations", slog.Int("removed", n))
			}
		}
	}
}

// PublishResult hands a worker result to the running service. On the memory
// bus nothing crosses processes, so the result is applied here against the
// shared correlation table and the outcome is returned. Otherwise it is
// published on the results subject and the outcome is nil.
func (r *Runtime) PublishResult(ctx context.Context, msg messages.ResultMessage) (*correlate.Outcome, error) {
	if r.Config.Bus.Driver == "memory" {
		if r.Config.Dispatch.Correlation.Store != "sql" {
			return nil, ErrProcessLocalCorrelations
		}
		out, err := r.Engine.ApplyResult(ctx, msg)
		if err != nil {
			return nil, err
		}
		return &out, nil
	}
	data, err := messages.EncodeResult(msg)
	if err != nil {
		return nil, err
	}
	return nil, r.Bus.Publish(ctx, r.Config.Bus.ResultsSubject, data)
}
