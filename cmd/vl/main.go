package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"visionline/internal/app"
	"visionline/internal/config"
	"visionline/internal/db"
	"visionline/internal/domain"
	"visionline/internal/engine"
	"visionline/internal/messages"
	"visionline/internal/repo"
	"visionline/internal/server"
	visionlinesdk "visionline/sdk/go"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "vl",
	Short: "Visionline CLI",
	Long: `Visionline answers natural-language questions about images asynchronously.
Core concepts:
- Detector: a question ("Is the dock door open?") with a mode and confidence threshold.
- Stream: a registered RTSP source that image queries can reference.
- Image query: one request against a detector; pending until a worker result answers it.
- Job / Result: messages on the bus between this service and inference workers.
- Alert: raised when a binary detector answers YES with enough confidence.
- Event log: audit trail of changes, view with 'vl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VISIONLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier for local commands")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("database-driver", "", "database driver (sqlite or postgres)")
	flags.String("database-dsn", "", "database dsn")
	flags.String("bus-driver", "", "message bus driver (memory or nats)")
	flags.String("bus-url", "", "message bus url")
	flags.String("server", "http://127.0.0.1:8080", "API base URL for remote commands")
	flags.String("token", "", "bearer token for remote commands")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "database-driver", "database-dsn", "bus-driver", "bus-url", "server", "token"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(detectorCmd())
	rootCmd.AddCommand(streamCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(resultCmd())
	rootCmd.AddCommand(alertCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(versionCmd())
}

func overrides() app.Overrides {
	return app.Overrides{
		Addr:           viper.GetString("addr"),
		DatabaseDriver: viper.GetString("database-driver"),
		DatabaseDSN:    viper.GetString("database-dsn"),
		BusDriver:      viper.GetString("bus-driver"),
		BusURL:         viper.GetString("bus-url"),
		JWTSecret:      viper.GetString("jwt-secret"),
		LogLevel:       viper.GetString("log-level"),
	}
}

func loadConfig() (*config.Config, error) {
	return app.ResolveConfig(viper.GetString("workspace"), overrides())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage visionline.yml",
		Long:  "Config lives in visionline.yml in the workspace; flags and VISIONLINE_* environment variables override selected keys.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default visionline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret != "" {
				cfg.Auth.JWTSecret = "***"
			}
			if cfg.Alerts.Webhook.Secret != "" {
				cfg.Alerts.Webhook.Secret = "***"
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, jwtSecret string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and result consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			o := overrides()
			o.Addr = addr
			o.JWTSecret = firstNonEmpty(jwtSecret, viper.GetString("jwt-secret"))
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), o)
			if err != nil {
				return err
			}
			level, _ := config.ParseLevel(cfg.Log.Level)
			logger, closeLog := config.SetupLogger(cfg.Log.File, level)
			defer closeLog()
			slog.SetDefault(logger)

			rt, err := app.Open(viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			go func() {
				if err := rt.Consumer().Run(ctx); err != nil {
					logger.Error("result consumer stopped", slog.String("error", err.Error()))
					cancel()
				}
			}()
			go rt.RunSweeper(ctx, cfg.Dispatch.Correlation.SweepInterval())

			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Version:  version,
				Auth:     server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret},
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving visionline api",
				slog.String("addr", cfg.Server.Addr),
				slog.String("base_path", basePath),
				slog.String("database", cfg.Database.Driver),
				slog.String("bus", cfg.Bus.Driver),
				slog.Bool("auth", cfg.Auth.JWTSecret != ""))
			fmt.Printf("Serving visionline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret; enables bearer auth")
	return cmd
}

func detectorCmd() *cobra.Command {
	det := &cobra.Command{Use: "detector", Short: "Manage detectors"}
	det.AddCommand(detectorCreateCmd())
	det.AddCommand(detectorListCmd())
	det.AddCommand(detectorShowCmd())
	return det
}

func detectorCreateCmd() *cobra.Command {
	var opts engine.DetectorCreateOptions
	var threshold float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a detector",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("threshold") {
				opts.ConfidenceThreshold = &threshold
			}
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDetector(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "detector name")
	cmd.Flags().StringVar(&opts.Query, "query", "", "natural-language question")
	cmd.Flags().StringVar(&opts.Mode, "mode", "binary", "binary, multiclass, counting or bounding_box")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.5, "confidence threshold in [0,1]")
	cmd.Flags().Float64Var(&opts.PatienceSeconds, "patience", 0, "job deadline in seconds (0 for none)")
	cmd.Flags().StringVar(&opts.ModelID, "model-id", "", "model id (default from config)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func detectorListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List detectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDetectors(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Mode", "Threshold", "Active", "Query"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.Mode, d.ConfidenceThreshold, d.IsActive, d.Query})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func detectorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a detector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GetDetector(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func streamCmd() *cobra.Command {
	s := &cobra.Command{Use: "stream", Short: "Manage RTSP streams"}
	s.AddCommand(streamCreateCmd())
	s.AddCommand(streamListCmd())
	s.AddCommand(streamShowCmd())
	s.AddCommand(streamUpdateCmd())
	return s
}

func streamCreateCmd() *cobra.Command {
	var opts engine.StreamCreateOptions
	var masks string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			zm, err := parseMasks(masks)
			if err != nil {
				return err
			}
			opts.ZoneMasks = zm
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateStream(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "stream name")
	cmd.Flags().StringVar(&opts.RTSPURL, "rtsp-url", "", "rtsp url")
	cmd.Flags().StringVar(&masks, "zone-masks", "", "zone masks as a JSON object")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("rtsp-url")
	return cmd
}

func streamListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListStreams(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "RTSP URL", "Active", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.RTSPURL, s.IsActive, s.UpdatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func streamShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetStream(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func streamUpdateCmd() *cobra.Command {
	var name, rtspURL, masks string
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update stream fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.StreamUpdateOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("rtsp-url") {
				opts.RTSPURL = &rtspURL
			}
			if cmd.Flags().Changed("active") {
				opts.IsActive = &active
			}
			if cmd.Flags().Changed("zone-masks") {
				zm, err := parseMasks(masks)
				if err != nil {
					return err
				}
				opts.ZoneMasks = zm
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateStream(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&rtspURL, "rtsp-url", "", "new rtsp url")
	cmd.Flags().StringVar(&masks, "zone-masks", "", "zone masks as a JSON object")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func queryCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "query",
		Short: "Submit and inspect image queries through a running server",
	}
	q.AddCommand(querySubmitCmd())
	q.AddCommand(queryShowCmd())
	q.AddCommand(queryWaitCmd())
	return q
}

func querySubmitCmd() *cobra.Command {
	var in visionlinesdk.SubmitInput
	var streamID string
	var waitFor time.Duration
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an image query",
		RunE: func(cmd *cobra.Command, args []string) error {
			if streamID != "" {
				in.RTSPSourceID = &streamID
			}
			c := sdkClient()
			iq, err := c.SubmitImageQuery(cmd.Context(), in)
			if err != nil {
				return err
			}
			if waitFor > 0 {
				res, err := c.WaitImageQuery(cmd.Context(), iq.ID, &waitFor, nil)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			}
			return printJSONOrTable(iq)
		},
	}
	cmd.Flags().StringVar(&in.DetectorID, "detector", "", "detector id")
	cmd.Flags().StringVar(&in.SnapshotURL, "snapshot-url", "", "http(s) url of the image")
	cmd.Flags().StringVar(&streamID, "stream", "", "stream id (optional)")
	cmd.Flags().DurationVar(&waitFor, "wait", 0, "wait this long for an answer")
	_ = cmd.MarkFlagRequired("detector")
	_ = cmd.MarkFlagRequired("snapshot-url")
	return cmd
}

func queryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an image query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iq, err := sdkClient().GetImageQuery(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(iq)
		},
	}
}

func queryWaitCmd() *cobra.Command {
	var timeout, poll time.Duration
	var clientSide bool
	cmd := &cobra.Command{
		Use:   "wait <id>",
		Short: "Wait for an image query answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := sdkClient()
			if clientSide {
				iq, err := c.WaitForImageQuery(cmd.Context(), args[0], timeout, poll)
				if err != nil {
					return err
				}
				return printJSONOrTable(iq)
			}
			var t, p *time.Duration
			if cmd.Flags().Changed("timeout") {
				t = &timeout
			}
			if cmd.Flags().Changed("poll") {
				p = &poll
			}
			res, err := c.WaitImageQuery(cmd.Context(), args[0], t, p)
			if err != nil {
				return err
			}
			return printJSONOrTable(res)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait")
	cmd.Flags().DurationVar(&poll, "poll", 500*time.Millisecond, "poll interval")
	cmd.Flags().BoolVar(&clientSide, "client-side", false, "poll GET instead of the server long poll")
	return cmd
}

func resultCmd() *cobra.Command {
	r := &cobra.Command{Use: "result", Short: "Worker result tools"}
	r.AddCommand(resultPublishCmd())
	return r
}

func resultPublishCmd() *cobra.Command {
	var msg messages.ResultMessage
	var answer string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a result message to the bus (manual testing)",
		Long:  "With the memory bus the result is applied directly to the workspace database (requires dispatch.correlation.store: sql); with NATS it is published for the running server to consume.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ok := domain.ParseAnswer(strings.ToUpper(answer))
			if !ok {
				return fmt.Errorf("answer must be YES, NO or UNKNOWN")
			}
			msg.Answer = a
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := app.Open(viper.GetString("workspace"), cfg, nil)
			if err != nil {
				return err
			}
			defer rt.Close()
			out, err := rt.PublishResult(cmd.Context(), msg)
			if err != nil {
				return err
			}
			if out != nil {
				return printJSONOrTable(out)
			}
			fmt.Println("published to", cfg.Bus.ResultsSubject)
			return nil
		},
	}
	cmd.Flags().StringVar(&msg.JobID, "job", "", "job id")
	cmd.Flags().StringVar(&answer, "answer", "YES", "YES, NO or UNKNOWN")
	cmd.Flags().Float64Var(&msg.Score, "score", 1, "confidence score")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func alertCmd() *cobra.Command {
	a := &cobra.Command{Use: "alert", Short: "Inspect alerts"}
	a.AddCommand(alertRecentCmd())
	a.AddCommand(alertShowCmd())
	return a
}

func alertRecentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recent alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.RecentAlerts(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Detector", "Image Query", "Status", "Created", "Message"})
				for _, al := range items {
					tw.AppendRow(table.Row{al.ID, al.DetectorID, al.ImageQueryID, al.Status, al.CreatedAt.Format(time.RFC3339), al.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows (1..100)")
	return cmd
}

func alertShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				al, err := e.GetAlert(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(al)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Audit trail of detector, stream, image query, job and alert changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable(table.Row{"TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := app.OpenStore(cfg, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer conn.Close()
	e, err := engine.New(conn, cfg, engine.Options{Driver: cfg.Database.Driver})
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func sdkClient() *visionlinesdk.Client {
	c := visionlinesdk.New(viper.GetString("server"))
	c.BearerToken = viper.GetString("token")
	return c
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseMasks(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("zone masks must be a JSON object: %w", err)
	}
	return m, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
