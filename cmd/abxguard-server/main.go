package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/abxguard/abxguard/internal/config"
	"github.com/abxguard/abxguard/internal/domain/dosealert"
	"github.com/abxguard/abxguard/internal/domain/dosing"
	"github.com/abxguard/abxguard/internal/domain/indication"
	"github.com/abxguard/abxguard/internal/domain/monitor"
	"github.com/abxguard/abxguard/internal/domain/notifier"
	"github.com/abxguard/abxguard/internal/domain/patientcontext"
	"github.com/abxguard/abxguard/internal/domain/reviewqueue"
	"github.com/abxguard/abxguard/internal/platform/auth"
	"github.com/abxguard/abxguard/internal/platform/db"
	"github.com/abxguard/abxguard/internal/platform/fhir"
	"github.com/abxguard/abxguard/internal/platform/middleware"
	"github.com/abxguard/abxguard/internal/platform/notify"
	"github.com/abxguard/abxguard/internal/platform/telemetry"
)

const version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "abxguard-server",
		Short:        "Antimicrobial dosing surveillance and alerting service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(monitorCmd())
	root.AddCommand(evaluateCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API with the background monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			noMonitor, _ := cmd.Flags().GetBool("no-monitor")
			return runServer(noMonitor)
		},
	}
	cmd.Flags().Bool("no-monitor", false, "Serve the dashboard API without the background monitor")
	return cmd
}

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run the surveillance loop without the HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			patientID, _ := cmd.Flags().GetString("patient")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			if err := validateEvaluateFlags(all, patientID); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := context.Background()

			var (
				mon     *monitor.Monitor
				cleanup func()
			)
			if dryRun {
				mon, cleanup, err = buildDryRunMonitor(ctx, cfg, logger)
			} else {
				var a *app
				a, err = buildApp(ctx, cfg, logger)
				if err == nil {
					mon, cleanup = a.mon, a.Close
				}
			}
			if err != nil {
				return err
			}
			defer cleanup()

			var stats *monitor.PassStats
			if all {
				stats, err = mon.RunOnce(ctx)
			} else {
				stats, err = mon.RunPatient(ctx, patientID)
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Evaluate every active patient")
	cmd.Flags().String("patient", "", "Evaluate a single patient by source id")
	cmd.Flags().Bool("dry-run", false, "Log findings without persisting or notifying")
	return cmd
}

func validateEvaluateFlags(all bool, patientID string) error {
	if all == (patientID != "") {
		return fmt.Errorf("exactly one of --all or --patient is required")
	}
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the fixture indications into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			src := indication.NewPGSource(pool)
			inds := patientcontext.FixtureIndications()
			for _, ind := range inds {
				if err := src.Save(ctx, ind); err != nil {
					return fmt.Errorf("seed indication for %s: %w", ind.PatientMRN, err)
				}
			}
			fmt.Printf("Seeded %d fixture indications.\n", len(inds))

			fmt.Println("Fixture cohort (compiled in, served when DATA_SOURCE=fixture):")
			for _, p := range patientcontext.DefaultFixtures() {
				fmt.Printf("  %-12s %-16s %s\n", p.Demographics.MRN, p.Demographics.Name, fixtureOrderSummary(p))
			}
			return nil
		},
	}
}

func fixtureOrderSummary(p *patientcontext.StaticPatient) string {
	if len(p.Orders) == 0 {
		return "no active antimicrobials"
	}
	o := p.Orders[0]
	return fmt.Sprintf("%s %g%s %s %s", o.Drug, o.DoseValue, o.DoseUnit, o.Route, o.Frequency)
}

func runServer(noMonitor bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(a.tp.TracingMiddleware())
	e.Use(a.tp.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Liveness and metrics stay outside the auth guard.
	e.GET("/health", db.HealthHandler(a.pool))
	e.GET("/metrics", a.tp.PrometheusHandler())

	// Dashboard surface. Validate refuses production without a JWT secret,
	// so the permissive middleware can only be reached in development.
	api := e.Group("/api/v1")
	api.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	api.Use(middleware.BodyLimit("1M"))
	if cfg.JWTSecret != "" {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{SigningKey: []byte(cfg.JWTSecret)}))
	} else {
		api.Use(auth.DevAuthMiddleware())
	}

	// Alert and queue reads answer fast, so they get a request deadline. The
	// on-demand monitor triggers run a full pass inline and are bounded by the
	// source fetch timeout instead.
	crud := api.Group("", middleware.RequestTimeout(30*time.Second))
	dosealert.NewHandler(a.alerts).RegisterRoutes(crud)
	reviewqueue.NewHandler(a.queue).RegisterRoutes(crud)
	monitor.NewHandler(a.mon).RegisterRoutes(api)

	// Background loops
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	if noMonitor || !cfg.MonitorEnabled {
		logger.Info().Msg("background monitor disabled")
	} else {
		go func() {
			if err := a.mon.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("monitor loop exited")
			}
		}()
	}
	go poolGauges(bgCtx, a.pool, a.tp)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// app bundles the wiring shared by the serve, monitor, and evaluate commands.
type app struct {
	pool     *pgxpool.Pool
	tp       *telemetry.TelemetryProvider
	activity *telemetry.ActivityLog
	alerts   *dosealert.Service
	queue    *reviewqueue.Service
	mon      *monitor.Monitor
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "abxguard-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	activity := telemetry.NewActivityLog(logger, tp, 256)

	alertSvc := dosealert.NewService(pool, dosealert.NewAlertRepoPG(pool), dosealert.NewAuditRepoPG(pool), logger)
	alertSvc.SetTelemetry(tp)
	alertSvc.SetActivityLog(activity)

	queueSvc := reviewqueue.NewService(reviewqueue.NewRepoPG(pool), logger)

	source, err := buildClinicalSource(cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	assembler := patientcontext.NewAssembler(source, indication.NewPGSource(pool), fetchTimeout(cfg), logger)

	engine := dosing.NewEngine(dosing.DefaultModules(float64(cfg.DoseTolerancePct)), logger)
	engine.SetTelemetry(tp)

	router, err := buildRouter(cfg, alertSvc, queueSvc, tp, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	mon := monitor.New(assembler, engine, alertSvc, router, monitor.Config{
		Interval:      time.Duration(cfg.MonitorIntervalMinutes) * time.Minute,
		Workers:       cfg.MonitorWorkers,
		AutoAcceptAge: time.Duration(cfg.AutoAcceptHours) * time.Hour,
		Retention:     time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}, logger)
	mon.SetTelemetry(tp)

	return &app{
		pool:     pool,
		tp:       tp,
		activity: activity,
		alerts:   alertSvc,
		queue:    queueSvc,
		mon:      mon,
	}, nil
}

func (a *app) Close() {
	a.activity.Close()
	_ = a.tp.Shutdown(context.Background())
	a.pool.Close()
}

// buildDryRunMonitor wires an evaluation-only pipeline: findings are logged
// and summarized, nothing is written and nothing is notified, so the monitor
// carries no alert store and no dispatcher. Indications come from the
// database when one is configured; otherwise the fixture indications back
// the walkthrough so a dry run needs no infrastructure at all.
func buildDryRunMonitor(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*monitor.Monitor, func(), error) {
	cleanup := func() {}

	var indications indication.Source
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		cleanup = pool.Close
		indications = indication.NewPGSource(pool)
	} else {
		static := indication.NewStaticSource()
		for _, ind := range patientcontext.FixtureIndications() {
			static.Set(ind)
		}
		indications = static
	}

	source, err := buildClinicalSource(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	assembler := patientcontext.NewAssembler(source, indications, fetchTimeout(cfg), logger)
	engine := dosing.NewEngine(dosing.DefaultModules(float64(cfg.DoseTolerancePct)), logger)

	// The nil store and dispatcher are never touched on the dry-run path.
	mon := monitor.New(assembler, engine, nil, nil, monitor.Config{
		Workers: cfg.MonitorWorkers,
		DryRun:  true,
	}, logger)
	return mon, cleanup, nil
}

// buildClinicalSource selects the upstream the assembler reads from: the
// compiled-in fixture cohort or a live FHIR R4 server.
func buildClinicalSource(cfg *config.Config, logger zerolog.Logger) (patientcontext.ClinicalSource, error) {
	if cfg.DataSource == "fhir" {
		opts := []fhir.ClientOption{fhir.WithTimeout(fetchTimeout(cfg))}
		if cfg.FHIRToken != "" {
			opts = append(opts, fhir.WithToken(cfg.FHIRToken))
		}
		client, err := fhir.NewClient(cfg.FHIRBaseURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("fhir client: %w", err)
		}
		return patientcontext.NewFHIRSource(client, logger), nil
	}
	return patientcontext.NewStaticSource(patientcontext.DefaultFixtures()...), nil
}

func buildRouter(cfg *config.Config, alerts *dosealert.Service, queue *reviewqueue.Service, tp *telemetry.TelemetryProvider, logger zerolog.Logger) (*notifier.Router, error) {
	var chat notify.ChatSender
	if cfg.ChatWebhookURL != "" {
		var opts []notify.WebhookOption
		if cfg.ChatWebhookSecret != "" {
			opts = append(opts, notify.WithSecret(cfg.ChatWebhookSecret))
		}
		sender, err := notify.NewWebhookChatSender(cfg.ChatWebhookURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("chat webhook: %w", err)
		}
		chat = sender
	}

	var email notify.EmailSender
	if cfg.SMTPHost != "" {
		email = notify.NewSMTPEmailSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.SMTPUsername, cfg.SMTPPassword)
	}

	router := notifier.NewRouter(chat, email, cfg.AlertEmailRecipients, alerts, logger)
	router.SetRetryPolicy(retryPolicy(cfg))
	router.SetTelemetry(tp)

	mirror := notifier.NewQueueMirror(queue, logger)
	mirror.SetTelemetry(tp)
	router.AddListener(mirror)
	return router, nil
}

// retryPolicy keeps the default backoff ladder and lets config bound the
// attempt count.
func retryPolicy(cfg *config.Config) notify.RetryPolicy {
	p := notify.DefaultRetryPolicy()
	p.MaxAttempts = cfg.NotifyMaxAttempts
	return p
}

func fetchTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.FHIRTimeoutSeconds) * time.Second
}

// newLogger builds the root logger: human-readable console output in
// development, JSON elsewhere, level from config.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// poolGauges feeds the db.pool gauges every 30 seconds so /metrics reflects
// connection pressure between monitor passes.
func poolGauges(ctx context.Context, pool *pgxpool.Pool, tp *telemetry.TelemetryProvider) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.GetPoolStats(pool)
			hm := tp.HealthMetrics()
			hm.SetDBPoolActive(int64(stats.AcquiredConns))
			hm.SetDBPoolIdle(int64(stats.IdleConns))
		}
	}
}
