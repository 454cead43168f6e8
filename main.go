package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	alarmapp "equipment-alerts/internal/alarms/application"
	alarms "equipment-alerts/internal/alarms/domain"
	alarmmemory "equipment-alerts/internal/alarms/infrastructure/memory"
	alarmpostgres "equipment-alerts/internal/alarms/infrastructure/postgres"
	alarmsqlite "equipment-alerts/internal/alarms/infrastructure/sqlite"
	alarmhttp "equipment-alerts/internal/alarms/interfaces/http"
	alarmnotify "equipment-alerts/internal/alarms/notify"
	apihttp "equipment-alerts/internal/api/http"
	"equipment-alerts/internal/audit"
	"equipment-alerts/internal/auth"
	"equipment-alerts/internal/config"
	episodeapp "equipment-alerts/internal/episodes/application"
	episodepostgres "equipment-alerts/internal/episodes/infrastructure/postgres"
	"equipment-alerts/internal/observability/metrics"
	pipelineapp "equipment-alerts/internal/pipeline/application"
	pipelinehttp "equipment-alerts/internal/pipeline/interfaces/http"
	"equipment-alerts/internal/rules"
	telemetryapp "equipment-alerts/internal/telemetry/application"
	"equipment-alerts/internal/telemetry/infrastructure/httpsource"
	telemetryhttp "equipment-alerts/internal/telemetry/interfaces/http"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, alertRepo, err := openAlertStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("alert store error: %v", err)
	}
	if db != nil {
		defer db.Close()
	}
	metrics.Init(db, logger)

	catalog, err := loadCatalog(cfg.Rules.Path, logger)
	if err != nil {
		logger.Fatalf("rule catalog error: %v", err)
	}

	normalizer := telemetryapp.NewNormalizer(telemetryapp.WithLocation(cfg.Location()))
	consolidator, err := episodeapp.NewConsolidator(cfg.Episodes, episodeapp.WithLogger(logger))
	if err != nil {
		logger.Fatalf("consolidator error: %v", err)
	}

	templates := alarmapp.NewTemplateRegistry(cfg.Alerts.DefaultTemplate)
	for group, tpl := range cfg.Alerts.GroupTemplates {
		templates.Register(group, tpl)
	}
	factory := alarmapp.NewAlertFactory(
		alarmapp.WithTemplates(templates),
		alarmapp.WithLocation(cfg.Location()),
		alarmapp.WithOperatingIdentifiers(cfg.Alerts.OperatingIdentifiers),
		alarmapp.WithAutoScaleSeverity(cfg.Alerts.AutoScaleSeverity),
		alarmapp.WithStripUnknownPlaceholders(cfg.Alerts.StripUnknownPlaceholders),
		alarmapp.WithFactoryLogger(logger),
	)
	windows, err := alarmapp.NewWindowConsolidator(cfg.Windows, alarmapp.WithWindowLogger(logger))
	if err != nil {
		logger.Fatalf("window consolidator error: %v", err)
	}

	repoSink, err := pipelineapp.NewRepositorySink(alertRepo)
	if err != nil {
		logger.Fatalf("repository sink error: %v", err)
	}
	broker := alarmhttp.NewSSEBroker()
	outbound := []alarmnotify.Sink{broker}
	if cfg.Notify.WebhookURL != "" {
		notifier, err := buildNotifier(cfg.Notify, logger)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		outbound = append(outbound, notifier)
	}

	pipelineOpts := []pipelineapp.Option{
		pipelineapp.WithSinks(repoSink, alarmnotify.NewMultiSink(outbound...)),
		pipelineapp.WithLogger(logger),
	}
	if cfg.Store.PersistEpisodes && db != nil {
		episodeRepo := episodepostgres.NewEpisodeRepository(db)
		if err := episodeRepo.EnsureSchema(ctx); err != nil {
			logger.Fatalf("episode schema error: %v", err)
		}
		pipelineOpts = append(pipelineOpts, pipelineapp.WithEpisodeSink(episodeRepo))
	}
	pipeline, err := pipelineapp.NewPipeline(normalizer, consolidator, catalog, factory, windows, pipelineOpts...)
	if err != nil {
		logger.Fatalf("pipeline error: %v", err)
	}

	buffer := pipelineapp.NewBuffer(cfg.Pipeline.BufferLimit)
	source := pipelineapp.MultiSource{buffer}
	if cfg.Source.BaseURL != "" {
		pull, err := httpsource.NewSource(cfg.Source.BaseURL, cfg.Source.Token,
			httpsource.WithEquipments(cfg.Source.Equipments),
			httpsource.WithLookback(cfg.Source.Lookback),
			httpsource.WithRateLimit(cfg.Source.RateLimit),
		)
		if err != nil {
			logger.Fatalf("pull source error: %v", err)
		}
		source = append(source, pull)
	}

	go pipelineapp.NewScheduler(pipeline, source, cfg.Pipeline.RefreshInterval, logger).Start(ctx)
	go alarmapp.NewSweeper(windows, cfg.Pipeline.SweepInterval, logger).Start(ctx)

	ingestHandler, err := telemetryhttp.NewIngestHandler(buffer, func(err error) bool {
		return errors.Is(err, pipelineapp.ErrBufferFull)
	}, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	alertHandler, err := alarmhttp.NewHandler(alertRepo, windows.Store())
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	refreshHandler, err := pipelinehttp.NewRefreshHandler(pipeline, source, logger)
	if err != nil {
		logger.Fatalf("refresh handler error: %v", err)
	}
	configHandler, err := pipelinehttp.NewConfigHandler(consolidator, windows, logger)
	if err != nil {
		logger.Fatalf("config handler error: %v", err)
	}
	auditLogger, err := openAuditLogger(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatalf("audit log error: %v", err)
	}
	refreshHandler.Audit = auditLogger
	configHandler.Audit = auditLogger

	exportHandler, err := apihttp.NewExportAlertsHandler(alertRepo, logger)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy)
	authMiddleware.Logger = logger

	mux := http.NewServeMux()
	if cfg.Auth.IngestSecret != "" {
		ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.Auth.IngestSecret), cfg.Auth.IngestMaxSkew)
		mux.Handle("/ingest/events", ingestAuth.Wrap(ingestHandler))
	} else {
		logger.Printf("ingest auth disabled: INGEST_HMAC_SECRET not set")
		mux.Handle("/ingest/events", ingestHandler)
	}
	mux.Handle("/api/v1/alerts", alertHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/api/v1/alerts/stream", alarmhttp.NewStreamHandler(broker))
	mux.Handle("/api/v1/windows", alertHandler)
	mux.Handle("/api/v1/refresh", refreshHandler)
	mux.Handle("/api/v1/config/", configHandler)
	mux.Handle("/api/v1/exports/", exportHandler)
	mux.Handle("/api/v1/stats", apihttp.NewStatsHandler(alertRepo))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Printf("http listening on %s store=%s rules=%d", cfg.HTTPAddr, cfg.Store.Driver, len(catalog.Rules()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
	logger.Printf("shutdown complete")
}

func openAlertStore(ctx context.Context, cfg config.Config) (*sql.DB, alarms.AlertRepository, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := sql.Open("pgx", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		repo := alarmpostgres.NewAlertRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return db, repo, nil
	case config.DriverSQLite:
		db, err := alarmsqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return db, alarmsqlite.NewAlertRepository(db), nil
	default:
		return nil, alarmmemory.NewAlertRepository(), nil
	}
}

func openAuditLogger(ctx context.Context, cfg config.Config, db *sql.DB, logger *log.Logger) (audit.Logger, error) {
	if cfg.Store.Driver != config.DriverPostgres || db == nil {
		return audit.NewLogWriter(logger), nil
	}
	repo := audit.NewRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func loadCatalog(path string, logger *log.Logger) (*rules.Catalog, error) {
	if path == "" {
		logger.Printf("rules: no catalog configured, no alerts will be generated")
		return rules.NewCatalog(nil)
	}
	return rules.LoadCatalog(path)
}

func buildNotifier(cfg config.NotifyConfig, logger *log.Logger) (*alarmnotify.Notifier, error) {
	channelOpts := []alarmnotify.WebhookOption{
		alarmnotify.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.MarkdownTitle != "" {
		channelOpts = append(channelOpts, alarmnotify.WithMarkdown(cfg.MarkdownTitle))
	}
	channel, err := alarmnotify.NewWebhookChannel(cfg.WebhookURL, channelOpts...)
	if err != nil {
		return nil, err
	}
	tpl, err := alarmnotify.NewTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	opts := []alarmnotify.Option{
		alarmnotify.WithCooldown(cfg.Cooldown),
		alarmnotify.WithDedupeWindow(cfg.DedupeWindow),
		alarmnotify.WithLogger(logger),
	}
	if cfg.MinSeverity != "" {
		opts = append(opts, alarmnotify.WithMinSeverity(alarms.ParseSeverity(cfg.MinSeverity)))
	}
	return alarmnotify.NewNotifier(channel, tpl, opts...)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps the SSE stream working through the wrapper.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
