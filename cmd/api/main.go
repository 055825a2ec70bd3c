// Package main is the entry point for the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/inkflow/internal/api"
	"github.com/onnwee/inkflow/internal/audit"
	"github.com/onnwee/inkflow/internal/auth"
	"github.com/onnwee/inkflow/internal/config"
	"github.com/onnwee/inkflow/internal/db"
	"github.com/onnwee/inkflow/internal/docstore"
	"github.com/onnwee/inkflow/internal/health"
	"github.com/onnwee/inkflow/internal/idempotency"
	"github.com/onnwee/inkflow/internal/middleware"
	"github.com/onnwee/inkflow/internal/notify"
	"github.com/onnwee/inkflow/internal/ratelimit"
	"github.com/onnwee/inkflow/internal/reminder"
	"github.com/onnwee/inkflow/internal/signing"
	"github.com/onnwee/inkflow/internal/tasks"
	"github.com/onnwee/inkflow/internal/token"
	"github.com/onnwee/inkflow/internal/tracing"
)

func main() {
	help := flag.Bool("help", false, "display help message")
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if *help {
		fmt.Println("Inkflow API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "summary", cfg.LogSummary())

	// Database
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	store := signing.NewPostgresStore(conn)
	auditRepo := audit.NewPostgresRepository(conn)

	// Document storage: S3-compatible bucket when configured,
	// in-memory otherwise.
	var docs docstore.Store
	var storageChecker api.HealthChecker
	if cfg.S3BucketName != "" {
		s3Store, err := docstore.NewS3Store(docstore.S3Config{
			BucketName:      cfg.S3BucketName,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
		})
		if err != nil {
			logger.Error("document store init failed", "error", err)
			os.Exit(1)
		}
		docs = s3Store
		storageChecker = s3Store
		logger.Info("document store: s3", "bucket", cfg.S3BucketName)
	} else {
		docs = docstore.NewMemoryStore()
		logger.Warn("document store: in-memory (documents are lost on restart)")
	}

	// Redis backs the distributed rate limiter when configured.
	var counter ratelimit.Counter
	var rlStore middleware.RateLimitStore
	var redisChecker api.HealthChecker
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid redis URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		counter = ratelimit.NewRedisCounter(client)
		rlStore = middleware.NewRedisRateLimitStore(client)
		redisChecker = health.NewRedisChecker(client)
		logger.Info("rate limiting: redis")
	} else {
		counter = ratelimit.NewMemoryCounter()
		rlStore = middleware.NewInMemoryRateLimitStore()
		logger.Info("rate limiting: in-memory")
	}
	guard := ratelimit.NewGuard(counter, clock.New())

	// Metrics
	registry := prometheus.DefaultRegisterer
	httpMetrics := middleware.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		logger.Error("http metrics registration failed", "error", err)
		os.Exit(1)
	}
	taskMetrics := tasks.NewMetrics()
	if err := taskMetrics.Register(registry); err != nil {
		logger.Error("task metrics registration failed", "error", err)
		os.Exit(1)
	}
	sweepMetrics := reminder.NewMetrics()
	if err := sweepMetrics.Register(registry); err != nil {
		logger.Error("sweep metrics registration failed", "error", err)
		os.Exit(1)
	}

	// Task dispatcher and workflow engine
	dispatcher := tasks.NewDispatcher(tasks.DispatcherConfig{
		Workers:   cfg.TaskWorkers,
		QueueSize: cfg.TaskQueueSize,
		Logger:    logger,
		Metrics:   taskMetrics,
	})

	engine := signing.NewEngine(store, auditRepo, dispatcher, token.NewIssuer(), guard, signing.EngineConfig{
		CreationLimit:   ratelimit.Limit{Max: cfg.CreationLimitPerMinute, Window: time.Minute},
		SubmissionLimit: ratelimit.Limit{Max: cfg.SubmissionLimitPerMinute, Window: time.Minute},
		Logger:          logger,
	})

	followups := signing.NewFollowups(
		engine,
		store,
		notify.NewLogNotifier(logger),
		signing.NewPassthroughMutator(docs),
		signing.NewTextCertificateGenerator(docs),
		signing.FollowupConfig{BaseURL: cfg.BaseURL, Logger: logger},
	)
	followups.Register(dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("task dispatcher start failed", "error", err)
		os.Exit(1)
	}
	defer dispatcher.Stop()

	sweeper := reminder.NewSweeper(store, dispatcher, reminder.SweeperConfig{
		Interval: time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
		Logger:   logger,
		Metrics:  sweepMetrics,
	})
	if err := sweeper.Start(ctx); err != nil {
		logger.Error("reminder sweeper start failed", "error", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	// Distributed tracing (enabled when an OTLP endpoint is set)
	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint != "" {
		provider, err := tracing.NewProvider(tracing.Config{
			ServiceName:  "inkflow-api",
			Enabled:      true,
			Environment:  cfg.Env,
			ExporterType: "otlp-http",
			OTLPEndpoint: otlpEndpoint,
			SamplingRate: 1.0,
			InsecureMode: cfg.Env != "production",
		})
		if err != nil {
			logger.Error("tracing init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Error("tracing shutdown failed", "error", err)
			}
		}()
	}

	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTSecretPrevious)
	authRequired := middleware.Auth(jwtService)

	requests := api.NewRequestHandlers(engine)
	sign := api.NewSignHandlers(engine)
	healthHandlers := api.NewHealthHandlers(api.HealthHandlersConfig{
		DBChecker:      health.NewDBChecker(conn),
		RedisChecker:   redisChecker,
		StorageChecker: storageChecker,
	})

	idemRepo := idempotency.NewInMemoryRepository()
	idempotent := middleware.IdempotencyMiddleware(idemRepo, map[string]bool{"/requests": true})

	idemStop := make(chan struct{})
	defer close(idemStop)
	go idempotency.RunPeriodicCleanup(idemRepo, time.Hour, idempotency.DefaultExpiry, idemStop)

	mux := http.NewServeMux()
	mux.Handle("/requests", authRequired(idempotent(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			requests.CreateRequest(w, r)
		case http.MethodGet:
			requests.ListRequests(w, r)
		default:
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
		}
	}))))
	mux.Handle("/requests/", authRequired(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			requests.GetRequest(w, r)
		case http.MethodDelete:
			requests.DeleteRequest(w, r)
		default:
			api.WriteError(w, r.Context(), http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "Method not allowed")
		}
	})))
	mux.HandleFunc("/sign/", sign.Route)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/healthz", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"service":"inkflow-api","version":"0.0.1"}`)); err != nil {
			slog.Error("failed to write response", "error", err)
		}
	})

	var corsOrigins []string
	if cfg.AllowedOrigins != "" {
		corsOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}

	var routes http.Handler = mux
	if cfg.Env == "development" {
		routes = middleware.Profiling(middleware.ProfilingConfig{
			Enabled:     true,
			Environment: cfg.Env,
		})(routes)
	}

	// Middleware chain: RequestID -> Tracing -> CORS -> HTTPMetrics ->
	// RateLimiter -> Logging -> routes
	handler := middleware.RequestID(
		middleware.Tracing("inkflow-api")(
			middleware.CORS(middleware.DefaultCORSConfig(corsOrigins))(
				middleware.HTTPMetrics(httpMetrics)(
					middleware.RateLimiter(rlStore, middleware.DefaultGlobalLimit(), middleware.SenderKeyFunc())(
						middleware.Logging(logger)(routes),
					),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
