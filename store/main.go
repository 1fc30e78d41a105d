package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/droidhub-labs/droidhub-go/internal/platform/auditlog"
	"github.com/droidhub-labs/droidhub-go/internal/platform/auth"
	"github.com/droidhub-labs/droidhub-go/internal/platform/env"
	"github.com/droidhub-labs/droidhub-go/internal/platform/events"
	"github.com/droidhub-labs/droidhub-go/internal/platform/httpserver"
	"github.com/droidhub-labs/droidhub-go/internal/platform/metrics"
	"github.com/droidhub-labs/droidhub-go/internal/platform/postgres"
	"github.com/droidhub-labs/droidhub-go/internal/repo"
	"github.com/droidhub-labs/droidhub-go/internal/repo/memory"
	pgrepo "github.com/droidhub-labs/droidhub-go/internal/repo/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("STORE_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("STORE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	backend := env.String("STORE_BACKEND", "postgres")
	minClientVersion := env.String("STORE_MIN_CLIENT_VERSION", defaultMinClientVersion)

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.NewTokenAuthenticator(ctx, logger, authCfg)
	if err != nil {
		logger.Error("auth setup failed", "error", err)
		os.Exit(2)
	}

	var (
		runs      repo.RunRepository
		tasks     repo.TaskRepository
		checkout  repo.CheckoutCoordinator
		readiness []httpserver.ReadinessCheck
		audit     auth.AuditFunc
	)

	switch backend {
	case "postgres":
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		if err := pgrepo.EnsureSchema(ctx, db); err != nil {
			logger.Error("schema setup failed", "error", err)
			os.Exit(1)
		}

		runStore := pgrepo.NewRunStore(db)
		runs = runStore
		tasks = pgrepo.NewTaskStore(db)
		checkout = pgrepo.NewCheckout(db, runStore)
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		})
		audit = func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return auditlog.InsertAuthDeny(auditCtx, db, "store", event)
		}
	case "memory":
		store := memory.NewStore()
		runs = store.Runs()
		tasks = store.Tasks()
		checkout = store
	default:
		logger.Error("unknown backend", "backend", backend)
		os.Exit(2)
	}

	var publisher *events.Publisher
	if amqpURL := env.String("EVENTS_AMQP_URL", ""); amqpURL != "" {
		exchange := env.String("EVENTS_EXCHANGE", "droidhub.lifecycle")
		publisher, err = events.NewPublisher(logger, amqpURL, exchange)
		if err != nil {
			logger.Error("event broker unavailable", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
	}

	m := metrics.New("store")

	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpserver.Healthz("store"))
	mux.HandleFunc("/healthy", httpserver.Healthz("store"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("store", readiness...))
	mux.Handle("/metrics", m.Handler())

	api := newStoreAPI(logger, runs, tasks, checkout, publisher, m, minClientVersion)
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Audit:         audit,
		SkipPrefixes:  []string{"/health", "/healthy", "/readyz", "/metrics"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "store",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "store", m.Middleware(handler))); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
