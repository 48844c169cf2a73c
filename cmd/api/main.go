package main

import (
	"context"
	"errors"
	"fmt"
	"itdesk/internal/config"
	"itdesk/internal/metrics"
	"itdesk/internal/middleware"
	"itdesk/internal/migrate"
	"itdesk/internal/models"
	"itdesk/internal/monitor"
	"itdesk/internal/server"
	"itdesk/internal/services"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	os.Exit(serve(logger))
}

// serve returns the process exit code; the logger is flushed before exit.
func serve(logger *zap.Logger) int {
	defer logger.Sync()
	if err := run(logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return 1
	}
	return 0
}

const dbConnectWait = 30 * time.Second

type (
	connectFunc func(ctx context.Context, dsn string, maxWait time.Duration) (*pgxpool.Pool, error)
	migrateFunc func(ctx context.Context, pool *pgxpool.Pool) error
)

// openDatabase waits for Postgres, then migrates over the same pool.
func openDatabase(ctx context.Context, dsn string, connect connectFunc, up migrateFunc) (*pgxpool.Pool, error) {
	db, err := connect(ctx, dsn, dbConnectWait)
	if err != nil {
		return nil, err
	}
	if err := up(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return db, nil
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.DatabaseURL, config.ConnectPostgres, migrate.Up)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	limits := map[models.RouteClass]int{
		models.RouteClassAuth: cfg.AuthRateLimit,
		models.RouteClassAPI:  cfg.APIRateLimit,
	}

	var shared services.CounterStore
	if cfg.RedisURL != "" {
		redisClient, err := config.NewRedisClient(cfg.RedisURL, cfg.RedisToken)
		if err != nil {
			logger.Warn("redis unavailable, rate limiting is process-local", zap.Error(err))
		} else {
			defer redisClient.Close()
			shared = services.NewRedisStore(redisClient)
		}
	}
	rateLimiter := services.NewRateLimiter(shared, limits, cfg.RateWindow, logger, m)

	if len(cfg.CredentialKey) == 0 {
		logger.Warn("CREDENTIAL_KEY not set, credential reveal is disabled")
	}
	if cfg.JWTSecret == "" && cfg.JWKSURL == "" {
		logger.Warn("neither JWT_SECRET nor JWKS_URL set, every session will be rejected")
	}

	alerts := monitor.New(db, logger.Named("security"), m)
	session := middleware.NewSessionAuth(cfg.JWTSecret, cfg.JWKSURL, logger.Named("session"))

	handler := server.NewRouter(server.Deps{
		Log:          logger.Named("http"),
		AllowOrigins: cfg.AllowOrigins,
		CookieSecure: cfg.CookieSecure,
		Limiter:      rateLimiter,
		CSRF:         services.NewCSRFGuard(cfg.CookieSecure),
		Session:      session,
		Alerts:       alerts,
		Metrics:      m,
		Gatherer:     reg,
		Diagrams:     services.NewDiagramService(db),
		Credentials:  services.NewCredentialService(db, cfg.CredentialKey),
		AlertReader:  alerts,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // alert stream is long-lived; handlers carry their own timeout
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		alerts.Start(gctx)
		return nil
	})
	g.Go(func() error {
		session.Start(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server forced to shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
