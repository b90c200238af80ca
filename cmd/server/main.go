package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/geeky-vaiiib/BankEase/internal/api"
	"github.com/geeky-vaiiib/BankEase/internal/auth"
	"github.com/geeky-vaiiib/BankEase/internal/config"
	"github.com/geeky-vaiiib/BankEase/internal/events"
	"github.com/geeky-vaiiib/BankEase/internal/metrics"
	"github.com/geeky-vaiiib/BankEase/internal/middleware"
	"github.com/geeky-vaiiib/BankEase/internal/ratelimit"
	"github.com/geeky-vaiiib/BankEase/internal/service"
	"github.com/geeky-vaiiib/BankEase/internal/storage"
	"github.com/geeky-vaiiib/BankEase/internal/storage/memory"
	"github.com/geeky-vaiiib/BankEase/internal/storage/postgres"
	"github.com/geeky-vaiiib/BankEase/internal/storage/sqlite"
	"github.com/geeky-vaiiib/BankEase/pkg/logging"
)

func main() {
	// Setup structured logging
	logger := logging.Setup()

	if err := run(logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.IsDevelopment() && os.Getenv("JWT_SECRET") == "" {
		logger.Warn("JWT_SECRET not set, using the development secret")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()
	logger.Info("Storage initialized", "driver", cfg.StoreDriver)

	m := metrics.New()

	publisher, err := events.NewPublisher(events.Config{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	}, logger, m)
	if err != nil {
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}
	publisher.Start(ctx)

	authenticator := auth.NewPINAuthenticator(store, cfg.BcryptCost)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)

	transfers := service.NewTransferService(store, logger,
		service.WithMinTransfer(cfg.MinTransfer),
		service.WithObserver(m),
		service.WithPublisher(publisher),
	)

	opts := api.Options{
		Auth:        service.NewAuthService(authenticator, jwtManager, store, logger),
		Transfers:   transfers,
		Accounts:    service.NewAccountService(store, logger),
		Store:       store,
		Logger:      logger,
		Metrics:     m,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
	}

	if cfg.RedisAddr != "" {
		apiLimiter, authLimiter, closeRedis, err := openLimiters(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRedis()
		opts.APILimiter = apiLimiter
		opts.AuthLimiter = authLimiter
		logger.Info("Rate limiting enabled",
			"api_limit", cfg.APIRateLimit, "api_window", cfg.APIRateWindow,
			"auth_limit", cfg.AuthRateLimit, "auth_window", cfg.AuthRateWindow)
	} else {
		logger.Warn("REDIS_ADDR not set, rate limiting disabled")
	}

	// Wrap with h2c for HTTP/2 without TLS
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h2c.NewHandler(api.NewRouter(opts), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("BankEase server starting", "address", srv.Addr, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return shutdown(shutdownCtx, srv, publisher, logger)
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

type stopper interface {
	Stop(ctx context.Context) error
}

// shutdown drains in-flight requests and then the event queue. The queue is
// drained even when the server does not stop cleanly.
func shutdown(ctx context.Context, srv shutdowner, publisher stopper, logger *slog.Logger) error {
	srvErr := srv.Shutdown(ctx)
	if srvErr != nil {
		logger.Error("Graceful shutdown failed", "error", srvErr)
	}
	if err := publisher.Stop(ctx); err != nil {
		logger.Warn("Transfer events not fully delivered", "error", err)
	}
	if srvErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", srvErr)
	}
	logger.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	opt := storage.WithStartingBalance(cfg.StartingBalance)

	switch cfg.StoreDriver {
	case config.DriverMemory:
		return memory.New(opt), nil
	case config.DriverSQLite:
		return sqlite.New(cfg.DBPath, opt)
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL, opt)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openLimiters connects to Redis and builds the /api/ and /api/auth limiters
// on one client.
func openLimiters(ctx context.Context, cfg *config.Config) (apiLimiter, authLimiter middleware.Limiter, closeFn func(), err error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	closeClient := func() { _ = client.Close() }

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		closeClient()
		return nil, nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	apiRL, err := ratelimit.New(client, "api", cfg.APIRateLimit, cfg.APIRateWindow)
	if err != nil {
		closeClient()
		return nil, nil, nil, fmt.Errorf("api limiter: %w", err)
	}
	authRL, err := ratelimit.New(client, "auth", cfg.AuthRateLimit, cfg.AuthRateWindow)
	if err != nil {
		closeClient()
		return nil, nil, nil, fmt.Errorf("auth limiter: %w", err)
	}
	return apiRL, authRL, closeClient, nil
}
