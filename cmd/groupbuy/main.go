// Package main запускает HTTP-сервер сервиса совместных закупок.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/groupbuy/internal/auth"
	"github.com/mmeshcher/groupbuy/internal/config"
	"github.com/mmeshcher/groupbuy/internal/handler"
	"github.com/mmeshcher/groupbuy/internal/lock"
	"github.com/mmeshcher/groupbuy/internal/metrics"
	"github.com/mmeshcher/groupbuy/internal/middleware"
	"github.com/mmeshcher/groupbuy/internal/notify"
	"github.com/mmeshcher/groupbuy/internal/repository"
	"github.com/mmeshcher/groupbuy/internal/service"
)

const tokenTTL = 24 * time.Hour

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger initialization error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	store, err := newStore(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	m := metrics.New()

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(m),
	}

	if cfg.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		defer client.Close()

		opts = append(opts,
			service.WithNotifier(notify.NewRedisNotifier(client, logger, m)),
			service.WithLocker(lock.NewRedisLocker(client, lock.DefaultOptions(), logger)),
		)
		sugar.Infow("redis notifications and locks enabled", "addr", cfg.RedisAddress)
	} else {
		opts = append(opts,
			service.WithNotifier(notify.NewLogNotifier(logger)),
			service.WithLocker(lock.NewKeyedMutex()),
		)
	}

	secret := cfg.AuthSecret
	if secret == "" {
		secret = randomSecret()
		sugar.Warn("AUTH_SECRET is not set, tokens will not survive a restart")
	}
	tokens := auth.NewJWTManager(secret, tokenTTL)
	opts = append(opts, service.WithTokens(tokens))

	svc := service.NewService(store, opts...)
	defer svc.Close()

	h := handler.NewHandler(svc, logger, middleware.NewAuthMiddleware(tokens), m)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая пометка просроченных долгов
	g.Go(func() error {
		svc.StartOverdueSweep(ctx, cfg.OverdueSweepInterval)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting groupbuy server", "addr", cfg.RunAddress, "persistent", cfg.DatabaseURI != "")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

func newStore(dsn string) (repository.Store, error) {
	if dsn == "" {
		return repository.NewMemoryRepository(), nil
	}
	repo, err := repository.NewPostgresRepository(dsn)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func randomSecret() string {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "groupbuy-default-secret"
	}
	return hex.EncodeToString(key)
}
