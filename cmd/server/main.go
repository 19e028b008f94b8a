package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bondhon/backend/internal/cache"
	"bondhon/backend/internal/config"
	"bondhon/backend/internal/httpapi"
	"bondhon/backend/internal/remote"
	"bondhon/backend/internal/service"
	"bondhon/backend/internal/store"
	filestore "bondhon/backend/internal/store/file"
	"bondhon/backend/internal/store/memory"
	pgstore "bondhon/backend/internal/store/postgres"
	"bondhon/backend/internal/syncq"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("read .env", "error", err)
	}

	cfg := config.Load()
	if err := validateConfig(cfg); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("postgres unavailable and DATABASE_URL is set; refusing to start", "error", err)
			os.Exit(1)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	case cfg.DataDir != "":
		fs, err := filestore.Open(cfg.DataDir)
		if err != nil {
			logger.Error("open data directory", "dir", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		repo = fs
		closers = append(closers, fs.Close)
		logger.Info("repository: file", "dir", cfg.DataDir)
	default:
		repo = memory.New()
		logger.Warn("repository: in-memory, ledger will not survive a restart")
	}

	summaryCache := cache.SummaryCache(cache.NoopSummaryCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSummaryCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache", "error", err)
		} else {
			summaryCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
		}
	} else {
		logger.Info("cache: noop")
	}

	var transport syncq.Transport
	var remoteSource service.RemoteSource
	if cfg.RemoteEndpoint != "" {
		client := remote.New(remote.Config{
			Endpoint: cfg.RemoteEndpoint,
			Timeout:  cfg.SyncTimeout(),
			Logger:   logger,
		})
		transport = client
		remoteSource = client
	}

	queue := syncq.New(repo, transport, syncq.Options{
		Logger:    logger,
		Timeout:   cfg.SyncTimeout(),
		Interval:  cfg.SyncInterval(),
		BatchSize: cfg.SyncBatchSize,
	})

	svc := service.New(repo, queue, service.Options{
		Logger:        logger,
		Cache:         summaryCache,
		CacheTTL:      cfg.SummaryCacheTTL(),
		ConfirmPhrase: cfg.DeleteConfirmPhrase,
		Remote:        remoteSource,
	})

	if cfg.LegacyDir != "" {
		resp, err := svc.MigrateLegacy(ctx, cfg.LegacyDir)
		if err != nil {
			logger.Error("legacy migration failed", "dir", cfg.LegacyDir, "error", err)
		} else if resp.Customers > 0 || resp.Bin > 0 {
			logger.Info("legacy migration complete", "customers", resp.Customers, "bin", resp.Bin)
		}
	}

	if err := queue.Start(context.Background()); err != nil {
		logger.Error("start sync queue", "error", err)
		os.Exit(1)
	}

	if cfg.ResyncOnStart && remoteSource != nil {
		resyncCtx, resyncCancel := context.WithTimeout(context.Background(), cfg.SyncTimeout())
		resp, err := svc.ResyncFromRemote(resyncCtx)
		resyncCancel()
		switch {
		case errors.Is(err, service.ErrResyncBlocked):
			logger.Info("startup resync skipped", "reason", err.Error())
		case err != nil:
			logger.Warn("startup resync failed", "error", err)
		default:
			logger.Info("startup resync", "replaced", resp.Replaced, "customers", resp.Customers)
		}
	}

	api := httpapi.New(svc, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("ledger backend listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := queue.Stop(shutdownCtx); err != nil {
		logger.Warn("sync queue stop", "error", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", "error", err)
		}
	}

	logger.Info("server stopped")
}

func validateConfig(cfg config.Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535")
	}
	if strings.TrimSpace(cfg.DeleteConfirmPhrase) == "" {
		return fmt.Errorf("DELETE_CONFIRM_PHRASE must not be blank")
	}
	if cfg.RemoteEndpoint != "" {
		u, err := url.Parse(cfg.RemoteEndpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("REMOTE_ENDPOINT must be an absolute http(s) URL")
		}
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	return nil
}

func logLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
