// Package main is the entry point for the formagent daemon. It wires the
// durable form state store, the auto-save scheduler, the connectivity
// monitor, and the submission queue behind the localhost HTTP API the
// travel-reimbursement wizard talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rotafacil/formagent/internal/autosave"
	"github.com/rotafacil/formagent/internal/config"
	"github.com/rotafacil/formagent/internal/formstate"
	"github.com/rotafacil/formagent/internal/netmon"
	"github.com/rotafacil/formagent/internal/observability"
	"github.com/rotafacil/formagent/internal/queue"
	"github.com/rotafacil/formagent/internal/recovery"
	"github.com/rotafacil/formagent/internal/schedule"
	"github.com/rotafacil/formagent/internal/storage"
	"github.com/rotafacil/formagent/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize logger and metrics.
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	registry := prometheus.NewRegistry()
	metrics := observability.InitMetrics(registry)

	// Step 4: Open durable storage.
	kv, kvCloser, err := buildStorage(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("storage initialization failed", zap.Error(err))
		return 1
	}
	if kvCloser != nil {
		defer kvCloser()
	}

	// Step 5: Build the form state store and auto-save scheduler.
	sched := schedule.NewTimers()
	store := formstate.New(kv, logger)
	saver := autosave.New(store, kv, sched, autosave.Config{
		Debounce: cfg.AutoSave.Debounce,
		Interval: cfg.AutoSave.Interval,
	}, logger, autosave.WithMetrics(metrics))
	saver.Start()

	// Step 6: Start the connectivity monitor.
	monitor := netmon.New(netmon.Config{
		HealthURL:    cfg.Backend.HealthURL,
		Interval:     cfg.Network.ProbeInterval,
		ProbeTimeout: cfg.Network.ProbeTimeout,
	}, sched, logger, netmon.WithMetrics(metrics))
	monitor.Start(ctx)

	// Step 7: Build the submission queue.
	sender := queue.NewHTTPSender(cfg.Backend.SubmitURL, &http.Client{Timeout: cfg.Backend.Timeout})
	q := queue.New(kv, sender, sched,
		func() bool { return monitor.Status().Online },
		queue.Config{
			MaxRetries:   cfg.Queue.MaxRetries,
			RetryDelay:   cfg.Queue.RetryDelay,
			CompletedTTL: cfg.Queue.CompletedTTL,
		}, logger, queue.WithMetrics(metrics))

	// Drain whenever connectivity comes back, and once at startup if the
	// last run left submissions behind.
	monitor.OnReconnect(func() {
		logger.Info("connectivity restored, draining submission queue")
		go q.Process(ctx)
	})
	if monitor.Status().Online && q.PendingCount() > 0 {
		logger.Info("draining submissions left from a previous run",
			zap.Int("pending", q.PendingCount()))
		go q.Process(ctx)
	}

	// Step 8: Build the HTTP router.
	readinessChecks := observability.ReadinessChecks{
		Storage: storageCheck(kv),
		Backend: observability.HealthCheckFunc(func(ctx context.Context) error {
			if !monitor.Status().Online {
				return fmt.Errorf("backend unreachable")
			}
			return nil
		}),
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		AutoSave:  saver,
		Monitor:   monitor,
		Queue:     q,
		Recovery:  recovery.New(store, saver, logger),
		Metrics:   metrics,
		Gatherer:  registry,
		Readiness: readinessChecks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start the HTTP server.
	logger.Info("agent started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Int("queued_submissions", len(q.Items())),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown: drain in-flight requests, stop the probe cycle,
	// and flush a final auto-save so nothing typed in the last debounce
	// window is lost.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	monitor.Stop()
	saver.Stop()

	logger.Info("shutdown complete")
	return 0
}

// buildStorage opens the configured storage driver. The returned closer is
// nil for drivers without connections to release.
func buildStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.KV, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using in-memory storage, state will not survive restarts")
		return storage.NewMemoryKV(cfg.QuotaBytes), nil, nil

	case "file":
		kv, err := storage.NewFileKV(cfg.Dir, cfg.QuotaBytes)
		if err != nil {
			return nil, nil, err
		}
		return kv, nil, nil

	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("storage: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("storage: redis ping: %w", err)
		}
		return storage.NewRedisKV(client), func() { _ = client.Close() }, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("storage: %s environment variable not set", cfg.DSNEnv)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("storage: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("storage: ping: %w", err)
		}
		return storage.NewPgKV(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage driver: %q", cfg.Driver)
	}
}

// storageCheck adapts the storage driver to a readiness check. Drivers with
// their own health check use it; the rest do a round-trip write.
func storageCheck(kv storage.KV) observability.HealthChecker {
	if hc, ok := kv.(observability.HealthChecker); ok {
		return hc
	}
	return observability.HealthCheckFunc(func(ctx context.Context) error {
		_, _, err := kv.Get(ctx, storage.KeyFormState)
		return err
	})
}
