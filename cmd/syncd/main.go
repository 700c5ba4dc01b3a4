package main

import (
    "context"
    "errors"
    "log/slog"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/redis/go-redis/v9"

    "github.com/example/bank-sync/internal/alert"
    "github.com/example/bank-sync/internal/api"
    "github.com/example/bank-sync/internal/config"
    "github.com/example/bank-sync/internal/ledger"
    "github.com/example/bank-sync/internal/metrics"
    "github.com/example/bank-sync/internal/provider"
    "github.com/example/bank-sync/internal/state"
    syncer "github.com/example/bank-sync/internal/sync"
)

func main() {
    logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
    slog.SetDefault(logger)

    cfg, err := config.Load()
    if err != nil {
        logger.Error("invalid configuration", "error", err)
        os.Exit(1)
    }

    store, err := openLedger(context.Background(), cfg)
    if err != nil {
        logger.Error("failed to open ledger store", "error", err)
        os.Exit(1)
    }
    defer store.Close()

    redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
    defer redisClient.Close()

    reg := prometheus.NewRegistry()
    reg.MustRegister(collectors.NewGoCollector())
    reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

    runner := &syncer.Runner{
        Provider:    provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderSecretID, cfg.ProviderSecretKey),
        Ledger:      store,
        State:       state.NewRedisStore(redisClient),
        Alerts:      alert.NewWebhookSink(cfg.AlertWebhookURL),
        Logger:      logger,
        Metrics:     metrics.New(reg),
        AccountID:   cfg.BankAccountID,
        AgreementID: cfg.AgreementID,
        Revision:    cfg.Revision,
    }

    router := api.NewRouter(api.Dependencies{
        Logger: logger,
        Runner: runner,
        State:  runner.State,
        Limiter: &api.TriggerLimiter{
            Redis:      redisClient,
            Capacity:   cfg.TriggerRateCapacity,
            RefillRate: cfg.TriggerRateRefill,
        },
        Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
    })

    srv := &http.Server{
        Addr:              cfg.APIAddr,
        Handler:           router,
        ReadHeaderTimeout: 5 * time.Second,
    }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    go schedule(ctx, logger, runner, cfg.SyncInterval)

    go func() {
        <-ctx.Done()
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
        defer cancel()
        _ = srv.Shutdown(shutdownCtx)
    }()

    logger.Info("bank-sync listening", "addr", cfg.APIAddr, "interval", cfg.SyncInterval.String(), "revision", cfg.Revision)
    if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
        logger.Error("server error", "error", err)
        os.Exit(1)
    }
}

// schedule fires one run immediately, then one per interval until ctx ends.
func schedule(ctx context.Context, logger *slog.Logger, runner *syncer.Runner, interval time.Duration) {
    runner.Run(ctx)

    ticker := time.NewTicker(interval)
    defer ticker.Stop()

    for {
        select {
        case <-ctx.Done():
            logger.Info("scheduler stopped")
            return
        case <-ticker.C:
            runner.Run(ctx)
        }
    }
}

func openLedger(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
    if cfg.DatabaseURL != "" {
        return ledger.NewPostgresStore(ctx, cfg.DatabaseURL)
    }
    return ledger.NewSQLiteStore(cfg.SQLitePath)
}
