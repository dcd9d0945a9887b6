package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/connectorrt/runtime/internal/app"
	"github.com/connectorrt/runtime/internal/audit"
	"github.com/connectorrt/runtime/internal/auth"
	"github.com/connectorrt/runtime/internal/budget"
	runtimecache "github.com/connectorrt/runtime/internal/cache"
	"github.com/connectorrt/runtime/internal/circuitbreaker"
	"github.com/connectorrt/runtime/internal/config"
	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/executor"
	"github.com/connectorrt/runtime/internal/ratelimit"
	"github.com/connectorrt/runtime/internal/residency"
	"github.com/connectorrt/runtime/internal/schema"
	"github.com/connectorrt/runtime/internal/server"
	"github.com/connectorrt/runtime/internal/storage/sqlite"
	"github.com/connectorrt/runtime/internal/telemetry"
	"github.com/connectorrt/runtime/internal/transport"
	"github.com/connectorrt/runtime/internal/worker"
)

// usageRetention bounds how long the in-memory budget tracker keeps
// per-record history once its durable copy has landed in the usage store.
const usageRetention = 90 * 24 * time.Hour

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting connectorrt", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	dsnLog := cfg.Database.DSN
	if i := strings.IndexByte(dsnLog, '?'); i >= 0 {
		dsnLog = dsnLog[:i]
	}
	slog.Info("database opened", "dsn", dsnLog)

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	for _, k := range cfg.Keys {
		if k.Key == "" {
			slog.Warn("api key empty, skipped", "name", k.Name)
			continue
		}
		valid := strings.HasPrefix(k.Key, connector.APIKeyPrefix)
		slog.Info("api key configured", "name", k.Name, "valid_prefix", valid)
	}

	// Shared DNS cache for all outbound connector calls.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()

	// Prometheus metrics, needed before the transport is built since it
	// hands the transport its RED collectors.
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}
	var transportMetrics *transport.Metrics
	if metrics != nil {
		transportMetrics = metrics.Transport()
	}

	// Rate limiter: Redis shared tier when configured, local-fallback-only
	// otherwise.
	var sharedStore *ratelimit.SharedStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sharedStore = ratelimit.NewSharedStore(rdb)
		slog.Info("rate limiter shared tier enabled", "addr", cfg.Redis.Addr)
	} else {
		slog.Info("rate limiter running on local-fallback tier only")
	}
	limiter := ratelimit.New(sharedStore)
	slog.Info("rate limits configured",
		"default_rps", cfg.RateLimits.DefaultRPS,
		"default_rpm", cfg.RateLimits.DefaultRPM,
		"default_burst", cfg.RateLimits.DefaultBurst,
	)

	// Circuit breakers, one per connector, all sharing one failure-rate config.
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	tr := transport.New(
		dnsResolver,
		func(ctx context.Context, connectorID, connection string, tokens int, rules connector.RateLimits) (transport.AcquireResult, func(), error) {
			res, release, err := limiter.Acquire(ctx, connectorID, connection, tokens, rules)
			return transport.AcquireResult{WaitMs: res.WaitMs, Attempts: res.Attempts, Enforced: res.Enforced}, func() { release() }, err
		},
		func(connectorID, connection string, rules connector.RateLimits) func(waitMs int64, scope connector.ConcurrencyScope) {
			return limiter.Penalty(connectorID, connection, rules)
		},
		transportMetrics,
	).WithCircuitBreaker(breakers)

	// Connector definitions: SQLite-backed, fronted by a read-through cache
	// so the execute hot path doesn't round-trip to the database every call.
	var definitions connector.DefinitionRepository = store
	var definitionInvalidator server.DefinitionInvalidator
	if cfg.Cache.Enabled {
		definitionCache, err := runtimecache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		if err != nil {
			return err
		}
		cachedDefs := runtimecache.NewDefinitionRepository(store, definitionCache)
		definitions = cachedDefs
		definitionInvalidator = cachedDefs
		slog.Info("connector definition cache enabled",
			"max_size", cfg.Cache.MaxSize,
			"default_ttl", cfg.Cache.DefaultTTL,
		)
	}

	validator := schema.New()

	auditLog, err := audit.New(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}

	residencyRouter := residency.New(residencyStoreAdapter{store})

	exec := executor.New(definitions, validator, tr, auditLog, residencyRouter)

	// Spend tracking: alerts are logged, not delivered anywhere yet.
	budgetTracker := budget.New(func(orgID string, fraction float64, spentUSD, limitUSD float64) {
		slog.Warn("budget alert",
			"org_id", orgID,
			"fraction", fraction,
			"spent_usd", spentUSD,
			"limit_usd", limitUSD,
		)
	})
	budgetTracker.SetLimits("", budget.Limits{
		DailyLimitUSD:        cfg.Budget.DailyLimitUSD,
		MonthlyLimitUSD:      cfg.Budget.MonthlyLimitUSD,
		EmergencyStopPct:     cfg.Budget.EmergencyStopPct,
		PerUserDailyLimitUSD: cfg.Budget.PerUserDailyLimitUSD,
		PerWorkflowLimitUSD:  cfg.Budget.PerWorkflowLimitUSD,
		AlertThresholds:      cfg.Budget.AlertThresholds,
	})
	responseCache := budget.NewCache(cfg.Cache.MaxSize)

	apiKeyAuth, err := auth.NewAPIKeyAuth(store)
	if err != nil {
		return err
	}
	keys := app.NewKeyManager(store)

	usageRecorder := worker.NewUsageRecorder(store)

	workers := []worker.Worker{
		usageRecorder,
		worker.NewCacheSweepWorker(responseCache),
		worker.NewRetentionSweepWorker(budgetTracker, usageRetention),
		worker.NewBudgetResetWorker(budgetTracker),
		worker.NewRateLimitEvictWorker(limiter),
		worker.NewCircuitBreakerEvictWorker(breakers),
	}
	runner := worker.NewRunner(workers...)

	// OpenTelemetry tracing.
	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("connectorrt/server")
			slog.Info("opentelemetry tracing enabled",
				"endpoint", endpoint,
				"sample_rate", sampleRate,
			)
		}
	}

	handler := server.New(server.Deps{
		Auth:                  apiKeyAuth,
		Executor:              exec,
		Keys:                  keys,
		KeyInvalidator:        apiKeyAuth,
		DefinitionInvalidator: definitionInvalidator,
		Store:                 store,
		Metrics:               metrics,
		MetricsHandler:        metricsHandler,
		Tracer:                tracer,
		ReadyCheck:            store.Ping,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("connector execution api enabled",
		"endpoints", []string{
			"POST /v1/execute",
			"POST /v1/execute/paginated",
			"POST /v1/test-connection",
		},
	)
	slog.Info("connectorrt ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("connectorrt stopped")
	return nil
}

// residencyStoreAdapter bridges storage.ResidencyStore's admin-surface
// method name to residency.Store's single-method Get contract.
type residencyStoreAdapter struct {
	store interface {
		GetResidency(ctx context.Context, orgID string) (*connector.ResidencyReport, bool, error)
	}
}

func (a residencyStoreAdapter) Get(ctx context.Context, orgID string) (*connector.ResidencyReport, bool, error) {
	return a.store.GetResidency(ctx, orgID)
}
