package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/cache"
	"github.com/tributary-ai/provider-advisor/internal/config"
	"github.com/tributary-ai/provider-advisor/internal/engine"
	"github.com/tributary-ai/provider-advisor/internal/health"
	"github.com/tributary-ai/provider-advisor/internal/latency"
	"github.com/tributary-ai/provider-advisor/internal/ledger"
	"github.com/tributary-ai/provider-advisor/internal/middleware"
	"github.com/tributary-ai/provider-advisor/internal/prefs"
	"github.com/tributary-ai/provider-advisor/internal/providers"
	"github.com/tributary-ai/provider-advisor/internal/resolver"
	"github.com/tributary-ai/provider-advisor/internal/security"
	"github.com/tributary-ai/provider-advisor/internal/server"
	"github.com/tributary-ai/provider-advisor/internal/store"
	"github.com/tributary-ai/provider-advisor/internal/telemetry"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

// Application wires all advisor components together.
type Application struct {
	config   *config.Config
	store    store.Store
	cache    *cache.RecommendationCache
	costs    *ledger.Ledger
	reporter *telemetry.Reporter
	server   *server.Server
	logger   *logrus.Logger
}

// NewApplication creates a fully wired application instance.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logrus.New()
	if err := setupLogger(logger, cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry := providers.NewRegistry(logger)
	for i := range cfg.Providers {
		desc := cfg.Providers[i]
		if err := registry.Register(&desc, nil); err != nil {
			return nil, fmt.Errorf("failed to register provider: %w", err)
		}
	}

	monitor := health.NewMonitor(logger)
	estimator := latency.NewEstimator()
	recCache, err := cache.New(cfg.Engine.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create recommendation cache: %w", err)
	}

	eng := engine.New(registry, monitor, estimator, recCache, cfg.Engine.ComputeBudget, logger)

	ctx := context.Background()

	// The configured default profile seeds the preference record; anything
	// the user persisted earlier takes precedence.
	preferences := prefs.NewService(ctx, st, types.UserPreferences{
		ActiveProfile: cfg.Engine.DefaultProfile,
		CustomWeights: cfg.Engine.CustomWeights,
		AutoFailover:  true,
	}, logger)

	// Preference-level budget limits win over the configured defaults.
	limits := cfg.Budget
	if p := preferences.Snapshot(); p.Budget != nil {
		limits = *p.Budget
	}
	costs := ledger.New(limits, st, cfg.Store.FlushInterval, logger)
	costs.LoadFromStore(ctx)
	costs.Start()

	// Any preference change or health transition can reorder rankings, so
	// both invalidate the cache.
	preferences.OnChange(func(p types.UserPreferences) {
		recCache.Invalidate()
		if p.Budget != nil {
			costs.SetLimits(*p.Budget)
		}
	})
	monitor.OnTransition(func(t health.Transition) {
		recCache.Invalidate()
	})

	res := resolver.New(eng, registry, monitor, costs, preferences, logger)
	reporter := telemetry.NewReporter(monitor, costs, estimator, cfg.Telemetry.QueueSize, logger)

	srv, err := server.NewServer(res, eng, registry, monitor, costs, preferences, reporter,
		toServerConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	app := &Application{
		config:   cfg,
		store:    st,
		cache:    recCache,
		costs:    costs,
		reporter: reporter,
		server:   srv,
		logger:   logger,
	}
	go app.consumeAlerts(monitor)
	return app, nil
}

// Run starts the application and blocks until shutdown.
func (app *Application) Run() error {
	app.logger.Info("Starting provider advisor")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		app.logger.WithField("address", ":"+app.config.Server.Port).Info("HTTP server starting")
		if err := app.server.Start(); err != nil {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
	}
	app.reporter.Close()
	app.costs.Close()
	app.cache.Close()
	if err := app.store.Close(); err != nil {
		app.logger.WithError(err).Warn("Store close error")
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// consumeAlerts logs outage alerts raised by the health monitor.
func (app *Application) consumeAlerts(monitor *health.Monitor) {
	for alert := range monitor.Alerts() {
		app.logger.WithFields(logrus.Fields{
			"provider":             alert.Provider,
			"consecutive_failures": alert.ConsecutiveFailures,
			"error_kind":           alert.LastErrorKind,
		}).Error("Provider outage suspected")
	}
}

// openStore builds the persistence backend named by configuration.
func openStore(cfg config.StoreConfig, logger *logrus.Logger) (store.Store, error) {
	switch cfg.Type {
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", cfg.Path).Info("SQLite store opened")
		return st, nil
	default:
		logger.Info("Using in-memory store, nothing will survive a restart")
		return store.NewMemoryStore(), nil
	}
}

// toServerConfig maps application configuration onto the server's shape.
func toServerConfig(cfg *config.Config) *server.Config {
	sc := &server.Config{
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	sec := cfg.Security
	requireAuth := len(sec.APIKeys) > 0 || sec.JWTSecret != ""
	sc.Security = &middleware.SecurityConfig{
		Auth: &security.Config{
			APIKeys:     sec.APIKeys,
			JWTSecret:   sec.JWTSecret,
			RequireAuth: requireAuth,
		},
		RateLimit: &security.RateLimitConfig{
			Enabled:           sec.RateLimiting.Enabled,
			RequestsPerMinute: sec.RateLimiting.RequestsPerMin,
			BurstSize:         sec.RateLimiting.BurstSize,
			WindowDuration:    sec.RateLimiting.WindowDuration,
		},
		Validation: &middleware.ValidationConfig{
			Enabled:  sec.Validation.Enabled,
			SpecPath: sec.Validation.SpecPath,
		},
		Audit: &security.AuditConfig{
			Enabled:    sec.Audit.Enabled,
			BufferSize: sec.Audit.BufferSize,
		},
	}
	return sc
}

// setupLogger configures the logger from configuration.
func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		return fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		logger.SetOutput(file)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  PROVIDER_ADVISOR_PORT               Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  PROVIDER_ADVISOR_LOG_LEVEL          Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  PROVIDER_ADVISOR_LOG_FORMAT         Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  PROVIDER_ADVISOR_PROFILE            Default scoring profile\n")
	fmt.Fprintf(os.Stderr, "  PROVIDER_ADVISOR_GLOBAL_BUDGET_USD  Monthly global budget cap\n")
	fmt.Fprintf(os.Stderr, "  PROVIDER_ADVISOR_STORE              Store backend (memory,sqlite)\n")
	fmt.Fprintf(os.Stderr, "  PROVIDER_ADVISOR_STORE_PATH         SQLite database path\n")
	fmt.Fprintf(os.Stderr, "  PROVIDER_ADVISOR_JWT_SECRET         JWT signing secret\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		showHelp   = flag.Bool("help", false, "Show help message")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}
	if *version {
		fmt.Printf("Provider Advisor v1.0.0\n")
		os.Exit(0)
	}

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
