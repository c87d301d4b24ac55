package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/robofleet/resmux/internal/api"
	"github.com/robofleet/resmux/internal/audit"
	"github.com/robofleet/resmux/internal/broker/engine"
	"github.com/robofleet/resmux/internal/broker/expirer"
	"github.com/robofleet/resmux/internal/broker/seed"
	"github.com/robofleet/resmux/internal/broker/store"
	"github.com/robofleet/resmux/internal/clock"
	"github.com/robofleet/resmux/internal/config"
	"github.com/robofleet/resmux/internal/daemon"
	"github.com/robofleet/resmux/internal/health"
	"github.com/robofleet/resmux/internal/log"
	"github.com/robofleet/resmux/internal/ratelimit"
	"github.com/robofleet/resmux/internal/telemetry"
	"github.com/robofleet/resmux/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "export":
			os.Exit(runExportCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		case "verify":
			os.Exit(runVerifyCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	log.Configure(log.Config{
		Level:   config.ParseString("RESMUX_LOG_LEVEL", "info"),
		Service: "resmux",
		Version: version.Version,
	})

	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ParseAppConfig()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Msg("failed to load configuration")
	}
	serverCfg := config.ParseServerConfig()

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", serverCfg.ListenAddr).
		Str("backend", cfg.StoreBackend).
		Msg("starting resmux")

	logger.Info().Msgf("→ Catalog: %s (watch: %v)", cfg.SeedPath, cfg.SeedWatch)
	logger.Info().Msgf("→ Store: %s (%s)", cfg.StoreBackend, storeTarget(cfg))
	logger.Info().Msgf("→ Sweep interval: %s", cfg.SweepInterval)
	if cfg.MetricsAddr != "" {
		logger.Info().Msgf("→ Metrics: %s", cfg.MetricsAddr)
	}

	// Tracing is a no-op provider unless an OTLP endpoint is configured.
	tracing, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "resmux",
		ServiceVersion: version.Version,
		ExporterType:   cfg.OTLPProtocol,
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}

	if cfg.StoreBackend == "sqlite" || cfg.StoreBackend == "badger" {
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "startup.data_dir_failed").
				Str("dir", cfg.DataDir).
				Msg("failed to create data directory")
		}
	}

	st, err := store.Open(cfg.StoreBackend, store.Options{
		Path: cfg.StorePath,
		Redis: store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Str("backend", cfg.StoreBackend).
			Msg("failed to open store")
	}
	st = store.NewInstrumentedStore(st, cfg.StoreBackend)

	auditLog := audit.NewLogger()

	// Seed the catalog before serving. A broker with no catalog answers
	// every request with not-found, so a bad seed file fails startup.
	if err := seed.Bootstrap(ctx, st, cfg.SeedPath, auditLog); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "seed.bootstrap_failed").
			Str("path", cfg.SeedPath).
			Msg("failed to seed resource catalog")
	}

	sysClock := clock.System{}
	eng := engine.New(st, sysClock, auditLog)

	var robotLimiter *ratelimit.Limiter
	if cfg.RobotRateLimitEnabled {
		robotLimiter = ratelimit.New(ratelimit.Config{
			PerRobotRate:    rate.Limit(cfg.RobotRatePerSec),
			PerRobotBurst:   cfg.RobotRateBurst,
			CleanupInterval: ratelimit.DefaultConfig().CleanupInterval,
		})
	}

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewStoreChecker(st))

	apiOpts := api.Options{
		Health:       hm,
		RobotLimiter: robotLimiter,
	}
	if cfg.HTTPRateLimitEnabled {
		apiOpts.HTTPRateLimitPerMin = cfg.HTTPRateLimitPerMin
	}
	if cfg.TracingEnabled {
		apiOpts.TracingService = "resmux"
	}
	server := api.NewServer(eng, sysClock, apiOpts)

	deps := daemon.Deps{
		Logger:         logger,
		APIHandler:     server.Routes(),
		MetricsHandler: metricsHandler(cfg),
		MetricsAddr:    cfg.MetricsAddr,
	}

	mgr, err := daemon.NewManager(serverCfg, deps)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation.failed").
			Msg("failed to create daemon manager")
	}
	mgr.RegisterShutdownHook("store", func(context.Context) error {
		return st.Close()
	})
	mgr.RegisterShutdownHook("tracing", tracing.Shutdown)

	exp := expirer.New(st, sysClock, auditLog, expirer.Config{Interval: cfg.SweepInterval})

	var watcher *seed.Watcher
	if cfg.SeedWatch {
		watcher = seed.NewWatcher(cfg.SeedPath, st, auditLog)
	}

	app := daemon.NewApp(logger, mgr, exp, watcher)
	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}

func storeTarget(cfg config.AppConfig) string {
	switch cfg.StoreBackend {
	case "redis":
		return cfg.RedisAddr
	case "memory":
		return "in-process"
	default:
		return cfg.StorePath
	}
}

func metricsHandler(cfg config.AppConfig) http.Handler {
	if cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
