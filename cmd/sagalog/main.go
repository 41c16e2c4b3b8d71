package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/sagalog/sagalog/config"
	"github.com/sagalog/sagalog/pkg/api"
	"github.com/sagalog/sagalog/pkg/api/events"
	"github.com/sagalog/sagalog/pkg/api/handlers"
	"github.com/sagalog/sagalog/pkg/inspect"
	"github.com/sagalog/sagalog/pkg/logger"
	"github.com/sagalog/sagalog/pkg/metrics"
	"github.com/sagalog/sagalog/pkg/relay"
	"github.com/sagalog/sagalog/pkg/saga"
	"github.com/sagalog/sagalog/pkg/telemetry/tracing"
	"github.com/sagalog/sagalog/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")
	watchConfig = flag.Bool("watch-config", false, "Reload configuration on file change")

	// CLI overrides
	serverHost  = flag.String("host", "", "Override server host")
	serverPort  = flag.Int("port", 0, "Override server port")
	storageType = flag.String("storage", "", "Override storage type (memory or badger)")
	dbPath      = flag.String("db-path", "", "Override badger database path")
	logLevel    = flag.String("log-level", "", "Override log level")
	metricsPort = flag.Int("metrics-port", 0, "Override metrics port")
	debugMode   = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetDefault(log)

	log.Info("starting sagalog",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Tracing.
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Metrics.
	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)

	if metricsManager.Enabled() {
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	// Log backend.
	var sagaLog saga.Log
	switch cfg.Storage.Type {
	case "badger":
		badgerLog, err := saga.OpenBadgerLog(cfg.Storage.Path, saga.WithSyncWrites(cfg.Storage.SyncWrites))
		if err != nil {
			log.Error("failed to open badger log", "path", cfg.Storage.Path, "error", err)
			os.Exit(1)
		}
		sagaLog = badgerLog
		log.Info("initialized badger log", "path", cfg.Storage.Path, "sync_writes", cfg.Storage.SyncWrites)
	default:
		sagaLog = saga.NewMemoryLog()
		log.Info("initialized memory log")
	}
	sagaLog = metrics.InstrumentLog(sagaLog, metricsManager)
	defer func() {
		if err := sagaLog.Close(); err != nil {
			log.Error("error closing saga log", "error", err)
		}
	}()

	registry := inspect.NewRegistry()
	registry.AddSource("default", sagaLog)

	// Event fan-out to websocket clients.
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	wsHandler := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
	})
	defer wsHandler.Close()
	go wsHandler.Run(ctx, broadcaster)

	// Redis relay: mirror externally published saga events to local
	// websocket subscribers.
	var eventRelay *relay.RedisRelay
	if cfg.Relay.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Relay.Addr,
			Password: cfg.Relay.Password,
			DB:       cfg.Relay.DB,
		})
		eventRelay = relay.NewRedisRelay(client, cfg.Relay.ChannelPrefix, cfg.Relay.Buffer)
		eventRelay.SetLogger(log)
		defer func() {
			_ = eventRelay.Close()
			_ = client.Close()
		}()

		envelopes, stopRelay, err := eventRelay.SubscribeAll(ctx)
		if err != nil {
			log.Error("failed to subscribe to event relay", "error", err)
			os.Exit(1)
		}
		defer stopRelay()

		go func() {
			for env := range envelopes {
				payload := map[string]any{"saga_id": env.SagaID}
				if env.TaskID != "" {
					payload["task_id"] = env.TaskID
				}
				if env.Error != "" {
					payload["error"] = env.Error
				}
				broadcaster.Broadcast(events.Event{
					Type:      env.Type,
					Timestamp: env.Timestamp,
					Payload:   payload,
				})
			}
		}()
		log.Info("event relay connected", "addr", cfg.Relay.Addr, "prefix", cfg.Relay.ChannelPrefix)
	}

	// Retention cleanup.
	var cleanup *saga.CleanupService
	if cfg.Cleanup.Enabled {
		cleanup = saga.NewCleanupService(sagaLog,
			saga.WithCompletedRetention(cfg.Cleanup.CompletedRetention),
			saga.WithAbortedRetention(cfg.Cleanup.AbortedRetention),
			saga.WithScanInterval(cfg.Cleanup.ScanInterval),
			saga.WithStrictArchive(cfg.Cleanup.StrictArchive),
			saga.WithCleanupLogger(log),
			saga.WithCleanupMetrics(metricsManager),
		)
		cleanup.Start()
		log.Info("cleanup service started",
			"completed_retention", cfg.Cleanup.CompletedRetention,
			"aborted_retention", cfg.Cleanup.AbortedRetention,
			"scan_interval", cfg.Cleanup.ScanInterval,
		)
	}

	// HTTP API.
	apiHandlers := &api.Handlers{
		Saga:      handlers.NewSagaHandler(registry, log),
		Health:    handlers.NewHealthHandler(registry),
		WebSocket: wsHandler,
		Tracing:   cfg.Tracing.Enabled,
	}
	if metricsManager.Enabled() {
		apiHandlers.Metrics = metricsManager
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// Optional configuration hot reload, currently limited to log level.
	var watcher *config.Watcher
	if *watchConfig && *configPath != "" {
		watcher, err = config.NewWatcher(*configPath, config.NewLoader(), cfg)
		if err != nil {
			log.Error("failed to create config watcher", "error", err)
			os.Exit(1)
		}
		watcher.OnChange(func(old, new *config.Config) {
			if config.ExtractHotReloadable(old).Changed(config.ExtractHotReloadable(new)) {
				log.Info("applying reloaded logging config", "level", new.Logging.Level)
				log.SetLevel(logger.ParseLevel(new.Logging.Level))
			}
		})
		go func() {
			if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
				log.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	log.Info("sagalog is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
	)

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down HTTP server", "error", err)
	}

	if cleanup != nil {
		cleanup.Stop()
	}

	if metricsManager.Enabled() {
		if err := metricsManager.Shutdown(shutdownCtx); err != nil {
			log.Error("error shutting down metrics server", "error", err)
		}
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("error shutting down tracing", "error", err)
	}

	log.Info("sagalog stopped gracefully")
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *serverHost != "" {
		overrides["server.host"] = *serverHost
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *storageType != "" {
		overrides["storage.type"] = *storageType
	}
	if *dbPath != "" {
		overrides["storage.path"] = *dbPath
	}
	if *logLevel != "" {
		overrides["logging.level"] = *logLevel
	}
	if *metricsPort != 0 {
		overrides["metrics.port"] = *metricsPort
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("sagalog - saga orchestration log server\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("sagalog - append-only saga log with orchestration, recovery, and inspection\n\n")
	fmt.Printf("Usage: sagalog [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  sagalog                                   # Run with default config\n")
	fmt.Printf("  sagalog -config config.yaml               # Use specific config file\n")
	fmt.Printf("  sagalog -storage badger -db-path ./data   # Durable log storage\n")
	fmt.Printf("  sagalog -port 9090 -log-level debug       # Override specific options\n")
	fmt.Printf("  sagalog -version                          # Print version info\n")
}
