package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatskeeper/internal/aiservice"
	"whatskeeper/internal/backup"
	"whatskeeper/internal/config"
	"whatskeeper/internal/directory"
	"whatskeeper/internal/dispatch"
	"whatskeeper/internal/metrics"
	"whatskeeper/internal/models"
	"whatskeeper/internal/reports"
	"whatskeeper/internal/service"
	"whatskeeper/internal/tracing"
	"whatskeeper/internal/transcribe"
	"whatskeeper/pkg/whatsapp"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose     = flag.Bool("verbose", false, "Enable verbose logging")
	configPath  = flag.String("config", "config.json", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("whatskeeper %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	// A .env alongside the binary is optional.
	_ = godotenv.Load()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting whatskeeper")

	watcher := config.NewWatcher(*configPath, 0, logger)
	cfg := watcher.Snapshot()

	setLogLevel(logger, cfg.LogLevel, *verbose)

	if cfg.WhatsApp.APIBaseURL == "" {
		return models.ConfigError{Message: "whatsapp API base URL is required (config or WHATSAPP_API_URL)"}
	}

	var settings ServerSettings
	if err := envconfig.Process("whatskeeper", &settings); err != nil {
		return fmt.Errorf("failed to read server settings: %w", err)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	metrics.Register(prometheus.DefaultRegisterer)

	waClient := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:     cfg.WhatsApp.APIBaseURL,
		APIKey:      os.Getenv("WHATSAPP_API_KEY"),
		SessionName: cfg.WhatsApp.SessionName,
		Timeout:     time.Duration(cfg.WhatsApp.TimeoutSec) * time.Second,
	})

	backupStore := backup.NewStore(cfg.DataDir, waClient, logger)
	dir := directory.NewCache(cfg.DirectoryFile, waClient, logger)
	invoker := aiservice.NewInvoker(watcher.Snapshot, logger)
	transcriber := transcribe.NewTranscriber(watcher.Snapshot, logger)

	scheduleStore := dispatch.NewStore(cfg.ScheduledMessagesFile, logger)
	engine := dispatch.NewEngine(scheduleStore, waClient, watcher.Snapshot, logger)
	go engine.Start(ctx)

	reportScheduler := reports.NewScheduler(backupStore, dir, invoker, scheduleStore, engine, logger)
	reportScheduler.Apply(cfg)
	defer reportScheduler.Stop()
	watcher.OnChange(reportScheduler.Apply)

	go watcher.Start(ctx)

	handler := service.NewHandler(watcher.Snapshot, backupStore, dir, transcriber, invoker, waClient, logger)

	server := NewServer(settings, watcher.Snapshot, scheduleStore, engine, handler, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

func setLogLevel(logger *logrus.Logger, configured string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled")
		return
	}
	if configured == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
