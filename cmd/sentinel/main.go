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

	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/cache"
	"github.com/complyark/pii-sentinel/internal/config"
	"github.com/complyark/pii-sentinel/internal/detect"
	"github.com/complyark/pii-sentinel/internal/logger"
	"github.com/complyark/pii-sentinel/internal/mirror"
	"github.com/complyark/pii-sentinel/internal/rules"
	"github.com/complyark/pii-sentinel/internal/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("PII-Sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PII-Sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	// Rule persistence mirror (best-effort, may be disabled).
	ruleMirror, err := mirror.New(mirror.Options{
		Mode:        cfg.Mirror.Mode,
		BackendURL:  cfg.Mirror.BackendURL,
		APIKey:      cfg.Mirror.APIKey,
		DatabaseURL: cfg.Mirror.DatabaseURL,
		Timeout:     cfg.Mirror.Timeout,
	}, log.WithComponent("mirror").Logger)
	if err != nil {
		log.Fatal("Failed to create rule mirror", zap.Error(err))
	}

	store := rules.NewStore(ruleMirror, log.WithComponent("rules").Logger)

	// Optional shared findings cache tier.
	var findingsCache *cache.FindingsCache
	if cfg.Cache.Redis.Enabled {
		findingsCache, err = cache.NewFindingsCache(&cfg.Cache.Redis, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to connect findings cache", zap.Error(err))
		}
		defer findingsCache.Close()
	}

	analyzer := detect.NewHTTPAnalyzer(cfg.Detection.ServiceURL, cfg.Detection.Timeout, log.WithComponent("analyzer").Logger)
	detector := detect.NewDetector(analyzer, detect.Options{
		ServiceURL:      cfg.Detection.ServiceURL,
		FallbackEnabled: cfg.Detection.FallbackEnabled,
		CacheEnabled:    cfg.Detection.CacheEnabled,
		CacheMaxEntries: cfg.Cache.MaxEntries,
		FindingsCache:   findingsCache,
	}, log.WithComponent("detect").Logger)

	srv, err := server.New(cfg, store, detector, log)
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}

	// Apply detection toggles on config reload.
	if err := config.Watch(cfg, func(updated *config.Config) {
		detector.SetFallbackEnabled(updated.Detection.FallbackEnabled)
		detector.SetCacheEnabled(updated.Detection.CacheEnabled)
		log.Info("Configuration reloaded",
			zap.Bool("fallback_enabled", updated.Detection.FallbackEnabled),
			zap.Bool("cache_enabled", updated.Detection.CacheEnabled))
	}); err != nil {
		log.Warn("Failed to watch configuration", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
