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

	"github.com/raaihank/pmo-sentinel/internal/cache"
	"github.com/raaihank/pmo-sentinel/internal/config"
	"github.com/raaihank/pmo-sentinel/internal/generator"
	"github.com/raaihank/pmo-sentinel/internal/logger"
	"github.com/raaihank/pmo-sentinel/internal/metrics"
	"github.com/raaihank/pmo-sentinel/internal/pipeline"
	"github.com/raaihank/pmo-sentinel/internal/privacy"
	"github.com/raaihank/pmo-sentinel/internal/server"
	"github.com/raaihank/pmo-sentinel/internal/store"
)

var (
	version = "0.3.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		healthURL   = flag.String("health-url", "http://localhost:8080/health", "URL used by -health-check")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("PMO Sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck(*healthURL)
		return
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
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
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PMO Sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	if err := run(loader, cfg, log); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(loader *config.Loader, cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	sqlStore, err := store.Open(ctx, &store.Config{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	}, log.WithComponent("store").Logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer sqlStore.Close()

	var st store.Store = sqlStore
	if cfg.Cache.Enabled {
		entryCache, err := cache.NewEntryCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger, m)
		if err != nil {
			// the store alone is enough to serve requests
			log.Warn("Entry cache unavailable, reading from the store", zap.Error(err))
		} else {
			defer entryCache.Close()
			st = cache.NewCachedStore(sqlStore, entryCache)
		}
	}

	apiKey := cfg.Upstream.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	gen, err := generator.NewAnthropic(generator.AnthropicConfig{
		BaseURL:    cfg.Upstream.Anthropic,
		APIKey:     apiKey,
		Model:      cfg.Upstream.Model,
		MaxTokens:  cfg.Upstream.MaxTokens,
		Timeout:    cfg.Upstream.Timeout,
		MaxRetries: 2,
	}, log.WithComponent("generator").Logger)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}

	engine := privacy.NewEngine(log.WithComponent("privacy").Logger, m)
	p := pipeline.New(st, gen, engine, cfg.Privacy, log.WithComponent("pipeline").Logger, m)

	srv, err := server.New(cfg, log, server.Dependencies{Store: st, Pipeline: p, Metrics: m})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	loader.Watch(func(next *config.Config) {
		if err := log.SetLevel(next.Logging.Level); err != nil {
			log.Warn("Ignoring reloaded log level", zap.Error(err))
		}
		srv.Reload(next)
	}, func(err error) {
		log.Warn("Configuration reload rejected", zap.Error(err))
	})

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start(ctx)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	// Give outstanding generations time to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("Server shutdown complete")
	return nil
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(url string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
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
