package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/raaihank/pmo-sentinel/internal/cache"
	"github.com/raaihank/pmo-sentinel/internal/config"
	"github.com/raaihank/pmo-sentinel/internal/etl"
	"github.com/raaihank/pmo-sentinel/internal/logger"
	"github.com/raaihank/pmo-sentinel/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "File to import (CSV, Parquet or JSON lines)")
		exportFile = flag.String("export", "", "Write the project's entries and memory to this file")
		project    = flag.String("project", "", "Project for rows without a project column; required for -export")
		batchSize  = flag.Int("batch-size", 500, "Records per database batch")
		dryRun     = flag.Bool("dry-run", false, "Validate only, don't write to the database")
		clearCache = flag.Bool("clear-cache", false, "Drop all cached project snapshots from Redis")
		showStats  = flag.Bool("stats", false, "Show cache statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && *exportFile == "" && !*clearCache && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -input entries.csv -project alpha\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input memory.parquet -batch-size 1000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -export alpha.jsonl -project alpha\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -clear-cache\n", os.Args[0])
		os.Exit(1)
	}
	if *exportFile != "" && *project == "" {
		fmt.Fprintln(os.Stderr, "-export requires -project")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := initializeServices(ctx, cfg, log, *clearCache || *showStats)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer svc.cleanup()

	switch {
	case *showStats:
		err = showCacheStats(ctx, svc)
	case *clearCache:
		err = clearProjectCache(ctx, svc, log)
	case *exportFile != "":
		err = exportProject(ctx, svc, *project, *exportFile, log)
	default:
		etlConfig := etl.DefaultConfig()
		etlConfig.BatchSize = *batchSize
		etlConfig.Project = *project
		etlConfig.DryRun = *dryRun
		err = importFile(ctx, svc, etlConfig, *inputFile, log)
	}
	if err != nil {
		log.Error("ETL failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

// services holds all initialized services
type services struct {
	sqlStore   *store.SQLStore
	entryCache *cache.EntryCache
	store      store.Store
}

func (s *services) cleanup() {
	if s.entryCache != nil {
		s.entryCache.Close()
	}
	if s.sqlStore != nil {
		s.sqlStore.Close()
	}
}

// initializeServices opens the store and, when enabled, the cache so that
// imports invalidate cached snapshots
func initializeServices(ctx context.Context, cfg *config.Config, log *logger.Logger, needCache bool) (*services, error) {
	svc := &services{}

	sqlStore, err := store.Open(ctx, &store.Config{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime,
	}, log.WithComponent("store").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	svc.sqlStore = sqlStore
	svc.store = sqlStore

	if !cfg.Cache.Enabled {
		if needCache {
			svc.cleanup()
			return nil, fmt.Errorf("cache is not enabled")
		}
		return svc, nil
	}

	entryCache, err := cache.NewEntryCache(&cache.Config{
		RedisURL:       cfg.Cache.RedisURL,
		MaxConnections: cfg.Cache.MaxConnections,
		MinIdleConns:   cfg.Cache.MinIdleConns,
		DefaultTTL:     cfg.Cache.DefaultTTL,
		KeyPrefix:      cfg.Cache.KeyPrefix,
	}, log.WithComponent("cache").Logger, nil)
	if err != nil {
		svc.cleanup()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	svc.entryCache = entryCache
	svc.store = cache.NewCachedStore(sqlStore, entryCache)
	return svc, nil
}

func importFile(ctx context.Context, svc *services, etlConfig *etl.Config, inputFile string, log *logger.Logger) error {
	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	result, err := etl.NewPipeline(svc.store, etlConfig, log.WithComponent("etl").Logger).ProcessFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("\n=== Import of %s ===\n", inputFile)
	fmt.Printf("Records read:       %d\n", result.TotalRecords)
	fmt.Printf("Entries inserted:   %d\n", result.EntriesInserted)
	fmt.Printf("Entries existing:   %d\n", result.EntriesDuplicates)
	fmt.Printf("Memory upserted:    %d\n", result.MemoryUpserted)
	fmt.Printf("Invalid:            %d\n", result.Invalid)
	fmt.Printf("Failed:             %d\n", result.Failed)
	fmt.Printf("Duration:           %v\n", result.Duration)
	if etlConfig.DryRun {
		fmt.Println("Dry run: nothing was written")
	}

	if len(result.Errors) > 0 {
		log.Warn("Import completed with errors", zap.Strings("errors", result.Errors))
	}
	return nil
}

func exportProject(ctx context.Context, svc *services, project, path string, log *logger.Logger) error {
	n, err := etl.ExportFile(ctx, svc.store, project, path)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	log.Info("Export completed",
		zap.String("project", project),
		zap.String("file", path),
		zap.Int("records", n))
	return nil
}

func showCacheStats(ctx context.Context, svc *services) error {
	stats, err := svc.entryCache.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache stats: %w", err)
	}

	fmt.Printf("\n=== Cache Statistics ===\n")
	fmt.Printf("Total Keys:         %d\n", stats.TotalKeys)
	fmt.Printf("Memory Usage:       %.2f MB\n", float64(stats.MemoryUsage)/1024/1024)
	return nil
}

func clearProjectCache(ctx context.Context, svc *services, log *logger.Logger) error {
	if err := svc.entryCache.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	log.Info("Cache cleared")
	return nil
}
