package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/config"
	"github.com/complyark/pii-sentinel/internal/logger"
	"github.com/complyark/pii-sentinel/internal/rules"
	"github.com/complyark/pii-sentinel/internal/scan"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		filePath   = flag.String("file", "", "Dataset file to scan (csv, jsonl or parquet)")
		query      = flag.String("query", "", "SQL query to scan instead of a file")
		reportPath = flag.String("report", "", "Findings report path (overrides config)")
		batchSize  = flag.Int("batch-size", 0, "Records per batch (overrides config)")
	)
	flag.Parse()

	if *filePath == "" && *query == "" {
		fmt.Fprintln(os.Stderr, "Usage: scan -file <dataset> | -query <sql>")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
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

	scanConfig := &scan.Config{
		BatchSize:    cfg.Scan.BatchSize,
		ReportPath:   cfg.Scan.ReportPath,
		ValidateData: true,
	}
	if *batchSize > 0 {
		scanConfig.BatchSize = *batchSize
	}
	if *reportPath != "" {
		scanConfig.ReportPath = *reportPath
	}

	store := rules.NewStore(nil, log.WithComponent("rules").Logger)
	pipeline := scan.NewPipeline(store, scanConfig, log.WithComponent("scan").Logger)

	ctx := context.Background()

	var result *scan.Result
	if *query != "" {
		if cfg.Scan.DatabaseURL == "" {
			log.Fatal("Query scanning requires scan.database_url in the configuration")
		}
		source, err := scan.NewDBSource(cfg.Scan.DatabaseURL, log.WithComponent("scan").Logger)
		if err != nil {
			log.Fatal("Failed to connect scan source", zap.Error(err))
		}
		defer source.Close()

		result, err = pipeline.ProcessQuery(ctx, source, *query)
		if err != nil {
			log.Fatal("Scan failed", zap.Error(err))
		}
	} else {
		result, err = pipeline.ProcessFile(ctx, *filePath)
		if err != nil {
			log.Fatal("Scan failed", zap.Error(err))
		}
	}

	log.Info("Scan finished",
		zap.Int64("records", result.TotalRecords),
		zap.Int64("findings", result.TotalFindings),
		zap.Any("findings_by_type", result.FindingsByType),
		zap.String("report", result.ReportPath),
		zap.Duration("duration", result.Duration))
}
