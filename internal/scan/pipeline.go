// Package scan batch-scans exported datasets against the rule engine
// and writes a findings report. Inputs are CSV, JSON lines or Parquet
// files of records pulled from connected systems.
package scan

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/pii"
	"github.com/complyark/pii-sentinel/internal/rules"
)

// Pipeline drives batch scanning.
type Pipeline struct {
	store  *rules.Store
	config *Config
	logger *zap.Logger
	stats  *Stats
	mu     sync.RWMutex
}

// NewPipeline creates a scan pipeline over the given rule store.
func NewPipeline(store *rules.Store, config *Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = 5000
	}
	return &Pipeline{
		store:  store,
		config: config,
		logger: logger,
		stats:  &Stats{StartTime: time.Now()},
	}
}

// ProcessFile scans a dataset file and writes the findings report.
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	p.logger.Info("Starting scan pipeline",
		zap.String("file", filePath),
		zap.Int("batch_size", p.config.BatchSize))

	start := time.Now()
	result := &Result{FindingsByType: make(map[string]int64)}

	format := DetectFileFormat(filePath)
	p.logger.Info("Detected file format", zap.String("format", string(format)))

	p.resetStats()

	var findings []FindingRecord
	var err error
	switch format {
	case FormatCSV:
		findings, err = p.processCSV(ctx, filePath, result)
	case FormatParquet:
		findings, err = p.processParquet(ctx, filePath, result)
	case FormatJSON:
		findings, err = p.processJSON(ctx, filePath, result)
	default:
		return result, fmt.Errorf("unsupported file format: %s", format)
	}
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	if p.config.ReportPath != "" && len(findings) > 0 {
		if err := WriteReport(p.config.ReportPath, findings); err != nil {
			return result, fmt.Errorf("failed to write findings report: %w", err)
		}
		result.ReportPath = p.config.ReportPath
	}

	result.Duration = time.Since(start)

	p.logger.Info("Scan pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("scanned_ok", result.ScannedOK),
		zap.Int64("scanned_failed", result.ScannedFailed),
		zap.Int64("total_findings", result.TotalFindings),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// processCSV scans CSV files. Columns are resolved by header name so
// exports with extra columns still work.
func (p *Pipeline) processCSV(ctx context.Context, filePath string, result *Result) ([]FindingRecord, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.ToLower(name))] = i
	}
	if _, ok := columns["content"]; !ok {
		return nil, fmt.Errorf("CSV header missing content column")
	}

	field := func(row []string, name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	return p.processBatches(ctx, func() ([]Record, error) {
		var batch []Record
		for len(batch) < p.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read CSV record", zap.Error(err))
				result.ScannedFailed++
				continue
			}

			record := Record{
				Content:       field(row, "content"),
				FieldName:     field(row, "field_name"),
				TableName:     field(row, "table_name"),
				ConnectorType: field(row, "connector_type"),
				DataSource:    field(row, "data_source"),
			}
			if p.validateRecord(record) {
				batch = append(batch, record)
			} else {
				result.ScannedFailed++
			}
		}
		return batch, nil
	}, result)
}

// processParquet scans Parquet files.
func (p *Pipeline) processParquet(ctx context.Context, filePath string, result *Result) ([]FindingRecord, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Parquet file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return p.processBatches(ctx, func() ([]Record, error) {
		var batch []Record
		for len(batch) < p.config.BatchSize {
			var record Record
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read Parquet record", zap.Error(err))
				result.ScannedFailed++
				continue
			}
			if p.validateRecord(record) {
				batch = append(batch, record)
			} else {
				result.ScannedFailed++
			}
		}
		return batch, nil
	}, result)
}

// processJSON scans JSON files (one JSON object per line).
func (p *Pipeline) processJSON(ctx context.Context, filePath string, result *Result) ([]FindingRecord, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return p.processBatches(ctx, func() ([]Record, error) {
		var batch []Record
		for len(batch) < p.config.BatchSize {
			var record Record
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				p.logger.Warn("Failed to read JSON record", zap.Error(err))
				result.ScannedFailed++
				continue
			}
			if p.validateRecord(record) {
				batch = append(batch, record)
			} else {
				result.ScannedFailed++
			}
		}
		return batch, nil
	}, result)
}

// processBatches drains the reader, scanning each batch through the
// rule engine.
func (p *Pipeline) processBatches(ctx context.Context, readBatch func() ([]Record, error), result *Result) ([]FindingRecord, error) {
	var findings []FindingRecord

	for {
		select {
		case <-ctx.Done():
			return findings, ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return findings, fmt.Errorf("failed to read batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		findings = append(findings, p.scanBatch(batch, result)...)

		result.TotalRecords += int64(len(batch))
		result.ScannedOK += int64(len(batch))

		if result.TotalRecords%int64(p.config.ProgressReport) == 0 {
			p.reportProgress(result)
		}
	}

	return findings, nil
}

// scanBatch evaluates every record against the rule store.
func (p *Pipeline) scanBatch(batch []Record, result *Result) []FindingRecord {
	var out []FindingRecord

	for _, record := range batch {
		sc := pii.ScanContext{
			FieldName:     record.FieldName,
			TableName:     record.TableName,
			ConnectorType: record.ConnectorType,
			DataSource:    record.DataSource,
		}

		results := p.store.EvaluateRules(record.Content, sc)
		for _, finding := range p.store.ConvertToFindings(results, sc) {
			result.TotalFindings++
			result.FindingsByType[string(finding.Type)]++
			out = append(out, flattenFinding(finding))
		}
	}
	return out
}

func flattenFinding(f pii.Finding) FindingRecord {
	return FindingRecord{
		ID:            f.ID,
		PIIType:       string(f.Type),
		Sensitivity:   string(f.SensitivityLevel),
		ConnectorType: f.Location.System,
		DataSource:    f.Location.Database,
		FieldName:     f.Location.Metadata["fieldName"],
		TableName:     f.Location.Metadata["tableName"],
		RuleID:        f.Location.Metadata["ruleId"],
		RuleName:      f.Location.Metadata["ruleName"],
		MaskedContent: f.Content,
		Confidence:    f.Confidence,
		Method:        string(f.DetectionMethod),
		Timestamp:     f.Timestamp.UnixMilli(),
	}
}

// WriteReport writes the findings report as Parquet.
func WriteReport(path string, findings []FindingRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file)
	for i := range findings {
		if err := writer.Write(&findings[i]); err != nil {
			return fmt.Errorf("failed to write report row: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}
	return nil
}

// ReadReport loads a findings report, mainly for verification.
func ReadReport(path string) ([]FindingRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var out []FindingRecord
	for {
		var record FindingRecord
		err := reader.Read(&record)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read report row: %w", err)
		}
		out = append(out, record)
	}
	return out, nil
}

// validateRecord drops records the engine cannot use.
func (p *Pipeline) validateRecord(record Record) bool {
	if !p.config.ValidateData {
		return true
	}
	if strings.TrimSpace(record.Content) == "" {
		p.logger.Debug("Invalid record: empty content")
		return false
	}
	if len(record.Content) > 100000 {
		p.logger.Debug("Invalid record: content too long", zap.Int("length", len(record.Content)))
		return false
	}
	return true
}

func (p *Pipeline) reportProgress(result *Result) {
	elapsed := time.Since(p.stats.StartTime)
	rate := float64(result.TotalRecords) / elapsed.Seconds()

	p.logger.Info("Scan progress",
		zap.Int64("records_scanned", result.TotalRecords),
		zap.Int64("findings", result.TotalFindings),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = &Stats{StartTime: time.Now()}
}

// GetStats returns current pipeline statistics.
func (p *Pipeline) GetStats() *Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := *p.stats
	return &stats
}
