package scan

import (
	"path/filepath"
	"strings"
	"time"
)

// FileFormat identifies a supported input format.
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
	FormatUnknown FileFormat = "unknown"
)

// DetectFileFormat infers the input format from the file extension.
func DetectFileFormat(path string) FileFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatUnknown
	}
}

// Record is one unit of content pulled from a connected data source.
type Record struct {
	Content       string `json:"content" parquet:"content"`
	FieldName     string `json:"field_name" parquet:"field_name"`
	TableName     string `json:"table_name" parquet:"table_name"`
	ConnectorType string `json:"connector_type" parquet:"connector_type"`
	DataSource    string `json:"data_source" parquet:"data_source"`
}

// FindingRecord is the flattened report row written for each finding.
type FindingRecord struct {
	ID            string  `parquet:"id"`
	PIIType       string  `parquet:"pii_type"`
	Sensitivity   string  `parquet:"sensitivity"`
	ConnectorType string  `parquet:"connector_type"`
	DataSource    string  `parquet:"data_source"`
	FieldName     string  `parquet:"field_name"`
	TableName     string  `parquet:"table_name"`
	RuleID        string  `parquet:"rule_id"`
	RuleName      string  `parquet:"rule_name"`
	MaskedContent string  `parquet:"masked_content"`
	Confidence    float64 `parquet:"confidence"`
	Method        string  `parquet:"method"`
	Timestamp     int64   `parquet:"timestamp,timestamp"`
}

// Config controls the scan pipeline.
type Config struct {
	BatchSize      int
	ProgressReport int
	ReportPath     string
	ValidateData   bool
}

// Result summarizes one scan run.
type Result struct {
	TotalRecords    int64
	ScannedOK       int64
	ScannedFailed   int64
	TotalFindings   int64
	FindingsByType  map[string]int64
	Duration        time.Duration
	ReportPath      string
	Errors          []string
}

// Stats tracks pipeline progress.
type Stats struct {
	StartTime time.Time
}
