package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// dbRecord maps a result row from a connected database.
type dbRecord struct {
	Content       string `db:"content"`
	FieldName     string `db:"field_name"`
	TableName     string `db:"table_name"`
	ConnectorType string `db:"connector_type"`
	DataSource    string `db:"data_source"`
}

// DBSource pulls records to scan straight from a Postgres database
// instead of an exported file.
type DBSource struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewDBSource connects to the database and verifies connectivity.
func NewDBSource(databaseURL string, logger *zap.Logger) (*DBSource, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scan source: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("scan source ping failed: %w", err)
	}

	return &DBSource{db: db, logger: logger}, nil
}

// ProcessQuery runs query against the source database and scans each
// returned row. The query must project content, field_name,
// table_name, connector_type and data_source columns.
func (p *Pipeline) ProcessQuery(ctx context.Context, source *DBSource, query string) (*Result, error) {
	start := time.Now()
	result := &Result{FindingsByType: make(map[string]int64)}
	p.resetStats()

	rows, err := source.db.QueryxContext(ctx, query)
	if err != nil {
		return result, fmt.Errorf("scan query failed: %w", err)
	}
	defer rows.Close()

	var findings []FindingRecord
	batch := make([]Record, 0, p.config.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		findings = append(findings, p.scanBatch(batch, result)...)
		result.TotalRecords += int64(len(batch))
		result.ScannedOK += int64(len(batch))
		batch = batch[:0]
	}

	for rows.Next() {
		var row dbRecord
		if err := rows.StructScan(&row); err != nil {
			p.logger.Warn("Failed to scan source row", zap.Error(err))
			result.ScannedFailed++
			continue
		}

		record := Record{
			Content:       row.Content,
			FieldName:     row.FieldName,
			TableName:     row.TableName,
			ConnectorType: row.ConnectorType,
			DataSource:    row.DataSource,
		}
		if !p.validateRecord(record) {
			result.ScannedFailed++
			continue
		}

		batch = append(batch, record)
		if len(batch) >= p.config.BatchSize {
			flush()
		}
	}
	flush()

	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("scan query iteration failed: %w", err)
	}

	if p.config.ReportPath != "" && len(findings) > 0 {
		if err := WriteReport(p.config.ReportPath, findings); err != nil {
			return result, fmt.Errorf("failed to write findings report: %w", err)
		}
		result.ReportPath = p.config.ReportPath
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Close closes the source connection.
func (s *DBSource) Close() error {
	return s.db.Close()
}
