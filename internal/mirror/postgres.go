package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/rules"
)

// PostgresMirror persists rule changes into a privacy_rules table so
// the compliance dashboard can read them directly.
type PostgresMirror struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// PostgresConfig contains database configuration
type PostgresConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

const createRulesTable = `
CREATE TABLE IF NOT EXISTS privacy_rules (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	pattern TEXT NOT NULL,
	pii_type TEXT NOT NULL,
	sensitivity_level TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	priority INTEGER NOT NULL DEFAULT 0,
	tags JSONB,
	conditions JSONB,
	context_rules JSONB,
	created_by TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version INTEGER NOT NULL
)`

// NewPostgresMirror connects to the database and ensures the rules
// table exists.
func NewPostgresMirror(config *PostgresConfig, logger *zap.Logger) (*PostgresMirror, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	m := &PostgresMirror{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, createRulesTable); err != nil {
		return nil, fmt.Errorf("failed to ensure privacy_rules table: %w", err)
	}

	logger.Info("Postgres rule mirror initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)))
	return m, nil
}

// CreateRule upserts a rule row. Upsert rather than insert because the
// mirror is eventually consistent with the in-memory store.
func (m *PostgresMirror) CreateRule(ctx context.Context, rule *rules.PrivacyRule) error {
	return m.upsert(ctx, rule)
}

// UpdateRule upserts the updated rule row.
func (m *PostgresMirror) UpdateRule(ctx context.Context, id string, rule *rules.PrivacyRule) error {
	return m.upsert(ctx, rule)
}

// DeleteRule removes the rule row.
func (m *PostgresMirror) DeleteRule(ctx context.Context, id string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM privacy_rules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete mirrored rule: %w", err)
	}
	return nil
}

func (m *PostgresMirror) upsert(ctx context.Context, rule *rules.PrivacyRule) error {
	tags, err := json.Marshal(rule.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode rule tags: %w", err)
	}
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode rule conditions: %w", err)
	}
	contextRules, err := json.Marshal(rule.ContextRules)
	if err != nil {
		return fmt.Errorf("failed to encode rule context: %w", err)
	}

	query := `
		INSERT INTO privacy_rules (
			id, name, description, pattern, pii_type, sensitivity_level,
			enabled, priority, tags, conditions, context_rules,
			created_by, created_at, updated_at, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			pattern = EXCLUDED.pattern,
			pii_type = EXCLUDED.pii_type,
			sensitivity_level = EXCLUDED.sensitivity_level,
			enabled = EXCLUDED.enabled,
			priority = EXCLUDED.priority,
			tags = EXCLUDED.tags,
			conditions = EXCLUDED.conditions,
			context_rules = EXCLUDED.context_rules,
			updated_at = EXCLUDED.updated_at,
			version = EXCLUDED.version`

	_, err = m.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.Pattern,
		string(rule.PIIType),
		string(rule.SensitivityLevel),
		rule.Enabled,
		rule.Priority,
		tags,
		conditions,
		contextRules,
		rule.CreatedBy,
		rule.CreatedAt,
		rule.UpdatedAt,
		rule.Version,
	)
	if err != nil {
		m.logger.Error("Failed to mirror rule",
			zap.Error(err),
			zap.String("rule_id", rule.ID))
		return fmt.Errorf("failed to mirror rule: %w", err)
	}

	m.logger.Debug("Rule mirrored",
		zap.String("rule_id", rule.ID),
		zap.Int("version", rule.Version))
	return nil
}

// Close closes the database connection.
func (m *PostgresMirror) Close() error {
	return m.db.Close()
}

// maskDatabaseURL masks credentials in a database URL for logging.
func maskDatabaseURL(url string) string {
	if !strings.Contains(url, "@") {
		return url
	}
	parts := strings.Split(url, "@")
	schemePart := parts[0]
	if idx := strings.LastIndex(schemePart, ":"); idx > strings.Index(schemePart, "//") {
		schemePart = schemePart[:idx+1] + "***"
	}
	return schemePart + "@" + strings.Join(parts[1:], "@")
}
