package mirror

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/rules"
)

// Options selects and configures a mirror backend.
type Options struct {
	Mode        string // off, http, or postgres
	BackendURL  string
	APIKey      string
	DatabaseURL string
	Timeout     time.Duration
}

// New builds the mirror selected by opts.Mode. Mode "off" returns a
// nil mirror, which the rule store treats as no forwarding.
func New(opts Options, logger *zap.Logger) (rules.Mirror, error) {
	switch opts.Mode {
	case "", "off":
		return nil, nil
	case "http":
		return NewHTTPMirror(opts.BackendURL, opts.APIKey, opts.Timeout, logger), nil
	case "postgres":
		return NewPostgresMirror(&PostgresConfig{DatabaseURL: opts.DatabaseURL}, logger)
	default:
		return nil, fmt.Errorf("unknown mirror mode %q", opts.Mode)
	}
}

// Nop is a mirror that accepts every change and does nothing. Useful
// in tests that assert forwarding happens without a real backend.
type Nop struct{}

func (Nop) CreateRule(ctx context.Context, rule *rules.PrivacyRule) error { return nil }

func (Nop) UpdateRule(ctx context.Context, id string, r *rules.PrivacyRule) error { return nil }

func (Nop) DeleteRule(ctx context.Context, id string) error { return nil }
