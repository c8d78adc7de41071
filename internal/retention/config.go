package retention

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mschirtzinger/promptvault/internal/catalog"
	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

// Strategy selects which rule marks versions for deletion.
type Strategy string

const (
	// StrategyCount keeps a window of the most recent versions.
	StrategyCount Strategy = "count"
	// StrategyDays deletes versions older than the retention period.
	StrategyDays Strategy = "days"
	// StrategyBoth deletes versions marked by either rule.
	StrategyBoth Strategy = "both"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyCount, StrategyDays, StrategyBoth:
		return true
	}
	return false
}

// Config is the retention policy.
type Config struct {
	MaxVersionsPerPrompt   int
	RetentionDays          int
	Strategy               Strategy
	PreserveTaggedVersions bool
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() Config {
	return Config{
		MaxVersionsPerPrompt:   50,
		RetentionDays:          90,
		Strategy:               StrategyCount,
		PreserveTaggedVersions: true,
	}
}

// Validate checks the policy.
func (c Config) Validate() error {
	if c.MaxVersionsPerPrompt < 1 {
		return fmt.Errorf("max versions per prompt must be at least 1, got %d", c.MaxVersionsPerPrompt)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1, got %d", c.RetentionDays)
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("invalid strategy %q (must be count, days or both)", c.Strategy)
	}
	return nil
}

// Keys of the policy in the catalog config table.
const (
	keyMaxVersions   = "retention.max_versions_per_prompt"
	keyRetentionDays = "retention.retention_days"
	keyStrategy      = "retention.strategy"
	keyPreserve      = "retention.preserve_tagged_versions"
)

// GetConfig returns the persisted policy. Keys that were never set fall back
// to the engine defaults.
func (e *Engine) GetConfig(ctx context.Context) (Config, error) {
	cfg := e.defaults

	rows, err := catalog.Query(ctx, e.catalog.DB(), func(s catalog.Scanner) ([2]string, error) {
		var kv [2]string
		err := s.Scan(&kv[0], &kv[1])
		return kv, err
	}, `SELECT key, value FROM config WHERE key LIKE 'retention.%'`)
	if err != nil {
		return cfg, err
	}

	for _, kv := range rows {
		key, value := kv[0], kv[1]
		switch key {
		case keyMaxVersions:
			cfg.MaxVersionsPerPrompt, err = strconv.Atoi(value)
		case keyRetentionDays:
			cfg.RetentionDays, err = strconv.Atoi(value)
		case keyStrategy:
			cfg.Strategy = Strategy(value)
		case keyPreserve:
			cfg.PreserveTaggedVersions, err = strconv.ParseBool(value)
		}
		if err != nil {
			return cfg, vaulterr.Validation("retention.config", fmt.Errorf("invalid value %q for %s: %w", value, key, err))
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, vaulterr.Validation("retention.config", err)
	}
	return cfg, nil
}

// SetConfig validates and persists the policy.
func (e *Engine) SetConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return vaulterr.Validation("retention.config", err)
	}

	values := map[string]string{
		keyMaxVersions:   strconv.Itoa(cfg.MaxVersionsPerPrompt),
		keyRetentionDays: strconv.Itoa(cfg.RetentionDays),
		keyStrategy:      string(cfg.Strategy),
		keyPreserve:      strconv.FormatBool(cfg.PreserveTaggedVersions),
	}
	now := catalog.FormatTime(e.now())

	return e.catalog.Transaction(ctx, func(tx catalog.Querier) error {
		for key, value := range values {
			_, err := catalog.Exec(ctx, tx, `
				INSERT INTO config (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, value, now,
			)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetConfig removes the persisted policy so the defaults apply again.
func (e *Engine) ResetConfig(ctx context.Context) error {
	_, err := e.catalog.Exec(ctx, `DELETE FROM config WHERE key LIKE 'retention.%'`)
	return err
}
