package nudge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DefaultConfig returns the hardcoded baseline settings for a nudge type.
// These are the bottom layer of the resolution order; see ConfigRepository.Get.
func DefaultConfig(tenantID string, t Type) Config {
	cfg := Config{
		TenantID: tenantID,
		Type:     t,
		Enabled:  true,
	}
	switch t {
	case PointsExpiring:
		cfg.CooldownDays = 7
		cfg.WarningDays = []int{30, 7, 1}
	case TierProgress:
		cfg.CooldownDays = 14
		cfg.ProgressThreshold = 0.8
	case InactiveReminder:
		cfg.CooldownDays = 30
		cfg.InactiveDays = 60
	case TradeInReminder:
		cfg.CooldownDays = 21
		cfg.MinDaysSinceTradeIn = 90
	}
	return cfg
}

// ValidatePatch rejects out-of-range admin updates. Values are never clamped;
// a bad write fails loudly so the admin UI can surface it.
func ValidatePatch(t Type, patch ConfigPatch) error {
	if !t.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown nudge type %q", t)}
	}
	if patch.CooldownDays != nil && *patch.CooldownDays < 0 {
		return &ValidationError{Field: "cooldown_days", Reason: "must be >= 0"}
	}
	if patch.ProgressThreshold != nil {
		if p := *patch.ProgressThreshold; p < 0 || p > 1 {
			return &ValidationError{Field: "progress_threshold", Reason: fmt.Sprintf("%v is outside [0,1]", p)}
		}
	}
	if patch.InactiveDays != nil && *patch.InactiveDays <= 0 {
		return &ValidationError{Field: "inactive_days", Reason: "must be positive"}
	}
	if patch.MinDaysSinceTradeIn != nil && *patch.MinDaysSinceTradeIn <= 0 {
		return &ValidationError{Field: "min_days_since_trade_in", Reason: "must be positive"}
	}
	for _, d := range patch.WarningDays {
		if d <= 0 {
			return &ValidationError{Field: "warning_days", Reason: "every threshold must be positive"}
		}
	}
	return nil
}

// ConfigStore resolves and persists per-tenant nudge settings.
type ConfigStore interface {
	Get(ctx context.Context, tenantID string, t Type) (*Config, error)
	Upsert(ctx context.Context, tenantID string, t Type, patch ConfigPatch) (*Config, error)
	ListEnabled(ctx context.Context) ([]Config, error)
	TradeInEnabled(ctx context.Context, tenantID string) (bool, error)
}

// legacySettings is the tenant-wide settings blob that predates per-type
// configuration rows. Only the fields the resolver honors are decoded.
type legacySettings struct {
	NudgesEnabled     *bool `json:"nudges_enabled"`
	NudgeCooldownDays *int  `json:"nudge_cooldown_days"`
	TradeInEnabled    *bool `json:"trade_in_enabled"`
}

// ConfigRepository is the postgres-backed ConfigStore.
type ConfigRepository struct {
	db *sql.DB
}

func NewConfigRepository(db *sql.DB) *ConfigRepository {
	return &ConfigRepository{db: db}
}

// Get resolves the effective configuration with explicit precedence:
// a stored per-type row wins, else the legacy tenant settings blob overlays
// the hardcoded defaults for the fields it carries, else the defaults alone.
func (r *ConfigRepository) Get(ctx context.Context, tenantID string, t Type) (*Config, error) {
	if !t.Valid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown nudge type %q", t)}
	}

	query := `
		SELECT tenant_id, nudge_type, enabled, cooldown_days, subject, body,
		       warning_days, progress_threshold, inactive_days, min_days_since_trade_in,
		       created_at, updated_at
		FROM nudge_configs WHERE tenant_id = $1 AND nudge_type = $2
	`
	row := r.db.QueryRowContext(ctx, query, tenantID, string(t))
	cfg, err := scanConfig(row)
	if err == nil {
		return cfg, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("load nudge config: %w", err)
	}

	out := DefaultConfig(tenantID, t)
	legacy, err := r.loadLegacy(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if legacy != nil {
		if legacy.NudgesEnabled != nil {
			out.Enabled = *legacy.NudgesEnabled
		}
		if legacy.NudgeCooldownDays != nil && *legacy.NudgeCooldownDays >= 0 {
			out.CooldownDays = *legacy.NudgeCooldownDays
		}
	}
	return &out, nil
}

// Upsert validates the patch, applies it over the currently effective
// configuration, and persists the result as the per-type row.
func (r *ConfigRepository) Upsert(ctx context.Context, tenantID string, t Type, patch ConfigPatch) (*Config, error) {
	if err := ValidatePatch(t, patch); err != nil {
		return nil, err
	}
	cfg, err := r.Get(ctx, tenantID, t)
	if err != nil {
		return nil, err
	}
	applyPatch(cfg, patch)
	cfg.UpdatedAt = time.Now()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}

	query := `
		INSERT INTO nudge_configs (tenant_id, nudge_type, enabled, cooldown_days, subject, body,
		       warning_days, progress_threshold, inactive_days, min_days_since_trade_in, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, nudge_type) DO UPDATE SET
		       enabled = EXCLUDED.enabled,
		       cooldown_days = EXCLUDED.cooldown_days,
		       subject = EXCLUDED.subject,
		       body = EXCLUDED.body,
		       warning_days = EXCLUDED.warning_days,
		       progress_threshold = EXCLUDED.progress_threshold,
		       inactive_days = EXCLUDED.inactive_days,
		       min_days_since_trade_in = EXCLUDED.min_days_since_trade_in,
		       updated_at = EXCLUDED.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		cfg.TenantID, string(cfg.Type), cfg.Enabled, cfg.CooldownDays, cfg.Subject, cfg.Body,
		pq.Array(cfg.WarningDays), cfg.ProgressThreshold, cfg.InactiveDays, cfg.MinDaysSinceTradeIn,
		cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert nudge config: %w", err)
	}
	return cfg, nil
}

// ListEnabled returns every enabled (tenant, type) configuration for the
// scheduler sweep, legacy-only tenants included.
func (r *ConfigRepository) ListEnabled(ctx context.Context) ([]Config, error) {
	query := `
		SELECT tenant_id, nudge_type, enabled, cooldown_days, subject, body,
		       warning_days, progress_threshold, inactive_days, min_days_since_trade_in,
		       created_at, updated_at
		FROM nudge_configs WHERE enabled = true ORDER BY tenant_id, nudge_type
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list nudge configs: %w", err)
	}
	defer rows.Close()

	var configs []Config
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// TradeInEnabled reports whether the tenant's trade-in feature is switched on
// in the legacy settings blob. Tenants without the flag have no trade-in
// program, so the trade-in evaluator is never run for them.
func (r *ConfigRepository) TradeInEnabled(ctx context.Context, tenantID string) (bool, error) {
	legacy, err := r.loadLegacy(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if legacy == nil || legacy.TradeInEnabled == nil {
		return false, nil
	}
	return *legacy.TradeInEnabled, nil
}

func (r *ConfigRepository) loadLegacy(ctx context.Context, tenantID string) (*legacySettings, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT settings FROM tenant_settings WHERE tenant_id = $1`, tenantID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant settings: %w", err)
	}
	var legacy legacySettings
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("decode tenant settings: %w", err)
	}
	return &legacy, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*Config, error) {
	var cfg Config
	var typ string
	var warningDays pq.Int64Array
	if err := row.Scan(&cfg.TenantID, &typ, &cfg.Enabled, &cfg.CooldownDays, &cfg.Subject, &cfg.Body,
		&warningDays, &cfg.ProgressThreshold, &cfg.InactiveDays, &cfg.MinDaysSinceTradeIn,
		&cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return nil, err
	}
	cfg.Type = Type(typ)
	for _, d := range warningDays {
		cfg.WarningDays = append(cfg.WarningDays, int(d))
	}
	return &cfg, nil
}

func applyPatch(cfg *Config, patch ConfigPatch) {
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}
	if patch.CooldownDays != nil {
		cfg.CooldownDays = *patch.CooldownDays
	}
	if patch.Subject != nil {
		cfg.Subject = *patch.Subject
	}
	if patch.Body != nil {
		cfg.Body = *patch.Body
	}
	if patch.WarningDays != nil {
		cfg.WarningDays = patch.WarningDays
	}
	if patch.ProgressThreshold != nil {
		cfg.ProgressThreshold = *patch.ProgressThreshold
	}
	if patch.InactiveDays != nil {
		cfg.InactiveDays = *patch.InactiveDays
	}
	if patch.MinDaysSinceTradeIn != nil {
		cfg.MinDaysSinceTradeIn = *patch.MinDaysSinceTradeIn
	}
}
