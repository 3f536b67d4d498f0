package nudge

import (
	"testing"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool        { return &b }
func strPtr(s string) *string     { return &s }

func TestDefaultConfig(t *testing.T) {
	tests := []struct {
		typ          Type
		cooldownDays int
	}{
		{PointsExpiring, 7},
		{TierProgress, 14},
		{InactiveReminder, 30},
		{TradeInReminder, 21},
	}
	for _, tt := range tests {
		cfg := DefaultConfig("t1", tt.typ)
		if cfg.CooldownDays != tt.cooldownDays {
			t.Errorf("%s: cooldown = %d, want %d", tt.typ, cfg.CooldownDays, tt.cooldownDays)
		}
		if !cfg.Enabled {
			t.Errorf("%s: defaults should be enabled", tt.typ)
		}
	}

	pe := DefaultConfig("t1", PointsExpiring)
	if len(pe.WarningDays) != 3 || pe.WarningDays[0] != 30 || pe.WarningDays[2] != 1 {
		t.Errorf("points expiring warning days = %v, want [30 7 1]", pe.WarningDays)
	}
	if tp := DefaultConfig("t1", TierProgress); tp.ProgressThreshold != 0.8 {
		t.Errorf("tier progress threshold = %v, want 0.8", tp.ProgressThreshold)
	}
}

func TestValidatePatch(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		patch   ConfigPatch
		wantErr bool
	}{
		{"Valid Cooldown", PointsExpiring, ConfigPatch{CooldownDays: intPtr(10)}, false},
		{"Zero Cooldown Allowed", PointsExpiring, ConfigPatch{CooldownDays: intPtr(0)}, false},
		{"Negative Cooldown", PointsExpiring, ConfigPatch{CooldownDays: intPtr(-1)}, true},
		{"Unknown Type", Type("spam_blast"), ConfigPatch{}, true},
		{"Percent Above One", TierProgress, ConfigPatch{ProgressThreshold: floatPtr(1.5)}, true},
		{"Percent Below Zero", TierProgress, ConfigPatch{ProgressThreshold: floatPtr(-0.1)}, true},
		{"Percent Boundary Zero", TierProgress, ConfigPatch{ProgressThreshold: floatPtr(0)}, false},
		{"Percent Boundary One", TierProgress, ConfigPatch{ProgressThreshold: floatPtr(1)}, false},
		{"Zero Inactive Days", InactiveReminder, ConfigPatch{InactiveDays: intPtr(0)}, true},
		{"Negative Trade-In Days", TradeInReminder, ConfigPatch{MinDaysSinceTradeIn: intPtr(-5)}, true},
		{"Non-Positive Warning Day", PointsExpiring, ConfigPatch{WarningDays: []int{30, 0}}, true},
		{"Valid Warning Days", PointsExpiring, ConfigPatch{WarningDays: []int{60, 14, 3}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePatch(tt.typ, tt.patch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePatch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestApplyPatchNeverClamps(t *testing.T) {
	cfg := DefaultConfig("t1", TierProgress)
	patch := ConfigPatch{
		Enabled:           boolPtr(false),
		ProgressThreshold: floatPtr(0.95),
		Subject:           strPtr("Almost there"),
	}
	applyPatch(&cfg, patch)

	if cfg.Enabled {
		t.Error("enabled not applied")
	}
	if cfg.ProgressThreshold != 0.95 {
		t.Errorf("threshold = %v, want 0.95", cfg.ProgressThreshold)
	}
	if cfg.Subject != "Almost there" {
		t.Errorf("subject = %q", cfg.Subject)
	}
	// Untouched fields keep their previous values.
	if cfg.CooldownDays != 14 {
		t.Errorf("cooldown changed unexpectedly to %d", cfg.CooldownDays)
	}
}
