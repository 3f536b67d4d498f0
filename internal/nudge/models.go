package nudge

import (
	"errors"
	"fmt"
	"time"
)

// Type identifies an automated reminder category.
type Type string

const (
	PointsExpiring   Type = "points_expiring"
	TierProgress     Type = "tier_progress"
	InactiveReminder Type = "inactive_reminder"
	TradeInReminder  Type = "trade_in_reminder"
)

// AllTypes lists every supported nudge type in scheduling order.
var AllTypes = []Type{PointsExpiring, TierProgress, InactiveReminder, TradeInReminder}

// Valid reports whether t is a known nudge type.
func (t Type) Valid() bool {
	switch t {
	case PointsExpiring, TierProgress, InactiveReminder, TradeInReminder:
		return true
	}
	return false
}

// Status tracks the delivery lifecycle of a dispatch. Transitions only move
// forward: sent -> delivered -> opened -> clicked -> converted, with failed as
// a terminal state for transport-level bounces reported after the fact.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusOpened    Status = "opened"
	StatusClicked   Status = "clicked"
	StatusConverted Status = "converted"
)

// Config holds the per-tenant, per-type nudge settings. Exactly one config
// exists per (tenant, type); configs are disabled, never deleted.
type Config struct {
	TenantID     string `json:"tenant_id"`
	Type         Type   `json:"type"`
	Enabled      bool   `json:"enabled"`
	CooldownDays int    `json:"cooldown_days"`
	Subject      string `json:"subject,omitempty"`
	Body         string `json:"body,omitempty"`

	// Type-specific options. Only the fields relevant to Type are honored.
	WarningDays         []int   `json:"warning_days,omitempty"`            // points_expiring, descending
	ProgressThreshold   float64 `json:"progress_threshold,omitempty"`      // tier_progress, in [0,1]
	InactiveDays        int     `json:"inactive_days,omitempty"`           // inactive_reminder
	MinDaysSinceTradeIn int     `json:"min_days_since_trade_in,omitempty"` // trade_in_reminder

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConfigPatch carries a partial admin update. Nil fields are left untouched.
type ConfigPatch struct {
	Enabled             *bool    `json:"enabled,omitempty"`
	CooldownDays        *int     `json:"cooldown_days,omitempty"`
	Subject             *string  `json:"subject,omitempty"`
	Body                *string  `json:"body,omitempty"`
	WarningDays         []int    `json:"warning_days,omitempty"`
	ProgressThreshold   *float64 `json:"progress_threshold,omitempty"`
	InactiveDays        *int     `json:"inactive_days,omitempty"`
	MinDaysSinceTradeIn *int     `json:"min_days_since_trade_in,omitempty"`
}

// DispatchRecord is the append-only history entry written for every
// successful send. Lifecycle timestamps are set at most once and never
// regressed.
type DispatchRecord struct {
	ID            string            `json:"id"`
	TenantID      string            `json:"tenant_id"`
	MemberID      string            `json:"member_id"`
	Type          Type              `json:"type"`
	Context       map[string]string `json:"context,omitempty"`
	SentAt        time.Time         `json:"sent_at"`
	Status        Status            `json:"status"`
	OpenedAt      *time.Time        `json:"opened_at,omitempty"`
	ClickedAt     *time.Time        `json:"clicked_at,omitempty"`
	ConvertedAt   *time.Time        `json:"converted_at,omitempty"`
	OrderID       string            `json:"order_id,omitempty"`
	OrderTotal    float64           `json:"order_total,omitempty"`
	TrackingToken string            `json:"tracking_token"`
}

// BatchResult accumulates the outcome of one Process invocation.
type BatchResult struct {
	TenantID string   `json:"tenant_id"`
	Type     Type     `json:"type"`
	Sent     int      `json:"sent"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("nudge: not found")
	// ErrDuplicateDispatch is returned by the history store when an insert
	// collides with the per-cooldown-bucket uniqueness constraint.
	ErrDuplicateDispatch = errors.New("nudge: duplicate dispatch in cooldown bucket")
	// ErrTransport is wrapped around failures from the delivery collaborator.
	ErrTransport = errors.New("nudge: transport failure")
)

// ValidationError rejects a bad admin config write. The value is reported
// back verbatim; nothing is clamped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
