// Package loyalty exposes read-only views over the member, tier, points
// ledger and trade-in records owned by the rest of the back office. The
// nudge engine consumes these shapes and never writes them.
package loyalty

import (
	"errors"
	"time"
)

// ErrMemberNotFound is returned by lookups for an unknown member id.
var ErrMemberNotFound = errors.New("member not found")

type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
	MemberClosed    MemberStatus = "closed"
)

type Member struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	Email          string       `json:"email"`
	Name           string       `json:"name"`
	Status         MemberStatus `json:"status"`
	TierID         string       `json:"tier_id"`
	PointsBalance  int          `json:"points_balance"`
	LifetimePoints int          `json:"lifetime_points"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

// MembershipTier is one rung of a tenant's tier ladder. Ladder order is
// ascending point threshold.
type MembershipTier struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	Name           string `json:"name"`
	PointThreshold int    `json:"point_threshold"`
}

type PointsLedgerEntry struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	MemberID  string    `json:"member_id"`
	Remaining int       `json:"remaining"`
	ExpiresAt time.Time `json:"expires_at"`
	Expired   bool      `json:"expired"`
}

type TradeInRecord struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenant_id"`
	MemberID string    `json:"member_id"`
	Date     time.Time `json:"date"`
	Status   string    `json:"status"`
}
