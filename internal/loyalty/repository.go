package loyalty

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Reader is the read-only surface the nudge engine needs. Implementations
// must never mutate the underlying records.
type Reader interface {
	Member(ctx context.Context, tenantID, memberID string) (*Member, error)
	ActiveMembers(ctx context.Context, tenantID string) ([]Member, error)
	Tiers(ctx context.Context, tenantID string) ([]MembershipTier, error)
	ExpiringEntries(ctx context.Context, tenantID string, from, to time.Time) ([]PointsLedgerEntry, error)
	LatestTradeIns(ctx context.Context, tenantID string) (map[string]time.Time, error)
}

// Repository reads the loyalty tables directly over database/sql.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Member(ctx context.Context, tenantID, memberID string) (*Member, error) {
	var m Member
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, name, status, tier_id, points_balance, lifetime_points, last_activity_at
		FROM members WHERE tenant_id = $1 AND id = $2
	`, tenantID, memberID).Scan(&m.ID, &m.TenantID, &m.Email, &m.Name, &status, &m.TierID,
		&m.PointsBalance, &m.LifetimePoints, &m.LastActivityAt)
	if err == sql.ErrNoRows {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query member: %w", err)
	}
	m.Status = MemberStatus(status)
	return &m, nil
}

func (r *Repository) ActiveMembers(ctx context.Context, tenantID string) ([]Member, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, email, name, status, tier_id, points_balance, lifetime_points, last_activity_at
		FROM members WHERE tenant_id = $1 AND status = 'active'
		ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var status string
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Email, &m.Name, &status, &m.TierID,
			&m.PointsBalance, &m.LifetimePoints, &m.LastActivityAt); err != nil {
			return nil, err
		}
		m.Status = MemberStatus(status)
		members = append(members, m)
	}
	return members, rows.Err()
}

// Tiers returns the tenant's tier ladder in ascending threshold order.
func (r *Repository) Tiers(ctx context.Context, tenantID string) ([]MembershipTier, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, point_threshold
		FROM membership_tiers WHERE tenant_id = $1
		ORDER BY point_threshold ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query tiers: %w", err)
	}
	defer rows.Close()

	var tiers []MembershipTier
	for rows.Next() {
		var t MembershipTier
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.PointThreshold); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

// ExpiringEntries returns unexpired ledger entries with remaining points and
// an expiry inside (from, to].
func (r *Repository) ExpiringEntries(ctx context.Context, tenantID string, from, to time.Time) ([]PointsLedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, member_id, remaining, expires_at, expired
		FROM points_ledger
		WHERE tenant_id = $1 AND expired = false AND remaining > 0
		  AND expires_at > $2 AND expires_at <= $3
		ORDER BY expires_at ASC
	`, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query expiring entries: %w", err)
	}
	defer rows.Close()

	var entries []PointsLedgerEntry
	for rows.Next() {
		var e PointsLedgerEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.MemberID, &e.Remaining, &e.ExpiresAt, &e.Expired); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LatestTradeIns maps member id to the date of their most recent completed
// trade-in. Members with no trade-ins are absent from the map.
func (r *Repository) LatestTradeIns(ctx context.Context, tenantID string) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT member_id, MAX(trade_in_date)
		FROM trade_ins
		WHERE tenant_id = $1 AND status = 'completed'
		GROUP BY member_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query trade-ins: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]time.Time)
	for rows.Next() {
		var memberID string
		var date time.Time
		if err := rows.Scan(&memberID, &date); err != nil {
			return nil, err
		}
		latest[memberID] = date
	}
	return latest, rows.Err()
}
