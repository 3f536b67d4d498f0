package loyalty

import (
	"context"
	"time"
)

// MockReader is a func-field test double for Reader.
type MockReader struct {
	MemberFunc          func(ctx context.Context, tenantID, memberID string) (*Member, error)
	ActiveMembersFunc   func(ctx context.Context, tenantID string) ([]Member, error)
	TiersFunc           func(ctx context.Context, tenantID string) ([]MembershipTier, error)
	ExpiringEntriesFunc func(ctx context.Context, tenantID string, from, to time.Time) ([]PointsLedgerEntry, error)
	LatestTradeInsFunc  func(ctx context.Context, tenantID string) (map[string]time.Time, error)
}

func (m *MockReader) Member(ctx context.Context, tenantID, memberID string) (*Member, error) {
	if m.MemberFunc == nil {
		return nil, ErrMemberNotFound
	}
	return m.MemberFunc(ctx, tenantID, memberID)
}

func (m *MockReader) ActiveMembers(ctx context.Context, tenantID string) ([]Member, error) {
	if m.ActiveMembersFunc == nil {
		return nil, nil
	}
	return m.ActiveMembersFunc(ctx, tenantID)
}

func (m *MockReader) Tiers(ctx context.Context, tenantID string) ([]MembershipTier, error) {
	if m.TiersFunc == nil {
		return nil, nil
	}
	return m.TiersFunc(ctx, tenantID)
}

func (m *MockReader) ExpiringEntries(ctx context.Context, tenantID string, from, to time.Time) ([]PointsLedgerEntry, error) {
	if m.ExpiringEntriesFunc == nil {
		return nil, nil
	}
	return m.ExpiringEntriesFunc(ctx, tenantID, from, to)
}

func (m *MockReader) LatestTradeIns(ctx context.Context, tenantID string) (map[string]time.Time, error) {
	if m.LatestTradeInsFunc == nil {
		return nil, nil
	}
	return m.LatestTradeInsFunc(ctx, tenantID)
}
