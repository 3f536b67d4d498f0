package nudge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownGuard answers "was this member recently nudged for this type?" and
// hands out short-lived redis reservations so two overlapping batch runs
// rarely reach the transport for the same member. The history check is
// authoritative; the reservation is a best-effort pre-filter and the storage
// layer's cooldown-bucket uniqueness is the hard backstop.
type CooldownGuard struct {
	history HistoryStore
	rdb     *redis.Client
	logger  *slog.Logger
	now     func() time.Time
}

func NewCooldownGuard(history HistoryStore, rdb *redis.Client, logger *slog.Logger) *CooldownGuard {
	return &CooldownGuard{history: history, rdb: rdb, logger: logger, now: time.Now}
}

// WasRecentlySent is true iff a dispatch for exactly (tenant, member, type)
// has sent_at within the trailing cooldown window.
func (g *CooldownGuard) WasRecentlySent(ctx context.Context, tenantID, memberID string, t Type, cooldownDays int) (bool, error) {
	if cooldownDays <= 0 {
		return false, nil
	}
	last, err := g.history.LastSentAt(ctx, tenantID, memberID, t)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	cutoff := g.now().AddDate(0, 0, -cooldownDays)
	return !last.Before(cutoff), nil
}

// Reserve claims the (tenant, member, type) slot for the duration of the
// cooldown. It returns false when another worker already holds the slot.
// Redis being unavailable degrades to an optimistic true: the recheck plus
// the storage constraint still prevent a duplicate record.
func (g *CooldownGuard) Reserve(ctx context.Context, tenantID, memberID string, t Type, cooldownDays int) (bool, error) {
	if g.rdb == nil || cooldownDays <= 0 {
		return true, nil
	}
	key := reservationKey(tenantID, memberID, t)
	ttl := time.Duration(cooldownDays) * 24 * time.Hour
	ok, err := g.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		g.logger.Warn("cooldown reservation unavailable", "error", err)
		return true, nil
	}
	return ok, nil
}

// Release frees a reservation after a failed send so the next scheduled run
// can retry the member without waiting out the TTL.
func (g *CooldownGuard) Release(ctx context.Context, tenantID, memberID string, t Type) {
	if g.rdb == nil {
		return
	}
	if err := g.rdb.Del(ctx, reservationKey(tenantID, memberID, t)).Err(); err != nil {
		g.logger.Warn("cooldown reservation release failed", "error", err)
	}
}

func reservationKey(tenantID, memberID string, t Type) string {
	return fmt.Sprintf("nudge:cooldown:%s:%s:%s", tenantID, memberID, t)
}
