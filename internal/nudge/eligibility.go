package nudge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/sapliy/loyalty-platform/internal/loyalty"
)

// Candidate pairs a member with the rendered-template context captured at
// evaluation time. The context is snapshotted onto the dispatch record.
type Candidate struct {
	Member  loyalty.Member
	Context map[string]string
}

// Evaluator computes the ordered candidate set for one nudge type. A single
// member's evaluation fault drops that member, never the batch.
type Evaluator interface {
	Type() Type
	Evaluate(ctx context.Context, tenantID string, cfg *Config) ([]Candidate, error)
}

// OpportunityEstimator produces the best-effort "missed opportunity" figure
// attached to inactivity reminders. The constants behind it are heuristic, so
// the strategy is pluggable and can be swapped for real historical averages.
type OpportunityEstimator interface {
	EstimateMissedRevenue(m loyalty.Member, daysInactive int) float64
}

// FlatRateEstimator assumes a flat visit cadence and average ticket.
type FlatRateEstimator struct {
	VisitsPerMonth float64
	AvgTicket      float64
}

func (e FlatRateEstimator) EstimateMissedRevenue(_ loyalty.Member, daysInactive int) float64 {
	months := float64(daysInactive) / 30.0
	return months * e.VisitsPerMonth * e.AvgTicket
}

// PointsExpiringEvaluator selects members holding unexpired points that
// expire within the widest configured warning window, most urgent first.
type PointsExpiringEvaluator struct {
	Reader loyalty.Reader
	Now    func() time.Time
}

func (e *PointsExpiringEvaluator) Type() Type { return PointsExpiring }

func (e *PointsExpiringEvaluator) Evaluate(ctx context.Context, tenantID string, cfg *Config) ([]Candidate, error) {
	now := e.now()
	daysAhead := 30
	if len(cfg.WarningDays) > 0 {
		daysAhead = cfg.WarningDays[0]
	}

	entries, err := e.Reader.ExpiringEntries(ctx, tenantID, now, now.AddDate(0, 0, daysAhead))
	if err != nil {
		return nil, fmt.Errorf("points expiring candidates: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	type agg struct {
		total    int
		earliest time.Time
	}
	byMember := make(map[string]*agg)
	for _, entry := range entries {
		a, ok := byMember[entry.MemberID]
		if !ok {
			byMember[entry.MemberID] = &agg{total: entry.Remaining, earliest: entry.ExpiresAt}
			continue
		}
		a.total += entry.Remaining
		if entry.ExpiresAt.Before(a.earliest) {
			a.earliest = entry.ExpiresAt
		}
	}

	members, err := e.Reader.ActiveMembers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("points expiring candidates: %w", err)
	}

	var candidates []Candidate
	for _, m := range members {
		a, ok := byMember[m.ID]
		if !ok {
			continue
		}
		days := daysUntil(now, a.earliest)
		candidates = append(candidates, Candidate{
			Member: m,
			Context: map[string]string{
				"member_name":       m.Name,
				"expiring_points":   strconv.Itoa(a.total),
				"days_until_expiry": strconv.Itoa(days),
				"expires_at":        a.earliest.Format("2006-01-02"),
			},
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return mustInt(candidates[i].Context["days_until_expiry"]) < mustInt(candidates[j].Context["days_until_expiry"])
	})
	return candidates, nil
}

func (e *PointsExpiringEvaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// TierProgressEvaluator nudges members close to the next tier. Top-tier
// members are excluded, as are ladder rungs with a zero-width point range.
type TierProgressEvaluator struct {
	Reader loyalty.Reader
	Logger *slog.Logger
}

func (e *TierProgressEvaluator) Type() Type { return TierProgress }

func (e *TierProgressEvaluator) Evaluate(ctx context.Context, tenantID string, cfg *Config) ([]Candidate, error) {
	tiers, err := e.Reader.Tiers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tier progress candidates: %w", err)
	}
	if len(tiers) < 2 {
		return nil, nil
	}
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].PointThreshold < tiers[j].PointThreshold })

	ladderIndex := make(map[string]int, len(tiers))
	for i, t := range tiers {
		ladderIndex[t.ID] = i
	}

	members, err := e.Reader.ActiveMembers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("tier progress candidates: %w", err)
	}

	type scored struct {
		c        Candidate
		progress float64
	}
	var picked []scored
	for _, m := range members {
		idx, ok := ladderIndex[m.TierID]
		if !ok {
			if e.Logger != nil {
				e.Logger.Warn("member tier not on ladder, skipping", "member_id", m.ID, "tier_id", m.TierID)
			}
			continue
		}
		if idx == len(tiers)-1 {
			continue // already at the top
		}
		current, next := tiers[idx], tiers[idx+1]
		span := next.PointThreshold - current.PointThreshold
		if span == 0 {
			continue
		}
		progress := float64(m.LifetimePoints-current.PointThreshold) / float64(span)
		if progress < 0 {
			progress = 0
		} else if progress > 1 {
			progress = 1
		}
		if progress < cfg.ProgressThreshold || progress >= 1.0 {
			continue
		}
		pointsNeeded := next.PointThreshold - m.LifetimePoints
		picked = append(picked, scored{
			progress: progress,
			c: Candidate{
				Member: m,
				Context: map[string]string{
					"member_name":      m.Name,
					"current_tier":     current.Name,
					"next_tier":        next.Name,
					"progress_percent": strconv.Itoa(int(progress * 100)),
					"points_needed":    strconv.Itoa(pointsNeeded),
				},
			},
		})
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].progress > picked[j].progress })

	candidates := make([]Candidate, 0, len(picked))
	for _, s := range picked {
		candidates = append(candidates, s.c)
	}
	return candidates, nil
}

// InactiveReminderEvaluator re-engages members whose last activity predates
// the configured inactivity window, longest-absent first.
type InactiveReminderEvaluator struct {
	Reader    loyalty.Reader
	Estimator OpportunityEstimator
	Now       func() time.Time
}

func (e *InactiveReminderEvaluator) Type() Type { return InactiveReminder }

func (e *InactiveReminderEvaluator) Evaluate(ctx context.Context, tenantID string, cfg *Config) ([]Candidate, error) {
	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	cutoff := now.AddDate(0, 0, -cfg.InactiveDays)

	members, err := e.Reader.ActiveMembers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("inactive candidates: %w", err)
	}

	type scored struct {
		c    Candidate
		days int
	}
	var picked []scored
	for _, m := range members {
		if !m.LastActivityAt.Before(cutoff) {
			continue
		}
		days := daysUntil(m.LastActivityAt, now)
		c := Candidate{
			Member: m,
			Context: map[string]string{
				"member_name":    m.Name,
				"days_inactive":  strconv.Itoa(days),
				"points_balance": strconv.Itoa(m.PointsBalance),
			},
		}
		if e.Estimator != nil {
			missed := e.Estimator.EstimateMissedRevenue(m, days)
			c.Context["missed_opportunity"] = strconv.FormatFloat(missed, 'f', 2, 64)
			c.Context["has_estimate"] = "true"
		}
		picked = append(picked, scored{c: c, days: days})
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].days > picked[j].days })

	candidates := make([]Candidate, 0, len(picked))
	for _, s := range picked {
		candidates = append(candidates, s.c)
	}
	return candidates, nil
}

// FeatureChecker gates tenant-level features; the config store implements it
// from the legacy settings blob.
type FeatureChecker interface {
	TradeInEnabled(ctx context.Context, tenantID string) (bool, error)
}

// TradeInReminderEvaluator reminds members whose most recent trade-in is
// older than the configured threshold. It yields nothing for tenants with
// the trade-in feature off.
type TradeInReminderEvaluator struct {
	Reader   loyalty.Reader
	Features FeatureChecker
	Now      func() time.Time
}

func (e *TradeInReminderEvaluator) Type() Type { return TradeInReminder }

func (e *TradeInReminderEvaluator) Evaluate(ctx context.Context, tenantID string, cfg *Config) ([]Candidate, error) {
	enabled, err := e.Features.TradeInEnabled(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("trade-in candidates: %w", err)
	}
	if !enabled {
		return nil, nil
	}

	now := time.Now()
	if e.Now != nil {
		now = e.Now()
	}
	cutoff := now.AddDate(0, 0, -cfg.MinDaysSinceTradeIn)

	latest, err := e.Reader.LatestTradeIns(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("trade-in candidates: %w", err)
	}
	members, err := e.Reader.ActiveMembers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("trade-in candidates: %w", err)
	}

	type scored struct {
		c    Candidate
		days int
	}
	var picked []scored
	for _, m := range members {
		last, ok := latest[m.ID]
		if !ok || !last.Before(cutoff) {
			continue
		}
		days := daysUntil(last, now)
		picked = append(picked, scored{
			days: days,
			c: Candidate{
				Member: m,
				Context: map[string]string{
					"member_name":         m.Name,
					"days_since_trade_in": strconv.Itoa(days),
					"last_trade_in_date":  last.Format("2006-01-02"),
				},
			},
		})
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].days > picked[j].days })

	candidates := make([]Candidate, 0, len(picked))
	for _, s := range picked {
		candidates = append(candidates, s.c)
	}
	return candidates, nil
}

func daysUntil(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func mustInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
