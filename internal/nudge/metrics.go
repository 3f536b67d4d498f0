package nudge

import (
	"context"
	"math"
	"sort"
	"time"
)

// EffectivenessMetrics is the rate/ROI breakdown over a trailing window.
// Every rate is 0.0 when its denominator is zero; never NaN.
type EffectivenessMetrics struct {
	TotalSent       int     `json:"total_sent"`
	Delivered       int     `json:"delivered"`
	Opened          int     `json:"opened"`
	Clicked         int     `json:"clicked"`
	Converted       int     `json:"converted"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ConversionRate  float64 `json:"conversion_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate"`
	TotalRevenue    float64 `json:"total_revenue"`
	AvgOrderValue   float64 `json:"avg_order_value"`
	RevenuePerSend  float64 `json:"revenue_per_send"`
}

// TypeMetrics is the per-type grouping of the same breakdown.
type TypeMetrics struct {
	Type Type `json:"type"`
	EffectivenessMetrics
}

// DailyMetrics buckets counts and revenue by calendar day for trend charts.
type DailyMetrics struct {
	Day       string  `json:"day"`
	Sent      int     `json:"sent"`
	Opened    int     `json:"opened"`
	Clicked   int     `json:"clicked"`
	Converted int     `json:"converted"`
	Revenue   float64 `json:"revenue"`
}

// ROISummary estimates return against a fixed per-message cost.
type ROISummary struct {
	TotalSent         int     `json:"total_sent"`
	Converted         int     `json:"converted"`
	TotalRevenue      float64 `json:"total_revenue"`
	TotalCost         float64 `json:"total_cost"`
	ROIPct            float64 `json:"roi_pct"`
	CostPerConversion float64 `json:"cost_per_conversion"`
}

// Aggregator computes effectiveness analytics over the dispatch history.
type Aggregator struct {
	history HistoryStore
	now     func() time.Time
}

func NewAggregator(history HistoryStore) *Aggregator {
	return &Aggregator{history: history, now: time.Now}
}

// Effectiveness computes the rate breakdown for the tenant over the trailing
// number of days, optionally restricted to one nudge type (empty matches all).
func (a *Aggregator) Effectiveness(ctx context.Context, tenantID string, t Type, days int) (*EffectivenessMetrics, error) {
	records, err := a.window(ctx, tenantID, t, days)
	if err != nil {
		return nil, err
	}
	m := compute(records)
	return &m, nil
}

// ByType groups the breakdown by nudge type, sorted by total sent descending.
func (a *Aggregator) ByType(ctx context.Context, tenantID string, days int) ([]TypeMetrics, error) {
	records, err := a.window(ctx, tenantID, "", days)
	if err != nil {
		return nil, err
	}
	grouped := make(map[Type][]DispatchRecord)
	for _, rec := range records {
		grouped[rec.Type] = append(grouped[rec.Type], rec)
	}

	out := make([]TypeMetrics, 0, len(grouped))
	for typ, recs := range grouped {
		out = append(out, TypeMetrics{Type: typ, EffectivenessMetrics: compute(recs)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalSent != out[j].TotalSent {
			return out[i].TotalSent > out[j].TotalSent
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

// Daily buckets counts and revenue by day, oldest first. Days with no
// dispatches are present with zeros so charts have a continuous axis.
func (a *Aggregator) Daily(ctx context.Context, tenantID string, t Type, days int) ([]DailyMetrics, error) {
	records, err := a.window(ctx, tenantID, t, days)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*DailyMetrics)
	for _, rec := range records {
		day := rec.SentAt.UTC().Format("2006-01-02")
		b, ok := byDay[day]
		if !ok {
			b = &DailyMetrics{Day: day}
			byDay[day] = b
		}
		b.Sent++
		if rec.OpenedAt != nil {
			b.Opened++
		}
		if rec.ClickedAt != nil {
			b.Clicked++
		}
		if rec.ConvertedAt != nil {
			b.Converted++
			b.Revenue = round2(b.Revenue + rec.OrderTotal)
		}
	}

	out := make([]DailyMetrics, 0, days)
	for i := days - 1; i >= 0; i-- {
		day := a.now().UTC().AddDate(0, 0, -i).Format("2006-01-02")
		if b, ok := byDay[day]; ok {
			out = append(out, *b)
		} else {
			out = append(out, DailyMetrics{Day: day})
		}
	}
	return out, nil
}

// ROI estimates cost as totalSent * costPerMessage. A zero cost yields a
// zero ROI percentage rather than a division error.
func (a *Aggregator) ROI(ctx context.Context, tenantID string, days int, costPerMessage float64) (*ROISummary, error) {
	m, err := a.Effectiveness(ctx, tenantID, "", days)
	if err != nil {
		return nil, err
	}
	summary := &ROISummary{
		TotalSent:    m.TotalSent,
		Converted:    m.Converted,
		TotalRevenue: m.TotalRevenue,
		TotalCost:    round2(float64(m.TotalSent) * costPerMessage),
	}
	if summary.TotalCost > 0 {
		summary.ROIPct = round1((summary.TotalRevenue - summary.TotalCost) / summary.TotalCost * 100)
	}
	if summary.Converted > 0 {
		summary.CostPerConversion = round2(summary.TotalCost / float64(summary.Converted))
	}
	return summary, nil
}

func (a *Aggregator) window(ctx context.Context, tenantID string, t Type, days int) ([]DispatchRecord, error) {
	since := a.now().AddDate(0, 0, -days)
	return a.history.ListSince(ctx, tenantID, t, since)
}

func compute(records []DispatchRecord) EffectivenessMetrics {
	var m EffectivenessMetrics
	for _, rec := range records {
		m.TotalSent++
		if rec.Status != StatusFailed {
			m.Delivered++
		}
		if rec.OpenedAt != nil {
			m.Opened++
		}
		if rec.ClickedAt != nil {
			m.Clicked++
		}
		if rec.ConvertedAt != nil {
			m.Converted++
			m.TotalRevenue += rec.OrderTotal
		}
	}
	m.TotalRevenue = round2(m.TotalRevenue)
	m.OpenRate = rate(m.Opened, m.Delivered)
	m.ClickRate = rate(m.Clicked, m.Delivered)
	m.ConversionRate = rate(m.Converted, m.Delivered)
	m.ClickToOpenRate = rate(m.Clicked, m.Opened)
	if m.Converted > 0 {
		m.AvgOrderValue = round2(m.TotalRevenue / float64(m.Converted))
	}
	if m.TotalSent > 0 {
		m.RevenuePerSend = round2(m.TotalRevenue / float64(m.TotalSent))
	}
	return m
}

// rate returns num/den*100 rounded to one decimal, or 0.0 when den is zero.
func rate(num, den int) float64 {
	if den == 0 {
		return 0.0
	}
	return round1(float64(num) / float64(den) * 100)
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
