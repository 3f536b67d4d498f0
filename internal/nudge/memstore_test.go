package nudge

import (
	"context"
	"sync"
	"time"
)

// memHistory is a map-backed HistoryStore mirroring the postgres semantics,
// cooldown-bucket uniqueness included.
type memHistory struct {
	mu      sync.Mutex
	byID    map[string]*DispatchRecord
	byToken map[string]string
	buckets map[string]bool
}

func newMemHistory() *memHistory {
	return &memHistory{
		byID:    make(map[string]*DispatchRecord),
		byToken: make(map[string]string),
		buckets: make(map[string]bool),
	}
}

func (m *memHistory) Insert(_ context.Context, rec *DispatchRecord, cooldownDays int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rec.TenantID + "|" + rec.MemberID + "|" + string(rec.Type) + "|" + CooldownBucket(rec.ID, rec.SentAt, cooldownDays)
	if m.buckets[key] {
		return ErrDuplicateDispatch
	}
	m.buckets[key] = true
	cp := *rec
	m.byID[rec.ID] = &cp
	m.byToken[rec.TrackingToken] = rec.ID
	return nil
}

func (m *memHistory) LastSentAt(_ context.Context, tenantID, memberID string, t Type) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, rec := range m.byID {
		if rec.TenantID == tenantID && rec.MemberID == memberID && rec.Type == t {
			if last == nil || rec.SentAt.After(*last) {
				sentAt := rec.SentAt
				last = &sentAt
			}
		}
	}
	return last, nil
}

func (m *memHistory) GetByToken(_ context.Context, token string) (*DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memHistory) MarkOpened(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return ErrNotFound
	}
	rec := m.byID[id]
	if rec.OpenedAt == nil {
		rec.OpenedAt = &at
	}
	if rec.Status == StatusSent || rec.Status == StatusDelivered {
		rec.Status = StatusOpened
	}
	return nil
}

func (m *memHistory) MarkClicked(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byToken[token]
	if !ok {
		return ErrNotFound
	}
	rec := m.byID[id]
	if rec.ClickedAt == nil {
		rec.ClickedAt = &at
	}
	if rec.OpenedAt == nil {
		rec.OpenedAt = &at
	}
	if rec.Status == StatusSent || rec.Status == StatusDelivered || rec.Status == StatusOpened {
		rec.Status = StatusClicked
	}
	return nil
}

func (m *memHistory) MarkConverted(_ context.Context, id string, at time.Time, orderID string, orderTotal float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || rec.ConvertedAt != nil {
		return ErrNotFound
	}
	rec.ConvertedAt = &at
	if rec.ClickedAt == nil {
		rec.ClickedAt = &at
	}
	if rec.OpenedAt == nil {
		rec.OpenedAt = &at
	}
	rec.OrderID = orderID
	rec.OrderTotal = orderTotal
	rec.Status = StatusConverted
	return nil
}

func (m *memHistory) LatestUnconverted(_ context.Context, memberID string, since time.Time) (*DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *DispatchRecord
	for _, rec := range m.byID {
		if rec.MemberID != memberID || rec.ConvertedAt != nil || rec.SentAt.Before(since) {
			continue
		}
		if best == nil || rec.SentAt.After(best.SentAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memHistory) ListSince(_ context.Context, tenantID string, t Type, since time.Time) ([]DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DispatchRecord
	for _, rec := range m.byID {
		if rec.TenantID != tenantID || rec.SentAt.Before(since) {
			continue
		}
		if t != "" && rec.Type != t {
			continue
		}
		out = append(out, *rec)
	}
	return out, nil
}

// memConfigs is a map-backed ConfigStore with default fallback.
type memConfigs struct {
	mu      sync.Mutex
	configs map[string]*Config
	tradeIn map[string]bool
}

func newMemConfigs() *memConfigs {
	return &memConfigs{configs: make(map[string]*Config), tradeIn: make(map[string]bool)}
}

func (m *memConfigs) put(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.TenantID+"|"+string(cfg.Type)] = &cfg
}

func (m *memConfigs) Get(_ context.Context, tenantID string, t Type) (*Config, error) {
	if !t.Valid() {
		return nil, &ValidationError{Field: "type", Reason: "unknown nudge type"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[tenantID+"|"+string(t)]; ok {
		cp := *cfg
		return &cp, nil
	}
	cfg := DefaultConfig(tenantID, t)
	return &cfg, nil
}

func (m *memConfigs) Upsert(ctx context.Context, tenantID string, t Type, patch ConfigPatch) (*Config, error) {
	if err := ValidatePatch(t, patch); err != nil {
		return nil, err
	}
	cfg, err := m.Get(ctx, tenantID, t)
	if err != nil {
		return nil, err
	}
	applyPatch(cfg, patch)
	m.put(*cfg)
	return cfg, nil
}

func (m *memConfigs) ListEnabled(_ context.Context) ([]Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Config
	for _, cfg := range m.configs {
		if cfg.Enabled {
			out = append(out, *cfg)
		}
	}
	return out, nil
}

func (m *memConfigs) TradeInEnabled(_ context.Context, tenantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tradeIn[tenantID], nil
}

// mockTransport records sends and fails on demand.
type mockTransport struct {
	mu    sync.Mutex
	sends []mockSend
	fail  bool
}

type mockSend struct {
	Destination string
	Subject     string
	Body        string
}

func (m *mockTransport) Channel() string { return "email" }

func (m *mockTransport) Send(_ context.Context, destination, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return context.DeadlineExceeded
	}
	m.sends = append(m.sends, mockSend{Destination: destination, Subject: subject, Body: body})
	return nil
}

func (m *mockTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}

// mockPublisher captures engagement events.
type mockPublisher struct {
	mu       sync.Mutex
	messages [][]byte
}

func (m *mockPublisher) Publish(_ context.Context, _ string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, value)
	return nil
}
