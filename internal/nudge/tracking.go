package nudge

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sapliy/loyalty-platform/internal/nudge/infrastructure"
)

// ConversionWindow bounds how long after a dispatch a purchase is still
// attributed to it.
const ConversionWindow = 7 * 24 * time.Hour

// Tracker mutates dispatch lifecycle state from the unauthenticated tracking
// surface. Every path is fail-open: bad or unknown tokens are logged and
// absorbed because the endpoints are embedded in already-delivered messages.
type Tracker struct {
	history HistoryStore
	events  EventPublisher
	logger  *slog.Logger
	now     func() time.Time
}

func NewTracker(history HistoryStore, events EventPublisher, logger *slog.Logger) *Tracker {
	return &Tracker{history: history, events: events, logger: logger, now: time.Now}
}

// RecordOpen sets opened_at if unset. Unknown tokens are silent no-ops.
func (t *Tracker) RecordOpen(ctx context.Context, token string) {
	at := t.now()
	if err := t.history.MarkOpened(ctx, token, at); err != nil {
		t.absorb("open", token, err)
		return
	}
	infrastructure.TrackingEvents.WithLabelValues("open", "recorded").Inc()
	t.emit(ctx, EventNudgeOpened, token, at)
}

// RecordClick sets clicked_at if unset, backfills opened_at, and returns the
// redirect destination. An empty or missing destination falls back to "/".
func (t *Tracker) RecordClick(ctx context.Context, token, destination string) string {
	if destination == "" {
		destination = "/"
	}
	at := t.now()
	if err := t.history.MarkClicked(ctx, token, at); err != nil {
		t.absorb("click", token, err)
		return destination
	}
	infrastructure.TrackingEvents.WithLabelValues("click", "recorded").Inc()
	t.emit(ctx, EventNudgeClicked, token, at)
	return destination
}

// ConversionInput identifies the dispatch to credit, either explicitly by
// token or by member within the trailing attribution window.
type ConversionInput struct {
	Token      string  `json:"tracking_id,omitempty"`
	MemberID   string  `json:"member_id,omitempty"`
	OrderID    string  `json:"order_id,omitempty"`
	OrderTotal float64 `json:"order_total,omitempty"`
}

// ConversionResult reports whether a dispatch was credited. Not finding one
// is a normal outcome: purchases outside the window are expected.
type ConversionResult struct {
	Found  bool            `json:"found"`
	Record *DispatchRecord `json:"record,omitempty"`
}

// RecordConversion stamps converted_at (backfilling opened_at and clicked_at)
// on the matched dispatch and attaches the order reference.
func (t *Tracker) RecordConversion(ctx context.Context, in ConversionInput) (ConversionResult, error) {
	at := t.now()

	var rec *DispatchRecord
	var err error
	if in.Token != "" {
		rec, err = t.history.GetByToken(ctx, in.Token)
	} else if in.MemberID != "" {
		rec, err = t.history.LatestUnconverted(ctx, in.MemberID, at.Add(-ConversionWindow))
	} else {
		return ConversionResult{}, nil
	}
	if errors.Is(err, ErrNotFound) {
		infrastructure.TrackingEvents.WithLabelValues("conversion", "no_match").Inc()
		return ConversionResult{}, nil
	}
	if err != nil {
		return ConversionResult{}, err
	}

	if err := t.history.MarkConverted(ctx, rec.ID, at, in.OrderID, in.OrderTotal); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Already converted; credited once, never twice.
			return ConversionResult{}, nil
		}
		return ConversionResult{}, err
	}

	rec.ConvertedAt = &at
	if rec.ClickedAt == nil {
		rec.ClickedAt = &at
	}
	if rec.OpenedAt == nil {
		rec.OpenedAt = &at
	}
	rec.OrderID = in.OrderID
	rec.OrderTotal = in.OrderTotal
	rec.Status = StatusConverted

	infrastructure.TrackingEvents.WithLabelValues("conversion", "recorded").Inc()
	publishEvent(ctx, t.events, t.logger, newEvent(EventNudgeConverted, rec, at))
	t.logger.Info("conversion attributed",
		"tenant_id", rec.TenantID, "member_id", rec.MemberID, "dispatch_id", rec.ID, "order_total", in.OrderTotal)
	return ConversionResult{Found: true, Record: rec}, nil
}

func (t *Tracker) absorb(kind, token string, err error) {
	if errors.Is(err, ErrNotFound) {
		infrastructure.TrackingEvents.WithLabelValues(kind, "unknown_token").Inc()
		t.logger.Debug("tracking event for unknown token", "kind", kind, "token", token)
		return
	}
	infrastructure.TrackingEvents.WithLabelValues(kind, "error").Inc()
	t.logger.Warn("tracking event failed", "kind", kind, "error", err)
}

func (t *Tracker) emit(ctx context.Context, evtType EventType, token string, at time.Time) {
	if t.events == nil {
		return
	}
	rec, err := t.history.GetByToken(ctx, token)
	if err != nil {
		return
	}
	publishEvent(ctx, t.events, t.logger, newEvent(evtType, rec, at))
}
