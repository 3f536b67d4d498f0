package nudge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// EventType labels the engagement stream entries published to Kafka for the
// downstream analytics pipeline.
type EventType string

const (
	EventNudgeSent      EventType = "nudge.sent"
	EventNudgeOpened    EventType = "nudge.opened"
	EventNudgeClicked   EventType = "nudge.clicked"
	EventNudgeConverted EventType = "nudge.converted"
)

// Event is the stream envelope.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	TenantID  string          `json:"tenant_id"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// DispatchEventData is the payload for every engagement event kind.
type DispatchEventData struct {
	DispatchID string  `json:"dispatch_id"`
	MemberID   string  `json:"member_id"`
	NudgeType  Type    `json:"nudge_type"`
	OrderID    string  `json:"order_id,omitempty"`
	OrderTotal float64 `json:"order_total,omitempty"`
}

// EventPublisher matches the kafka producer in pkg/messaging. Events are
// best effort; a publish failure never fails the operation that raised it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// publishEvent serializes and ships one engagement event, absorbing errors.
func publishEvent(ctx context.Context, pub EventPublisher, logger *slog.Logger, evt Event) {
	if pub == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.Warn("encode engagement event", "error", err)
		return
	}
	if err := pub.Publish(ctx, evt.TenantID, payload); err != nil {
		logger.Warn("publish engagement event", "type", evt.Type, "error", err)
	}
}

func newEvent(t EventType, rec *DispatchRecord, at time.Time) Event {
	data, _ := json.Marshal(DispatchEventData{
		DispatchID: rec.ID,
		MemberID:   rec.MemberID,
		NudgeType:  rec.Type,
		OrderID:    rec.OrderID,
		OrderTotal: rec.OrderTotal,
	})
	return Event{
		ID:        rec.ID + ":" + string(t),
		Type:      t,
		TenantID:  rec.TenantID,
		Timestamp: at,
		Data:      data,
	}
}
