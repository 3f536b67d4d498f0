package nudge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sapliy/loyalty-platform/internal/loyalty"
	"github.com/sapliy/loyalty-platform/internal/nudge/infrastructure"
)

// Dispatcher renders the effective template, calls the transport, and writes
// the history entry. The record exists only when the transport reported
// success, so a failed or timed-out send never blocks a later retry behind a
// false cooldown.
type Dispatcher struct {
	history   HistoryStore
	transport Transport
	events    EventPublisher
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

func NewDispatcher(history HistoryStore, transport Transport, events EventPublisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		history:   history,
		transport: transport,
		events:    events,
		logger:    logger,
		timeout:   15 * time.Second,
		now:       time.Now,
	}
}

// Send dispatches one nudge to the member and returns the persisted record.
// ErrDuplicateDispatch surfaces when the storage constraint caught a
// concurrent duplicate; callers treat it as a cooldown skip.
func (d *Dispatcher) Send(ctx context.Context, member loyalty.Member, cfg *Config, templateCtx map[string]string) (*DispatchRecord, error) {
	token := uuid.New().String()

	renderCtx := make(map[string]string, len(templateCtx)+1)
	for k, v := range templateCtx {
		renderCtx[k] = v
	}
	renderCtx["tracking_token"] = token

	subjectTmpl, bodyTmpl := ResolveTemplate(cfg)
	subject := Render(subjectTmpl, renderCtx)
	body := Render(bodyTmpl, renderCtx)

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.transport.Send(sendCtx, member.Email, subject, body); err != nil {
		infrastructure.NudgesSent.WithLabelValues(string(cfg.Type), "transport_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	rec := &DispatchRecord{
		ID:            uuid.New().String(),
		TenantID:      cfg.TenantID,
		MemberID:      member.ID,
		Type:          cfg.Type,
		Context:       templateCtx,
		SentAt:        d.now(),
		Status:        StatusSent,
		TrackingToken: token,
	}
	if err := d.history.Insert(ctx, rec, cfg.CooldownDays); err != nil {
		if err == ErrDuplicateDispatch {
			infrastructure.NudgesSent.WithLabelValues(string(cfg.Type), "duplicate").Inc()
			return nil, err
		}
		// The message left the building but the record failed; this is the
		// one state we cannot roll back, so it is logged loudly.
		d.logger.Error("dispatch record write failed after successful send",
			"tenant_id", cfg.TenantID, "member_id", member.ID, "type", cfg.Type, "error", err)
		return nil, err
	}

	infrastructure.NudgesSent.WithLabelValues(string(cfg.Type), "sent").Inc()
	publishEvent(ctx, d.events, d.logger, newEvent(EventNudgeSent, rec, rec.SentAt))
	d.logger.Info("nudge dispatched",
		"tenant_id", cfg.TenantID, "member_id", member.ID, "type", cfg.Type, "token", token)
	return rec, nil
}
