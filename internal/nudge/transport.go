package nudge

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/resend/resend-go/v2"
)

// Transport delivers a rendered nudge. Implementations must respect ctx
// cancellation; the dispatcher bounds every call with a timeout.
type Transport interface {
	Send(ctx context.Context, destination, subject, body string) error
	Channel() string
}

// TransportRegistry holds the configured delivery channels.
type TransportRegistry struct {
	transports map[string]Transport
}

func NewTransportRegistry() *TransportRegistry {
	return &TransportRegistry{transports: make(map[string]Transport)}
}

func (r *TransportRegistry) Register(t Transport) {
	r.transports[t.Channel()] = t
}

func (r *TransportRegistry) Get(channel string) (Transport, error) {
	t, ok := r.transports[channel]
	if !ok {
		return nil, fmt.Errorf("no transport registered for channel: %s", channel)
	}
	return t, nil
}

// ResendTransport sends email via Resend.
type ResendTransport struct {
	client    *resend.Client
	fromEmail string
}

func NewResendTransport(apiKey string) *ResendTransport {
	if apiKey == "" {
		apiKey = os.Getenv("RESEND_API_KEY")
	}
	from := os.Getenv("FROM_EMAIL")
	if from == "" {
		from = "rewards@example.com"
	}
	return &ResendTransport{
		client:    resend.NewClient(apiKey),
		fromEmail: from,
	}
}

func (t *ResendTransport) Channel() string { return "email" }

func (t *ResendTransport) Send(ctx context.Context, destination, subject, body string) error {
	params := &resend.SendEmailRequest{
		From:    t.fromEmail,
		To:      []string{destination},
		Subject: subject,
		Text:    body,
	}
	if _, err := t.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

// NoopTransport logs instead of delivering. Used in development and as the
// fallback when no provider key is configured.
type NoopTransport struct {
	Logger *slog.Logger
}

func (t *NoopTransport) Channel() string { return "email" }

func (t *NoopTransport) Send(_ context.Context, destination, subject, body string) error {
	if t.Logger != nil {
		t.Logger.Info("nudge delivery skipped (noop transport)",
			"destination", destination, "subject", subject, "bytes", len(body))
	}
	return nil
}
