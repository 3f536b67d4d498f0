package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitConfig holds connection settings for the RabbitMQ client.
type RabbitConfig struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HeartbeatTimeout  time.Duration
}

// RabbitMQClient wraps one connection and channel with automatic
// reconnection. Publishes during a reconnect window fail fast; callers are
// expected to treat the queue as best effort.
type RabbitMQClient struct {
	config RabbitConfig
	logger *slog.Logger

	mu              sync.RWMutex
	conn            *amqp.Connection
	ch              *amqp.Channel
	notifyConnClose chan *amqp.Error
	closed          bool
}

func NewRabbitMQClient(config RabbitConfig, logger *slog.Logger) (*RabbitMQClient, error) {
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxReconnectDelay == 0 {
		config.MaxReconnectDelay = time.Minute
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 10 * time.Second
	}

	client := &RabbitMQClient{config: config, logger: logger}
	if err := client.connect(); err != nil {
		return nil, err
	}
	go client.handleReconnect()
	return client, nil
}

func (r *RabbitMQClient) connect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := amqp.DialConfig(r.config.URL, amqp.Config{Heartbeat: r.config.HeartbeatTimeout})
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	r.conn = conn
	r.ch = ch
	r.notifyConnClose = make(chan *amqp.Error, 1)
	r.conn.NotifyClose(r.notifyConnClose)
	return nil
}

func (r *RabbitMQClient) handleReconnect() {
	for {
		r.mu.RLock()
		if r.closed {
			r.mu.RUnlock()
			return
		}
		notify := r.notifyConnClose
		r.mu.RUnlock()

		amqpErr, ok := <-notify
		if !ok || amqpErr == nil {
			return
		}
		r.logger.Warn("rabbitmq connection lost, reconnecting", "error", amqpErr)

		backoff := r.config.ReconnectDelay
		for {
			r.mu.RLock()
			closed := r.closed
			r.mu.RUnlock()
			if closed {
				return
			}
			if err := r.connect(); err == nil {
				r.logger.Info("rabbitmq reconnected")
				break
			}
			time.Sleep(backoff)
			backoff *= 2
			if backoff > r.config.MaxReconnectDelay {
				backoff = r.config.MaxReconnectDelay
			}
		}
	}
}

// DeclareQueue declares a durable queue.
func (r *RabbitMQClient) DeclareQueue(name string) (amqp.Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.ch == nil {
		return amqp.Queue{}, fmt.Errorf("rabbitmq channel not available")
	}
	return r.ch.QueueDeclare(name, true, false, false, false, nil)
}

// Publish sends a persistent JSON message to the named queue.
func (r *RabbitMQClient) Publish(ctx context.Context, queue string, body []byte) error {
	r.mu.RLock()
	ch := r.ch
	r.mu.RUnlock()
	if ch == nil {
		return fmt.Errorf("rabbitmq channel not available")
	}
	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consume delivers messages from the queue to handler. A handler error nacks
// the message without requeue; the queue's dead-letter policy decides what
// happens next. Consume returns when ctx is cancelled or the channel closes.
func (r *RabbitMQClient) Consume(ctx context.Context, queue string, handler func(body []byte) error) error {
	r.mu.RLock()
	ch := r.ch
	r.mu.RUnlock()
	if ch == nil {
		return fmt.Errorf("rabbitmq channel not available")
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq delivery channel closed")
			}
			if err := handler(d.Body); err != nil {
				r.logger.Warn("message handling failed", "queue", queue, "error", err)
				d.Nack(false, false)
				continue
			}
			d.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.ch != nil {
		r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
