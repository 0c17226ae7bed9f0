package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes and subscribes over a NATS connection. When QueueGroup
// is set, subscriptions join it so API replicas share result delivery.
type NATSBus struct {
	Conn       *nats.Conn
	QueueGroup string
}

func ConnectNATS(url, name string, logger *slog.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSBus{Conn: conn}, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.Conn.IsClosed() {
		return ErrClosed
	}
	return b.Conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(subject string, h Handler) (Subscription, error) {
	cb := func(m *nats.Msg) {
		h(context.Background(), Message{Subject: m.Subject, Data: m.Data})
	}
	if b.QueueGroup != "" {
		return b.Conn.QueueSubscribe(subject, b.QueueGroup, cb)
	}
	return b.Conn.Subscribe(subject, cb)
}

func (b *NATSBus) Close() error {
	if b.Conn == nil || b.Conn.IsClosed() {
		return nil
	}
	if err := b.Conn.Drain(); err != nil {
		b.Conn.Close()
		return err
	}
	return nil
}
