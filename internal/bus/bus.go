// Package bus carries job and result messages between the API and
// inference workers.
package bus

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("bus closed")

type Message struct {
	Subject string
	Data    []byte
}

// Handler processes one delivered message. Handlers for a subscription are
// invoked one at a time in delivery order.
type Handler func(ctx context.Context, msg Message)

type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type Subscription interface {
	Unsubscribe() error
}

type Bus interface {
	Publisher
	Subscribe(subject string, h Handler) (Subscription, error)
	Close() error
}
