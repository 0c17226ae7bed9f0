// Package wait implements the bounded long-poll over an image query.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"visionline/internal/domain"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultPoll    = 500 * time.Millisecond
)

var ErrNotFound = domain.ErrNotFound

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
)

type Outcome struct {
	Status Status
	Result *domain.ImageQuery
}

// Reader must read straight from the store on every call.
type Reader interface {
	GetImageQueryFresh(ctx context.Context, id string) (domain.ImageQuery, error)
}

// Clock abstracts time for the loop.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) *time.Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time                       { return time.Now() }
func (systemClock) NewTimer(d time.Duration) *time.Timer { return time.NewTimer(d) }

type Coordinator struct {
	Reader         Reader
	DefaultTimeout time.Duration
	DefaultPoll    time.Duration
	MaxTimeout     time.Duration
	Clock          Clock
}

func (c Coordinator) clock() Clock {
	if c.Clock != nil {
		return c.Clock
	}
	return systemClock{}
}

// Resolve applies defaults to nil overrides, clamps negatives to zero and
// caps the timeout at MaxTimeout when set.
func (c Coordinator) Resolve(timeout, poll *time.Duration) (time.Duration, time.Duration) {
	t := c.DefaultTimeout
	if t <= 0 {
		t = DefaultTimeout
	}
	p := c.DefaultPoll
	if p <= 0 {
		p = DefaultPoll
	}
	if timeout != nil {
		t = max(*timeout, 0)
	}
	if poll != nil {
		p = max(*poll, 0)
	}
	if c.MaxTimeout > 0 {
		t = min(t, c.MaxTimeout)
	}
	return t, p
}

// Wait polls the query until it is complete or the timeout elapses. It
// returns within timeout plus one poll interval and holds nothing between
// reads. A zero poll means a single read. Cancelling ctx ends only the wait.
func (c Coordinator) Wait(ctx context.Context, id string, timeout, poll *time.Duration) (Outcome, error) {
	t, p := c.Resolve(timeout, poll)
	clk := c.clock()
	deadline := clk.Now().Add(t)
	for {
		iq, err := c.Reader.GetImageQueryFresh(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return Outcome{}, fmt.Errorf("image query %s: %w", id, ErrNotFound)
			}
			return Outcome{}, err
		}
		if iq.Complete() {
			return Outcome{Status: StatusComplete, Result: &iq}, nil
		}
		now := clk.Now()
		if !now.Before(deadline) {
			return Outcome{Status: StatusPending}, nil
		}
		sleep := min(p, deadline.Sub(now))
		if sleep <= 0 {
			return Outcome{Status: StatusPending}, nil
		}
		timer := clk.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Outcome{}, ctx.Err()
		case <-timer.C:
		}
	}
}
