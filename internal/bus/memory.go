package bus

import (
	"context"
	"sync"
)

const memoryBuffer = 256

// MemoryBus is an in-process Bus for single-binary deployments and tests.
// Each subscription gets its own goroutine and queue so a slow handler
// never blocks publishers on other subjects.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool
}

func NewMemory() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub)}
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	ch      chan Message
	done    chan struct{}
	once    sync.Once
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	payload := append([]byte(nil), data...)
	for _, s := range b.subs[subject] {
		select {
		case s.ch <- Message{Subject: subject, Data: payload}:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &memorySub{
		bus:     b,
		subject: subject,
		ch:      make(chan Message, memoryBuffer),
		done:    make(chan struct{}),
	}
	b.subs[subject] = append(b.subs[subject], s)
	go s.run(h)
	return s, nil
}

func (s *memorySub) run(h Handler) {
	for {
		select {
		case msg := <-s.ch:
			h(context.Background(), msg)
		case <-s.done:
			return
		}
	}
}

func (s *memorySub) Unsubscribe() error {
	s.once.Do(func() {
		close(s.done)
		s.bus.mu.Lock()
		subs := s.bus.subs[s.subject]
		for i, other := range subs {
			if other == s {
				s.bus.subs[s.subject] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySub
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = map[string][]*memorySub{}
	b.mu.Unlock()
	for _, s := range all {
		s.once.Do(func() { close(s.done) })
	}
	return nil
}
