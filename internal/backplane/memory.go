package backplane

import (
	"context"
	"log/slog"
	"sync"

	"go.uber.org/atomic"
)

const memoryInboxDepth = 1024

// Bus connects several in-process instances, standing in for a broker.
type Bus struct {
	mu      sync.RWMutex
	members map[*Memory]struct{}
}

func NewBus() *Bus {
	return &Bus{members: make(map[*Memory]struct{})}
}

func (b *Bus) Attach(instanceID string, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Memory{
		bus:        b,
		instanceID: instanceID,
		logger:     logger,
		done:       make(chan struct{}),
	}
	m.enabled.Store(true)

	b.mu.Lock()
	b.members[m] = struct{}{}
	b.mu.Unlock()
	return m
}

func (b *Bus) detach(m *Memory) {
	b.mu.Lock()
	delete(b.members, m)
	b.mu.Unlock()
}

func (b *Bus) broadcast(envelope Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for member := range b.members {
		if member.instanceID == envelope.Origin {
			continue
		}
		member.deliver(envelope)
	}
}

type memorySubscription struct {
	inbox   chan Envelope
	handler Handler
}

type Memory struct {
	bus        *Bus
	instanceID string
	logger     *slog.Logger
	enabled    atomic.Bool

	mu            sync.Mutex
	subscriptions []*memorySubscription

	closeOnce sync.Once
	done      chan struct{}
}

func (m *Memory) deliver(envelope Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.subscriptions {
		select {
		case sub.inbox <- envelope:
		default:
			m.logger.Warn("inbox full, dropping envelope", slog.String("event", envelope.Event))
		}
	}
}

func (m *Memory) Publish(_ context.Context, envelope Envelope) error {
	if !m.enabled.Load() {
		return ErrBackplaneDisabled
	}
	envelope.Origin = m.instanceID
	if _, err := encode(envelope); err != nil {
		return err
	}
	m.bus.broadcast(envelope)
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, handler Handler) error {
	sub := &memorySubscription{
		inbox:   make(chan Envelope, memoryInboxDepth),
		handler: handler,
	}

	m.mu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case envelope := <-sub.inbox:
				sub.handler(ctx, envelope)
			}
		}
	}()
	return nil
}

func (m *Memory) Enabled() bool { return m.enabled.Load() }

func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		m.enabled.Store(false)
		m.bus.detach(m)
		close(m.done)
	})
	return nil
}

var _ Backplane = (*Memory)(nil)
