package backplane

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/atomic"
)

type NatsOption struct {
	URL            string
	Prefix         string
	InstanceID     string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

type Nats struct {
	conn       *nats.Conn
	prefix     string
	instanceID string
	logger     *slog.Logger
	enabled    atomic.Bool

	mu            sync.Mutex
	subscriptions []*nats.Subscription
	closeOnce     sync.Once
}

func (n *Nats) subject(kind Kind) string {
	return Topic(n.prefix, ".", kind)
}

func (n *Nats) Publish(_ context.Context, envelope Envelope) error {
	if !n.enabled.Load() {
		return ErrBackplaneDisabled
	}
	envelope.Origin = n.instanceID
	payload, err := encode(envelope)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject(envelope.Kind), payload); err != nil {
		return fmt.Errorf("unable publish %s envelope. Err: %w", envelope.Kind, err)
	}
	return nil
}

func (n *Nats) Subscribe(ctx context.Context, handler Handler) error {
	if !n.enabled.Load() {
		return ErrBackplaneDisabled
	}

	var subscriptions []*nats.Subscription
	for _, kind := range Kinds {
		subject := n.subject(kind)
		sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
			envelope, err := decode(msg.Data)
			if err != nil {
				n.logger.Error("drop envelope", slog.String("subject", msg.Subject), slog.String("err", err.Error()))
				return
			}
			if envelope.Origin == n.instanceID {
				return
			}
			handler(ctx, envelope)
		})
		if err != nil {
			for _, s := range subscriptions {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("unable subscribe %s. Err: %w", subject, err)
		}
		subscriptions = append(subscriptions, sub)
	}

	if err := n.conn.FlushWithContext(ctx); err != nil {
		n.logger.Warn("subscription flush failed", slog.String("err", err.Error()))
	}

	n.mu.Lock()
	n.subscriptions = append(n.subscriptions, subscriptions...)
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		for _, sub := range subscriptions {
			_ = sub.Unsubscribe()
		}
	}()
	return nil
}

func (n *Nats) Enabled() bool { return n.enabled.Load() }

func (n *Nats) Close() error {
	n.closeOnce.Do(func() {
		n.enabled.Store(false)

		n.mu.Lock()
		for _, sub := range n.subscriptions {
			_ = sub.Unsubscribe()
		}
		n.subscriptions = nil
		n.mu.Unlock()

		n.conn.Close()
	})
	return nil
}

func NewNats(option NatsOption) (*Nats, error) {
	if option.Logger == nil {
		option.Logger = slog.Default()
	}
	logger := option.Logger

	natsOptions := []nats.Option{
		nats.Name(option.InstanceID),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("err", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", conn.ConnectedUrl()))
		}),
	}
	if option.ConnectTimeout > 0 {
		natsOptions = append(natsOptions, nats.Timeout(option.ConnectTimeout))
	}

	conn, err := nats.Connect(option.URL, natsOptions...)
	if err != nil {
		return nil, fmt.Errorf("unable connect nats %s. Err: %w", option.URL, err)
	}

	n := &Nats{
		conn:       conn,
		prefix:     option.Prefix,
		instanceID: option.InstanceID,
		logger:     logger,
	}
	n.enabled.Store(true)
	return n, nil
}

var _ Backplane = (*Nats)(nil)
