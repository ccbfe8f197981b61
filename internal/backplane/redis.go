package backplane

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
)

type RedisOption struct {
	URL            string
	Prefix         string
	InstanceID     string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

type Redis struct {
	client     *redis.Client
	prefix     string
	instanceID string
	logger     *slog.Logger
	enabled    atomic.Bool

	mu        sync.Mutex
	pubsubs   []*redis.PubSub
	closeOnce sync.Once
}

func (r *Redis) channel(kind Kind) string {
	return Topic(r.prefix, ":", kind)
}

func (r *Redis) Publish(ctx context.Context, envelope Envelope) error {
	if !r.enabled.Load() {
		return ErrBackplaneDisabled
	}
	envelope.Origin = r.instanceID
	payload, err := encode(envelope)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(envelope.Kind), payload).Err(); err != nil {
		return fmt.Errorf("unable publish %s envelope. Err: %w", envelope.Kind, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, handler Handler) error {
	if !r.enabled.Load() {
		return ErrBackplaneDisabled
	}

	channels := make([]string, 0, len(Kinds))
	for _, kind := range Kinds {
		channels = append(channels, r.channel(kind))
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	// Wait for the subscription confirmation so nothing published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("unable subscribe %v. Err: %w", channels, err)
	}

	r.mu.Lock()
	r.pubsubs = append(r.pubsubs, pubsub)
	r.mu.Unlock()

	go func() {
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				envelope, err := decode([]byte(msg.Payload))
				if err != nil {
					r.logger.Error("drop envelope", slog.String("channel", msg.Channel), slog.String("err", err.Error()))
					continue
				}
				if envelope.Origin == r.instanceID {
					continue
				}
				handler(ctx, envelope)
			}
		}
	}()
	return nil
}

func (r *Redis) Enabled() bool { return r.enabled.Load() }

func (r *Redis) Close() (err error) {
	r.closeOnce.Do(func() {
		r.enabled.Store(false)

		r.mu.Lock()
		for _, pubsub := range r.pubsubs {
			_ = pubsub.Close()
		}
		r.pubsubs = nil
		r.mu.Unlock()

		err = r.client.Close()
	})
	return err
}

// NewRedis connects and pings within ConnectTimeout. Commands are not retried.
func NewRedis(ctx context.Context, option RedisOption) (*Redis, error) {
	options, err := redis.ParseURL(option.URL)
	if err != nil {
		return nil, fmt.Errorf("unable parse redis url. Err: %w", err)
	}
	if option.ConnectTimeout > 0 {
		options.DialTimeout = option.ConnectTimeout
	}
	options.MaxRetries = -1

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, options.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable ping redis %s. Err: %w", options.Addr, err)
	}

	if option.Logger == nil {
		option.Logger = slog.Default()
	}
	r := &Redis{
		client:     client,
		prefix:     option.Prefix,
		instanceID: option.InstanceID,
		logger:     option.Logger,
	}
	r.enabled.Store(true)
	return r, nil
}

var _ Backplane = (*Redis)(nil)
