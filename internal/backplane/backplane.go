package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Kind string

const (
	// KindRoom fans an event out to every local participant of a room.
	KindRoom Kind = "room"
	// KindDirect addresses one connection or one user of a room.
	KindDirect Kind = "direct"
	// KindCommand carries moderation state changes to sibling instances.
	KindCommand Kind = "command"
)

var Kinds = []Kind{KindRoom, KindDirect, KindCommand}

var (
	ErrBackplaneDisabled = errors.New("backplane disabled")
	ErrUnknownDriver     = errors.New("unknown backplane driver")
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

type Envelope struct {
	Origin              string          `json:"origin"`
	Kind                Kind            `json:"kind"`
	RoomID              string          `json:"roomId,omitempty"`
	TargetConnectionID  string          `json:"targetConnectionId,omitempty"`
	TargetUserID        string          `json:"targetUserId,omitempty"`
	ExcludeConnectionID string          `json:"excludeConnectionId,omitempty"`
	Event               string          `json:"event"`
	Data                json.RawMessage `json:"data,omitempty"`
}

type Handler func(context.Context, Envelope)

// Backplane forwards envelopes between instances. Delivery is best-effort and at-most-once;
// envelopes published by the local instance are never handed back to it.
type Backplane interface {
	Publish(ctx context.Context, envelope Envelope) error
	// Subscribe starts delivery to handler until ctx is done or the backplane is closed.
	Subscribe(ctx context.Context, handler Handler) error
	Enabled() bool
	Close() error
}

func Topic(prefix, separator string, kind Kind) string {
	return strings.Join([]string{prefix, string(kind)}, separator)
}

func encode(envelope Envelope) ([]byte, error) {
	switch envelope.Kind {
	case KindRoom, KindDirect, KindCommand:
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrMalformedEnvelope, envelope.Kind)
	}
	return json.Marshal(envelope)
}

func decode(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, errors.Join(ErrMalformedEnvelope, err)
	}
	return envelope, nil
}

type none struct{}

func (none) Publish(context.Context, Envelope) error { return ErrBackplaneDisabled }

func (none) Subscribe(context.Context, Handler) error { return nil }

func (none) Enabled() bool { return false }

func (none) Close() error { return nil }

// None is the single-instance mode.
func None() Backplane { return none{} }

const (
	DriverRedis  = "redis"
	DriverNats   = "nats"
	DriverMemory = "memory"
	DriverNone   = "none"
)

type Option struct {
	Driver         string
	URL            string
	Prefix         string
	InstanceID     string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
	// Bus is required by the memory driver.
	Bus *Bus
}

// Open selects the configured driver. A driver that cannot connect degrades to None
// so the instance keeps serving its own connections.
func Open(ctx context.Context, option Option) Backplane {
	if option.Logger == nil {
		option.Logger = slog.Default()
	}
	logger := option.Logger.With(slog.String("component", "backplane"), slog.String("driver", option.Driver))

	var (
		result Backplane
		err    error
	)
	switch option.Driver {
	case DriverRedis:
		result, err = NewRedis(ctx, RedisOption{
			URL:            option.URL,
			Prefix:         option.Prefix,
			InstanceID:     option.InstanceID,
			ConnectTimeout: option.ConnectTimeout,
			Logger:         logger,
		})
	case DriverNats:
		result, err = NewNats(NatsOption{
			URL:            option.URL,
			Prefix:         option.Prefix,
			InstanceID:     option.InstanceID,
			ConnectTimeout: option.ConnectTimeout,
			Logger:         logger,
		})
	case DriverMemory:
		if option.Bus == nil {
			option.Bus = NewBus()
		}
		result = option.Bus.Attach(option.InstanceID, logger)
	case DriverNone, "":
		logger.Info("single-instance mode")
		return None()
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownDriver, option.Driver)
	}

	if err != nil {
		logger.Warn("backplane unavailable, running in single-instance mode", slog.String("err", err.Error()))
		return None()
	}
	logger.Info("backplane connected", slog.String("prefix", option.Prefix))
	return result
}
