package backplane

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (r *recorder) handle(_ context.Context, envelope Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, envelope)
}

func (r *recorder) snapshot() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envelopes...)
}

func TestMemoryDeliversToSiblingsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus()
	first := bus.Attach("srv-1", discard)
	second := bus.Attach("srv-2", discard)
	defer first.Close()
	defer second.Close()

	var firstInbox, secondInbox recorder
	require.NoError(t, first.Subscribe(ctx, firstInbox.handle))
	require.NoError(t, second.Subscribe(ctx, secondInbox.handle))

	require.NoError(t, first.Publish(ctx, Envelope{
		Kind:   KindRoom,
		RoomID: "abc123",
		Event:  "chat-message-received",
		Data:   json.RawMessage(`{"message":"hi"}`),
	}))

	require.Eventually(t, func() bool { return len(secondInbox.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	received := secondInbox.snapshot()[0]
	assert.Equal(t, "srv-1", received.Origin)
	assert.Equal(t, "abc123", received.RoomID)
	assert.JSONEq(t, `{"message":"hi"}`, string(received.Data))

	assert.Never(t, func() bool { return len(firstInbox.snapshot()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestMemoryPreservesPublisherOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus()
	publisher := bus.Attach("srv-1", discard)
	subscriber := bus.Attach("srv-2", discard)

	var inbox recorder
	require.NoError(t, subscriber.Subscribe(ctx, inbox.handle))

	for _, event := range []string{"a", "b", "c", "d"} {
		require.NoError(t, publisher.Publish(ctx, Envelope{Kind: KindDirect, Event: event}))
	}

	require.Eventually(t, func() bool { return len(inbox.snapshot()) == 4 }, time.Second, 5*time.Millisecond)
	var events []string
	for _, envelope := range inbox.snapshot() {
		events = append(events, envelope.Event)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, events)
}

func TestMemoryClose(t *testing.T) {
	bus := NewBus()
	m := bus.Attach("srv-1", discard)
	require.True(t, m.Enabled())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.False(t, m.Enabled())
	assert.ErrorIs(t, m.Publish(context.Background(), Envelope{Kind: KindRoom}), ErrBackplaneDisabled)
}

func TestPublishRejectsUnknownKind(t *testing.T) {
	m := NewBus().Attach("srv-1", discard)
	err := m.Publish(context.Background(), Envelope{Kind: Kind("bogus")})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestNone(t *testing.T) {
	b := None()
	assert.False(t, b.Enabled())
	assert.ErrorIs(t, b.Publish(context.Background(), Envelope{Kind: KindRoom}), ErrBackplaneDisabled)
	assert.NoError(t, b.Subscribe(context.Background(), func(context.Context, Envelope) {}))
	assert.NoError(t, b.Close())
}

func TestOpenFallsBack(t *testing.T) {
	for name, option := range map[string]Option{
		"Unknown":     {Driver: "kafka"},
		"None":        {Driver: DriverNone},
		"Empty":       {},
		"BadRedisURL": {Driver: DriverRedis, URL: "://"},
		"Unreachable": {Driver: DriverRedis, URL: "redis://127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond},
	} {
		option := option
		t.Run(name, func(t *testing.T) {
			option.Logger = discard
			b := Open(context.Background(), option)
			assert.False(t, b.Enabled())
		})
	}
}

func TestOpenMemory(t *testing.T) {
	bus := NewBus()
	b := Open(context.Background(), Option{Driver: DriverMemory, InstanceID: "srv-1", Bus: bus, Logger: discard})
	defer b.Close()
	assert.True(t, b.Enabled())
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "meeting:room", Topic("meeting", ":", KindRoom))
	assert.Equal(t, "meeting.command", Topic("meeting", ".", KindCommand))
}
