package wsutils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   []string
	pings    int
	closed   int
	writeErr error
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if messageType == websocket.TextMessage {
		c.frames = append(c.frames, string(data))
	}
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.PingMessage {
		c.pings++
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) snapshot() (frames []string, pings, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...), c.pings, c.closed
}

func TestWriterDrainsInOrder(t *testing.T) {
	conn := &fakeConn{}
	w := NewThreadSafeWriter(conn, WriterOption{QueueDepth: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for _, event := range []string{"a", "b", "c"} {
		require.NoError(t, w.WriteJSON(map[string]string{"event": event}))
	}

	require.Eventually(t, func() bool {
		frames, _, _ := conn.snapshot()
		return len(frames) == 3
	}, time.Second, 5*time.Millisecond)

	frames, _, _ := conn.snapshot()
	assert.Equal(t, []string{`{"event":"a"}`, `{"event":"b"}`, `{"event":"c"}`}, frames)
}

func TestWriterOverflowCloses(t *testing.T) {
	conn := &fakeConn{}
	w := NewThreadSafeWriter(conn, WriterOption{QueueDepth: 2})

	require.NoError(t, w.Write([]byte("1")))
	require.NoError(t, w.Write([]byte("2")))
	assert.ErrorIs(t, w.Write([]byte("3")), ErrQueueOverflow)

	select {
	case <-w.Done():
	default:
		t.Fatal("writer must be closed after overflow")
	}
	assert.ErrorIs(t, w.Err(), ErrQueueOverflow)
	assert.ErrorIs(t, w.Write([]byte("4")), ErrWriterClosed)

	_, _, closed := conn.snapshot()
	assert.Equal(t, 1, closed)
}

func TestWriterPings(t *testing.T) {
	conn := &fakeConn{}
	w := NewThreadSafeWriter(conn, WriterOption{PingInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		_, pings, _ := conn.snapshot()
		return pings >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestWriterWriteFailure(t *testing.T) {
	broken := errors.New("broken pipe")
	conn := &fakeConn{writeErr: broken}
	w := NewThreadSafeWriter(conn, WriterOption{})

	require.NoError(t, w.Write([]byte("x")))
	err := w.Run(context.Background())
	assert.ErrorIs(t, err, broken)
	assert.ErrorIs(t, w.Err(), broken)
}

func TestWriterCloseIdempotent(t *testing.T) {
	conn := &fakeConn{}
	w := NewThreadSafeWriter(conn, WriterOption{})

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Err(), ErrWriterClosed)
	assert.ErrorIs(t, w.Run(context.Background()), ErrWriterClosed)

	_, _, closed := conn.snapshot()
	assert.Equal(t, 1, closed)
}

func TestWriterDrain(t *testing.T) {
	conn := &fakeConn{}
	w := NewThreadSafeWriter(conn, WriterOption{QueueDepth: 8})

	require.NoError(t, w.Write([]byte("notice")))
	require.NoError(t, w.Write([]byte("bye")))
	w.Drain()
	w.Drain()

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, ErrWriterDrained)

	frames, _, closed := conn.snapshot()
	assert.Equal(t, []string{"notice", "bye"}, frames)
	assert.Equal(t, 1, closed)
}
