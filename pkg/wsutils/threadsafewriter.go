package wsutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

var (
	ErrQueueOverflow = errors.New("outbound queue overflow")
	ErrWriterClosed  = errors.New("writer closed")
	ErrWriterDrained = errors.New("writer drained")
)

const (
	DefaultQueueDepth   = 256
	DefaultPingInterval = 25 * time.Second
	DefaultWriteWait    = 10 * time.Second
)

// Conn is the part of *websocket.Conn the writer needs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// ThreadSafeWriter serializes frames from any goroutine into a bounded queue drained by Run.
// A full queue closes the writer instead of blocking the caller.
type ThreadSafeWriter struct {
	conn         Conn
	queue        chan []byte
	pingInterval time.Duration
	writeWait    time.Duration

	drainOnce sync.Once
	drain     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	err       atomic.Error
}

func (t *ThreadSafeWriter) WriteJSON(val any) error {
	payload, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return t.Write(payload)
}

func (t *ThreadSafeWriter) Write(payload []byte) error {
	select {
	case <-t.done:
		return ErrWriterClosed
	default:
	}

	select {
	case t.queue <- payload:
		return nil
	default:
		t.CloseWithError(ErrQueueOverflow)
		return ErrQueueOverflow
	}
}

// Run writes queued frames and pings until ctx is done or the writer is closed.
func (t *ThreadSafeWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-t.done:
			return t.Err()

		case payload := <-t.queue:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				t.CloseWithError(err)
				return err
			}

		case <-t.drain:
			t.flush()
			t.CloseWithError(ErrWriterDrained)
			return ErrWriterDrained

		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait)); err != nil {
				t.CloseWithError(err)
				return err
			}
		}
	}
}

func (t *ThreadSafeWriter) flush() {
	for {
		select {
		case payload := <-t.queue:
			_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			_ = t.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.writeWait),
			)
			return
		}
	}
}

// Drain asks Run to write what is already queued, send a close frame and close the connection.
func (t *ThreadSafeWriter) Drain() {
	t.drainOnce.Do(func() { close(t.drain) })
}

func (t *ThreadSafeWriter) CloseWithError(err error) {
	t.closeOnce.Do(func() {
		t.err.Store(err)
		close(t.done)
		_ = t.conn.Close()
	})
}

func (t *ThreadSafeWriter) Close() error {
	t.CloseWithError(ErrWriterClosed)
	return nil
}

func (t *ThreadSafeWriter) Done() <-chan struct{} {
	return t.done
}

// Err reports why the writer was closed, nil while it is open.
func (t *ThreadSafeWriter) Err() error {
	return t.err.Load()
}

type WriterOption struct {
	QueueDepth   int
	PingInterval time.Duration
	WriteWait    time.Duration
}

func NewThreadSafeWriter(conn Conn, option WriterOption) *ThreadSafeWriter {
	if option.QueueDepth <= 0 {
		option.QueueDepth = DefaultQueueDepth
	}
	if option.PingInterval <= 0 {
		option.PingInterval = DefaultPingInterval
	}
	if option.WriteWait <= 0 {
		option.WriteWait = DefaultWriteWait
	}
	return &ThreadSafeWriter{
		conn:         conn,
		queue:        make(chan []byte, option.QueueDepth),
		pingInterval: option.PingInterval,
		writeWait:    option.WriteWait,
		drain:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}
