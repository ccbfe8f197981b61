package signal

import (
	"log/slog"
	"sync"

	"github.com/romashorodok/meeting-signaling/pkg/protocol"
)

// Outbound is the write side of a connection. *wsutils.ThreadSafeWriter implements it.
type Outbound interface {
	WriteJSON(val any) error
	// Drain flushes queued frames and then closes the connection.
	Drain()
	Close() error
}

// Session is the per-connection state: at most one room at a time.
type Session struct {
	ID string

	out    Outbound
	logger *slog.Logger

	mu          sync.Mutex
	roomID      string
	userID      string
	displayName string
}

func (s *Session) Room() (roomID, userID, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID, s.userID, s.displayName
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) bind(roomID, userID, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID, s.userID, s.displayName = roomID, userID, displayName
}

// unbind clears the room and returns what it was bound to.
func (s *Session) unbind() (roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, userID = s.roomID, s.userID
	s.roomID = ""
	return roomID, userID
}

func (s *Session) Send(msg protocol.Message) error {
	if err := s.out.WriteJSON(msg); err != nil {
		s.logger.Warn("unable enqueue message", slog.String("event", msg.Event), slog.String("err", err.Error()))
		return err
	}
	return nil
}

func (s *Session) Emit(event string, payload any) error {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		return err
	}
	return s.Send(msg)
}

func (s *Session) Evict() {
	s.out.Drain()
}

func (s *Session) Close() error {
	return s.out.Close()
}

func NewSession(id string, out Outbound, logger *slog.Logger) *Session {
	return &Session{
		ID:     id,
		out:    out,
		logger: logger.With(slog.String("connection", id)),
	}
}
