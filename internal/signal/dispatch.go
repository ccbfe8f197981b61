package signal

import (
	"context"

	"github.com/romashorodok/meeting-signaling/pkg/protocol"
)

// Handle decodes one client frame and routes it. Returned errors are for logging only,
// the connection stays open.
func (r *Relay) Handle(ctx context.Context, s *Session, msg protocol.Message) error {
	inbound, err := protocol.Decode(msg)
	if err != nil {
		s.Emit(protocol.EventError, protocol.ErrorMessage{Event: msg.Event, Message: "wrong data format"})
		return err
	}

	switch m := inbound.(type) {
	case protocol.JoinRoom:
		return r.Join(ctx, s, m)
	case protocol.SendingSignal:
		return r.SendingSignal(ctx, s, m)
	case protocol.ReturningSignal:
		return r.ReturningSignal(ctx, s, m)
	case protocol.EmojiReaction:
		return r.EmojiReaction(ctx, s, m)
	case protocol.ChatMessage:
		return r.ChatMessage(ctx, s, m)
	case protocol.ToggleHand:
		return r.ToggleHand(ctx, s, m)
	case protocol.RecordingState:
		return r.RecordingState(ctx, s, m)
	case protocol.HostCommand:
		return r.HostCommand(ctx, s, m)
	case protocol.LeaveRoom:
		r.Leave(ctx, s)
		return nil
	case protocol.PingCheck:
		return r.PingCheck(s)
	}
	return protocol.ErrUnknownEvent
}
