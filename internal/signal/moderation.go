package signal

import (
	"context"
	"log/slog"

	"github.com/romashorodok/meeting-signaling/internal/backplane"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
)

func (r *Relay) reject(s *Session, event string, err error) error {
	s.Emit(protocol.EventError, protocol.ErrorMessage{Event: event, Message: err.Error()})
	return err
}

// HostCommand runs a moderation action. Only the recorded host of the issuer's own room may issue it.
func (r *Relay) HostCommand(ctx context.Context, s *Session, m protocol.HostCommand) error {
	event := "host:" + string(m.Action)

	roomID, userID, _, err := r.broadcastScope(s, m.RoomID)
	if err != nil {
		return r.reject(s, event, err)
	}
	if host := r.registry.Host(roomID); host != userID {
		r.logger.Warn("moderation rejected",
			slog.String("action", string(m.Action)),
			slog.String("room", roomID),
			slog.String("user", userID),
			slog.String("host", host),
		)
		return r.reject(s, event, ErrNotHost)
	}

	switch m.Action {
	case protocol.HostActionMuteAll:
		r.logger.Info("mute all", slog.String("room", roomID), slog.String("host", userID))
		return r.broadcast(ctx, roomID, protocol.EventForceMute, protocol.ForceMute{
			FromHost:  userID,
			Timestamp: r.timestamp(),
		}, s.ID)

	case protocol.HostActionRemove:
		if m.PeerID == "" {
			return r.reject(s, event, ErrMissingTarget)
		}
		if m.PeerID == userID || m.PeerID == s.ID {
			return r.reject(s, event, ErrSelfRemoval)
		}
		return r.removeParticipant(ctx, roomID, m.PeerID)

	case protocol.HostActionLock, protocol.HostActionUnlock:
		locked := m.Action == protocol.HostActionLock
		r.registry.SetLocked(roomID, locked)
		r.logger.Info("meeting lock changed", slog.String("room", roomID), slog.Bool("locked", locked))

		r.publish(ctx, backplane.Envelope{Kind: backplane.KindCommand, RoomID: roomID, Event: event})
		return r.broadcast(ctx, roomID, protocol.EventMeetingLocked, protocol.MeetingLocked{
			Locked: locked,
			ByHost: userID,
		}, "")
	}
	return nil
}

// findPeer resolves a peer id as a user id first and as a connection id otherwise.
func (r *Relay) findPeer(roomID, peerID string) (*Session, bool) {
	if target, exist := r.localTarget(roomID, "", peerID); exist {
		return target, true
	}
	return r.localTarget(roomID, peerID, "")
}

func (r *Relay) removeParticipant(ctx context.Context, roomID, peerID string) error {
	if target, exist := r.findPeer(roomID, peerID); exist {
		r.evict(ctx, target)
		return nil
	}

	if !r.backplane.Enabled() {
		r.metrics.RoutingMisses.WithLabelValues(protocol.EventHostRemove).Inc()
		return ErrTargetNotFound
	}
	r.publish(ctx, backplane.Envelope{
		Kind:         backplane.KindCommand,
		RoomID:       roomID,
		TargetUserID: peerID,
		Event:        protocol.EventHostRemove,
	})
	return nil
}

// evict notifies the target, removes it from its room and closes the connection once the notice is flushed.
func (r *Relay) evict(ctx context.Context, target *Session) {
	roomID, userID, _ := target.Room()
	target.Emit(protocol.EventRemovedByHost, protocol.RemovedByHost{Reason: removedReason})
	r.Leave(ctx, target)
	target.Evict()

	r.logger.Info("participant removed by host",
		slog.String("room", roomID),
		slog.String("user", userID),
		slog.String("connection", target.ID),
	)
}

func (r *Relay) applyCommand(ctx context.Context, envelope backplane.Envelope) {
	switch envelope.Event {
	case protocol.EventHostRemove:
		if target, exist := r.findPeer(envelope.RoomID, envelope.TargetUserID); exist {
			r.evict(ctx, target)
		}

	case protocol.EventHostLockMeeting:
		r.registry.SetLocked(envelope.RoomID, true)

	case protocol.EventHostUnlockMeeting:
		r.registry.SetLocked(envelope.RoomID, false)

	default:
		r.logger.Warn("unknown command", slog.String("event", envelope.Event), slog.String("origin", envelope.Origin))
	}
}
