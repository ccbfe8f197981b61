package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	webrtc "github.com/pion/webrtc/v4"
	"github.com/romashorodok/meeting-signaling/internal/backplane"
	"github.com/romashorodok/meeting-signaling/internal/metrics"
	"github.com/romashorodok/meeting-signaling/internal/ratelimit"
	"github.com/romashorodok/meeting-signaling/internal/room"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
	"go.uber.org/fx"
)

const (
	MaxChatLength  = 500
	MaxEmojiLength = 16

	anonymousName = "Anonymous"
	removedReason = "Host removed you from the meeting"
)

// Relay routes client events between the sessions of one room, locally and through the backplane.
type Relay struct {
	// membershipMu serializes joins and leaves with the notifications they produce.
	membershipMu sync.Mutex

	registry   *room.Registry
	limiter    *ratelimit.Limiter
	hub        *Hub
	backplane  backplane.Backplane
	metrics    *metrics.Metrics
	instanceID string
	logger     *slog.Logger
	now        func() time.Time
}

func participantInfo(p room.Participant) protocol.ParticipantInfo {
	return protocol.ParticipantInfo{
		SocketID: p.ConnectionID,
		UserID:   p.UserID,
		UserName: p.DisplayName,
	}
}

func (r *Relay) timestamp() int64 {
	return r.now().UnixMilli()
}

// Connect makes the session addressable by its connection id.
func (r *Relay) Connect(s *Session) {
	r.hub.Register(s)
	r.logger.Debug("connection opened", slog.String("connection", s.ID), slog.Int64("live", r.hub.Len()))
}

// Disconnect is idempotent: it leaves the joined room, forgets the session and its rate buckets.
func (r *Relay) Disconnect(ctx context.Context, s *Session) {
	r.Leave(ctx, s)
	r.hub.Unregister(s.ID)
	r.limiter.Release(s.ID)
	r.logger.Debug("connection closed", slog.String("connection", s.ID), slog.Int64("live", r.hub.Len()))
}

func (r *Relay) Join(ctx context.Context, s *Session, m protocol.JoinRoom) error {
	if err := room.ValidateRoomID(m.RoomID); err != nil {
		s.Emit(protocol.EventError, protocol.ErrorMessage{Event: protocol.EventJoinRoom, Message: "Invalid roomId"})
		return err
	}
	if err := room.ValidateUserID(m.UserID); err != nil {
		s.Emit(protocol.EventError, protocol.ErrorMessage{Event: protocol.EventJoinRoom, Message: "Invalid userId"})
		return err
	}
	name := room.SanitizeDisplayName(m.UserName, anonymousName)

	var pending []backplane.Envelope

	r.membershipMu.Lock()
	pending = append(pending, r.leaveLocked(s)...)

	result, err := r.registry.Join(m.RoomID, m.UserID, room.JoinOptions{
		ConnectionID: s.ID,
		DisplayName:  name,
	})
	switch {
	case errors.Is(err, room.ErrRoomFull):
		r.membershipMu.Unlock()
		r.metrics.JoinRejections.WithLabelValues("full").Inc()
		r.flush(ctx, pending)
		return s.Emit(protocol.EventRoomFull, protocol.RoomFull{RoomID: m.RoomID, Capacity: r.registry.Capacity()})

	case errors.Is(err, room.ErrRoomLocked):
		r.membershipMu.Unlock()
		r.metrics.JoinRejections.WithLabelValues("locked").Inc()
		r.flush(ctx, pending)
		return s.Emit(protocol.EventRoomLocked, protocol.RoomLocked{RoomID: m.RoomID})

	case err != nil:
		r.membershipMu.Unlock()
		r.flush(ctx, pending)
		return err
	}

	if result.Replaced != nil {
		// The stale connection stays open but no longer owns the participant.
		if stale, exist := r.hub.Get(result.Replaced.ConnectionID); exist {
			stale.unbind()
		}
		// Peers key their connections by socket id, so the replaced one must be torn down.
		if left, err := protocol.NewMessage(protocol.EventUserLeft, participantInfo(*result.Replaced)); err == nil {
			r.deliverRoom(m.RoomID, left, s.ID)
			pending = append(pending, backplane.Envelope{
				Kind:                backplane.KindRoom,
				RoomID:              m.RoomID,
				ExcludeConnectionID: s.ID,
				Event:               left.Event,
				Data:                left.Data,
			})
		}
	}
	s.bind(m.RoomID, m.UserID, name)

	existing := make([]protocol.ParticipantInfo, 0, len(result.Existing))
	for _, p := range result.Existing {
		existing = append(existing, participantInfo(p))
	}

	s.Emit(protocol.EventJoined, protocol.Joined{
		RoomID:       m.RoomID,
		ConnectionID: s.ID,
		HostUserID:   result.Host,
		InstanceID:   r.instanceID,
	})
	s.Emit(protocol.EventAllUsers, existing)
	s.Emit(protocol.EventRoomParticipants, existing)

	announce, err := protocol.NewMessage(protocol.EventUserJoined, protocol.ParticipantInfo{
		SocketID: s.ID,
		UserID:   m.UserID,
		UserName: name,
	})
	if err != nil {
		r.membershipMu.Unlock()
		return err
	}
	for _, p := range result.Existing {
		r.deliver(p.ConnectionID, announce)
	}
	r.membershipMu.Unlock()

	pending = append(pending, backplane.Envelope{
		Kind:                backplane.KindRoom,
		RoomID:              m.RoomID,
		ExcludeConnectionID: s.ID,
		Event:               announce.Event,
		Data:                announce.Data,
	})
	r.flush(ctx, pending)

	r.logger.Info("participant joined",
		slog.String("room", m.RoomID),
		slog.String("user", m.UserID),
		slog.String("connection", s.ID),
		slog.Int("existing", len(result.Existing)),
		slog.Bool("created", result.Created),
	)
	return nil
}

func (r *Relay) Leave(ctx context.Context, s *Session) {
	r.membershipMu.Lock()
	pending := r.leaveLocked(s)
	r.membershipMu.Unlock()

	r.flush(ctx, pending)
}

// leaveLocked removes the session from its room and notifies the remaining local participants.
// It returns the envelopes that must reach sibling instances.
func (r *Relay) leaveLocked(s *Session) []backplane.Envelope {
	roomID, userID := s.unbind()
	if roomID == "" {
		return nil
	}

	hostBefore := r.registry.Host(roomID)
	p, removed := r.registry.LeaveConnection(roomID, userID, s.ID)
	if !removed {
		return nil
	}

	var pending []backplane.Envelope
	left, err := protocol.NewMessage(protocol.EventUserLeft, participantInfo(p))
	if err != nil {
		r.logger.Error("unable build user-left", slog.String("err", err.Error()))
		return nil
	}
	r.deliverRoom(roomID, left, "")
	pending = append(pending, backplane.Envelope{Kind: backplane.KindRoom, RoomID: roomID, Event: left.Event, Data: left.Data})

	if hostAfter := r.registry.Host(roomID); hostAfter != "" && hostAfter != hostBefore {
		changed, err := protocol.NewMessage(protocol.EventHostChanged, protocol.HostChanged{RoomID: roomID, HostUserID: hostAfter})
		if err == nil {
			r.deliverRoom(roomID, changed, "")
			pending = append(pending, backplane.Envelope{Kind: backplane.KindRoom, RoomID: roomID, Event: changed.Event, Data: changed.Data})
		}
	}

	r.logger.Info("participant left",
		slog.String("room", roomID),
		slog.String("user", userID),
		slog.String("connection", s.ID),
		slog.Int("size", r.registry.Size(roomID)),
	)
	return pending
}

func signalKind(raw json.RawMessage) string {
	var probe struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(raw, &probe)
	if sdpType := webrtc.NewSDPType(probe.Type); sdpType != webrtc.SDPTypeUnknown {
		return sdpType.String()
	}
	return "candidate"
}

func (r *Relay) SendingSignal(ctx context.Context, s *Session, m protocol.SendingSignal) error {
	roomID, userID, name := s.Room()
	if roomID == "" {
		return ErrNotInRoom
	}
	if !r.allow(s, ratelimit.ClassSignal) {
		return nil
	}
	if protocol.IsEmptyJSON(m.Signal) {
		return ErrMissingSignal
	}

	if m.ByUserID {
		if m.TargetUserID == "" {
			return ErrMissingTarget
		}
		msg, err := protocol.NewMessage(protocol.EventSignalReceive, protocol.SignalReceive{
			UserID: userID,
			From:   s.ID,
			Signal: m.Signal,
		})
		if err != nil {
			return err
		}
		r.logger.Debug("signal", slog.String("kind", signalKind(m.Signal)), slog.String("from", s.ID), slog.String("target", m.TargetUserID))
		return r.route(ctx, roomID, "", m.TargetUserID, msg)
	}

	if m.To == "" {
		return ErrMissingTarget
	}
	callerUserID := claimedUserID(m.CallerUserID, userID)
	callerUserName := room.SanitizeDisplayName(m.CallerUserName, name)
	msg, err := protocol.NewMessage(protocol.EventUserSignal, protocol.UserSignal{
		Signal:         m.Signal,
		From:           s.ID,
		CallerUserID:   callerUserID,
		CallerUserName: callerUserName,
	})
	if err != nil {
		return err
	}
	r.logger.Debug("signal", slog.String("kind", signalKind(m.Signal)), slog.String("from", s.ID), slog.String("target", m.To))
	return r.route(ctx, roomID, m.To, "", msg)
}

func (r *Relay) ReturningSignal(ctx context.Context, s *Session, m protocol.ReturningSignal) error {
	roomID := s.RoomID()
	if roomID == "" {
		return ErrNotInRoom
	}
	if !r.allow(s, ratelimit.ClassSignal) {
		return nil
	}
	if m.To == "" {
		return ErrMissingTarget
	}
	if protocol.IsEmptyJSON(m.Signal) {
		return ErrMissingSignal
	}

	msg, err := protocol.NewMessage(protocol.EventReceivingReturned, protocol.ReturnedSignal{Signal: m.Signal, ID: s.ID})
	if err != nil {
		return err
	}
	r.logger.Debug("returning signal", slog.String("kind", signalKind(m.Signal)), slog.String("from", s.ID), slog.String("target", m.To))
	return r.route(ctx, roomID, m.To, "", msg)
}

func (r *Relay) EmojiReaction(ctx context.Context, s *Session, m protocol.EmojiReaction) error {
	roomID, userID, name, err := r.broadcastScope(s, m.RoomID)
	if err != nil {
		return err
	}
	if !r.allow(s, ratelimit.ClassReaction) {
		return nil
	}
	if m.Emoji == "" || utf8.RuneCountInString(m.Emoji) > MaxEmojiLength {
		return ErrInvalidEmoji
	}

	return r.broadcast(ctx, roomID, protocol.EventEmojiReceived, protocol.EmojiReceived{
		Emoji:     m.Emoji,
		UserID:    claimedUserID(m.UserID, userID),
		UserName:  room.SanitizeDisplayName(m.UserName, name),
		Timestamp: r.timestamp(),
	}, "")
}

// TruncateChat cuts the message to MaxChatLength runes and trims surrounding whitespace.
func TruncateChat(message string) string {
	if utf8.RuneCountInString(message) > MaxChatLength {
		message = string([]rune(message)[:MaxChatLength])
	}
	return strings.TrimSpace(message)
}

func (r *Relay) ChatMessage(ctx context.Context, s *Session, m protocol.ChatMessage) error {
	roomID, userID, name, err := r.broadcastScope(s, m.RoomID)
	if err != nil {
		return err
	}

	decision := r.limiter.Allow(s.ID, ratelimit.ClassChat)
	if !decision.Allowed {
		r.metrics.RateLimited.WithLabelValues(string(ratelimit.ClassChat)).Inc()
		retryAfter := decision.RetryAfter.Milliseconds()
		if retryAfter < 1 {
			retryAfter = 1
		}
		return s.Emit(protocol.EventRateLimited, protocol.RateLimited{
			Event:        protocol.EventChatMessage,
			RetryAfterMs: retryAfter,
		})
	}

	message := TruncateChat(m.Message)
	if message == "" {
		return ErrEmptyMessage
	}

	return r.broadcast(ctx, roomID, protocol.EventChatMessageReceived, protocol.ChatMessageReceived{
		Message:   message,
		UserID:    claimedUserID(m.UserID, userID),
		UserName:  room.SanitizeDisplayName(m.UserName, name),
		Timestamp: r.timestamp(),
	}, "")
}

func (r *Relay) ToggleHand(ctx context.Context, s *Session, m protocol.ToggleHand) error {
	roomID, userID, _, err := r.broadcastScope(s, "")
	if err != nil {
		return err
	}
	return r.broadcast(ctx, roomID, protocol.EventHandRaised, protocol.HandRaised{
		UserID:    claimedUserID(m.UserID, userID),
		IsRaised:  m.IsRaised,
		Timestamp: r.timestamp(),
	}, "")
}

func (r *Relay) RecordingState(ctx context.Context, s *Session, m protocol.RecordingState) error {
	roomID, userID, _, err := r.broadcastScope(s, "")
	if err != nil {
		return err
	}
	return r.broadcast(ctx, roomID, protocol.EventRecordingStateUpdate, protocol.RecordingStateUpdate{
		UserID:      claimedUserID(m.UserID, userID),
		IsRecording: m.IsRecording,
		Timestamp:   r.timestamp(),
	}, "")
}

func (r *Relay) PingCheck(s *Session) error {
	return s.Emit(protocol.EventPongCheck, protocol.PongCheck{
		ServerTs:   r.timestamp(),
		InstanceID: r.instanceID,
	})
}

// claimedUserID keeps a client-supplied user id only when it passes join validation.
func claimedUserID(claimed, session string) string {
	if room.ValidateUserID(claimed) != nil {
		return session
	}
	return claimed
}

// broadcastScope resolves the room of a broadcast. A roomId in the payload must name the joined room.
func (r *Relay) broadcastScope(s *Session, claimed string) (roomID, userID, name string, err error) {
	roomID, userID, name = s.Room()
	if roomID == "" {
		return "", "", "", ErrNotInRoom
	}
	if claimed != "" && claimed != roomID {
		return "", "", "", fmt.Errorf("%w: %q", ErrRoomMismatch, claimed)
	}
	return roomID, userID, name, nil
}

func (r *Relay) allow(s *Session, class ratelimit.Class) bool {
	if decision := r.limiter.Allow(s.ID, class); !decision.Allowed {
		r.metrics.RateLimited.WithLabelValues(string(class)).Inc()
		r.logger.Debug("rate limited", slog.String("connection", s.ID), slog.String("class", string(class)))
		return false
	}
	return true
}

// broadcast delivers to every local participant of the room except exclude and forwards to siblings.
func (r *Relay) broadcast(ctx context.Context, roomID, event string, payload any, exclude string) error {
	msg, err := protocol.NewMessage(event, payload)
	if err != nil {
		return err
	}
	r.deliverRoom(roomID, msg, exclude)
	r.publish(ctx, backplane.Envelope{
		Kind:                backplane.KindRoom,
		RoomID:              roomID,
		ExcludeConnectionID: exclude,
		Event:               msg.Event,
		Data:                msg.Data,
	})
	return nil
}

func (r *Relay) deliverRoom(roomID string, msg protocol.Message, exclude string) {
	for _, p := range r.registry.List(roomID) {
		if p.ConnectionID == exclude {
			continue
		}
		r.deliver(p.ConnectionID, msg)
	}
}

func (r *Relay) deliver(connectionID string, msg protocol.Message) bool {
	s, exist := r.hub.Get(connectionID)
	if !exist {
		r.logger.Warn("registered participant without session", slog.String("connection", connectionID))
		return false
	}
	if err := s.Send(msg); err != nil {
		return false
	}
	r.metrics.Relayed.WithLabelValues(msg.Event).Inc()
	return true
}

// localTarget finds the session addressed by connection id or user id within roomID.
func (r *Relay) localTarget(roomID, connectionID, userID string) (*Session, bool) {
	if userID != "" {
		p, exist := r.registry.Get(roomID, userID)
		if !exist {
			return nil, false
		}
		connectionID = p.ConnectionID
	}
	s, exist := r.hub.Get(connectionID)
	if !exist || s.RoomID() != roomID {
		return nil, false
	}
	return s, true
}

// route delivers an addressed message locally or hands it to the instance owning the target.
func (r *Relay) route(ctx context.Context, roomID, connectionID, userID string, msg protocol.Message) error {
	if target, exist := r.localTarget(roomID, connectionID, userID); exist {
		if err := target.Send(msg); err != nil {
			return err
		}
		r.metrics.Relayed.WithLabelValues(msg.Event).Inc()
		return nil
	}

	if !r.backplane.Enabled() {
		r.metrics.RoutingMisses.WithLabelValues(msg.Event).Inc()
		r.logger.Debug("no route to target",
			slog.String("event", msg.Event),
			slog.String("room", roomID),
			slog.String("target_connection", connectionID),
			slog.String("target_user", userID),
		)
		return ErrTargetNotFound
	}

	r.publish(ctx, backplane.Envelope{
		Kind:               backplane.KindDirect,
		RoomID:             roomID,
		TargetConnectionID: connectionID,
		TargetUserID:       userID,
		Event:              msg.Event,
		Data:               msg.Data,
	})
	return nil
}

func (r *Relay) publish(ctx context.Context, envelope backplane.Envelope) {
	if !r.backplane.Enabled() {
		return
	}
	if err := r.backplane.Publish(ctx, envelope); err != nil {
		r.metrics.BackplaneFailure.WithLabelValues(string(envelope.Kind)).Inc()
		r.logger.Warn("backplane publish failed",
			slog.String("kind", string(envelope.Kind)),
			slog.String("event", envelope.Event),
			slog.String("err", err.Error()),
		)
	}
}

func (r *Relay) flush(ctx context.Context, pending []backplane.Envelope) {
	for _, envelope := range pending {
		r.publish(ctx, envelope)
	}
}

// HandleEnvelope applies an envelope published by a sibling instance.
func (r *Relay) HandleEnvelope(ctx context.Context, envelope backplane.Envelope) {
	r.metrics.Received.WithLabelValues(string(envelope.Kind)).Inc()
	msg := protocol.Message{Event: envelope.Event, Data: envelope.Data}

	switch envelope.Kind {
	case backplane.KindRoom:
		r.deliverRoom(envelope.RoomID, msg, envelope.ExcludeConnectionID)

	case backplane.KindDirect:
		target, exist := r.localTarget(envelope.RoomID, envelope.TargetConnectionID, envelope.TargetUserID)
		if !exist {
			return
		}
		if err := target.Send(msg); err == nil {
			r.metrics.Relayed.WithLabelValues(msg.Event).Inc()
		}

	case backplane.KindCommand:
		r.applyCommand(ctx, envelope)

	default:
		r.logger.Warn("unknown envelope kind", slog.String("kind", string(envelope.Kind)), slog.String("origin", envelope.Origin))
	}
}

// Start subscribes to the backplane.
func (r *Relay) Start(ctx context.Context) error {
	if !r.backplane.Enabled() {
		return nil
	}
	return r.backplane.Subscribe(ctx, r.HandleEnvelope)
}

type RelayOption struct {
	Registry   *room.Registry
	Limiter    *ratelimit.Limiter
	Hub        *Hub
	Backplane  backplane.Backplane
	Metrics    *metrics.Metrics
	InstanceID string
	Logger     *slog.Logger
	Clock      func() time.Time
}

func New(option RelayOption) *Relay {
	if option.Logger == nil {
		option.Logger = slog.Default()
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	if option.Backplane == nil {
		option.Backplane = backplane.None()
	}
	if option.Metrics == nil {
		option.Metrics = metrics.New()
	}
	if option.Hub == nil {
		option.Hub = NewHub()
	}
	return &Relay{
		registry:   option.Registry,
		limiter:    option.Limiter,
		hub:        option.Hub,
		backplane:  option.Backplane,
		metrics:    option.Metrics,
		instanceID: option.InstanceID,
		logger:     option.Logger.With(slog.String("component", "relay")),
		now:        option.Clock,
	}
}

type NewRelayParams struct {
	fx.In
	Lifecycle fx.Lifecycle

	Registry  *room.Registry
	Limiter   *ratelimit.Limiter
	Hub       *Hub
	Backplane backplane.Backplane
	Metrics   *metrics.Metrics
	Instance  protocol.InstanceID
	Logger    *slog.Logger
}

func NewRelay(params NewRelayParams) *Relay {
	relay := New(RelayOption{
		Registry:   params.Registry,
		Limiter:    params.Limiter,
		Hub:        params.Hub,
		Backplane:  params.Backplane,
		Metrics:    params.Metrics,
		InstanceID: string(params.Instance),
		Logger:     params.Logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return relay.Start(ctx)
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return relay
}
