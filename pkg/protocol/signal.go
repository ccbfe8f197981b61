package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Client to server events.
const (
	EventJoinRoom          = "join-room"
	EventSendingSignal     = "sending-signal"
	EventSignalSend        = "signal-send"
	EventReturningSignal   = "returning-signal"
	EventEmojiReaction     = "emoji-reaction"
	EventChatMessage       = "chat-message"
	EventToggleHand        = "toggle-hand"
	EventRecordingState    = "recording-state"
	EventHostMuteAll       = "host:mute-all"
	EventHostRemove        = "host:remove-participant"
	EventHostLockMeeting   = "host:lock-meeting"
	EventHostUnlockMeeting = "host:unlock-meeting"
	EventLeaveRoom         = "leave-room"
	EventPingCheck         = "ping-check"
)

// Server to client events.
const (
	EventAllUsers             = "all-users"
	EventRoomParticipants     = "room-participants"
	EventJoined               = "joined"
	EventUserJoined           = "user-joined"
	EventUserSignal           = "user-signal"
	EventSignalReceive        = "signal-receive"
	EventReceivingReturned    = "receiving-returned-signal"
	EventUserLeft             = "user-left"
	EventEmojiReceived        = "emoji-received"
	EventChatMessageReceived  = "chat-message-received"
	EventHandRaised           = "hand-raised"
	EventRecordingStateUpdate = "recording-state-update"
	EventRoomFull             = "room-full"
	EventRoomLocked           = "room-locked"
	EventRateLimited          = "rate-limited"
	EventForceMute            = "force-mute"
	EventRemovedByHost        = "removed-by-host"
	EventMeetingLocked        = "meeting-locked"
	EventHostChanged          = "host-changed"
	EventPongCheck            = "pong-check"
	EventError                = "error"
)

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Message is the frame exchanged over the websocket in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewMessage(event string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("unable marshal %s payload. Err: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}

// IsEmptyJSON reports whether a raw value is absent, null, an empty string or an empty object.
func IsEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", `""`, "{}":
		return true
	}
	return false
}

// Inbound is the closed set of messages a client may send.
type Inbound interface {
	inbound()
}

type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// SendingSignal covers both sending-signal (addressed by connection id) and signal-send
// (addressed by user id within the sender's room). Client-sent from and userId are not
// decoded: the server stamps the sender itself.
type SendingSignal struct {
	To             string          `json:"to"`
	TargetUserID   string          `json:"targetUserId"`
	Signal         json.RawMessage `json:"signal"`
	CallerUserID   string          `json:"callerUserId"`
	CallerUserName string          `json:"callerUserName"`

	ByUserID bool `json:"-"`
}

type ReturningSignal struct {
	To     string          `json:"to"`
	Signal json.RawMessage `json:"signal"`
}

type EmojiReaction struct {
	Emoji    string `json:"emoji"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type ChatMessage struct {
	Message  string `json:"message"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type ToggleHand struct {
	UserID   string `json:"userId"`
	IsRaised bool   `json:"isRaised"`
}

type RecordingState struct {
	UserID      string `json:"userId"`
	IsRecording bool   `json:"isRecording"`
}

type HostAction string

const (
	HostActionMuteAll HostAction = "mute-all"
	HostActionRemove  HostAction = "remove-participant"
	HostActionLock    HostAction = "lock-meeting"
	HostActionUnlock  HostAction = "unlock-meeting"
)

type HostCommand struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`

	Action HostAction `json:"-"`
}

type LeaveRoom struct {
	UserID string `json:"userId"`
}

type PingCheck struct{}

func (JoinRoom) inbound()        {}
func (SendingSignal) inbound()   {}
func (ReturningSignal) inbound() {}
func (EmojiReaction) inbound()   {}
func (ChatMessage) inbound()     {}
func (ToggleHand) inbound()      {}
func (RecordingState) inbound()  {}
func (HostCommand) inbound()     {}
func (LeaveRoom) inbound()       {}
func (PingCheck) inbound()       {}

func decodeInto[T Inbound](data json.RawMessage, value T) (Inbound, error) {
	if IsEmptyJSON(data) {
		return value, nil
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return value, nil
}

// Decode maps a frame onto its typed variant. Payload-less events accept an absent data field.
func Decode(msg Message) (Inbound, error) {
	switch msg.Event {
	case EventJoinRoom:
		return decodeInto(msg.Data, JoinRoom{})
	case EventSendingSignal:
		return decodeInto(msg.Data, SendingSignal{})
	case EventSignalSend:
		return decodeInto(msg.Data, SendingSignal{ByUserID: true})
	case EventReturningSignal:
		return decodeInto(msg.Data, ReturningSignal{})
	case EventEmojiReaction:
		return decodeInto(msg.Data, EmojiReaction{})
	case EventChatMessage:
		return decodeInto(msg.Data, ChatMessage{})
	case EventToggleHand:
		return decodeInto(msg.Data, ToggleHand{})
	case EventRecordingState:
		return decodeInto(msg.Data, RecordingState{})
	case EventHostMuteAll:
		return decodeInto(msg.Data, HostCommand{Action: HostActionMuteAll})
	case EventHostRemove:
		return decodeInto(msg.Data, HostCommand{Action: HostActionRemove})
	case EventHostLockMeeting:
		return decodeInto(msg.Data, HostCommand{Action: HostActionLock})
	case EventHostUnlockMeeting:
		return decodeInto(msg.Data, HostCommand{Action: HostActionUnlock})
	case EventLeaveRoom:
		return decodeInto(msg.Data, LeaveRoom{})
	case EventPingCheck:
		return PingCheck{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, msg.Event)
}

// Outbound payloads.

type ParticipantInfo struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type Joined struct {
	RoomID       string `json:"roomId"`
	ConnectionID string `json:"connectionId"`
	HostUserID   string `json:"hostUserId"`
	InstanceID   string `json:"instanceId"`
}

type UserSignal struct {
	Signal         json.RawMessage `json:"signal"`
	From           string          `json:"from"`
	CallerUserID   string          `json:"callerUserId,omitempty"`
	CallerUserName string          `json:"callerUserName,omitempty"`
}

type SignalReceive struct {
	UserID string          `json:"userId"`
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

type ReturnedSignal struct {
	Signal json.RawMessage `json:"signal"`
	ID     string          `json:"id"`
}

type EmojiReceived struct {
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
}

type ChatMessageReceived struct {
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Timestamp int64  `json:"timestamp"`
}

type HandRaised struct {
	UserID    string `json:"userId"`
	IsRaised  bool   `json:"isRaised"`
	Timestamp int64  `json:"timestamp"`
}

type RecordingStateUpdate struct {
	UserID      string `json:"userId"`
	IsRecording bool   `json:"isRecording"`
	Timestamp   int64  `json:"timestamp"`
}

type RoomFull struct {
	RoomID   string `json:"roomId"`
	Capacity int    `json:"capacity"`
}

type RoomLocked struct {
	RoomID string `json:"roomId"`
}

type RateLimited struct {
	Event        string `json:"event"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

type ForceMute struct {
	FromHost  string `json:"fromHost"`
	Timestamp int64  `json:"timestamp"`
}

type RemovedByHost struct {
	Reason string `json:"reason"`
}

type MeetingLocked struct {
	Locked bool   `json:"locked"`
	ByHost string `json:"byHost"`
}

type HostChanged struct {
	RoomID     string `json:"roomId"`
	HostUserID string `json:"hostUserId"`
}

type PongCheck struct {
	ServerTs   int64  `json:"serverTs"`
	InstanceID string `json:"instanceId"`
}

type ErrorMessage struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
