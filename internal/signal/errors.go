package signal

import "errors"

var (
	ErrNotInRoom      = errors.New("connection has not joined a room")
	ErrRoomMismatch   = errors.New("roomId does not match the joined room")
	ErrMissingSignal  = errors.New("missing signal payload")
	ErrMissingTarget  = errors.New("missing signal target")
	ErrTargetNotFound = errors.New("target not found")
	ErrNotHost        = errors.New("only the host can moderate the meeting")
	ErrSelfRemoval    = errors.New("host cannot remove themselves")
	ErrEmptyMessage   = errors.New("empty message")
	ErrInvalidEmoji   = errors.New("invalid emoji")
)
