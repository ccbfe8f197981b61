package room

import "errors"

var (
	ErrRoomFull      = errors.New("room is full")
	ErrRoomLocked    = errors.New("room is locked")
	ErrInvalidRoomID = errors.New("invalid roomId")
	ErrInvalidUserID = errors.New("invalid userId")
)
