package core

import "errors"

var (
	ErrMissingData   = errors.New("missing required data")
	ErrMediaAccess   = errors.New("cannot access camera or microphone")
	ErrJoinFailed    = errors.New("error joining the room")
	ErrRoomFull      = errors.New("the room is full")
	ErrSessionClosed = errors.New("call session closed")
)
