package services

import (
	"errors"

	"github.com/thereayou/wizard-rooms/internal/store"
)

var (
	ErrRoomNotFound       = store.ErrRoomNotFound
	ErrStorageUnavailable = store.ErrStorageUnavailable

	ErrInvalidRoomCode = errors.New("invalid room code")
	ErrInvalidUserName = errors.New("invalid user name")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrWrongPassword   = errors.New("wrong room password")
	ErrNotInRoom       = errors.New("not joined to this room")
	ErrNotHost         = errors.New("only the host can do this")
)
