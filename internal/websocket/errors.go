package websocket

import "errors"

var (
	ErrClientQueueFull   = errors.New("client message queue is full")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrHubStopped        = errors.New("hub stopped")
)
