package websocket

import "errors"

var (
	ErrClientQueueFull = errors.New("client message queue is full")
	ErrClientClosed    = errors.New("client connection is closed")
	ErrInvalidEvent    = errors.New("invalid event format")
	ErrInvalidRoom     = errors.New("invalid room id")
)
