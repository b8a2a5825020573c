package exception

import "github.com/yanun0323/errors"

var (
	ErrQueueFull      = errors.New("recorder: queue full")
	ErrClosed         = errors.New("recorder: writer closed")
	ErrNotStarted     = errors.New("recorder: writer not started")
	ErrAlreadyStarted = errors.New("recorder: writer already started")
)
