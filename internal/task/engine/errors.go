package engine

import "errors"

var (
	ErrStopped   = errors.New("dispatch engine stopped")
	ErrStopping  = errors.New("dispatch engine stopping")
	ErrQueueFull = errors.New("dispatch engine queue full")
	ErrNoRun     = errors.New("task Run is nil")
)
