package worker

import "errors"

var (
	ErrNilProcessor       = errors.New("worker: nil processor")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrQueueFull          = errors.New("worker: queue full")
	ErrStopTimeout        = errors.New("worker: timed out waiting for workers")
)
