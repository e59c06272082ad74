package domain

import "errors"

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrCorruptRecord      = errors.New("corrupt record")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrStageFailed        = errors.New("stage failed")
	ErrTaskAlreadyRunning = errors.New("task already running")
	ErrProviderFailure    = errors.New("provider failure")
)
