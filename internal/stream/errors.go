package stream

import "errors"

// Sentinel errors for stream lifecycle operations.
var (
	// ErrAlreadyRunning indicates Start was called on a started engine.
	ErrAlreadyRunning = errors.New("stream: already running")

	// ErrNotRunning indicates Stop was called on an engine that never
	// started or was already stopped.
	ErrNotRunning = errors.New("stream: not running")

	// ErrStopTimeout indicates the stream goroutine didn't exit within
	// the stop timeout.
	ErrStopTimeout = errors.New("stream: stop timed out")
)
