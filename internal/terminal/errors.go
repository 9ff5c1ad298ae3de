package terminal

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by terminal drivers.
var (
	// ErrNotConnected indicates an operation was attempted before Connect.
	ErrNotConnected = errors.New("terminal: not connected")

	// ErrUserNotFound indicates the referenced user does not exist on the terminal.
	ErrUserNotFound = errors.New("terminal: user not found")

	// ErrUserExists indicates a create collided with an existing user_id.
	ErrUserExists = errors.New("terminal: user already exists")

	// ErrInvalidDuration indicates an unlock duration outside 1-60 seconds.
	ErrInvalidDuration = errors.New("terminal: unlock duration must be 1-60 seconds")
)

// DeviceError wraps a failure reported by (or on the way to) a terminal.
// It is the only error kind drivers surface for hardware and transport
// faults, so callers can classify failures with errors.As.
type DeviceError struct {
	// Address identifies the terminal.
	Address string

	// Op is the operation that failed, e.g. "connect" or "get_users".
	Op string

	// Err is the underlying cause.
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("terminal %s: %s: %v", e.Address, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// newDeviceError wraps err for the given terminal and operation.
func newDeviceError(address, op string, err error) *DeviceError {
	return &DeviceError{Address: address, Op: op, Err: err}
}
