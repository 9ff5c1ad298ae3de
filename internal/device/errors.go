package device

import "errors"

// Sentinel errors for registry and repository operations.
// Use errors.Is to check for these conditions.
var (
	// ErrNotFound indicates the requested device doesn't exist in the registry.
	ErrNotFound = errors.New("device: not found")

	// ErrAlreadyExists indicates a registration collided with an existing device_id.
	ErrAlreadyExists = errors.New("device: already exists")

	// ErrInvalidRecord indicates a record failed validation.
	ErrInvalidRecord = errors.New("device: invalid record")
)
