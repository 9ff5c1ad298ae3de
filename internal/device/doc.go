// Package device provides the terminal registry for the ESSL agent.
//
// The registry is the catalogue of biometric terminals the agent manages.
// It owns the binding between persisted device records and their drivers,
// serialises command traffic so each terminal handles one session at a
// time, and exposes the fixed operation surface the central server may
// invoke (user management, attendance reads, door and maintenance
// actions).
//
// # Lookup order
//
// Commands address a terminal by device_id first, then by IP address, and
// finally fall through to an ad-hoc driver for unregistered terminals.
// The ad-hoc path is logged: it keeps one-off commands working during
// commissioning but skips last_seen bookkeeping.
//
// # Error model
//
// Execute never returns a Go error. Every outcome is an OpResult whose
// ErrorKind classifies the failure (unknown_operation, parameter_error,
// device_error) so the central server can react without parsing strings.
package device
