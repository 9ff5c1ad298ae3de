// Package terminal defines the driver boundary for ESSL/ZK-style
// biometric terminals.
//
// The agent never speaks the terminal wire protocol directly. It depends
// on the Capability interface, which covers session lifecycle, user
// management, attendance reads, live punch capture, and maintenance
// operations. Real drivers are supplied through a Factory; the package
// ships an in-memory Simulator for development and tests.
package terminal
