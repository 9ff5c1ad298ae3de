// Package logging provides structured logging for the ESSL agent.
//
// It wraps the standard library slog package with configuration-driven
// level, format, and output selection, plus default service/version fields
// attached to every record.
package logging
