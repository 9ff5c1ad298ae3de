// Package database provides SQLite connection management and schema
// migrations for the ESSL agent.
//
// The agent keeps a single small database holding the device registry.
// SQLite is opened in WAL mode with a busy timeout and a single-writer
// connection pool. Migrations are embedded in the binary by the top-level
// migrations package and applied at startup.
package database
