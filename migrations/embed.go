// Package migrations embeds SQL migration files into the binary.
//
// This lets the agent run migrations without the SQL files being present
// on the filesystem - they are compiled into the executable.
package migrations

import (
	"embed"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // Files are at root of embedded FS
}
