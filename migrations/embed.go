// Package migrations embeds the SQL migration files into the binary, so
// the proxy runs its own schema upgrades without shipping loose .sql
// files alongside the executable.
package migrations

import (
	"embed"

	"github.com/nerrad567/voltson-proxy/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
