package league

import (
	"database/sql"
	"embed"

	"github.com/nao1215/rinkhub/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// initSchema はマイグレーションを適用してスキーマを初期化する。
func initSchema(db *sql.DB) error {
	return migration.Run(db, migrationsFS, "migrations")
}
