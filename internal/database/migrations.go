package database

import (
	"embed"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsFS возвращает встроенные миграции схемы reader-service.
// Применяются через pkg/migration при старте сервиса.
func MigrationsFS() embed.FS {
	return migrationsFS
}
