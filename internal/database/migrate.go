package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/redmonkez12/accountd/internal/database/migrations"
)

// Migration directions accepted by Migrate.
const (
	MigrateUp     = "up"
	MigrateDown   = "down"
	MigrateStatus = "status"
)

// Seams for testing the goose calls.
var (
	gooseUp     = goose.UpContext
	gooseDown   = goose.DownContext
	gooseStatus = goose.StatusContext
)

var gooseInit sync.Once

func setupGoose() error {
	var err error
	gooseInit.Do(func() {
		goose.SetBaseFS(migrations.FS)
		err = goose.SetDialect("postgres")
	})
	return err
}

// Migrate runs the embedded migrations in the given direction.
// "down" rolls back a single migration.
func Migrate(ctx context.Context, db *sql.DB, direction string) error {
	if err := setupGoose(); err != nil {
		return fmt.Errorf("failed to configure migrations: %w", err)
	}

	var run func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error
	switch direction {
	case MigrateUp:
		run = gooseUp
	case MigrateDown:
		run = gooseDown
	case MigrateStatus:
		run = gooseStatus
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}

	if err := run(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", direction, err)
	}
	return nil
}
