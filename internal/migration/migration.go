package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	activitydomain "github.com/smallbiznis/creatorops/internal/activity/domain"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	lifecycledomain "github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	taskdomain "github.com/smallbiznis/creatorops/internal/task/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models lists every table the engine owns.
func Models() []any {
	return []any{
		&entitydomain.Entity{},
		&activitydomain.Record{},
		&registrydomain.Document{},
		&auditdomain.AuditRecord{},
		&lifecycledomain.Record{},
		&lifecycledomain.History{},
		&taskdomain.Task{},
	}
}

// RunMigrations applies the embedded SQL migrations to a postgres database.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the models on sqlite and mysql, where
// the postgres SQL does not apply.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
