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
	adjustmentdomain "github.com/smallbiznis/repairpay/internal/adjustment/domain"
	auditdomain "github.com/smallbiznis/repairpay/internal/audit/domain"
	"github.com/smallbiznis/repairpay/internal/events"
	orderdomain "github.com/smallbiznis/repairpay/internal/order/domain"
	returnsdomain "github.com/smallbiznis/repairpay/internal/returns/domain"
	settlementdomain "github.com/smallbiznis/repairpay/internal/settlement/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres schema. Payroll tables are
// created on startup so a fresh database is usable without a separate step.
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

// Models lists every table owned by the payroll contexts.
func Models() []any {
	return []any{
		&orderdomain.Order{},
		&orderdomain.OrderNote{},
		&adjustmentdomain.SalaryAdjustment{},
		&adjustmentdomain.SalaryAdjustmentApplication{},
		&returnsdomain.ClosedReturn{},
		&settlementdomain.SalarySettlement{},
		&auditdomain.AuditLog{},
		&events.Record{},
	}
}

// AutoMigrate builds the schema from the models. Used for sqlite, where the
// postgres migrations do not apply.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	return db.AutoMigrate(Models()...)
}
