package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	entdomain "github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// Run brings the schema up to the embedded version and records it in
// schema_state. Postgres goes through golang-migrate under an advisory lock;
// sqlite is only used locally and relies on AutoMigrate.
func Run(ctx context.Context, conn *gorm.DB, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	checksum, err := MigrationsChecksum()
	if err != nil {
		return err
	}

	dialect := conn.Dialector.Name()
	switch dialect {
	case dialectPostgres:
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(ctx, sqlDB, latestVersion); err != nil {
			return err
		}
	case dialectSQLite:
		if err := conn.WithContext(ctx).AutoMigrate(&entdomain.Entitlement{}, &SchemaState{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	default:
		return fmt.Errorf("unsupported migration dialect %q", dialect)
	}

	version := strconv.FormatUint(uint64(latestVersion), 10)
	if err := recordSchemaState(ctx, conn, version, checksum, time.Now()); err != nil {
		return err
	}
	log.Info("schema up to date",
		zap.String("dialect", dialect),
		zap.String("schema_version", version),
		zap.String("checksum", checksum))
	return nil
}

// RunMigrations applies all embedded migrations against postgres. It must be
// run explicitly by the migrate entrypoint.
func RunMigrations(ctx context.Context, db *sql.DB, latestVersion uint) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	unlock, err := acquireAdvisoryLock(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		_ = unlock(context.Background())
	}()

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

	migrator, err := migrate.NewWithInstance("iofs", source, dialectPostgres, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}

	currentVersion, err := ensureNotDirty(migrator)
	if err != nil {
		return err
	}
	if currentVersion != latestVersion {
		return fmt.Errorf("schema version mismatch after migrate: got %d want %d", currentVersion, latestVersion)
	}
	return nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	if migrator == nil {
		return 0, errors.New("migrator is required")
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}
