package migration

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrSchemaVersionMismatch  = errors.New("schema_version_mismatch")
	ErrSchemaChecksumMismatch = errors.New("schema_checksum_mismatch")
)

// SchemaGate refuses to serve traffic against a schema other than the one
// embedded in this binary.
type SchemaGate struct {
	db               *gorm.DB
	log              *zap.Logger
	expectedVersion  string
	expectedChecksum string
}

func NewSchemaGate(db *gorm.DB, log *zap.Logger) (*SchemaGate, error) {
	if db == nil {
		return nil, errors.New("schema gate requires database handle")
	}
	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return nil, err
	}
	checksum, err := MigrationsChecksum()
	if err != nil {
		return nil, err
	}
	return &SchemaGate{
		db:               db,
		log:              log.Named("migration.gate"),
		expectedVersion:  strconv.FormatUint(uint64(latestVersion), 10),
		expectedChecksum: checksum,
	}, nil
}

// MustBeActive checks schema_state. A local sqlite database is migrated in
// place first.
func (g *SchemaGate) MustBeActive(ctx context.Context) error {
	if g.db.Dialector.Name() == dialectSQLite {
		if err := Run(ctx, g.db, g.log); err != nil {
			return err
		}
	}
	return g.check(ctx)
}

func (g *SchemaGate) check(ctx context.Context) error {
	state, err := LoadSchemaState(ctx, g.db)
	if err != nil {
		return fmt.Errorf("%w: run the migrate command first", err)
	}
	if state.SchemaVersion != g.expectedVersion {
		return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaVersionMismatch, state.SchemaVersion, g.expectedVersion)
	}
	if state.Checksum != nil && *state.Checksum != g.expectedChecksum {
		return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaChecksumMismatch, *state.Checksum, g.expectedChecksum)
	}
	return nil
}

func EnforceSchemaGate(lc fx.Lifecycle, gate *SchemaGate) {
	lc.Append(fx.Hook{
		OnStart: gate.MustBeActive,
	})
}
