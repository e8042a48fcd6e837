package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const schemaStateID = 1

// SchemaState is the single row recording which embedded schema the
// database was last brought up to.
type SchemaState struct {
	ID            int16     `gorm:"primaryKey;autoIncrement:false"`
	SchemaVersion string    `gorm:"type:text;not null"`
	Checksum      *string   `gorm:"type:text"`
	AppliedAt     time.Time `gorm:"not null"`
}

func (SchemaState) TableName() string { return "schema_state" }

var ErrSchemaStateNotFound = errors.New("schema_state_not_found")

func recordSchemaState(ctx context.Context, db *gorm.DB, version, checksum string, now time.Time) error {
	if db == nil {
		return errors.New("schema state requires database handle")
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return errors.New("schema version is required")
	}

	state := SchemaState{
		ID:            schemaStateID,
		SchemaVersion: version,
		Checksum:      nullIfEmpty(checksum),
		AppliedAt:     now.UTC(),
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"schema_version", "checksum", "applied_at"}),
		}).
		Create(&state).Error
	if err != nil {
		return fmt.Errorf("record schema state: %w", err)
	}
	return nil
}

// LoadSchemaState returns ErrSchemaStateNotFound before the first migrate.
func LoadSchemaState(ctx context.Context, db *gorm.DB) (*SchemaState, error) {
	var state SchemaState
	result := db.WithContext(ctx).
		Where("id = ?", schemaStateID).
		Limit(1).
		Find(&state)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrSchemaStateNotFound
	}
	state.SchemaVersion = strings.TrimSpace(state.SchemaVersion)
	return &state, nil
}

func nullIfEmpty(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
