package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidIdentity = errors.New("invalid_identity")

type Params struct {
	fx.In

	Repo domain.Repository
	Log  *zap.Logger
}

// Migrator moves everything a device owns to the user that device signed in as.
type Migrator struct {
	repo domain.Repository
	log  *zap.Logger
}

func NewMigrator(p Params) *Migrator {
	return &Migrator{
		repo: p.Repo,
		log:  p.Log.Named("identity.migrator"),
	}
}

// Migrate reassigns every entitlement owned by deviceID to userID in a single
// transaction. Afterwards the device owns nothing.
func (m *Migrator) Migrate(ctx context.Context, deviceID, userID string) (int64, error) {
	deviceID = strings.TrimSpace(deviceID)
	userID = strings.TrimSpace(userID)
	if deviceID == "" || userID == "" {
		return 0, ErrInvalidIdentity
	}
	if deviceID == userID {
		return 0, fmt.Errorf("%w: device and user ids are equal", ErrInvalidIdentity)
	}

	moved, err := m.repo.ReassignOwner(ctx, deviceID, userID)
	if err != nil {
		return 0, fmt.Errorf("migrate device %s: %w", deviceID, err)
	}
	if moved > 0 {
		m.log.Info("device entitlements migrated",
			zap.String("device_id", deviceID),
			zap.String("user_id", userID),
			zap.Int64("moved", moved))
	}
	return moved, nil
}

// MigrateOnAuth is called from sign-up and sign-in. The account is valid
// without the device's purchases, so a failure is logged and never returned.
func (m *Migrator) MigrateOnAuth(ctx context.Context, deviceID, userID string) {
	if strings.TrimSpace(deviceID) == "" {
		return
	}
	if _, err := m.Migrate(ctx, deviceID, userID); err != nil {
		fields := []zap.Field{
			zap.String("device_id", deviceID),
			zap.String("user_id", userID),
			zap.Error(err),
		}
		if pending, listErr := m.repo.ListByOwner(ctx, domain.DeviceOwner(deviceID)); listErr == nil {
			fields = append(fields, zap.Int("pending_entitlements", len(pending)))
		}
		m.log.Warn("identity migration failed; continuing auth", fields...)
	}
}
