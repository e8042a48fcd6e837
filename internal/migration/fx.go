package migration

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates on start; used by the migrate command.
var Module = fx.Module("migrations",
	fx.Invoke(func(lc fx.Lifecycle, conn *gorm.DB, log *zap.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return Run(ctx, conn, log.Named("migration"))
			},
		})
	}),
)

// GateModule blocks startup until the schema matches this binary.
var GateModule = fx.Module("migrations.gate",
	fx.Provide(NewSchemaGate),
	fx.Invoke(EnforceSchemaGate),
)
