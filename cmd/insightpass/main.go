package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/insightpass/internal/clock"
	"github.com/railzwaylabs/insightpass/internal/config"
	"github.com/railzwaylabs/insightpass/internal/entitlement"
	"github.com/railzwaylabs/insightpass/internal/identity"
	"github.com/railzwaylabs/insightpass/internal/migration"
	"github.com/railzwaylabs/insightpass/internal/observability"
	"github.com/railzwaylabs/insightpass/internal/payment"
	"github.com/railzwaylabs/insightpass/internal/ratelimit"
	"github.com/railzwaylabs/insightpass/internal/redis"
	"github.com/railzwaylabs/insightpass/internal/scheduler"
	"github.com/railzwaylabs/insightpass/internal/server"
	"github.com/railzwaylabs/insightpass/internal/validation"
	"github.com/railzwaylabs/insightpass/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "insightpass",
		Short:   "InsightPass payments and entitlements service",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newAllCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and record the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the payments and access API",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(serveOptions()).Run()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			fx.New(serveOptions()).Run()
			return nil
		},
	}
}

func migrateOptions() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)
}

func serveOptions() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		ratelimit.Module,
		fx.Provide(validation.New),
		migration.GateModule,
		entitlement.Module,
		identity.Module,
		payment.Module,
		scheduler.Module,
		server.Module,
		fx.Invoke(config.WatchRateLimit),
	)
}

func runMigrate() error {
	app := fx.New(migrateOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
