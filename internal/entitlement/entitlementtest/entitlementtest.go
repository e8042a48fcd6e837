// Package entitlementtest opens throwaway sqlite databases with the
// entitlements schema for tests in other packages.
package entitlementtest

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/insightpass/internal/entitlement/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB returns an in-memory database private to t. A single connection is
// used so concurrent callers serialize instead of tripping sqlite locks.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&domain.Entitlement{}))
	return db
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Seed writes e directly, bypassing repository checks, so tests can create
// rows the service would never produce.
func Seed(t testing.TB, db *gorm.DB, node *snowflake.Node, e domain.Entitlement) domain.Entitlement {
	t.Helper()
	if e.ID == 0 {
		e.ID = node.Generate()
	}
	if e.Status == "" {
		e.Status = domain.StatusActive
	}
	if e.PurchasedAt.IsZero() {
		e.PurchasedAt = time.Now().UTC()
	}
	require.NoError(t, db.Create(&e).Error)
	return e
}

func Ptr[T any](v T) *T { return &v }
