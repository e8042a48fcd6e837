package main

import (
	"testing"

	"github.com/railzwaylabs/insightpass/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func TestServeGraphResolves(t *testing.T) {
	require.NoError(t, fx.ValidateApp(serveOptions()))
}

func TestMigrateGraphResolves(t *testing.T) {
	require.NoError(t, fx.ValidateApp(migrateOptions()))
}

func TestRegisterSnowflakeRejectsOutOfRangeNode(t *testing.T) {
	_, err := registerSnowflake(config.Config{SnowflakeNode: 1 << 20})
	require.Error(t, err)

	node, err := registerSnowflake(config.Config{SnowflakeNode: 3})
	require.NoError(t, err)
	require.NotNil(t, node)
}

func TestRootCommands(t *testing.T) {
	t.Setenv("APP_VERSION", "1.2.3")
	root := newRootCmd()
	require.Equal(t, "1.2.3", root.Version)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.ElementsMatch(t, []string{"migrate", "serve", "all"}, names)
}
