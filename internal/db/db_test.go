package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mofadvisor/internal/config"
)

func TestBuildDSN(t *testing.T) {
	require.Equal(t, "postgres://u@h/db", buildDSN(config.DatabaseConfig{DSN: " postgres://u@h/db ", Host: "ignored"}))
	require.Equal(t,
		"host=db port=5432 user=mof password=pw dbname=mof sslmode=disable",
		buildDSN(config.DatabaseConfig{Host: "db", User: "mof", Password: "pw", DBName: "mof"}),
	)
	require.Contains(t, buildDSN(config.DatabaseConfig{Host: "db", Port: 6543, SSLMode: "require"}), "port=6543")
}

func TestMigrationFilesSorted(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	require.Equal(t, "001_init.sql", files[0])
}
