package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"
)

func TestDriverURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/capquote?sslmode=disable", DriverURL("postgres://u:p@db:5432/capquote?sslmode=disable"))
	require.Equal(t, "pgx5://db/capquote", DriverURL("postgresql://db/capquote"))
	require.Equal(t, "pgx5://db/capquote", DriverURL("pgx5://db/capquote"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)

	src, err := iofs.New(files, "sql")
	require.NoError(t, err)
	first, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)
	next, err := src.Next(first)
	require.NoError(t, err)
	require.Equal(t, uint(2), next)
}

func TestOrdersSchemaCarriesSnapshotColumns(t *testing.T) {
	raw, err := fs.ReadFile(files, "sql/000002_orders.up.sql")
	require.NoError(t, err)
	for _, col := range []string{"cost_content_hash", "cached_total", "cached_units", "last_calculated_at", "mold_waivers"} {
		require.Contains(t, string(raw), col)
	}
}
