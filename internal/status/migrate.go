package status

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// NewMigrator returns a migrator for the SQL persistence backends.
func NewMigrator(persist, dsn string) (*migrate.Migrate, error) {
	var dir, dbURL string
	switch persist {
	case config.PersistSQLite:
		dir = "migrations/sqlite"
		dbURL = "sqlite://" + sqlitePath(dsn)
	case config.PersistPostgres:
		dir = "migrations/postgres"
		dbURL = pgxMigrateURL(dsn)
	default:
		return nil, fmt.Errorf("status persistence %q has no schema", persist)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration.
func MigrateUp(persist, dsn string) error {
	m, err := NewMigrator(persist, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// pgxMigrateURL rewrites a postgres:// DSN to the scheme the pgx/v5
// migrate driver registers.
func pgxMigrateURL(dsn string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}

const defaultSQLitePath = "ccproxy-status.db"

func sqlitePath(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if dsn == "" {
		return defaultSQLitePath
	}
	return dsn
}
