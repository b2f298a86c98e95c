package pgx

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tapestry-hq/tapestry/backend/pkg/logger"
	"github.com/tapestry-hq/tapestry/backend/pkg/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// GraphDBStorage implements store.Storage on top of a pgx connection pool.
// Dedup invariants (entity key, mention identity, relationship pair) are
// enforced by unique constraints, so concurrent writers resolve at the
// database rather than in application code.
type GraphDBStorage struct {
	conn              *pgxpool.Pool
	relationshipLimit int
}

// NewGraphDBStorageParams contains configuration for creating a GraphDBStorage.
type NewGraphDBStorageParams struct {
	Conn              *pgxpool.Pool
	RelationshipLimit int
}

// NewGraphDBStorage creates a storage handle backed by the given pool.
func NewGraphDBStorage(params NewGraphDBStorageParams) *GraphDBStorage {
	return &GraphDBStorage{
		conn:              params.Conn,
		relationshipLimit: params.RelationshipLimit,
	}
}

var _ store.Storage = (*GraphDBStorage)(nil)

// RunMigrations applies the embedded schema migrations against the database.
func RunMigrations(databaseURL string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Database migrations up to date")
	return nil
}

// nullIfEmpty maps an empty string to SQL NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// orEmpty maps SQL NULL back to an empty string.
func orEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
