// Package migrations holds the versioned schema of the event store for each dialect.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var embedMigrations embed.FS

// Dialect names a supported database
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Up applies every pending migration of the dialect to db
func Up(ctx context.Context, db *sql.DB, dialect Dialect) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	var gooseDialect string
	switch dialect {
	case DialectSQLite:
		gooseDialect = "sqlite3"
	case DialectPostgres:
		gooseDialect = "postgres"
	default:
		return fmt.Errorf("unsupported dialect %q", dialect)
	}

	if err := goose.SetDialect(gooseDialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, string(dialect)); err != nil {
		return fmt.Errorf("failed to migrate %s schema: %w", dialect, err)
	}
	return nil
}
