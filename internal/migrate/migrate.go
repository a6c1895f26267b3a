package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var embedMigrations embed.FS

func configureGoose(driver string) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetTableName("schema_migrations")

	switch driver {
	case "sqlite", "sqlite3":
		return goose.SetDialect("sqlite3")
	case "postgres", "pgx", "postgrespool":
		return goose.SetDialect("postgres")
	}
	return fmt.Errorf("unsupported driver for goose: %s", driver)
}

func migrationDir(driver string) string {
	if driver == "postgres" || driver == "pgx" || driver == "postgrespool" {
		return "migrations/postgres"
	}
	return "migrations/sqlite"
}

func openDB(driver, dsn string) (*sql.DB, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if dsn == "" && (driver == "sqlite" || driver == "sqlite3") {
		dsn = "energybill.db"
	}

	// Map our driver names onto registered database/sql drivers.
	switch driver {
	case "postgres", "postgrespool":
		driver = "pgx"
	case "sqlite3":
		driver = "sqlite"
	}

	return sql.Open(driver, dsn)
}

func run(ctx context.Context, driver, dsn string, fn func(*sql.DB, string) error) error {
	if err := configureGoose(driver); err != nil {
		return err
	}
	db, err := openDB(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", driver, err)
	}
	return fn(db, migrationDir(driver))
}

// Up applies all pending migrations.
func Up(ctx context.Context, driver, dsn string) error {
	return run(ctx, driver, dsn, func(db *sql.DB, dir string) error {
		return goose.UpContext(ctx, db, dir)
	})
}

// UpDB applies all pending migrations over an open connection, leaving it
// open.
func UpDB(ctx context.Context, db *sql.DB, driver string) error {
	if err := configureGoose(driver); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, migrationDir(driver))
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, driver, dsn string) error {
	return run(ctx, driver, dsn, func(db *sql.DB, dir string) error {
		return goose.DownContext(ctx, db, dir)
	})
}

// Status logs the applied state of every migration.
func Status(ctx context.Context, driver, dsn string) error {
	return run(ctx, driver, dsn, func(db *sql.DB, dir string) error {
		return goose.StatusContext(ctx, db, dir)
	})
}

// Supports reports whether driver has SQL migrations.
func Supports(driver string) bool {
	switch driver {
	case "sqlite", "sqlite3", "postgres", "pgx", "postgrespool":
		return true
	}
	return false
}
