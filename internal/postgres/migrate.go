package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"

	"github.com/MrSnakeDoc/shelf/internal/logger"
)

//go:embed migrations/*.sql
var embedded embed.FS

// ChangeChannel is the NOTIFY channel the bookmarks trigger publishes on.
const ChangeChannel = "bookmark_changes"

// Migrations returns the embedded migration files rooted at the migrations dir.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(fmt.Sprintf("postgres: embedded migrations: %v", err))
	}
	return sub
}

// Migrate applies every pending migration. goose needs a *sql.DB, so a
// short-lived database/sql handle is opened on the pgx driver.
func Migrate(ctx context.Context, dsn string, log logger.Logger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migration connection: %w", err)
	}

	// NewProvider handles $$-delimited PL/pgSQL bodies correctly.
	provider, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}

	for _, r := range results {
		log.Info("migration applied",
			logger.String("source", r.Source.Path),
			logger.Duration("duration", r.Duration))
	}
	if len(results) == 0 {
		log.Debug("database schema up to date")
	}
	return nil
}
