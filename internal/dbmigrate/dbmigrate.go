// Package dbmigrate applies the embedded schema migrations with goose.
package dbmigrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the migration directory as an fs.FS rooted at the .sql
// files.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Up applies every pending migration and returns the versions it applied.
func Up(ctx context.Context, db *sql.DB, logger *zap.Logger) ([]int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return nil, fmt.Errorf("dbmigrate: provider: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbmigrate: up: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
		logger.Info("migration applied",
			zap.Int64("version", r.Source.Version),
			zap.String("path", r.Source.Path),
			zap.Duration("duration", r.Duration),
		)
	}
	return applied, nil
}

// UpDSN opens a database/sql handle on the pgx driver and runs Up.
func UpDSN(ctx context.Context, dsn string, logger *zap.Logger) ([]int64, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("dbmigrate: ping: %w", err)
	}
	return Up(ctx, db, logger)
}
