package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/yourusername/rally-coach/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL for the players and matches tables
func Schema() string {
	return schemaSQL
}

// Initialize creates a database connection pool and ensures the history tables exist
func Initialize(ctx context.Context, cfg *config.Config) (*DB, error) {
	db, err := NewDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// EnsureSchema creates missing tables and indexes
func EnsureSchema(ctx context.Context, db *DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
