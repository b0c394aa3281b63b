package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/cylance/MarkovObfuscate/internal/platform/config"
)

// InitSQLite opens (creating if necessary) the local SQLite database and
// bootstraps the schema used to persist trained models and their adjacency
// tables, sizing the connection pool from cfg. A nil cfg falls back to
// config.DefaultConfig().
func InitSQLite(dbPath string, cfg *config.Config) (*sql.DB, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(cfg.StoreMaxOpenConns)
	db.SetMaxIdleConns(cfg.StoreMaxIdleConns)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := createSchemas(db); err != nil {
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}

	return db, nil
}

func createSchemas(db *sql.DB) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS models (
			name TEXT PRIMARY KEY,
			base INTEGER NOT NULL,
			formatter TEXT NOT NULL,
			token_count INTEGER NOT NULL DEFAULT 0,
			corpus_bytes INTEGER NOT NULL DEFAULT 0,
			trained_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS model_edges (
			model_name TEXT NOT NULL,
			from_token TEXT NOT NULL,
			to_token TEXT NOT NULL,
			count INTEGER NOT NULL,
			FOREIGN KEY (model_name) REFERENCES models(name)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_model_edges_name ON model_edges(model_name);`,
	}

	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
