package database

import (
	"context"
	"fmt"
	"time"

	"github.com/exagonbr/Portal-sub023/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// connectTimeout bounds the startup ping of each store
const connectTimeout = 5 * time.Second

// DB wraps the sqlx database connection
type DB struct {
	*sqlx.DB
}

// NewPostgresDB connects to the account database. The gate reads it on every
// cache miss, so the pool is sized for short, frequent queries.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	db, err := sqlx.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Health pings the database
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}
