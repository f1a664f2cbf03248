package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/config"
	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

func NewConnection(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := Ping(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Ping checks connectivity with a bounded timeout; used at startup and by /healthz.
func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}
