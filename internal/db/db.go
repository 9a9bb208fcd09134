package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jjudge-oj/authserver/config"
	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// Open returns a Postgres pool sized by cfg.Database. The pool is closed
// again if the server cannot be reached.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	pool, err := sql.Open("postgres", cfg.Database.URL())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	configurePool(pool, cfg.Database)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.PingContext(pingCtx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping postgres at %s:%d: %w", cfg.Database.Host, cfg.Database.Port, err)
	}
	return pool, nil
}

func configurePool(pool *sql.DB, cfg config.DatabaseConfig) {
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}
