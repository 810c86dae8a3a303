package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"craftshop/storefront/config"
	"craftshop/storefront/logging"
)

type DBClient struct {
	DB *sql.DB
}

func NewPostgresDB(cfg config.PostgresConfig) (*DBClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres url is not set")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("error opening database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database (ping failed): %w", err)
	}

	logging.Info().Msg("connected to PostgreSQL")
	return &DBClient{DB: db}, nil
}

func (c *DBClient) Close() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logging.Warn().Err(err).Msg("error closing PostgreSQL connection")
			return
		}
		logging.Info().Msg("PostgreSQL connection closed")
	}
}
