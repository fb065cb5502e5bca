package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-events/internal/config"
	"ms-events/internal/logger"
	"ms-events/internal/models"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	maxConnectAttempts = 5
	connectRetryDelay  = 2 * time.Second
)

// Open connects to the configured store. SQLite gets its schema created in place;
// Postgres is expected to be migrated separately.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	if cfg.Driver == "sqlite" {
		db, err := OpenSQLite(cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		if err := CreateSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.LogDatabase("CONNECT", "sqlite", cfg.SQLiteDSN)
		return db, nil
	}
	return OpenPostgres(ctx, cfg, log)
}

func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	var sqldb *sql.DB
	var err error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.PingContext(ctx)
			if err == nil {
				break
			}
			sqldb.Close()
		}
		log.Warn("DATABASE", fmt.Sprintf("Postgres not ready (attempt %d/%d): %v", attempt, maxConnectAttempts, err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectRetryDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.LogDatabase("CONNECT", "postgres", "connection established")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// OpenSQLite opens a single-connection SQLite database. One connection keeps
// ":memory:" databases shared and serializes writers.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// CreateSchema creates the tables from the bun models. Postgres deployments use
// the embedded migrations instead.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range []interface{}{
		(*models.User)(nil),
		(*models.Event)(nil),
		(*models.EventAttendee)(nil),
	} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}
	return nil
}

// IsUniqueViolation recognises duplicate-key errors from either driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
