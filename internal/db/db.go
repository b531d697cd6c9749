package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"branch-ops/internal/logging"
	"branch-ops/internal/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Querier is satisfied by *sql.DB and *sql.Tx so read helpers and engine
// steps run unchanged inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func Connect(ctx context.Context, databaseURL string, pool PoolConfig) (*sql.DB, error) {
	conn, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logging.Info().Int("max_open_conns", pool.MaxOpenConns).Msg("Database connection established")
	return conn, nil
}

// Gateway owns the pool and hands out scoped transactions.
type Gateway struct {
	DB *sql.DB
}

func NewGateway(conn *sql.DB) *Gateway {
	return &Gateway{DB: conn}
}

// WithTx runs fn inside a transaction. fn's error, or a panic, rolls the
// transaction back; the panic is re-raised after rollback. The connection is
// returned to the pool on every path.
func (g *Gateway) WithTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) (err error) {
	start := time.Now()
	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			metrics.RecordTx(operation, time.Since(start), fmt.Errorf("panic: %v", p))
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logging.Ctx(ctx).Error().Err(rbErr).Str("operation", operation).Msg("rollback failed")
			}
		}
		metrics.RecordTx(operation, time.Since(start), err)
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (g *Gateway) Close() error {
	if g.DB != nil {
		return g.DB.Close()
	}
	return nil
}
