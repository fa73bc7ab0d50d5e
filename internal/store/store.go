// Package store provides Postgres-backed persistence for the page graph
// and the crawl-job ledger.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
)

// DB is the subset of pgxpool.Pool the store depends on; pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Config controls the Postgres connection pool and ledger behavior.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// StuckAfter is how long a job may sit in running before the sweep
	// forces it to error.
	StuckAfter time.Duration
}

// Store implements crawler.GraphStore and crawler.JobLedger on Postgres.
type Store struct {
	db         DB
	stuckAfter time.Duration
}

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newWithDB(pool, cfg.StuckAfter), nil
}

// NewWithDB constructs a Store from an existing pool (primarily for testing).
func NewWithDB(db DB, stuckAfter time.Duration) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return newWithDB(db, stuckAfter), nil
}

func newWithDB(db DB, stuckAfter time.Duration) *Store {
	if stuckAfter <= 0 {
		stuckAfter = 2 * time.Hour
	}
	return &Store{db: db, stuckAfter: stuckAfter}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func encodeCursor(c crawler.Cursor) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal cursor: %w", err)
	}
	return data, nil
}

func decodeCursor(data []byte) crawler.Cursor {
	if len(data) == 0 {
		return crawler.Cursor{}
	}
	var c crawler.Cursor
	// An unreadable cursor degrades to empty rather than failing the job.
	if err := json.Unmarshal(data, &c); err != nil {
		return crawler.Cursor{}
	}
	return c
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
