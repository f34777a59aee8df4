package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool used for checkpoint rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostgresStore keeps snapshots as jsonb rows keyed by name. Each Save is a
// single upsert statement.
//
//	CREATE TABLE crawl_checkpoints (
//		name       text PRIMARY KEY,
//		snapshot   jsonb NOT NULL,
//		updated_at timestamptz NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	pool  pgxPool
	table string
}

// NewPostgresStore connects using cfg.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("checkpoint.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewPostgresStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPostgresStoreWithPool(pool pgxPool, table string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_checkpoints"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresStore{pool: pool, table: table}, nil
}

// Load reads the snapshot row of name.
func (s *PostgresStore) Load(ctx context.Context, name string) (Snapshot, bool, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE name = $1`, s.table)
	var data []byte
	if err := s.pool.QueryRow(ctx, query, name).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("select checkpoint: %w", err)
	}
	snap, err := Decode(data)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	return snap, true, nil
}

// Save upserts the snapshot row of name.
func (s *PostgresStore) Save(ctx context.Context, name string, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, snapshot, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, name, data); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
