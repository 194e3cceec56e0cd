// Package postgres implements a Backend over a Postgres table, using sqlx
// for query execution and the lib/pq driver for the wire protocol.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/logx"

	"github.com/mike-north/vaultkeeper-sub000/backend"
	"github.com/mike-north/vaultkeeper-sub000/vaulterrors"
)

// Config describes how to reach a Postgres server.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c Config) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// Connect opens a pooled connection to Postgres and verifies it with a
// ping before returning.
func Connect(cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.dsn())
	if err != nil {
		logx.Errorf("failed to connect to postgres: %v", err)
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		logx.Errorf("failed to ping postgres: %v", err)
		return nil, fmt.Errorf("postgres: pinging: %w", err)
	}

	logx.Info("successfully connected to postgres")
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS vaultkeeper_secrets (
	id TEXT PRIMARY KEY,
	secret TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const (
	upsertQuery  = `INSERT INTO vaultkeeper_secrets (id, secret, created_at, updated_at) VALUES ($1, $2, now(), now()) ON CONFLICT (id) DO UPDATE SET secret = EXCLUDED.secret, updated_at = now()`
	selectQuery  = `SELECT secret FROM vaultkeeper_secrets WHERE id = $1`
	deleteQuery  = `DELETE FROM vaultkeeper_secrets WHERE id = $1`
	existsQuery  = `SELECT EXISTS(SELECT 1 FROM vaultkeeper_secrets WHERE id = $1)`
	listIDsQuery = `SELECT id FROM vaultkeeper_secrets ORDER BY id`
)

// Backend stores secrets in a single Postgres table, created on first use
// if it doesn't already exist.
type Backend struct {
	db *sqlx.DB
}

// New wraps an already-connected *sqlx.DB as a Backend, ensuring its
// backing table exists.
func New(db *sqlx.DB) (*Backend, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("postgres: ensuring schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// Factory builds a Backend from options {"host","port","user","password","dbname","sslmode"}.
func Factory(options map[string]any) (backend.Backend, error) {
	cfg := Config{
		Host:    stringOpt(options, "host", "localhost"),
		Port:    intOpt(options, "port", 5432),
		User:    stringOpt(options, "user", "postgres"),
		DBName:  stringOpt(options, "dbname", "vaultkeeper"),
		SSLMode: stringOpt(options, "sslmode", "disable"),
	}
	cfg.Password, _ = options["password"].(string)

	db, err := Connect(cfg)
	if err != nil {
		return nil, &vaulterrors.Setup{Dependency: "postgres", Err: err}
	}
	return New(db)
}

func stringOpt(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intOpt(m map[string]any, key string, def int) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return def
}

func (b *Backend) Type() string        { return "postgres" }
func (b *Backend) DisplayName() string { return "PostgreSQL" }

func (b *Backend) IsAvailable(ctx context.Context) bool {
	return b.db.PingContext(ctx) == nil
}

func (b *Backend) Store(ctx context.Context, id, secret string) error {
	if _, err := b.db.ExecContext(ctx, upsertQuery, id, secret); err != nil {
		logx.Errorf("postgres: failed to store secret %s: %v", id, err)
		return fmt.Errorf("postgres: store: %w", err)
	}
	return nil
}

func (b *Backend) Retrieve(ctx context.Context, id string) (string, error) {
	var secret string
	err := b.db.GetContext(ctx, &secret, selectQuery, id)
	if err == sql.ErrNoRows {
		return "", &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	if err != nil {
		logx.Errorf("postgres: failed to retrieve secret %s: %v", id, err)
		return "", fmt.Errorf("postgres: retrieve: %w", err)
	}
	return secret, nil
}

func (b *Backend) Delete(ctx context.Context, id string) error {
	res, err := b.db.ExecContext(ctx, deleteQuery, id)
	if err != nil {
		logx.Errorf("postgres: failed to delete secret %s: %v", id, err)
		return fmt.Errorf("postgres: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return &vaulterrors.SecretNotFound{Backend: b.Type(), ID: id}
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := b.db.GetContext(ctx, &exists, existsQuery, id); err != nil {
		return false, fmt.Errorf("postgres: exists: %w", err)
	}
	return exists, nil
}

func (b *Backend) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := b.db.SelectContext(ctx, &ids, listIDsQuery); err != nil {
		logx.Errorf("postgres: failed to list secrets: %v", err)
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	return ids, nil
}

var _ backend.Backend = (*Backend)(nil)
var _ backend.Listable = (*Backend)(nil)
