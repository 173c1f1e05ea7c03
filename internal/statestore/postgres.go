package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/safar/storefront-core/internal/database"
)

// PostgresBackend keeps every state document in one table,
// upsert-on-write.
type PostgresBackend struct {
	db *sql.DB
}

const createTableSQL = `
	CREATE TABLE IF NOT EXISTS shop_kv (
		key        TEXT PRIMARY KEY,
		value_json TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

func NewPostgresBackend(ctx context.Context, db *sql.DB) (*PostgresBackend, error) {
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("create shop_kv table: %w", err)
	}
	return &PostgresBackend{db: db}, nil
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) Close() error { return p.db.Close() }

func (p *PostgresBackend) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value_json FROM shop_kv WHERE key = $1`, key).Scan(&value)
	if err != nil && database.IsRetryable(err) {
		err = p.db.QueryRowContext(ctx,
			`SELECT value_json FROM shop_kv WHERE key = $1`, key).Scan(&value)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select shop_kv: %w", err)
	}
	return json.RawMessage(value), nil
}

func (p *PostgresBackend) Set(ctx context.Context, key string, value json.RawMessage) error {
	return database.WithRetry(ctx, p.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO shop_kv (key, value_json, updated_at)
			 VALUES ($1, $2, NOW())
			 ON CONFLICT (key) DO UPDATE
			 SET value_json = EXCLUDED.value_json, updated_at = NOW()`,
			key, string(value))
		if err != nil {
			return fmt.Errorf("upsert shop_kv: %w", err)
		}
		return nil
	})
}

// SeedMissing fills absent keys from the file backend when a file
// counterpart exists, then from the hard-coded default. Runs in a
// single transaction: a partly seeded table never survives a failure,
// so moving from file to relational storage is non-destructive.
func (p *PostgresBackend) SeedMissing(ctx context.Context, files *FileBackend) error {
	return database.WithTransaction(ctx, p.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		for _, key := range knownKeys {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM shop_kv WHERE key = $1)`, key).Scan(&exists); err != nil {
				return fmt.Errorf("probe shop_kv: %w", err)
			}
			if exists {
				continue
			}

			value, ferr := files.Get(ctx, key)
			if errors.Is(ferr, ErrNotFound) || (ferr == nil && !ValidShape(key, value)) {
				value = DefaultFor(key)
			} else if ferr != nil {
				return ferr
			} else {
				log.Printf("Seeding state %q from file backend", key)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO shop_kv (key, value_json)
				 VALUES ($1, $2)
				 ON CONFLICT (key) DO NOTHING`,
				key, string(value)); err != nil {
				return fmt.Errorf("seed shop_kv: %w", err)
			}
		}
		return nil
	})
}
