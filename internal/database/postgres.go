package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds database configuration
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// DSN renders the lib/pq connection string
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// PostgresStore keeps entity state as JSONB rows
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects and prepares the schema
func OpenPostgres(ctx context.Context, cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := NewPostgresStore(db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := store.CreateTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateTables creates the state table
func (p *PostgresStore) CreateTables(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS entity_state (
		kind VARCHAR(64) NOT NULL,
		id VARCHAR(255) NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (kind, id)
	)`
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Load reads one entity
func (p *PostgresStore) Load(ctx context.Context, kind Kind, id string, v any) error {
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM entity_state WHERE kind = $1 AND id = $2`,
		string(kind), id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("query %s %s: %w", kind, id, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return nil
}

// Save upserts one entity
func (p *PostgresStore) Save(ctx context.Context, kind Kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	query := `INSERT INTO entity_state (kind, id, data, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`
	if _, err := p.db.ExecContext(ctx, query, string(kind), id, data); err != nil {
		return fmt.Errorf("save %s %s: %w", kind, id, err)
	}
	return nil
}

// Delete removes one entity
func (p *PostgresStore) Delete(ctx context.Context, kind Kind, id string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM entity_state WHERE kind = $1 AND id = $2`, string(kind), id,
	); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}

// Keys lists ids of one kind
func (p *PostgresStore) Keys(ctx context.Context, kind Kind) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id FROM entity_state WHERE kind = $1 ORDER BY id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		keys = append(keys, id)
	}
	return keys, rows.Err()
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
