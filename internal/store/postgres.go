package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig configures a PostgresStore.
type PostgresConfig struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// SchemaName is the schema holding the table. Defaults to "flowplan".
	SchemaName string
	// Table is the table name. Defaults to "records".
	Table string
	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.SchemaName == "" {
		c.SchemaName = "flowplan"
	}
	if c.Table == "" {
		c.Table = "records"
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

func (c PostgresConfig) validate() error {
	if c.ConnectionString == "" {
		return fmt.Errorf("store: PostgreSQL connection string is required")
	}
	if !identifier.MatchString(c.SchemaName) {
		return fmt.Errorf("store: invalid schema name %q", c.SchemaName)
	}
	if !identifier.MatchString(c.Table) {
		return fmt.Errorf("store: invalid table name %q", c.Table)
	}
	return nil
}

// PostgresStore keeps records in a PostgreSQL table, the body as JSONB.
type PostgresStore struct {
	sqlStore
	config PostgresConfig
}

// NewPostgresStore connects to the database and creates the schema and table
// when missing.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	s := &PostgresStore{sqlStore: sqlStore{db: db, q: postgresQueries(cfg)}, config: cfg}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// #nosec G201 - schema and table names are checked by validate()
func postgresQueries(cfg PostgresConfig) queries {
	table := cfg.SchemaName + "." + cfg.Table
	return queries{
		save: fmt.Sprintf(`INSERT INTO %s (uuid, flow, body, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (uuid) DO UPDATE SET flow = EXCLUDED.flow, body = EXCLUDED.body, updated_at = NOW()`, table),
		load:   fmt.Sprintf(`SELECT body FROM %s WHERE uuid = $1`, table),
		list:   fmt.Sprintf(`SELECT body FROM %s ORDER BY flow, uuid`, table),
		delete: fmt.Sprintf(`DELETE FROM %s WHERE uuid = $1`, table),
	}
}

func (s *PostgresStore) initSchema() error {
	// #nosec G201 - schema name is checked by validate()
	if _, err := s.db.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.config.SchemaName)); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	// #nosec G201 - schema and table names are checked by validate()
	_, err := s.db.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s.%[2]s (
		uuid UUID PRIMARY KEY,
		flow TEXT NOT NULL,
		body JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_%[2]s_flow ON %[1]s.%[2]s(flow);
	`, s.config.SchemaName, s.config.Table))
	return err
}
