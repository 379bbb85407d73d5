// Package db provides PostgreSQL persistence for Custard's two durable
// record types: Connection (an agent-backed data source) and FileMetadata
// (an uploaded CSV's blob-store pointer). Connection pool tuning (25 max
// open, 5 max idle, 5 min lifetime) and config-validation-before-dial
// keep connection strings free of injected values.
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection parameters.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps the connection pool serving Custard's control-plane
// persistence.
type Database struct {
	db *sql.DB
}

var (
	hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
	identRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// validateConfig rejects configuration values that could otherwise be used
// to inject options into the connection string.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil && !hostnameRegex.MatchString(config.Host) {
		return fmt.Errorf("invalid database host: %s", config.Host)
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" || !identRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}
	if config.DBName == "" || !identRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}
	return nil
}

// NewDatabase validates config, opens a pooled PostgreSQL connection, and
// pings it before returning — startup fails fast rather than serving
// traffic against an unreachable database.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB (typically a go-sqlmock
// connection) for dependency injection in tests. Not for production use.
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close releases the connection pool.
func (d *Database) Close() error { return d.db.Close() }

// DB returns the underlying *sql.DB for callers that need raw access
// (transactions spanning multiple statements).
func (d *Database) DB() *sql.DB { return d.db }

// Migrate creates Custard's schema if it does not already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			connection_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			db_type TEXT NOT NULL,
			owner_user_id TEXT NOT NULL,
			agent_key_hash TEXT NOT NULL,
			live_metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_owner ON connections (owner_user_id)`,

		`CREATE TABLE IF NOT EXISTS file_metadata (
			file_id TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			blob_key TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_file_metadata_owner ON file_metadata (owner_user_id)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}
