// Package domain defines the core interfaces and types for Cadence.
package domain

import (
	"context"
	"time"
)

// SampleStore is the account-scoped keystroke history store.
// All methods require tenantID for strict multi-tenancy isolation.
type SampleStore interface {
	// AppendSample durably stores a raw keystroke string for an account.
	AppendSample(ctx context.Context, tenantID string, accountID string, raw string) error

	// FetchRecent returns up to limit raw samples for an account, newest first.
	// An empty result is valid for a new account.
	FetchRecent(ctx context.Context, tenantID string, accountID string, limit int) ([]string, error)

	// DeleteSamples removes the whole history of an account and reports how
	// many samples it held.
	DeleteSamples(ctx context.Context, tenantID string, accountID string) (int64, error)

	// Verification audit records
	SaveVerification(ctx context.Context, tenantID string, v *Verification) error
	GetVerification(ctx context.Context, tenantID string, verificationID string) (*Verification, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "mysql"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgresPort"`
	PostgresUser     string `mapstructure:"postgresUser"`
	PostgresPassword string `mapstructure:"postgresPassword"`
	PostgresDB       string `mapstructure:"postgresDb"`
	PostgresSSLMode  string `mapstructure:"postgresSslMode"`

	// MySQL specific
	MySQLAddr     string `mapstructure:"mysqlAddr"`
	MySQLUser     string `mapstructure:"mysqlUser"`
	MySQLPassword string `mapstructure:"mysqlPassword"`
	MySQLDB       string `mapstructure:"mysqlDb"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}
