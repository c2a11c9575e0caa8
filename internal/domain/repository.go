// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Tenant-scoped methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Assessment records
	SaveAssessment(ctx context.Context, tenantID string, a *Assessment) error
	GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*Assessment, error)
	ListAssessments(ctx context.Context, tenantID string, filter AssessmentFilter) ([]*Assessment, error)
	PortfolioSummary(ctx context.Context, tenantID string) (*PortfolioSummary, error)

	// Credit officer accounts (global, not tenant scoped)
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	UserExists(ctx context.Context, username string) (bool, error)
	CountUsers(ctx context.Context) (int, error)

	// Borrower monitoring
	SaveBorrower(ctx context.Context, tenantID string, b *Borrower) error
	ListBorrowers(ctx context.Context, tenantID string, riskLevel string, limit int) ([]*Borrower, error)
	BorrowerSummary(ctx context.Context, tenantID string) (*BorrowerSummary, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
