// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation;
// a cross-tenant lookup fails closed as ErrNotFound, never as a
// permission error, so existence in another tenant cannot leak.
type Repository interface {
	// Feature store (written by the upstream extraction step)
	SaveDocumentFeatures(ctx context.Context, tenantID string, features *DocumentRiskFeatures) error
	GetDocumentFeatures(ctx context.Context, tenantID string, documentID string) (*DocumentRiskFeatures, error)

	// Ledger reads (invoices and transactions are written by bookkeeping)
	SaveInvoice(ctx context.Context, tenantID string, inv *Invoice) error
	ListInvoicesByCompany(ctx context.Context, tenantID string, companyID string, since time.Time) ([]*Invoice, error)
	ListInvoicesByAmount(ctx context.Context, tenantID string, amount float64, from, to time.Time) ([]*Invoice, error)
	CountDuplicateExternalNumbers(ctx context.Context, tenantID string, companyID string, since time.Time) (int, error)

	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	ListTransactionsByCompany(ctx context.Context, tenantID string, companyID string, since time.Time) ([]*Transaction, error)
	ListTransactionsByCounterparty(ctx context.Context, tenantID string, companyID string, counterparty string) ([]*Transaction, error)

	// Rule catalog
	SaveRule(ctx context.Context, tenantID string, rule *RiskRule) error
	GetRule(ctx context.Context, tenantID string, code string) (*RiskRule, error)
	ListActiveRules(ctx context.Context, tenantID string) ([]*RiskRule, error)

	// Current scores: atomic upsert keyed by (tenant, entityType, entityId),
	// last-write-wins. Never a read-modify-write pair.
	UpsertCurrentScore(ctx context.Context, tenantID string, score *RiskScore) error
	GetCurrentScore(ctx context.Context, tenantID string, entityType EntityType, entityID string) (*RiskScore, error)

	// Document scores aggregated per company, used by the company evaluator.
	CountDocumentScoresBySeverity(ctx context.Context, tenantID string, companyID string, severity Severity, since time.Time) (int, error)
	CountHighRiskInvoices(ctx context.Context, tenantID string, companyID string, since time.Time) (int, error)

	// History: insert-only. No update or delete path exists.
	AppendHistory(ctx context.Context, tenantID string, entry *HistoryEntry) error
	ListHistory(ctx context.Context, tenantID string, entityType EntityType, entityID string, since time.Time) ([]*HistoryEntry, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
