// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveDocumentFeatures stores an extracted feature record, replacing
// any earlier extraction of the same document.
func (r *SQLRepository) SaveDocumentFeatures(ctx context.Context, tenantID string, features *domain.DocumentRiskFeatures) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if features.DocumentID == "" {
		return fmt.Errorf("%w: documentID is required", ErrInvalidInput)
	}

	featureJSON, _ := json.Marshal(features.Features)
	flagJSON, _ := json.Marshal(features.RiskFlags)

	query := `
		INSERT INTO document_features (
			document_id, tenant_id, client_company_id,
			features, risk_flags, risk_score, extracted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, document_id) DO UPDATE SET
			client_company_id = excluded.client_company_id,
			features = excluded.features,
			risk_flags = excluded.risk_flags,
			risk_score = excluded.risk_score,
			extracted_at = excluded.extracted_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		features.DocumentID, tenantID, features.ClientCompanyID,
		string(featureJSON), string(flagJSON), features.RiskScore,
		features.ExtractedAt,
	)
	return err
}

// GetDocumentFeatures retrieves a feature record with tenant isolation.
func (r *SQLRepository) GetDocumentFeatures(ctx context.Context, tenantID string, documentID string) (*domain.DocumentRiskFeatures, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT document_id, tenant_id, client_company_id,
			   features, risk_flags, risk_score, extracted_at
		FROM document_features
		WHERE tenant_id = ? AND document_id = ?
	`

	var f domain.DocumentRiskFeatures
	var featureJSON, flagJSON string
	var riskScore sql.NullFloat64

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, documentID).Scan(
		&f.DocumentID, &f.TenantID, &f.ClientCompanyID,
		&featureJSON, &flagJSON, &riskScore, &f.ExtractedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(featureJSON), &f.Features)
	if flagJSON != "" {
		json.Unmarshal([]byte(flagJSON), &f.RiskFlags)
	}
	if riskScore.Valid {
		f.RiskScore = &riskScore.Float64
	}

	return &f, nil
}

// SaveInvoice stores an invoice row with tenant isolation.
func (r *SQLRepository) SaveInvoice(ctx context.Context, tenantID string, inv *domain.Invoice) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO invoices (
			id, tenant_id, client_company_id, document_id, external_number,
			counterparty, amount, vat_rate, issue_date, due_date, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			client_company_id = excluded.client_company_id,
			document_id = excluded.document_id,
			external_number = excluded.external_number,
			counterparty = excluded.counterparty,
			amount = excluded.amount,
			vat_rate = excluded.vat_rate,
			issue_date = excluded.issue_date,
			due_date = excluded.due_date
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, tenantID, inv.ClientCompanyID, inv.DocumentID, inv.ExternalNumber,
		inv.Counterparty, inv.Amount, inv.VATRate,
		inv.IssueDate, inv.DueDate, inv.CreatedAt,
	)
	return err
}

// ListInvoicesByCompany retrieves a company's invoices issued since a cutoff.
func (r *SQLRepository) ListInvoicesByCompany(ctx context.Context, tenantID string, companyID string, since time.Time) ([]*domain.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, client_company_id, document_id, external_number,
			   counterparty, amount, vat_rate, issue_date, due_date, created_at
		FROM invoices
		WHERE tenant_id = ? AND client_company_id = ? AND issue_date >= ?
		ORDER BY issue_date DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, companyID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInvoices(rows)
}

// amountMatchEpsilon widens the candidate amount match to the same
// tolerance the duplicate detector applies, so rows differing only by
// float rounding still surface as candidates.
const amountMatchEpsilon = 0.005

// ListInvoicesByAmount retrieves invoices matching the amount within a
// rounding tolerance inside a date window, across all of the tenant's
// companies. Used for duplicate-invoice candidate lookup.
func (r *SQLRepository) ListInvoicesByAmount(ctx context.Context, tenantID string, amount float64, from, to time.Time) ([]*domain.Invoice, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, client_company_id, document_id, external_number,
			   counterparty, amount, vat_rate, issue_date, due_date, created_at
		FROM invoices
		WHERE tenant_id = ? AND amount BETWEEN ? AND ?
		  AND issue_date >= ? AND issue_date <= ?
		ORDER BY issue_date DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, amount-amountMatchEpsilon, amount+amountMatchEpsilon, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInvoices(rows)
}

// CountDuplicateExternalNumbers counts invoice numbers that appear on
// more than one invoice of the company since the cutoff.
func (r *SQLRepository) CountDuplicateExternalNumbers(ctx context.Context, tenantID string, companyID string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM (
			SELECT external_number
			FROM invoices
			WHERE tenant_id = ? AND client_company_id = ?
			  AND issue_date >= ?
			  AND external_number IS NOT NULL AND external_number != ''
			GROUP BY external_number
			HAVING COUNT(*) > 1
		) dupes
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, companyID, since).Scan(&count)
	return count, err
}

// SaveTransaction stores a booked transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, client_company_id, counterparty,
			amount, vat_rate, booked_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			client_company_id = excluded.client_company_id,
			counterparty = excluded.counterparty,
			amount = excluded.amount,
			vat_rate = excluded.vat_rate,
			booked_at = excluded.booked_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.ClientCompanyID, tx.Counterparty,
		tx.Amount, tx.VATRate, tx.BookedAt, tx.CreatedAt,
	)
	return err
}

// ListTransactionsByCompany retrieves a company's transactions booked since a cutoff.
func (r *SQLRepository) ListTransactionsByCompany(ctx context.Context, tenantID string, companyID string, since time.Time) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, client_company_id, counterparty,
			   amount, vat_rate, booked_at, created_at
		FROM transactions
		WHERE tenant_id = ? AND client_company_id = ? AND booked_at >= ?
		ORDER BY booked_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, companyID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListTransactionsByCounterparty retrieves all of a company's history
// with one counterparty, oldest first.
func (r *SQLRepository) ListTransactionsByCounterparty(ctx context.Context, tenantID string, companyID string, counterparty string) ([]*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, client_company_id, counterparty,
			   amount, vat_rate, booked_at, created_at
		FROM transactions
		WHERE tenant_id = ? AND client_company_id = ? AND counterparty = ?
		ORDER BY booked_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, companyID, counterparty)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// SaveRule stores a risk rule, keyed by (tenant, code).
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.RiskRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule.Code == "" {
		return fmt.Errorf("%w: rule code is required", ErrInvalidInput)
	}

	config, _ := json.Marshal(rule.Config)

	active := 0
	if rule.Active {
		active = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO risk_rules (
			code, tenant_id, scope, name, description, weight,
			default_severity, expression, config, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, code) DO UPDATE SET
			scope = excluded.scope,
			name = excluded.name,
			description = excluded.description,
			weight = excluded.weight,
			default_severity = excluded.default_severity,
			expression = excluded.expression,
			config = excluded.config,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Code, tenantID, rule.Scope, rule.Name, rule.Description, rule.Weight,
		rule.DefaultSeverity, rule.Expression, string(config), active,
		now, now,
	)
	return err
}

// GetRule retrieves a rule by code with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, code string) (*domain.RiskRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT code, tenant_id, scope, name, description, weight,
			   default_severity, expression, config, active, created_at, updated_at
		FROM risk_rules
		WHERE tenant_id = ? AND code = ?
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListActiveRules retrieves all active rules for a tenant, ordered by code.
func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID string) ([]*domain.RiskRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT code, tenant_id, scope, name, description, weight,
			   default_severity, expression, config, active, created_at, updated_at
		FROM risk_rules
		WHERE tenant_id = ? AND active = 1
		ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RiskRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// UpsertCurrentScore replaces the single current-score row for an
// entity in one statement. Last write wins.
func (r *SQLRepository) UpsertCurrentScore(ctx context.Context, tenantID string, score *domain.RiskScore) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if score.EntityID == "" {
		return fmt.Errorf("%w: entityID is required", ErrInvalidInput)
	}

	codes, _ := json.Marshal(score.TriggeredRuleCodes)
	degraded, _ := json.Marshal(score.DegradedSignals)

	query := `
		INSERT INTO risk_scores (
			tenant_id, entity_type, entity_id, score, severity,
			triggered_rule_codes, degraded_signals, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, entity_type, entity_id) DO UPDATE SET
			score = excluded.score,
			severity = excluded.severity,
			triggered_rule_codes = excluded.triggered_rule_codes,
			degraded_signals = excluded.degraded_signals,
			generated_at = excluded.generated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, score.EntityType, score.EntityID, score.Score, score.Severity,
		string(codes), string(degraded), score.GeneratedAt,
	)
	return err
}

// GetCurrentScore retrieves the current score of an entity.
func (r *SQLRepository) GetCurrentScore(ctx context.Context, tenantID string, entityType domain.EntityType, entityID string) (*domain.RiskScore, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT tenant_id, entity_type, entity_id, score, severity,
			   triggered_rule_codes, degraded_signals, generated_at
		FROM risk_scores
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
	`

	var s domain.RiskScore
	var codes, degraded string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, entityType, entityID).Scan(
		&s.TenantID, &s.EntityType, &s.EntityID, &s.Score, &s.Severity,
		&codes, &degraded, &s.GeneratedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(codes), &s.TriggeredRuleCodes)
	if degraded != "" {
		json.Unmarshal([]byte(degraded), &s.DegradedSignals)
	}

	return &s, nil
}

// CountDocumentScoresBySeverity counts a company's documents whose
// current score sits at the given severity, limited to documents
// evaluated since the cutoff.
func (r *SQLRepository) CountDocumentScoresBySeverity(ctx context.Context, tenantID string, companyID string, severity domain.Severity, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM risk_scores s
		JOIN document_features f
		  ON f.tenant_id = s.tenant_id AND f.document_id = s.entity_id
		WHERE s.tenant_id = ? AND s.entity_type = ?
		  AND f.client_company_id = ?
		  AND s.severity = ? AND s.generated_at >= ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		tenantID, domain.EntityDocument, companyID, severity, since,
	).Scan(&count)
	return count, err
}

// CountHighRiskInvoices counts a company's invoices whose source
// document currently scores high severity.
func (r *SQLRepository) CountHighRiskInvoices(ctx context.Context, tenantID string, companyID string, since time.Time) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM invoices i
		JOIN risk_scores s
		  ON s.tenant_id = i.tenant_id
		 AND s.entity_type = ?
		 AND s.entity_id = i.document_id
		WHERE i.tenant_id = ? AND i.client_company_id = ?
		  AND i.issue_date >= ?
		  AND s.severity = ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		domain.EntityDocument, tenantID, companyID, since, domain.SeverityHigh,
	).Scan(&count)
	return count, err
}

// AppendHistory inserts an immutable history entry.
func (r *SQLRepository) AppendHistory(ctx context.Context, tenantID string, entry *domain.HistoryEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO risk_score_history (
			id, tenant_id, entity_type, entity_id, score, severity, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, tenantID, entry.EntityType, entry.EntityID,
		entry.Score, entry.Severity, entry.CreatedAt,
	)
	return err
}

// ListHistory retrieves an entity's score history since a cutoff,
// oldest first.
func (r *SQLRepository) ListHistory(ctx context.Context, tenantID string, entityType domain.EntityType, entityID string, since time.Time) ([]*domain.HistoryEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, entity_type, entity_id, score, severity, created_at
		FROM risk_score_history
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ? AND created_at >= ?
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, entityType, entityID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.EntityType, &e.EntityID,
			&e.Score, &e.Severity, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.RiskRule, error) {
	var rule domain.RiskRule
	var config sql.NullString
	var active int

	if err := row.Scan(
		&rule.Code, &rule.TenantID, &rule.Scope, &rule.Name, &rule.Description,
		&rule.Weight, &rule.DefaultSeverity, &rule.Expression, &config, &active,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Active = active == 1
	if config.Valid && config.String != "" {
		json.Unmarshal([]byte(config.String), &rule.Config)
	}

	return &rule, nil
}

func scanInvoices(rows *sql.Rows) ([]*domain.Invoice, error) {
	var invoices []*domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		var documentID, externalNumber, counterparty sql.NullString
		var dueDate sql.NullTime

		if err := rows.Scan(
			&inv.ID, &inv.TenantID, &inv.ClientCompanyID, &documentID, &externalNumber,
			&counterparty, &inv.Amount, &inv.VATRate,
			&inv.IssueDate, &dueDate, &inv.CreatedAt,
		); err != nil {
			return nil, err
		}

		inv.DocumentID = documentID.String
		inv.ExternalNumber = externalNumber.String
		inv.Counterparty = counterparty.String
		if dueDate.Valid {
			inv.DueDate = dueDate.Time
		}
		invoices = append(invoices, &inv)
	}
	return invoices, rows.Err()
}

func scanTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var transactions []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var counterparty sql.NullString

		if err := rows.Scan(
			&tx.ID, &tx.TenantID, &tx.ClientCompanyID, &counterparty,
			&tx.Amount, &tx.VATRate, &tx.BookedAt, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}

		tx.Counterparty = counterparty.String
		transactions = append(transactions, &tx)
	}
	return transactions, rows.Err()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
