package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaDocumentFeatures = `
CREATE TABLE IF NOT EXISTS document_features (
    document_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    client_company_id TEXT NOT NULL,
    features TEXT NOT NULL,
    risk_flags TEXT,
    risk_score REAL,
    extracted_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, document_id)
);

CREATE INDEX IF NOT EXISTS idx_document_features_company ON document_features(tenant_id, client_company_id);
`

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    client_company_id TEXT NOT NULL,
    document_id TEXT,
    external_number TEXT,
    counterparty TEXT,
    amount REAL NOT NULL,
    vat_rate REAL NOT NULL DEFAULT 0,
    issue_date TIMESTAMP NOT NULL,
    due_date TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_invoices_company ON invoices(tenant_id, client_company_id, issue_date);
CREATE INDEX IF NOT EXISTS idx_invoices_amount ON invoices(tenant_id, amount, issue_date);
CREATE INDEX IF NOT EXISTS idx_invoices_external ON invoices(tenant_id, client_company_id, external_number);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    client_company_id TEXT NOT NULL,
    counterparty TEXT,
    amount REAL NOT NULL,
    vat_rate REAL NOT NULL DEFAULT 0,
    booked_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_company ON transactions(tenant_id, client_company_id, booked_at);
CREATE INDEX IF NOT EXISTS idx_transactions_counterparty ON transactions(tenant_id, client_company_id, counterparty);
`

const schemaRiskRules = `
CREATE TABLE IF NOT EXISTS risk_rules (
    code TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    scope TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    weight REAL NOT NULL DEFAULT 0,
    default_severity TEXT NOT NULL DEFAULT 'low',
    expression TEXT,
    config TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, code)
);

CREATE INDEX IF NOT EXISTS idx_risk_rules_active ON risk_rules(tenant_id, active, scope);
`

// risk_scores holds exactly one current row per entity. Writers go
// through ON CONFLICT DO UPDATE so two concurrent evaluations resolve
// to last-write-wins without a read-modify-write window.
const schemaRiskScores = `
CREATE TABLE IF NOT EXISTS risk_scores (
    tenant_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    score REAL NOT NULL,
    severity TEXT NOT NULL,
    triggered_rule_codes TEXT NOT NULL,
    degraded_signals TEXT,
    generated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_risk_scores_severity ON risk_scores(tenant_id, entity_type, severity, generated_at);
`

// risk_score_history is insert-only. No update or delete statement
// in this package touches it.
const schemaRiskScoreHistory = `
CREATE TABLE IF NOT EXISTS risk_score_history (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    score REAL NOT NULL,
    severity TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_history_entity ON risk_score_history(tenant_id, entity_type, entity_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDocumentFeatures,
		schemaInvoices,
		schemaTransactions,
		schemaRiskRules,
		schemaRiskScores,
		schemaRiskScoreHistory,
	}
}
