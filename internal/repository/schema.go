package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    username TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    email TEXT,
    full_name TEXT,
    role TEXT NOT NULL DEFAULT 'credit_officer',
    created_at TIMESTAMP NOT NULL
);
`

// schemaAssessments keeps the key profile columns alongside the full profile
// JSON so portfolio aggregates stay in SQL.
const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    applicant_name TEXT,
    officer_username TEXT,
    timestamp TIMESTAMP NOT NULL,
    age INTEGER NOT NULL,
    gender TEXT NOT NULL,
    employment_type TEXT NOT NULL,
    monthly_income REAL NOT NULL,
    loan_amount REAL NOT NULL,
    purpose TEXT NOT NULL,
    final_decision TEXT NOT NULL,
    default_probability REAL NOT NULL,
    raw_prediction INTEGER NOT NULL,
    critical_violations INTEGER NOT NULL,
    overridden INTEGER NOT NULL DEFAULT 0,
    flags TEXT NOT NULL,
    profile TEXT NOT NULL,
    model_version TEXT NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_decision ON assessments(tenant_id, final_decision);
CREATE INDEX IF NOT EXISTS idx_assessments_officer ON assessments(tenant_id, officer_username);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(tenant_id, timestamp);
`

const schemaBorrowers = `
CREATE TABLE IF NOT EXISTS borrowers (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    borrower_id TEXT NOT NULL,
    name TEXT NOT NULL,
    current_risk_level TEXT NOT NULL,
    repayment_history_score REAL NOT NULL,
    officer_username TEXT,
    last_updated TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, borrower_id)
);

CREATE INDEX IF NOT EXISTS idx_borrowers_tenant ON borrowers(tenant_id);
CREATE INDEX IF NOT EXISTS idx_borrowers_risk ON borrowers(tenant_id, current_risk_level);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaAssessments,
		schemaBorrowers,
	}
}
