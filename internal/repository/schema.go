package repository

// Schema definitions for the Heron store.
// Compatible with both SQLite and PostgreSQL.

const schemaSubjects = `
CREATE TABLE IF NOT EXISTS subjects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    kyc_status TEXT NOT NULL,
    is_pep INTEGER NOT NULL DEFAULT 0,
    is_sanctioned INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    version INTEGER NOT NULL
);
`

// Document variants keep their detail payload as JSON.
const schemaDocuments = `
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    rejection_reason TEXT,
    details TEXT NOT NULL,
    uploaded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_subject ON documents(subject_id);
`

// Amounts are stored as decimal strings to avoid float rounding.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    sender_user_id TEXT NOT NULL,
    sender_amount TEXT NOT NULL,
    sender_currency TEXT NOT NULL,
    sender_country_code TEXT NOT NULL DEFAULT '',
    receiver_country_code TEXT NOT NULL DEFAULT '',
    method TEXT NOT NULL,
    status TEXT NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0,
    is_suspect INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions(sender_user_id, timestamp);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL UNIQUE,
    rule_name TEXT NOT NULL,
    category TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    risk_score INTEGER NOT NULL,
    expression TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    raw_score REAL NOT NULL,
    score REAL NOT NULL,
    level TEXT NOT NULL,
    matched_rules TEXT NOT NULL,
    evaluated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_subject ON assessments(subject_id, evaluated_at);

CREATE TABLE IF NOT EXISTS rule_matches (
    assessment_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    PRIMARY KEY (assessment_id, rule_id)
);

CREATE INDEX IF NOT EXISTS idx_rule_matches_rule ON rule_matches(rule_id);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    user_name TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    resolution TEXT NOT NULL DEFAULT '',
    case_id TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_transaction ON alerts(transaction_id, status);
CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id);
`

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    status TEXT NOT NULL,
    priority TEXT NOT NULL,
    risk_score REAL NOT NULL DEFAULT 0,
    user_id TEXT NOT NULL,
    user_name TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL,
    source_id TEXT NOT NULL DEFAULT '',
    assigned_to TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP,
    version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_user ON cases(user_id);
`

const schemaSARs = `
CREATE TABLE IF NOT EXISTS sars (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    origin TEXT NOT NULL,
    pattern TEXT NOT NULL DEFAULT '',
    linked_transactions TEXT NOT NULL,
    linked_case TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    filed_at TIMESTAMP,
    version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sars_subject ON sars(subject_id);
CREATE INDEX IF NOT EXISTS idx_sars_case ON sars(linked_case);

CREATE TABLE IF NOT EXISTS sar_history (
    id TEXT PRIMARY KEY,
    sar_id TEXT NOT NULL,
    action TEXT NOT NULL,
    from_status TEXT NOT NULL,
    to_status TEXT NOT NULL,
    notes TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sar_history_sar ON sar_history(sar_id, created_at);
`

const schemaAudit = `
CREATE TABLE IF NOT EXISTS audit_log (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    action TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    subject_id TEXT NOT NULL DEFAULT '',
    details TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_log(entity_type, entity_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSubjects,
		schemaDocuments,
		schemaTransactions,
		schemaRules,
		schemaAssessments,
		schemaAlerts,
		schemaCases,
		schemaSARs,
		schemaAudit,
	}
}
