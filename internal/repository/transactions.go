package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

const transactionColumns = `
	id, sender_user_id, sender_amount, sender_currency, sender_country_code,
	receiver_country_code, method, status, risk_score, is_suspect, timestamp, version
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.AMLTransaction, error) {
	var tx domain.AMLTransaction
	var suspect int

	if err := row.Scan(
		&tx.ID, &tx.SenderUserID, &tx.SenderAmount, &tx.SenderCurrency, &tx.SenderCountryCode,
		&tx.ReceiverCountryCode, &tx.Method, &tx.Status, &tx.RiskScore, &suspect,
		&tx.Timestamp, &tx.Version,
	); err != nil {
		return nil, err
	}

	tx.IsSuspect = suspect == 1
	return &tx, nil
}

// CreateTransaction stores a new transaction.
func (r *SQLRepository) CreateTransaction(ctx context.Context, tx *domain.AMLTransaction) error {
	tx.Version = 1

	query := `INSERT INTO transactions (` + transactionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.SenderUserID, tx.SenderAmount.String(), tx.SenderCurrency, tx.SenderCountryCode,
		tx.ReceiverCountryCode, tx.Method, tx.Status, tx.RiskScore, boolToInt(tx.IsSuspect),
		tx.Timestamp, tx.Version,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.AMLTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.q.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, id)
	}
	return tx, err
}

// UpdateTransaction writes status and scoring fields if the version is current.
// Amount, parties and timestamp are immutable.
func (r *SQLRepository) UpdateTransaction(ctx context.Context, tx *domain.AMLTransaction) error {
	query := `
		UPDATE transactions SET
			status = ?, risk_score = ?, is_suspect = ?, version = ?
		WHERE id = ? AND version = ?
	`

	res, err := r.q.ExecContext(ctx, r.rebind(query),
		tx.Status, tx.RiskScore, boolToInt(tx.IsSuspect), tx.Version+1,
		tx.ID, tx.Version,
	)
	if err != nil {
		return err
	}
	return r.checkUpdated(ctx, res, "transactions", tx.ID, &tx.Version)
}

// ListTransactionsBySubject returns transactions sent by a subject since a
// point in time, newest first. A zero since returns all of them.
func (r *SQLRepository) ListTransactionsBySubject(ctx context.Context, subjectID string, since time.Time) ([]*domain.AMLTransaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE sender_user_id = ?
		  AND timestamp >= ?
		ORDER BY timestamp DESC, id
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), subjectID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.AMLTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// SaveRule inserts a rule or updates the one with the same rule id. Once a
// stored assessment has matched the rule its definition is frozen: only the
// enabled flag may change, anything else is ErrConflictingState.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules (
			id, rule_id, rule_name, category, description, risk_score, expression, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			rule_name = excluded.rule_name,
			category = excluded.category,
			description = excluded.description,
			risk_score = excluded.risk_score,
			expression = excluded.expression,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
		WHERE NOT EXISTS (SELECT 1 FROM rule_matches m WHERE m.rule_id = rules.rule_id)
			OR (rules.rule_name = excluded.rule_name
				AND rules.category = excluded.category
				AND rules.description = excluded.description
				AND rules.risk_score = excluded.risk_score
				AND rules.expression = excluded.expression)
	`

	res, err := r.q.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.RuleID, rule.RuleName, rule.Category, rule.Description,
		rule.RiskScore, rule.Expression, boolToInt(rule.Enabled),
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return referencedRule(rule.RuleID)
	}
	return nil
}

const ruleColumns = `id, rule_id, rule_name, category, description, risk_score, expression, enabled, created_at, updated_at`

func scanRule(row rowScanner) (*domain.Rule, error) {
	var rule domain.Rule
	var enabled int
	if err := row.Scan(
		&rule.ID, &rule.RuleID, &rule.RuleName, &rule.Category, &rule.Description,
		&rule.RiskScore, &rule.Expression, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Enabled = enabled == 1
	return &rule, nil
}

// GetRule retrieves a rule by its business key.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_id = ?`

	rule, err := scanRule(r.q.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s", domain.ErrNotFound, ruleID)
	}
	return rule, err
}

// ListRules returns every rule ordered by rule id.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY rule_id`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// SaveAssessment appends an assessment to the history and records which
// rules it matched.
func (r *SQLRepository) SaveAssessment(ctx context.Context, result *domain.RiskAssessmentResult) error {
	matches, err := json.Marshal(result.MatchedRules)
	if err != nil {
		return fmt.Errorf("failed to encode matched rules: %w", err)
	}

	return r.WithinTx(ctx, func(repo domain.Repository) error {
		tx := repo.(*SQLRepository)

		query := `
			INSERT INTO assessments (
				id, subject_id, raw_score, score, level, matched_rules, evaluated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.q.ExecContext(ctx, tx.rebind(query),
			result.ID, result.SubjectID, result.RawScore, result.Score, result.Level,
			string(matches), result.EvaluatedAt,
		); err != nil {
			return err
		}

		ref := tx.rebind(`INSERT INTO rule_matches (assessment_id, rule_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
		for _, m := range result.MatchedRules {
			if _, err := tx.q.ExecContext(ctx, ref, result.ID, m.RuleID); err != nil {
				return fmt.Errorf("failed to record match of rule %s: %w", m.RuleID, err)
			}
		}
		return nil
	})
}

// ListAssessmentsBySubject returns a subject's assessments, newest first.
func (r *SQLRepository) ListAssessmentsBySubject(ctx context.Context, subjectID string) ([]*domain.RiskAssessmentResult, error) {
	query := `
		SELECT id, subject_id, raw_score, score, level, matched_rules, evaluated_at
		FROM assessments
		WHERE subject_id = ?
		ORDER BY evaluated_at DESC, id
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.RiskAssessmentResult
	for rows.Next() {
		var a domain.RiskAssessmentResult
		var matches string
		if err := rows.Scan(
			&a.ID, &a.SubjectID, &a.RawScore, &a.Score, &a.Level, &matches, &a.EvaluatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(matches), &a.MatchedRules); err != nil {
			return nil, fmt.Errorf("failed to parse assessment %s matches: %w", a.ID, err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
