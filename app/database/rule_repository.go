package database

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ RuleRepository = (*RuleRepo)(nil)

const ruleColumns = `id, user_id, name, enabled, trigger_type, conditions, actions, priority, match_count,
	last_matched_at, created_at, updated_at`

type RuleRepo struct {
	db *DB
}

func NewRuleRepository(db *DB) *RuleRepo {
	return &RuleRepo{db: db}
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var enabled int
	var conditions, actions string
	var lastMatched sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&rule.ID, &rule.UserID, &rule.Name, &enabled, &rule.TriggerType, &conditions, &actions,
		&rule.Priority, &rule.MatchCount, &lastMatched, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled != 0
	rule.Conditions = []byte(conditions)
	rule.Actions = []byte(actions)
	rule.LastMatchedAt = timePtr(lastMatched)
	rule.CreatedAt = fromMillis(createdAt)
	rule.UpdatedAt = fromMillis(updatedAt)

	return &rule, nil
}

func (r *RuleRepo) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *rule)
	}

	return rules, rows.Err()
}

func (r *RuleRepo) ListRules(ctx context.Context, userID int64) ([]Rule, error) {
	rules, err := r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE user_id = ? ORDER BY priority DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// ListEnabledRules returns enabled rules in evaluation order: priority
// descending, then creation order.
func (r *RuleRepo) ListEnabledRules(ctx context.Context, userID int64) ([]Rule, error) {
	rules, err := r.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE user_id = ? AND enabled = 1 ORDER BY priority DESC, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled rules: %w", err)
	}
	return rules, nil
}

func (r *RuleRepo) GetRule(ctx context.Context, userID, id int64) (*Rule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM automation_rules WHERE id = ? AND user_id = ?`, id, userID)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %d: %w", id, err)
	}

	return rule, nil
}

func (r *RuleRepo) CreateRule(ctx context.Context, rule *Rule, now time.Time) error {
	ts := toMillis(now)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_rules (user_id, name, enabled, trigger_type, conditions, actions, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.UserID, rule.Name, boolInt(rule.Enabled), rule.TriggerType, jsonText(rule.Conditions),
		jsonText(rule.Actions), rule.Priority, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read rule id: %w", err)
	}

	rule.ID = id
	rule.CreatedAt = fromMillis(ts)
	rule.UpdatedAt = fromMillis(ts)

	return nil
}

func (r *RuleRepo) UpdateRule(ctx context.Context, rule *Rule, now time.Time) error {
	ts := toMillis(now)

	res, err := r.db.ExecContext(ctx, `
		UPDATE automation_rules SET
			name = ?, enabled = ?, trigger_type = ?, conditions = ?, actions = ?, priority = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, rule.Name, boolInt(rule.Enabled), rule.TriggerType, jsonText(rule.Conditions), jsonText(rule.Actions),
		rule.Priority, ts, rule.ID, rule.UserID)
	if err != nil {
		return fmt.Errorf("failed to update rule %d: %w", rule.ID, err)
	}

	if err := requireAffected(res); err != nil {
		return err
	}

	rule.UpdatedAt = fromMillis(ts)
	return nil
}

func (r *RuleRepo) DeleteRule(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete rule %d: %w", id, err)
	}
	return requireAffected(res)
}

func (r *RuleRepo) RecordMatch(ctx context.Context, id int64, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE automation_rules SET match_count = match_count + 1, last_matched_at = ? WHERE id = ?`,
		toMillis(now), id)
	if err != nil {
		return fmt.Errorf("failed to record match for rule %d: %w", id, err)
	}
	return nil
}

func (r *RuleRepo) InsertExecution(ctx context.Context, exec *RuleExecution) error {
	executedAt := exec.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO rule_executions (rule_id, article_id, success, actions_taken, error_message, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, exec.RuleID, exec.ArticleID, boolInt(exec.Success), jsonText(exec.ActionsTaken),
		nullString(exec.ErrorMessage), toMillis(executedAt))
	if err != nil {
		return fmt.Errorf("failed to record execution of rule %d: %w", exec.RuleID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read execution id: %w", err)
	}
	exec.ID = id

	return nil
}

func (r *RuleRepo) ListExecutions(ctx context.Context, ruleID int64, limit int) ([]RuleExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, article_id, success, actions_taken, COALESCE(error_message, ''), executed_at
		FROM rule_executions
		WHERE rule_id = ?
		ORDER BY executed_at DESC, id DESC
		LIMIT ?
	`, ruleID, cmp.Or(limit, 50))
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for rule %d: %w", ruleID, err)
	}
	defer rows.Close()

	var executions []RuleExecution
	for rows.Next() {
		var e RuleExecution
		var success int
		var actions string
		var executedAt int64
		if err := rows.Scan(&e.ID, &e.RuleID, &e.ArticleID, &success, &actions, &e.ErrorMessage, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		e.Success = success != 0
		e.ActionsTaken = []byte(actions)
		e.ExecutedAt = fromMillis(executedAt)
		executions = append(executions, e)
	}

	return executions, rows.Err()
}

func jsonText(b []byte) string {
	if len(b) == 0 {
		return "[]"
	}
	return string(b)
}
