package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/floworx-io/floworx/db"
	"github.com/google/uuid"
)

// conditionTimeout caps one predicate's run so a stalled history query
// cannot block the rest of an evaluation.
const conditionTimeout = 3 * time.Second

const rulesCacheTTL = 5 * time.Minute

func rulesCacheKey(userID string) string {
	return "rules:" + userID
}

// RuleService evaluates a user's escalation rules against inbound
// emails and exposes the administration surface over those rules.
type RuleService struct {
	PG        *sql.DB
	Config    *ConfigService
	Evaluator *Evaluator
	Cache     ConfigCache
	Timeout   time.Duration
}

func NewRuleService(pg *sql.DB, config *ConfigService, evaluator *Evaluator) *RuleService {
	return &RuleService{
		PG:        pg,
		Config:    config,
		Evaluator: evaluator,
		Cache:     config.Cache,
		Timeout:   conditionTimeout,
	}
}

// ===========================
// RULE EVALUATION ENGINE
// ===========================

// EvaluateRules runs every enabled rule for the user against the email
// and returns the triggered rules sorted by priority descending. A
// failing predicate is logged and skipped; it never blocks the rest.
// A failed rule load degrades to the empty rule set, so storage trouble
// results in no escalations rather than an error to the caller.
func (s *RuleService) EvaluateRules(ctx context.Context, email *db.Email, userID string, evalCtx *db.EvalContext) ([]db.TriggeredRule, error) {
	rules, err := s.enabledRules(ctx, userID)
	if err != nil {
		log.Printf("Failed to load rules for user %s, evaluating against empty rule set: %v", userID, err)
		return []db.TriggeredRule{}, nil
	}

	var triggered []db.TriggeredRule
	for _, rule := range rules {
		matched, err := s.evaluateCondition(ctx, rule, email, userID, evalCtx)
		if err != nil {
			log.Printf("Rule %s (%s) evaluation failed for user %s, skipping: %v", rule.ID, rule.Condition, userID, err)
			continue
		}
		if !matched {
			continue
		}

		priority := rule.Priority
		if priority == 0 {
			priority = db.DefaultPriority(rule.Condition)
		}

		triggered = append(triggered, db.TriggeredRule{
			RuleID:      rule.ID,
			Rule:        rule,
			Action:      rule.Action,
			Priority:    priority,
			Condition:   rule.Condition,
			Value:       rule.Value,
			Description: rule.Description,
			Timestamp:   time.Now(),
		})
	}

	// Input was priority-sorted, but re-sort after filtering anyway so
	// the ordering invariant never depends on the load path.
	sort.SliceStable(triggered, func(i, j int) bool {
		return triggered[i].Priority > triggered[j].Priority
	})

	s.logTriggered(userID, email, evalCtx, triggered)

	return triggered, nil
}

// evaluateCondition dispatches one rule through the evaluator under a
// per-predicate timeout. A deadline counts as "not met", consistent
// with the fail-closed handling of unknown conditions.
func (s *RuleService) evaluateCondition(ctx context.Context, rule db.EscalationRule, email *db.Email, userID string, evalCtx *db.EvalContext) (bool, error) {
	condCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	merged := db.EvalContext{RuleValue: rule.Value}
	if evalCtx != nil {
		merged.Classification = evalCtx.Classification
	}

	matched, err := s.Evaluator.Evaluate(condCtx, rule.Condition, email, userID, &merged)
	if condCtx.Err() == context.DeadlineExceeded {
		log.Printf("Condition %s timed out for user %s, treating as not met", rule.Condition, userID)
		return false, nil
	}
	return matched, err
}

// EvaluateBatch evaluates each email independently; one failure never
// affects the other results.
func (s *RuleService) EvaluateBatch(ctx context.Context, emails []db.Email, userID string, evalCtx *db.EvalContext) []db.BatchResult {
	results := make([]db.BatchResult, 0, len(emails))
	for i := range emails {
		email := emails[i]
		triggered, err := s.EvaluateRules(ctx, &email, userID, evalCtx)
		if err != nil {
			results = append(results, db.BatchResult{EmailID: email.ID, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, db.BatchResult{EmailID: email.ID, Success: true, Rules: triggered})
	}
	return results
}

// enabledRules returns the user's enabled rules sorted by priority
// descending, from cache when fresh.
func (s *RuleService) enabledRules(ctx context.Context, userID string) ([]db.EscalationRule, error) {
	key := rulesCacheKey(userID)
	if cached, ok := s.Cache.Get(ctx, key); ok {
		var rules []db.EscalationRule
		if err := json.Unmarshal(cached, &rules); err == nil {
			return rules, nil
		}
		s.Cache.Delete(ctx, key)
	}

	rules, err := s.Config.fetchRules(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rules); err == nil {
		s.Cache.Set(ctx, key, data, rulesCacheTTL)
	}
	return rules, nil
}

// logTriggered records fired rules to the escalation audit log. Best
// effort: the evaluation result stands even if the audit write fails.
func (s *RuleService) logTriggered(userID string, email *db.Email, evalCtx *db.EvalContext, triggered []db.TriggeredRule) {
	if len(triggered) == 0 {
		return
	}

	var category, urgency string
	if evalCtx != nil && evalCtx.Classification != nil {
		category = evalCtx.Classification.Category
		urgency = evalCtx.Classification.Urgency
	}

	var emailID, sender string
	if email != nil {
		emailID = email.ID
		sender = email.From
	}

	query := `
		INSERT INTO escalation_logs (id, user_id, rule_id, email_id, sender, condition, action, priority, category, urgency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for _, hit := range triggered {
		_, err := s.PG.Exec(query,
			uuid.New().String(), userID, hit.RuleID, emailID, sender,
			hit.Condition, hit.Action, hit.Priority, category, urgency, hit.Timestamp)
		if err != nil {
			log.Printf("Failed to log escalation for rule %s: %v", hit.RuleID, err)
		}
	}
}

// ===========================
// RULE ADMINISTRATION
// ===========================

// CreateRule stores a new rule, filling in the condition's default
// priority when none is given. New rules are enabled unless the request
// says otherwise.
func (s *RuleService) CreateRule(ctx context.Context, userID string, req db.CreateRuleRequest) (*db.EscalationRule, error) {
	if err := validateRuleEnums(req.Condition, req.Action); err != nil {
		return nil, err
	}

	priority := db.DefaultPriority(req.Condition)
	if req.Priority != nil {
		priority = db.ClampPriority(*req.Priority)
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now()
	rule := db.EscalationRule{
		ID:          uuid.New().String(),
		UserID:      userID,
		Condition:   req.Condition,
		Value:       req.Value,
		Action:      req.Action,
		Priority:    priority,
		Description: req.Description,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO escalation_rules (id, user_id, condition, value, action, priority, description, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.PG.ExecContext(ctx, query,
		rule.ID, rule.UserID, rule.Condition, rule.Value, rule.Action,
		rule.Priority, rule.Description, rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert rule: %w", err)
	}

	s.Cache.Delete(ctx, rulesCacheKey(userID))
	s.Cache.Delete(ctx, configCacheKey(userID, db.ConfigEscalationRules))

	log.Printf("Created escalation rule %s (%s -> %s) for user %s", rule.ID, rule.Condition, rule.Action, userID)
	return &rule, nil
}

// UpdateRule applies a partial update to one rule. It flushes the whole
// cache rather than just the owner's entry; the original system behaved
// this way and callers may rely on the broader invalidation.
func (s *RuleService) UpdateRule(ctx context.Context, userID, ruleID string, req db.UpdateRuleRequest) (*db.EscalationRule, error) {
	if req.Condition != nil && !req.Condition.Valid() {
		return nil, fmt.Errorf("unknown condition '%s'", *req.Condition)
	}
	if req.Action != nil && !req.Action.Valid() {
		return nil, fmt.Errorf("unknown action '%s'", *req.Action)
	}

	setParts := []string{}
	args := []interface{}{}
	argIndex := 1

	appendSet := func(column string, value interface{}) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argIndex))
		args = append(args, value)
		argIndex++
	}

	if req.Condition != nil {
		appendSet("condition", *req.Condition)
	}
	if req.Value != nil {
		appendSet("value", *req.Value)
	}
	if req.Action != nil {
		appendSet("action", *req.Action)
	}
	if req.Priority != nil {
		appendSet("priority", db.ClampPriority(*req.Priority))
	}
	if req.Description != nil {
		appendSet("description", *req.Description)
	}
	if req.Enabled != nil {
		appendSet("enabled", *req.Enabled)
	}

	if len(setParts) == 0 {
		return s.getRule(ctx, userID, ruleID)
	}

	appendSet("updated_at", time.Now())

	query := fmt.Sprintf("UPDATE escalation_rules SET %s WHERE id = $%d AND user_id = $%d",
		strings.Join(setParts, ", "), argIndex, argIndex+1)
	args = append(args, ruleID, userID)

	result, err := s.PG.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, fmt.Errorf("rule not found: %s", ruleID)
	}

	s.Cache.Flush(ctx)

	return s.getRule(ctx, userID, ruleID)
}

// DeleteRule removes a rule by id.
func (s *RuleService) DeleteRule(ctx context.Context, userID, ruleID string) error {
	result, err := s.PG.ExecContext(ctx,
		`DELETE FROM escalation_rules WHERE id = $1 AND user_id = $2`, ruleID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule not found: %s", ruleID)
	}

	s.Cache.Delete(ctx, rulesCacheKey(userID))
	s.Cache.Delete(ctx, configCacheKey(userID, db.ConfigEscalationRules))

	log.Printf("Deleted escalation rule %s for user %s", ruleID, userID)
	return nil
}

// GetRules returns every rule for the user, enabled or not, ordered by
// priority descending. This is the display/editing path; evaluation
// filters to enabled rules separately.
func (s *RuleService) GetRules(ctx context.Context, userID string) ([]db.EscalationRule, error) {
	return s.Config.fetchRules(ctx, userID, false)
}

func (s *RuleService) getRule(ctx context.Context, userID, ruleID string) (*db.EscalationRule, error) {
	query := `
		SELECT id, user_id, condition, COALESCE(value, '') as value, action, priority,
		       COALESCE(description, '') as description, enabled, created_at, updated_at
		FROM escalation_rules
		WHERE id = $1 AND user_id = $2`

	var rule db.EscalationRule
	err := s.PG.QueryRowContext(ctx, query, ruleID, userID).Scan(
		&rule.ID, &rule.UserID, &rule.Condition, &rule.Value, &rule.Action,
		&rule.Priority, &rule.Description, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("rule not found: %s", ruleID)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

// GetRuleStats aggregates the escalation audit log over a trailing
// window ("24h", "7d" or "30d"). Query failures yield nil rather than
// an error; stats are advisory.
func (s *RuleService) GetRuleStats(ctx context.Context, userID, timeframe string) *db.RuleStats {
	var window time.Duration
	switch timeframe {
	case "24h":
		window = 24 * time.Hour
	case "30d":
		window = 30 * 24 * time.Hour
	default:
		timeframe = "7d"
		window = 7 * 24 * time.Hour
	}

	query := `
		SELECT COALESCE(category, '') as category, COALESCE(urgency, '') as urgency, condition
		FROM escalation_logs
		WHERE user_id = $1 AND created_at >= $2`

	rows, err := s.PG.QueryContext(ctx, query, userID, time.Now().Add(-window))
	if err != nil {
		log.Printf("Failed to query escalation stats for user %s: %v", userID, err)
		return nil
	}
	defer rows.Close()

	stats := &db.RuleStats{
		Timeframe:   timeframe,
		ByCategory:  make(map[string]int),
		ByUrgency:   make(map[string]int),
		ByCondition: make(map[string]int),
	}

	for rows.Next() {
		var category, urgency, condition string
		if err := rows.Scan(&category, &urgency, &condition); err != nil {
			continue
		}
		stats.Total++
		if category != "" {
			stats.ByCategory[category]++
		}
		if urgency != "" {
			stats.ByUrgency[urgency]++
		}
		stats.ByCondition[condition]++
	}
	if rows.Err() != nil {
		log.Printf("Failed to read escalation stats for user %s: %v", userID, rows.Err())
		return nil
	}

	best := 0
	for condition, count := range stats.ByCondition {
		if count > best {
			best = count
			stats.TopCondition = condition
		}
	}

	return stats
}

func validateRuleEnums(condition db.Condition, action db.Action) error {
	if condition == "" {
		return fmt.Errorf("condition is required")
	}
	if !condition.Valid() {
		return fmt.Errorf("unknown condition '%s'", condition)
	}
	if action == "" {
		return fmt.Errorf("action is required")
	}
	if !action.Valid() {
		return fmt.Errorf("unknown action '%s'", action)
	}
	return nil
}
