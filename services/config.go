package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/floworx-io/floworx/db"
	"github.com/google/uuid"
)

// configCacheTTL bounds how stale a cached config entry can get.
const configCacheTTL = 5 * time.Minute

// ConfigService provides typed, cached access to per-user configuration
// with defined defaults. Fetch failures degrade to defaults so the rule
// engine never sees a missing config.
type ConfigService struct {
	PG    *sql.DB
	Cache ConfigCache
}

func NewConfigService(pg *sql.DB, cache ConfigCache) *ConfigService {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &ConfigService{PG: pg, Cache: cache}
}

func configCacheKey(userID string, configType db.ConfigType) string {
	return fmt.Sprintf("%s:%s", userID, configType)
}

// GetConfig returns the user's configuration for configType, using the
// cache within its TTL and falling back to the documented default on
// any fetch error or missing row.
func (s *ConfigService) GetConfig(ctx context.Context, userID string, configType db.ConfigType) (json.RawMessage, error) {
	key := configCacheKey(userID, configType)
	if cached, ok := s.Cache.Get(ctx, key); ok {
		return json.RawMessage(cached), nil
	}

	data, err := s.fetchConfig(ctx, userID, configType)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Config fetch failed for user %s type %s, using defaults: %v", userID, configType, err)
		}
		data = DefaultConfig(configType)
	}

	s.Cache.Set(ctx, key, data, configCacheTTL)
	return json.RawMessage(data), nil
}

// GetBusinessHours returns the user's business hours, already decoded.
func (s *ConfigService) GetBusinessHours(ctx context.Context, userID string) (db.BusinessHours, error) {
	raw, _ := s.GetConfig(ctx, userID, db.ConfigBusinessHours)

	var hours db.BusinessHours
	if err := json.Unmarshal(raw, &hours); err != nil {
		log.Printf("Corrupt business_hours config for user %s, using defaults: %v", userID, err)
		if err := json.Unmarshal(DefaultConfig(db.ConfigBusinessHours), &hours); err != nil {
			return hours, fmt.Errorf("failed to decode default business hours: %w", err)
		}
	}
	return hours, nil
}

// SetConfig validates and persists a configuration write, then evicts
// the affected cache entry. Singleton config types are upserted;
// collection types are replaced inside a single transaction.
func (s *ConfigService) SetConfig(ctx context.Context, userID string, configType db.ConfigType, data json.RawMessage) (json.RawMessage, error) {
	result := ValidateConfig(configType, data)
	if !result.Valid {
		return nil, fmt.Errorf("invalid %s config: %v", configType, result.Errors)
	}

	var err error
	switch configType {
	case db.ConfigEscalationRules:
		err = s.replaceRules(ctx, userID, data)
	case db.ConfigResponseTemplates:
		err = s.replaceTemplates(ctx, userID, data)
	default:
		err = s.upsertConfig(ctx, userID, configType, data)
	}
	if err != nil {
		return nil, err
	}

	s.Cache.Delete(ctx, configCacheKey(userID, configType))
	if configType == db.ConfigEscalationRules {
		s.Cache.Delete(ctx, rulesCacheKey(userID))
	}
	return data, nil
}

func (s *ConfigService) fetchConfig(ctx context.Context, userID string, configType db.ConfigType) ([]byte, error) {
	switch configType {
	case db.ConfigEscalationRules:
		rules, err := s.fetchRules(ctx, userID, false)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rules)
	case db.ConfigResponseTemplates:
		templates, err := s.fetchTemplates(ctx, userID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(templates)
	default:
		var data []byte
		query := `SELECT data FROM user_configs WHERE user_id = $1 AND config_type = $2`
		if err := s.PG.QueryRowContext(ctx, query, userID, configType).Scan(&data); err != nil {
			return nil, err
		}
		return data, nil
	}
}

func (s *ConfigService) upsertConfig(ctx context.Context, userID string, configType db.ConfigType, data []byte) error {
	query := `
		INSERT INTO user_configs (user_id, config_type, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, config_type) DO UPDATE SET data = $3, updated_at = $4`

	_, err := s.PG.ExecContext(ctx, query, userID, configType, data, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert %s config: %w", configType, err)
	}
	return nil
}

// replaceRules rewrites the user's entire rule set. Delete and insert
// run in one transaction so a failed write never leaves the user with
// no rules at all.
func (s *ConfigService) replaceRules(ctx context.Context, userID string, data []byte) error {
	var rules []db.EscalationRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return fmt.Errorf("failed to decode escalation rules: %w", err)
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM escalation_rules WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete existing rules: %w", err)
	}

	now := time.Now()
	insert := `
		INSERT INTO escalation_rules (id, user_id, condition, value, action, priority, description, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	for _, rule := range rules {
		if rule.ID == "" {
			rule.ID = uuid.New().String()
		}
		if rule.Priority == 0 {
			rule.Priority = db.DefaultPriority(rule.Condition)
		}
		rule.Priority = db.ClampPriority(rule.Priority)

		_, err := tx.ExecContext(ctx, insert,
			rule.ID, userID, rule.Condition, rule.Value, rule.Action,
			rule.Priority, rule.Description, rule.Enabled, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule replacement: %w", err)
	}

	log.Printf("Replaced %d escalation rules for user %s", len(rules), userID)
	return nil
}

func (s *ConfigService) replaceTemplates(ctx context.Context, userID string, data []byte) error {
	var templates []db.ResponseTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return fmt.Errorf("failed to decode response templates: %w", err)
	}

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM response_templates WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete existing templates: %w", err)
	}

	insert := `
		INSERT INTO response_templates (id, user_id, name, category, subject, body, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, tpl := range templates {
		if tpl.ID == "" {
			tpl.ID = uuid.New().String()
		}
		_, err := tx.ExecContext(ctx, insert,
			tpl.ID, userID, tpl.Name, tpl.Category, tpl.Subject, tpl.Body, tpl.Enabled)
		if err != nil {
			return fmt.Errorf("failed to insert template %s: %w", tpl.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit template replacement: %w", err)
	}
	return nil
}

func (s *ConfigService) fetchRules(ctx context.Context, userID string, enabledOnly bool) ([]db.EscalationRule, error) {
	query := `
		SELECT id, user_id, condition, COALESCE(value, '') as value, action, priority,
		       COALESCE(description, '') as description, enabled, created_at, updated_at
		FROM escalation_rules
		WHERE user_id = $1`

	if enabledOnly {
		query += " AND enabled = true"
	}
	query += " ORDER BY priority DESC, created_at ASC"

	rows, err := s.PG.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalation rules: %w", err)
	}
	defer rows.Close()

	var rules []db.EscalationRule
	for rows.Next() {
		var rule db.EscalationRule
		err := rows.Scan(
			&rule.ID, &rule.UserID, &rule.Condition, &rule.Value, &rule.Action,
			&rule.Priority, &rule.Description, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			log.Printf("Skipping unreadable rule row for user %s: %v", userID, err)
			continue
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

func (s *ConfigService) fetchTemplates(ctx context.Context, userID string) ([]db.ResponseTemplate, error) {
	query := `
		SELECT id, user_id, name, COALESCE(category, '') as category,
		       COALESCE(subject, '') as subject, body, enabled
		FROM response_templates
		WHERE user_id = $1
		ORDER BY name ASC`

	rows, err := s.PG.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query response templates: %w", err)
	}
	defer rows.Close()

	var templates []db.ResponseTemplate
	for rows.Next() {
		var tpl db.ResponseTemplate
		err := rows.Scan(&tpl.ID, &tpl.UserID, &tpl.Name, &tpl.Category, &tpl.Subject, &tpl.Body, &tpl.Enabled)
		if err != nil {
			continue
		}
		templates = append(templates, tpl)
	}

	return templates, rows.Err()
}

// ===========================
// VALIDATION & DEFAULTS
// ===========================

// ValidateConfig structurally validates a config write. Pure function,
// no I/O; failures are reported as readable strings, never thrown.
func ValidateConfig(configType db.ConfigType, data json.RawMessage) db.ValidationResult {
	var errs []string

	switch configType {
	case db.ConfigEscalationRules:
		var rules []db.EscalationRule
		if err := json.Unmarshal(data, &rules); err != nil {
			return db.ValidationResult{Valid: false, Errors: []string{"escalation_rules must be an array of rules"}}
		}
		for i, rule := range rules {
			if rule.Condition == "" {
				errs = append(errs, fmt.Sprintf("rule %d: condition is required", i))
			} else if !rule.Condition.Valid() {
				errs = append(errs, fmt.Sprintf("rule %d: unknown condition '%s'", i, rule.Condition))
			}
			if rule.Action == "" {
				errs = append(errs, fmt.Sprintf("rule %d: action is required", i))
			} else if !rule.Action.Valid() {
				errs = append(errs, fmt.Sprintf("rule %d: unknown action '%s'", i, rule.Action))
			}
			if rule.Priority != 0 && (rule.Priority < 1 || rule.Priority > 10) {
				errs = append(errs, fmt.Sprintf("rule %d: priority %d out of range [1,10]", i, rule.Priority))
			}
		}
	case db.ConfigBusinessHours:
		var hours db.BusinessHours
		if err := json.Unmarshal(data, &hours); err != nil {
			return db.ValidationResult{Valid: false, Errors: []string{"business_hours must be a schedule object"}}
		}
		for day, schedule := range hours.Schedule {
			if !schedule.Open {
				continue
			}
			if schedule.Start == "" || schedule.End == "" {
				errs = append(errs, fmt.Sprintf("%s: open days require start and end times", day))
				continue
			}
			if schedule.Start >= schedule.End {
				errs = append(errs, fmt.Sprintf("%s: start time %s must be before end time %s", day, schedule.Start, schedule.End))
			}
		}
	default:
		if !json.Valid(data) {
			errs = append(errs, fmt.Sprintf("%s config must be valid JSON", configType))
		}
	}

	return db.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// DefaultConfig returns the documented default object for a config
// type. Defaults are non-empty and directly usable by the evaluator.
func DefaultConfig(configType db.ConfigType) json.RawMessage {
	var value interface{}

	switch configType {
	case db.ConfigEscalationRules:
		value = []db.EscalationRule{}
	case db.ConfigBusinessHours:
		// Open around the clock so after_hours stays false until the
		// user configures a real schedule.
		schedule := make(map[string]db.DaySchedule, 7)
		for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
			schedule[day] = db.DaySchedule{Open: true, Start: "00:00", End: "23:59"}
		}
		value = db.BusinessHours{Schedule: schedule, Timezone: "UTC"}
	case db.ConfigNotificationSettings:
		value = db.NotificationSettings{EmailEnabled: true}
	case db.ConfigResponseTemplates:
		value = []db.ResponseTemplate{}
	case db.ConfigApprovalWorkflow:
		value = db.ApprovalWorkflow{}
	default:
		value = map[string]interface{}{}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
