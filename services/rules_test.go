package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/floworx-io/floworx/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRuleService(t *testing.T) (*RuleService, sqlmock.Sqlmock, *MemoryCache) {
	t.Helper()
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })

	cache := NewMemoryCache()
	configService := NewConfigService(pg, cache)
	historyService := NewHistoryService(pg)
	evaluator := NewEvaluator(configService, historyService, &stubVIP{})
	return NewRuleService(pg, configService, evaluator), mock, cache
}

func seedRules(t *testing.T, cache *MemoryCache, userID string, rules []db.EscalationRule) {
	t.Helper()
	data, err := json.Marshal(rules)
	require.NoError(t, err)
	cache.Set(context.Background(), rulesCacheKey(userID), data, time.Minute)
}

func TestEvaluateRules_EmergencyEscalation(t *testing.T) {
	service, mock, cache := newTestRuleService(t)

	seedRules(t, cache, "user-1", []db.EscalationRule{
		{ID: "r1", UserID: "user-1", Condition: db.ConditionEmergencyKeywords, Action: db.ActionEscalate, Priority: 10, Enabled: true},
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	email := &db.Email{Subject: "Gas leak!", Body: "smell gas in basement"}
	triggered, err := service.EvaluateRules(context.Background(), email, "user-1", nil)
	require.NoError(t, err)

	require.Len(t, triggered, 1)
	assert.Equal(t, "r1", triggered[0].RuleID)
	assert.Equal(t, db.ActionEscalate, triggered[0].Action)
	assert.Equal(t, 10, triggered[0].Priority)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluateRules_SortedByPriorityDesc(t *testing.T) {
	service, mock, cache := newTestRuleService(t)

	// Deliberately seeded low-priority first; output must still be
	// priority descending.
	seedRules(t, cache, "user-1", []db.EscalationRule{
		{ID: "catch-all", Condition: db.ConditionAllEmails, Action: db.ActionNotifyManager, Priority: 1, Enabled: true},
		{ID: "urgent", Condition: db.ConditionHighUrgency, Action: db.ActionImmediateResponse, Priority: 9, Enabled: true},
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	email := &db.Email{Subject: "urgent", Body: "please respond"}
	triggered, err := service.EvaluateRules(context.Background(), email, "user-1", nil)
	require.NoError(t, err)

	require.Len(t, triggered, 2)
	assert.Equal(t, "urgent", triggered[0].RuleID)
	assert.Equal(t, "catch-all", triggered[1].RuleID)
}

func TestEvaluateRules_PredicateErrorSkipsRule(t *testing.T) {
	service, mock, cache := newTestRuleService(t)
	service.Evaluator.VIP = &stubVIP{err: errors.New("registry offline")}

	seedRules(t, cache, "user-1", []db.EscalationRule{
		{ID: "vip", Condition: db.ConditionCustomerVIP, Action: db.ActionHighPriority, Priority: 8, Enabled: true},
		{ID: "catch-all", Condition: db.ConditionAllEmails, Action: db.ActionNotifyManager, Priority: 1, Enabled: true},
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	email := &db.Email{From: "someone@example.com", Subject: "hello"}
	triggered, err := service.EvaluateRules(context.Background(), email, "user-1", nil)
	require.NoError(t, err, "one failing predicate must not fail the evaluation")

	require.Len(t, triggered, 1)
	assert.Equal(t, "catch-all", triggered[0].RuleID)
}

func TestEvaluateRules_StorageFailureYieldsNoEscalations(t *testing.T) {
	service, mock, _ := newTestRuleService(t)

	mock.ExpectQuery("FROM escalation_rules").
		WillReturnError(errors.New("storage unavailable"))

	triggered, err := service.EvaluateRules(context.Background(), &db.Email{Subject: "Gas leak!"}, "user-1", nil)
	require.NoError(t, err, "a failed rule load must degrade to the empty rule set")
	assert.Empty(t, triggered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// blockedVIP stalls until the predicate deadline fires.
type blockedVIP struct{}

func (blockedVIP) IsVIP(ctx context.Context, _, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func TestEvaluateRules_SlowPredicateTreatedAsNotMet(t *testing.T) {
	service, mock, cache := newTestRuleService(t)
	service.Timeout = 20 * time.Millisecond
	service.Evaluator.VIP = blockedVIP{}

	seedRules(t, cache, "user-1", []db.EscalationRule{
		{ID: "vip", Condition: db.ConditionCustomerVIP, Action: db.ActionHighPriority, Priority: 8, Enabled: true},
		{ID: "catch-all", Condition: db.ConditionAllEmails, Action: db.ActionNotifyManager, Priority: 1, Enabled: true},
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	email := &db.Email{From: "someone@example.com", Subject: "hello"}
	triggered, err := service.EvaluateRules(context.Background(), email, "user-1", nil)
	require.NoError(t, err, "a timed-out predicate counts as not met, never as a failure")

	require.Len(t, triggered, 1)
	assert.Equal(t, "catch-all", triggered[0].RuleID)
}

func TestEvaluateRules_RuleValueReachesPredicate(t *testing.T) {
	service, mock, cache := newTestRuleService(t)

	seedRules(t, cache, "user-1", []db.EscalationRule{
		{ID: "sales", Condition: db.ConditionCategoryMatch, Value: "sales", Action: db.ActionAutoReply, Priority: 3, Enabled: true},
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	evalCtx := &db.EvalContext{Classification: &db.Classification{Category: "sales"}}
	triggered, err := service.EvaluateRules(context.Background(), &db.Email{}, "user-1", evalCtx)
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, "sales", triggered[0].Value)
}

func TestEvaluateRules_DefaultPriorityApplied(t *testing.T) {
	service, mock, cache := newTestRuleService(t)

	// Priority 0 means "not set": the condition's default applies.
	seedRules(t, cache, "user-1", []db.EscalationRule{
		{ID: "r1", Condition: db.ConditionEmergencyKeywords, Action: db.ActionEscalate, Enabled: true},
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	email := &db.Email{Subject: "burst pipe", Body: "water everywhere"}
	triggered, err := service.EvaluateRules(context.Background(), email, "user-1", nil)
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, 10, triggered[0].Priority)
}

func TestEvaluateRules_LoadsEnabledOnlyFromStore(t *testing.T) {
	service, mock, _ := newTestRuleService(t)

	columns := []string{"id", "user_id", "condition", "value", "action", "priority", "description", "enabled", "created_at", "updated_at"}
	now := time.Now()

	// The evaluation path must query with the enabled filter; disabled
	// rules never reach the evaluator.
	mock.ExpectQuery("(?s)FROM escalation_rules.+enabled = true").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "user-1", "all_emails", "", "notify_manager", 1, "", true, now, now))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	triggered, err := service.EvaluateRules(context.Background(), &db.Email{Subject: "hi"}, "user-1", nil)
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEvaluateBatch_IndependentResults(t *testing.T) {
	service, mock, cache := newTestRuleService(t)

	seedRules(t, cache, "user-1", []db.EscalationRule{
		{ID: "r1", Condition: db.ConditionEmergencyKeywords, Action: db.ActionEscalate, Priority: 10, Enabled: true},
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_logs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	emails := []db.Email{
		{ID: "e1", Subject: "Gas leak!", Body: "smell gas"},
		{ID: "e2", Subject: "Quote", Body: "new install"},
	}

	results := service.EvaluateBatch(context.Background(), emails, "user-1", nil)
	require.Len(t, results, 2)

	assert.Equal(t, "e1", results[0].EmailID)
	assert.True(t, results[0].Success)
	assert.Len(t, results[0].Rules, 1)

	assert.Equal(t, "e2", results[1].EmailID)
	assert.True(t, results[1].Success)
	assert.Empty(t, results[1].Rules)
}

func TestCreateRule_DefaultsApplied(t *testing.T) {
	service, mock, _ := newTestRuleService(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_rules")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rule, err := service.CreateRule(context.Background(), "user-1", db.CreateRuleRequest{
		Condition: db.ConditionEmergencyKeywords,
		Action:    db.ActionEscalate,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, 10, rule.Priority, "emergency_keywords defaults to the top priority")
	assert.True(t, rule.Enabled, "rules default to enabled")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRule_RejectsUnknownEnums(t *testing.T) {
	service, mock, _ := newTestRuleService(t)

	_, err := service.CreateRule(context.Background(), "user-1", db.CreateRuleRequest{
		Condition: db.Condition("bogus"),
		Action:    db.ActionEscalate,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown condition 'bogus'")

	_, err = service.CreateRule(context.Background(), "user-1", db.CreateRuleRequest{
		Condition: db.ConditionAllEmails,
		Action:    db.Action("explode"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action 'explode'")

	assert.NoError(t, mock.ExpectationsWereMet(), "invalid rules must not reach storage")
}

func TestCreateRule_ClampsPriority(t *testing.T) {
	service, mock, _ := newTestRuleService(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_rules")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	over := 42
	rule, err := service.CreateRule(context.Background(), "user-1", db.CreateRuleRequest{
		Condition: db.ConditionAllEmails,
		Action:    db.ActionNotifyManager,
		Priority:  &over,
	})
	require.NoError(t, err)
	assert.Equal(t, 10, rule.Priority)
}

func TestUpdateRule_FlushesEntireCache(t *testing.T) {
	service, mock, cache := newTestRuleService(t)
	ctx := context.Background()

	// Two users cached; the update clears both entries, matching the
	// original system's global invalidation on rule updates.
	seedRules(t, cache, "user-1", []db.EscalationRule{{ID: "r1", Condition: db.ConditionAllEmails, Action: db.ActionNotifyManager, Priority: 1, Enabled: true}})
	seedRules(t, cache, "user-2", []db.EscalationRule{{ID: "r2", Condition: db.ConditionAllEmails, Action: db.ActionNotifyManager, Priority: 1, Enabled: true}})

	columns := []string{"id", "user_id", "condition", "value", "action", "priority", "description", "enabled", "created_at", "updated_at"}
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE escalation_rules")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM escalation_rules").
		WithArgs("r1", "user-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "user-1", "all_emails", "", "notify_manager", 5, "", true, now, now))

	priority := 5
	rule, err := service.UpdateRule(ctx, "user-1", "r1", db.UpdateRuleRequest{Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, 5, rule.Priority)

	if _, ok := cache.Get(ctx, rulesCacheKey("user-1")); ok {
		t.Error("expected user-1 cache entry to be flushed")
	}
	if _, ok := cache.Get(ctx, rulesCacheKey("user-2")); ok {
		t.Error("expected user-2 cache entry to be flushed")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRule(t *testing.T) {
	service, mock, cache := newTestRuleService(t)
	ctx := context.Background()

	seedRules(t, cache, "user-1", []db.EscalationRule{{ID: "r1", Condition: db.ConditionAllEmails, Action: db.ActionNotifyManager, Priority: 1, Enabled: true}})

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM escalation_rules")).
		WithArgs("r1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, service.DeleteRule(ctx, "user-1", "r1"))

	if _, ok := cache.Get(ctx, rulesCacheKey("user-1")); ok {
		t.Error("expected cache entry to be evicted after delete")
	}

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM escalation_rules")).
		WithArgs("missing", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := service.DeleteRule(ctx, "user-1", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule not found")
}

func TestGetRuleStats(t *testing.T) {
	service, mock, _ := newTestRuleService(t)

	mock.ExpectQuery("FROM escalation_logs").
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"category", "urgency", "condition"}).
			AddRow("complaint", "high", "complaint_detected").
			AddRow("emergency", "critical", "emergency_keywords").
			AddRow("emergency", "critical", "emergency_keywords"))

	stats := service.GetRuleStats(context.Background(), "user-1", "7d")
	require.NotNil(t, stats)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByCategory["emergency"])
	assert.Equal(t, 2, stats.ByUrgency["critical"])
	assert.Equal(t, "emergency_keywords", stats.TopCondition)
}

func TestGetRuleStats_NilOnQueryFailure(t *testing.T) {
	service, mock, _ := newTestRuleService(t)

	mock.ExpectQuery("FROM escalation_logs").
		WillReturnError(errors.New("connection refused"))

	assert.Nil(t, service.GetRuleStats(context.Background(), "user-1", "24h"))
}

func TestDefaultPriorityTable(t *testing.T) {
	assert.Equal(t, 10, db.DefaultPriority(db.ConditionEmergencyKeywords))
	assert.Equal(t, 1, db.DefaultPriority(db.ConditionAllEmails))
	assert.Equal(t, 5, db.DefaultPriority(db.Condition("unknown")))

	for _, condition := range db.Conditions {
		priority := db.DefaultPriority(condition)
		assert.GreaterOrEqual(t, priority, 1, "condition %s", condition)
		assert.LessOrEqual(t, priority, 10, "condition %s", condition)
	}
}
