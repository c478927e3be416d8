package services

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/floworx-io/floworx/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig_EscalationRules(t *testing.T) {
	valid := json.RawMessage(`[{"condition":"emergency_keywords","action":"escalate","priority":10}]`)
	result := ValidateConfig(db.ConfigEscalationRules, valid)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)

	missing := json.RawMessage(`[{"action":"escalate"}]`)
	result = ValidateConfig(db.ConfigEscalationRules, missing)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "condition is required")

	bogus := json.RawMessage(`[{"condition":"bogus","action":"escalate"}]`)
	result = ValidateConfig(db.ConfigEscalationRules, bogus)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "unknown condition 'bogus'")

	badPriority := json.RawMessage(`[{"condition":"all_emails","action":"notify_manager","priority":11}]`)
	result = ValidateConfig(db.ConfigEscalationRules, badPriority)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "out of range")
}

func TestValidateConfig_BusinessHours(t *testing.T) {
	valid := json.RawMessage(`{"schedule":{"monday":{"open":true,"start":"08:00","end":"17:00"},"sunday":{"open":false}}}`)
	result := ValidateConfig(db.ConfigBusinessHours, valid)
	assert.True(t, result.Valid)

	inverted := json.RawMessage(`{"schedule":{"monday":{"open":true,"start":"18:00","end":"09:00"}}}`)
	result = ValidateConfig(db.ConfigBusinessHours, inverted)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors[0], "before end time")

	missingTimes := json.RawMessage(`{"schedule":{"monday":{"open":true}}}`)
	result = ValidateConfig(db.ConfigBusinessHours, missingTimes)
	assert.False(t, result.Valid)
}

func TestDefaultConfig_NonEmptyAndUsable(t *testing.T) {
	var hours db.BusinessHours
	require.NoError(t, json.Unmarshal(DefaultConfig(db.ConfigBusinessHours), &hours))
	assert.Len(t, hours.Schedule, 7)
	for day, schedule := range hours.Schedule {
		assert.True(t, schedule.Open, "default schedule should keep %s open", day)
	}

	var settings db.NotificationSettings
	require.NoError(t, json.Unmarshal(DefaultConfig(db.ConfigNotificationSettings), &settings))
	assert.True(t, settings.EmailEnabled)
}

func TestGetConfig_CachedWithinTTL(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	service := NewConfigService(pg, NewMemoryCache())
	ctx := context.Background()

	stored := []byte(`{"schedule":{"monday":{"open":true,"start":"09:00","end":"17:00"}},"timezone":"UTC"}`)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM user_configs")).
		WithArgs("user-1", string(db.ConfigBusinessHours)).
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(stored))

	first, err := service.GetConfig(ctx, "user-1", db.ConfigBusinessHours)
	require.NoError(t, err)

	// Second read inside the TTL must come from cache: no second query
	// expectation is registered, so a storage hit would fail the test.
	second, err := service.GetConfig(ctx, "user-1", db.ConfigBusinessHours)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConfig_FetchErrorFallsBackToDefaults(t *testing.T) {
	pg, _, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	// No expectations registered: the fetch fails, which must degrade
	// to the documented default rather than surface an error.
	service := NewConfigService(pg, NewMemoryCache())

	hours, err := service.GetBusinessHours(context.Background(), "user-unknown")
	require.NoError(t, err)
	assert.Len(t, hours.Schedule, 7)
}

func TestSetConfig_UpsertsAndEvictsCache(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	cache := NewMemoryCache()
	service := NewConfigService(pg, cache)
	ctx := context.Background()

	// Seed a stale cache entry; the write must evict it.
	cache.Set(ctx, configCacheKey("user-1", db.ConfigBusinessHours), []byte(`{"stale":true}`), time.Minute)

	payload := json.RawMessage(`{"schedule":{"monday":{"open":true,"start":"08:00","end":"18:00"}},"timezone":"America/Toronto"}`)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_configs")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = service.SetConfig(ctx, "user-1", db.ConfigBusinessHours, payload)
	require.NoError(t, err)

	if _, ok := cache.Get(ctx, configCacheKey("user-1", db.ConfigBusinessHours)); ok {
		t.Error("expected cache entry to be evicted after write")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetConfig_RejectsInvalidWithoutPersisting(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	service := NewConfigService(pg, NewMemoryCache())

	bad := json.RawMessage(`[{"condition":"","action":"escalate"}]`)
	_, err = service.SetConfig(context.Background(), "user-1", db.ConfigEscalationRules, bad)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "invalid config must not reach storage")
}

func TestSetConfig_ReplacesRulesTransactionally(t *testing.T) {
	pg, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer pg.Close()

	service := NewConfigService(pg, NewMemoryCache())

	rules := json.RawMessage(`[
		{"condition":"emergency_keywords","action":"escalate","enabled":true},
		{"condition":"all_emails","action":"notify_manager","priority":1,"enabled":true}
	]`)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM escalation_rules")).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_rules")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escalation_rules")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err = service.SetConfig(context.Background(), "user-1", db.ConfigEscalationRules, rules)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
