package db

import "time"

// ===========================
// ESCALATION RULE MODELS
// ===========================

// Condition is the name of a rule predicate evaluated against an email.
type Condition string

const (
	ConditionAfterHours        Condition = "after_hours"
	ConditionHighUrgency       Condition = "high_urgency"
	ConditionKeywordMatch      Condition = "keyword_match"
	ConditionManagerRequired   Condition = "manager_required"
	ConditionCustomerVIP       Condition = "customer_vip"
	ConditionComplaintDetected Condition = "complaint_detected"
	ConditionEmergencyKeywords Condition = "emergency_keywords"
	ConditionResponseOverdue   Condition = "response_overdue"
	ConditionMultipleEmails    Condition = "multiple_emails"
	ConditionUrgencyLevel      Condition = "urgency_level"
	ConditionCategoryMatch     Condition = "category_match"
	ConditionSentimentNegative Condition = "sentiment_negative"
	ConditionAllEmails         Condition = "all_emails"
)

// Conditions lists every supported condition, in default-priority order.
var Conditions = []Condition{
	ConditionEmergencyKeywords,
	ConditionHighUrgency,
	ConditionCustomerVIP,
	ConditionComplaintDetected,
	ConditionSentimentNegative,
	ConditionManagerRequired,
	ConditionResponseOverdue,
	ConditionMultipleEmails,
	ConditionKeywordMatch,
	ConditionUrgencyLevel,
	ConditionCategoryMatch,
	ConditionAfterHours,
	ConditionAllEmails,
}

// Valid reports whether c is one of the supported conditions.
func (c Condition) Valid() bool {
	for _, known := range Conditions {
		if c == known {
			return true
		}
	}
	return false
}

// Action is the escalation operation a triggered rule requests. Actions
// are executed by the notification dispatcher, not by this service.
type Action string

const (
	ActionEscalate          Action = "escalate"
	ActionNotifyManager     Action = "notify_manager"
	ActionAutoReply         Action = "auto_reply"
	ActionHighPriority      Action = "high_priority"
	ActionImmediateResponse Action = "immediate_response"
	ActionCreateTicket      Action = "create_ticket"
	ActionSendSMS           Action = "send_sms"
	ActionCallCustomer      Action = "call_customer"
)

var Actions = []Action{
	ActionEscalate,
	ActionNotifyManager,
	ActionAutoReply,
	ActionHighPriority,
	ActionImmediateResponse,
	ActionCreateTicket,
	ActionSendSMS,
	ActionCallCustomer,
}

// Valid reports whether a is one of the supported actions.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// defaultPriorities maps each condition to the priority assigned when a
// rule is created without one. Life-safety conditions rank highest.
var defaultPriorities = map[Condition]int{
	ConditionEmergencyKeywords: 10,
	ConditionHighUrgency:       9,
	ConditionCustomerVIP:       8,
	ConditionComplaintDetected: 7,
	ConditionSentimentNegative: 6,
	ConditionManagerRequired:   6,
	ConditionResponseOverdue:   5,
	ConditionMultipleEmails:    4,
	ConditionKeywordMatch:      4,
	ConditionUrgencyLevel:      3,
	ConditionCategoryMatch:     3,
	ConditionAfterHours:        2,
	ConditionAllEmails:         1,
}

// DefaultPriority returns the priority used when a rule omits one.
func DefaultPriority(c Condition) int {
	if p, ok := defaultPriorities[c]; ok {
		return p
	}
	return 5
}

// ClampPriority bounds a priority to the supported [1,10] range.
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// EscalationRule is a stored condition→action binding evaluated against
// every inbound email for its owner.
type EscalationRule struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Condition   Condition `json:"condition"`
	Value       string    `json:"value,omitempty"`
	Action      Action    `json:"action"`
	Priority    int       `json:"priority"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRuleRequest is the administration payload for a new rule.
type CreateRuleRequest struct {
	Condition   Condition `json:"condition" binding:"required"`
	Value       string    `json:"value"`
	Action      Action    `json:"action" binding:"required"`
	Priority    *int      `json:"priority"`
	Description string    `json:"description"`
	Enabled     *bool     `json:"enabled"`
}

// UpdateRuleRequest is a partial update; nil fields are left untouched.
type UpdateRuleRequest struct {
	Condition   *Condition `json:"condition"`
	Value       *string    `json:"value"`
	Action      *Action    `json:"action"`
	Priority    *int       `json:"priority"`
	Description *string    `json:"description"`
	Enabled     *bool      `json:"enabled"`
}

// ===========================
// EVALUATION MODELS
// ===========================

// Email carries the minimum fields the condition predicates inspect.
type Email struct {
	ID      string `json:"id,omitempty"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Classification is the AI pipeline's verdict for an email.
type Classification struct {
	Category  string `json:"category,omitempty"`
	Urgency   string `json:"urgency,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
}

// EvalContext is the ephemeral per-evaluation context supplied by the
// email processing pipeline. RuleValue is filled in per rule during
// evaluation and carries the rule's stored value to the predicate.
type EvalContext struct {
	Classification *Classification `json:"classification,omitempty"`
	RuleValue      string          `json:"rule_value,omitempty"`
}

// TriggeredRule is one fired rule in an evaluation result.
type TriggeredRule struct {
	RuleID      string         `json:"rule_id"`
	Rule        EscalationRule `json:"rule"`
	Action      Action         `json:"action"`
	Priority    int            `json:"priority"`
	Condition   Condition      `json:"condition"`
	Value       string         `json:"value,omitempty"`
	Description string         `json:"description,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// BatchResult is the per-email outcome of a batch evaluation. One
// email's failure never affects its siblings.
type BatchResult struct {
	EmailID string          `json:"email_id"`
	Success bool            `json:"success"`
	Rules   []TriggeredRule `json:"rules,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ===========================
// CONFIGURATION MODELS
// ===========================

// ConfigType names one category of per-user configuration.
type ConfigType string

const (
	ConfigEscalationRules      ConfigType = "escalation_rules"
	ConfigBusinessHours        ConfigType = "business_hours"
	ConfigNotificationSettings ConfigType = "notification_settings"
	ConfigResponseTemplates    ConfigType = "response_templates"
	ConfigApprovalWorkflow     ConfigType = "approval_workflow"
)

// DaySchedule is one weekday's opening window. Start/End are zero-padded
// "HH:MM" strings compared lexically, which is sufficient for that form.
type DaySchedule struct {
	Open  bool   `json:"open"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// BusinessHours is a user's weekly opening schedule. Days are keyed by
// lowercase English day names ("monday" .. "sunday").
type BusinessHours struct {
	UserID          string                 `json:"user_id,omitempty"`
	Schedule        map[string]DaySchedule `json:"schedule"`
	Timezone        string                 `json:"timezone"`
	HolidaySchedule []string               `json:"holiday_schedule,omitempty"`
	EmergencyHours  bool                   `json:"emergency_hours"`
}

// NotificationSettings configures how the downstream dispatcher reaches
// the user. Not consumed by the evaluator; passed through to actions.
type NotificationSettings struct {
	UserID        string   `json:"user_id,omitempty"`
	EmailEnabled  bool     `json:"email_enabled"`
	SMSEnabled    bool     `json:"sms_enabled"`
	Recipients    []string `json:"recipients,omitempty"`
	ManagerEmail  string   `json:"manager_email,omitempty"`
	QuietHours    bool     `json:"quiet_hours"`
	DigestEnabled bool     `json:"digest_enabled"`
}

// ResponseTemplate is a canned reply body keyed by category.
type ResponseTemplate struct {
	ID       string `json:"id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Body     string `json:"body"`
	Enabled  bool   `json:"enabled"`
}

// ApprovalWorkflow gates auto-replies behind a human approval step.
type ApprovalWorkflow struct {
	UserID           string   `json:"user_id,omitempty"`
	RequireApproval  bool     `json:"require_approval"`
	Approvers        []string `json:"approvers,omitempty"`
	AutoApproveAfter int      `json:"auto_approve_after_minutes,omitempty"`
}

// ValidationResult reports structural validation of a config write.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ===========================
// HISTORY & AUDIT MODELS
// ===========================

// EmailLog is one recorded inbound message, used by the historical
// predicates (response_overdue, multiple_emails).
type EmailLog struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Sender      string     `json:"sender"`
	Subject     string     `json:"subject,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	Responded   bool       `json:"responded"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// EscalationLog records one triggered rule for audit and statistics.
type EscalationLog struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	RuleID    string    `json:"rule_id"`
	EmailID   string    `json:"email_id,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action"`
	Priority  int       `json:"priority"`
	Category  string    `json:"category,omitempty"`
	Urgency   string    `json:"urgency,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RuleStats aggregates escalation history over a trailing window.
type RuleStats struct {
	Timeframe    string         `json:"timeframe"`
	Total        int            `json:"total"`
	ByCategory   map[string]int `json:"by_category"`
	ByUrgency    map[string]int `json:"by_urgency"`
	ByCondition  map[string]int `json:"by_condition"`
	TopCondition string         `json:"top_condition,omitempty"`
}
