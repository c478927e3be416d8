package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/floworx-io/floworx/db"
)

// Trailing windows for the historical predicates.
const (
	responseOverdueWindow = 48 * time.Hour
	multipleEmailsWindow  = 24 * time.Hour
)

// Keyword lists backing the text-fallback predicates. Matching is
// case-insensitive over subject + " " + body.
var (
	urgencyKeywords = []string{
		"urgent", "asap", "emergency", "critical", "immediate", "help",
		"broken", "not working", "stopped", "failed", "down", "out of order",
	}

	emergencyKeywords = []string{
		"gas leak", "smell gas", "flood", "flooding", "fire", "smoke",
		"burst pipe", "carbon monoxide", "sparks", "no heat", "no hot water",
		"electrical hazard",
	}

	managerKeywords = []string{
		"manager", "supervisor", "owner", "lawsuit", "lawyer", "attorney",
		"legal action", "sue", "better business bureau",
	}

	complaintKeywords = []string{
		"complaint", "complain", "unhappy", "dissatisfied", "poor service",
		"bad experience", "never again", "money back", "unacceptable",
	}

	negativeKeywords = []string{
		"angry", "furious", "frustrated", "disappointed", "terrible",
		"awful", "horrible", "worst", "ridiculous", "disgusted",
	}

	// keyword_match rules without a stored value fall back to this
	// generic service-inquiry list.
	generalKeywords = []string{
		"quote", "estimate", "pricing", "invoice", "billing", "warranty",
	}
)

// Evaluator dispatches condition names to their predicates. The
// condition set is a closed enum; adding one means extending the switch
// in Evaluate, which the compiler and tests keep honest.
type Evaluator struct {
	Config  *ConfigService
	History *HistoryService
	VIP     VIPRegistry
}

func NewEvaluator(config *ConfigService, history *HistoryService, vip VIPRegistry) *Evaluator {
	return &Evaluator{Config: config, History: history, VIP: vip}
}

// Evaluate runs one condition against an email and its context.
// Unknown conditions fail closed: they log a warning and report false
// without an error, so a stale rule can never force an escalation.
func (e *Evaluator) Evaluate(ctx context.Context, condition db.Condition, email *db.Email, userID string, evalCtx *db.EvalContext) (bool, error) {
	if evalCtx == nil {
		evalCtx = &db.EvalContext{}
	}

	switch condition {
	case db.ConditionAfterHours:
		return e.isAfterHours(ctx, userID, time.Now())
	case db.ConditionHighUrgency:
		return e.isHighUrgency(email, evalCtx), nil
	case db.ConditionKeywordMatch:
		return e.matchesRuleKeywords(email, evalCtx), nil
	case db.ConditionManagerRequired:
		return matchesKeywords(email, managerKeywords), nil
	case db.ConditionCustomerVIP:
		return e.isVIPCustomer(ctx, userID, email)
	case db.ConditionComplaintDetected:
		if evalCtx.Classification != nil && evalCtx.Classification.Category != "" {
			return evalCtx.Classification.Category == "complaint", nil
		}
		return matchesKeywords(email, complaintKeywords), nil
	case db.ConditionEmergencyKeywords:
		return matchesKeywords(email, emergencyKeywords), nil
	case db.ConditionResponseOverdue:
		return e.isResponseOverdue(ctx, userID, email)
	case db.ConditionMultipleEmails:
		return e.hasMultipleEmails(ctx, userID, email)
	case db.ConditionUrgencyLevel:
		if evalCtx.Classification == nil || evalCtx.Classification.Urgency == "" || evalCtx.RuleValue == "" {
			return false, nil
		}
		return evalCtx.Classification.Urgency == evalCtx.RuleValue, nil
	case db.ConditionCategoryMatch:
		if evalCtx.Classification == nil || evalCtx.Classification.Category == "" || evalCtx.RuleValue == "" {
			return false, nil
		}
		return evalCtx.Classification.Category == evalCtx.RuleValue, nil
	case db.ConditionSentimentNegative:
		if evalCtx.Classification != nil && evalCtx.Classification.Sentiment != "" {
			return evalCtx.Classification.Sentiment == "negative", nil
		}
		return matchesKeywords(email, negativeKeywords), nil
	case db.ConditionAllEmails:
		return true, nil
	default:
		log.Printf("Unknown condition '%s' for user %s, treating as not met", condition, userID)
		return false, nil
	}
}

// matchesKeywords is the shared case-insensitive matcher used by every
// text-fallback predicate.
func matchesKeywords(email *db.Email, keywords []string) bool {
	if email == nil {
		return false
	}
	content := strings.ToLower(email.Subject + " " + email.Body)
	for _, keyword := range keywords {
		if strings.Contains(content, keyword) {
			return true
		}
	}
	return false
}

// isHighUrgency prefers the classifier's verdict and falls back to the
// urgency keyword list.
func (e *Evaluator) isHighUrgency(email *db.Email, evalCtx *db.EvalContext) bool {
	if evalCtx.Classification != nil && evalCtx.Classification.Urgency != "" {
		urgency := evalCtx.Classification.Urgency
		return urgency == "critical" || urgency == "high"
	}
	return matchesKeywords(email, urgencyKeywords)
}

// matchesRuleKeywords matches the rule's stored comma-separated keyword
// list, or the generic inquiry list when the rule carries no value.
func (e *Evaluator) matchesRuleKeywords(email *db.Email, evalCtx *db.EvalContext) bool {
	if evalCtx.RuleValue == "" {
		return matchesKeywords(email, generalKeywords)
	}

	var keywords []string
	for _, raw := range strings.Split(evalCtx.RuleValue, ",") {
		if keyword := strings.TrimSpace(strings.ToLower(raw)); keyword != "" {
			keywords = append(keywords, keyword)
		}
	}
	return matchesKeywords(email, keywords)
}

// isAfterHours checks now against the user's business hours. Users with
// no stored schedule are treated as always open.
func (e *Evaluator) isAfterHours(ctx context.Context, userID string, now time.Time) (bool, error) {
	hours, err := e.Config.GetBusinessHours(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load business hours: %w", err)
	}

	if hours.Timezone != "" {
		if loc, err := time.LoadLocation(hours.Timezone); err == nil {
			now = now.In(loc)
		}
	}

	day := strings.ToLower(now.Weekday().String())
	schedule, ok := hours.Schedule[day]
	if !ok || !schedule.Open {
		return true, nil // closed all day
	}

	current := now.Hour()*100 + now.Minute()
	start := parseHHMM(schedule.Start)
	end := parseHHMM(schedule.End)

	return current < start || current > end, nil
}

// parseHHMM turns a zero-padded "HH:MM" string into an HHMM integer.
// Malformed values parse to 0, i.e. midnight.
func parseHHMM(value string) int {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0
	}
	return hour*100 + minute
}

func (e *Evaluator) isVIPCustomer(ctx context.Context, userID string, email *db.Email) (bool, error) {
	if e.VIP == nil || email == nil || email.From == "" {
		return false, nil
	}
	vip, err := e.VIP.IsVIP(ctx, userID, email.From)
	if err != nil {
		return false, fmt.Errorf("vip lookup failed: %w", err)
	}
	return vip, nil
}

// isResponseOverdue reports whether the sender's most recent message in
// the last 48 hours is still waiting on a reply.
func (e *Evaluator) isResponseOverdue(ctx context.Context, userID string, email *db.Email) (bool, error) {
	if email == nil || email.From == "" {
		return false, nil
	}
	recent, err := e.History.RecentFromSender(ctx, userID, email.From, responseOverdueWindow)
	if err != nil {
		return false, err
	}
	if len(recent) == 0 {
		return false, nil
	}
	return !recent[0].Responded, nil
}

// hasMultipleEmails reports whether the sender logged two or more
// messages in the trailing 24 hours.
func (e *Evaluator) hasMultipleEmails(ctx context.Context, userID string, email *db.Email) (bool, error) {
	if email == nil || email.From == "" {
		return false, nil
	}
	count, err := e.History.CountFromSender(ctx, userID, email.From, multipleEmailsWindow)
	if err != nil {
		return false, err
	}
	return count >= 2, nil
}
