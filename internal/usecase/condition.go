package usecase

import (
	"strconv"
	"strings"
	"sync"

	"timeflow/internal/domain"
)

// ConditionEvaluator is a total function over well-formed conditions. A
// malformed condition (unknown type or operator, or a type/operator pairing
// that makes no sense) evaluates to false; the first occurrence per rule is
// reported to the diagnostics sink instead of aborting evaluation.
type ConditionEvaluator struct {
	sink DiagnosticsSink

	mu       sync.Mutex
	reported map[string]bool
}

func NewConditionEvaluator(sink DiagnosticsSink) *ConditionEvaluator {
	return &ConditionEvaluator{
		sink:     sink,
		reported: make(map[string]bool),
	}
}

func (ev *ConditionEvaluator) Evaluate(ruleID string, cond domain.Condition, event domain.WebhookEvent) bool {
	if cond.Type == domain.ConditionHasTag {
		return ev.evaluateTag(ruleID, cond, event)
	}

	field, ok := ev.fieldValue(cond.Type, event)
	if !ok {
		ev.reportMalformed(ruleID, cond, "unknown condition type")
		return false
	}

	switch cond.Operator {
	case domain.OperatorEquals:
		return field == cond.Value
	case domain.OperatorNotEquals:
		return field != cond.Value
	case domain.OperatorContains, domain.OperatorNotContains:
		if !stringField(cond.Type) {
			ev.reportMalformed(ruleID, cond, "substring operator on non-string field")
			return false
		}
		contains := strings.Contains(field, cond.Value)
		if cond.Operator == domain.OperatorNotContains {
			return !contains
		}
		return contains
	case domain.OperatorIn:
		return containsString(cond.Values, field)
	case domain.OperatorNotIn:
		return !containsString(cond.Values, field)
	default:
		ev.reportMalformed(ruleID, cond, "unknown condition operator")
		return false
	}
}

// evaluateTag checks membership of the condition's tag value(s) in the
// event's tag set. IN matches when any listed tag is present.
func (ev *ConditionEvaluator) evaluateTag(ruleID string, cond domain.Condition, event domain.WebhookEvent) bool {
	switch cond.Operator {
	case domain.OperatorEquals:
		return event.HasTag(cond.Value)
	case domain.OperatorNotEquals:
		return !event.HasTag(cond.Value)
	case domain.OperatorIn, domain.OperatorNotIn:
		found := false
		for _, tag := range cond.Values {
			if event.HasTag(tag) {
				found = true
				break
			}
		}
		if cond.Operator == domain.OperatorNotIn {
			return !found
		}
		return found
	default:
		ev.reportMalformed(ruleID, cond, "operator not valid for tag condition")
		return false
	}
}

func (ev *ConditionEvaluator) fieldValue(t domain.ConditionType, event domain.WebhookEvent) (string, bool) {
	switch t {
	case domain.ConditionDescriptionContains, domain.ConditionDescriptionEquals:
		return event.Payload.Description, true
	case domain.ConditionProjectIDEquals:
		return event.Payload.ProjectID, true
	case domain.ConditionIsBillable:
		return strconv.FormatBool(event.Payload.Billable), true
	default:
		return "", false
	}
}

func stringField(t domain.ConditionType) bool {
	return t == domain.ConditionDescriptionContains || t == domain.ConditionDescriptionEquals
}

func (ev *ConditionEvaluator) reportMalformed(ruleID string, cond domain.Condition, msg string) {
	if ev.sink == nil {
		return
	}
	key := ruleID + "|" + string(cond.Type) + "|" + string(cond.Operator)
	ev.mu.Lock()
	seen := ev.reported[key]
	if !seen {
		ev.reported[key] = true
	}
	ev.mu.Unlock()
	if seen {
		return
	}
	ev.sink.Report(Diagnostic{
		Kind:          DiagMalformedCondition,
		RuleID:        ruleID,
		ConditionType: cond.Type,
		Operator:      cond.Operator,
		Message:       msg,
	})
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
