package usecase

import (
	"github.com/sirupsen/logrus"

	"timeflow/internal/domain"
)

type DiagnosticKind string

const (
	DiagMalformedCondition DiagnosticKind = "malformed_condition"
	DiagStoreFailure       DiagnosticKind = "store_failure"
	DiagActionFailure      DiagnosticKind = "action_failure"
	DiagDedupFailure       DiagnosticKind = "dedup_failure"
)

// Diagnostic identifies the offending rule/action without carrying secret
// values, enough structure to drive alerting.
type Diagnostic struct {
	Kind          DiagnosticKind
	TenantID      string
	EventID       string
	RuleID        string
	ConditionType domain.ConditionType
	Operator      domain.ConditionOperator
	ActionType    domain.ActionType
	Message       string
}

type DiagnosticsSink interface {
	Report(d Diagnostic)
}

type logSink struct {
	log *logrus.Logger
}

func NewLogSink(log *logrus.Logger) DiagnosticsSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &logSink{log: log}
}

func (s *logSink) Report(d Diagnostic) {
	fields := logrus.Fields{
		"kind":      string(d.Kind),
		"tenant_id": d.TenantID,
	}
	if d.EventID != "" {
		fields["event_id"] = d.EventID
	}
	if d.RuleID != "" {
		fields["rule_id"] = d.RuleID
	}
	if d.ConditionType != "" {
		fields["condition_type"] = string(d.ConditionType)
	}
	if d.Operator != "" {
		fields["operator"] = string(d.Operator)
	}
	if d.ActionType != "" {
		fields["action_type"] = string(d.ActionType)
	}
	s.log.WithFields(fields).Warn(d.Message)
}
