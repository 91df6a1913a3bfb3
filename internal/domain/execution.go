package domain

type ExecutionMode string

const (
	ModeDryRun ExecutionMode = "dry_run"
	ModeLive   ExecutionMode = "live"
)

type ActionStatus string

const (
	ActionSucceeded ActionStatus = "SUCCEEDED"
	ActionFailed    ActionStatus = "FAILED"
)

type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "success"
	ExecutionPartial   ExecutionStatus = "partial"
	ExecutionFailed    ExecutionStatus = "failure"
)

// ActionOutcome records what happened to one action of one matched rule.
// Applied distinguishes a real outbound mutation from an idempotent no-op;
// in dry-run mode it marks that the mutation would have been issued.
type ActionOutcome struct {
	RuleID     string       `json:"ruleId"`
	ActionType ActionType   `json:"actionType"`
	Status     ActionStatus `json:"status"`
	Applied    bool         `json:"applied"`
	Attempts   int          `json:"attempts"`
	Error      string       `json:"error,omitempty"`
}

type ExecutionReport struct {
	TenantID     string          `json:"tenantId"`
	EventID      string          `json:"eventId"`
	Mode         ExecutionMode   `json:"mode"`
	Duplicate    bool            `json:"duplicate,omitempty"`
	MatchedRules []string        `json:"matchedRules"`
	Outcomes     []ActionOutcome `json:"outcomes"`
	AppliedCount int             `json:"appliedCount"`
	Status       ExecutionStatus `json:"status"`
}

func (r ExecutionReport) Matched() bool {
	return len(r.MatchedRules) > 0
}
