package domain

import "time"

type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

type ConditionType string

const (
	ConditionDescriptionContains ConditionType = "descriptionContains"
	ConditionDescriptionEquals   ConditionType = "descriptionEquals"
	ConditionHasTag              ConditionType = "hasTag"
	ConditionProjectIDEquals     ConditionType = "projectIdEquals"
	ConditionIsBillable          ConditionType = "isBillable"
)

type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "EQUALS"
	OperatorNotEquals   ConditionOperator = "NOT_EQUALS"
	OperatorContains    ConditionOperator = "CONTAINS"
	OperatorNotContains ConditionOperator = "NOT_CONTAINS"
	OperatorIn          ConditionOperator = "IN"
	OperatorNotIn       ConditionOperator = "NOT_IN"
)

// Condition compares one field of the event payload against an authored
// value. Value holds the scalar form, Values the list form; exactly one is
// meaningful for a given operator.
type Condition struct {
	Type     ConditionType     `json:"type"`
	Operator ConditionOperator `json:"operator"`
	Value    string            `json:"value,omitempty"`
	Values   []string          `json:"values,omitempty"`
}

type ActionType string

const (
	ActionAddTag         ActionType = "add_tag"
	ActionRemoveTag      ActionType = "remove_tag"
	ActionSetDescription ActionType = "set_description"
	ActionSetBillable    ActionType = "set_billable"
)

type Action struct {
	Type ActionType        `json:"type"`
	Args map[string]string `json:"args"`
}

type Rule struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenantId"`
	Name       string      `json:"name"`
	Enabled    bool        `json:"enabled"`
	Combinator Combinator  `json:"combinator"`
	Conditions []Condition `json:"conditions"`
	Actions    []Action    `json:"actions"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

var listOperators = map[ConditionOperator]bool{
	OperatorIn:    true,
	OperatorNotIn: true,
}

var stringConditionTypes = map[ConditionType]bool{
	ConditionDescriptionContains: true,
	ConditionDescriptionEquals:   true,
}

// ValidateRule rejects malformed definitions at write time so the engine
// only ever sees well-formed rules.
func ValidateRule(r Rule) error {
	if r.TenantID == "" {
		return validationError("tenant_id is required")
	}
	if r.Name == "" {
		return validationError("rule name is required")
	}
	if r.Combinator != CombinatorAnd && r.Combinator != CombinatorOr {
		return validationError("combinator must be AND or OR")
	}
	if len(r.Conditions) == 0 {
		return validationError("at least one condition is required")
	}
	for _, c := range r.Conditions {
		if err := ValidateCondition(c); err != nil {
			return err
		}
	}
	if len(r.Actions) == 0 {
		return validationError("at least one action is required")
	}
	for _, a := range r.Actions {
		if err := ValidateAction(a); err != nil {
			return err
		}
	}
	return nil
}

func ValidateCondition(c Condition) error {
	switch c.Type {
	case ConditionDescriptionContains, ConditionDescriptionEquals,
		ConditionHasTag, ConditionProjectIDEquals:
	case ConditionIsBillable:
		if c.Value != "true" && c.Value != "false" {
			return validationError("isBillable condition value must be \"true\" or \"false\"")
		}
	default:
		return validationError("unknown condition type: " + string(c.Type))
	}
	switch c.Operator {
	case OperatorEquals, OperatorNotEquals:
	case OperatorContains, OperatorNotContains:
		if !stringConditionTypes[c.Type] {
			return validationError("operator " + string(c.Operator) + " requires a string-valued field")
		}
	case OperatorIn, OperatorNotIn:
		if len(c.Values) == 0 {
			return validationError("operator " + string(c.Operator) + " requires a list value")
		}
	default:
		return validationError("unknown condition operator: " + string(c.Operator))
	}
	if !listOperators[c.Operator] && c.Value == "" && c.Type != ConditionDescriptionEquals {
		return validationError("condition value is required")
	}
	return nil
}

func ValidateAction(a Action) error {
	switch a.Type {
	case ActionAddTag, ActionRemoveTag:
		if a.Args["tag"] == "" {
			return validationError(string(a.Type) + " action requires args.tag")
		}
	case ActionSetDescription:
		if _, ok := a.Args["value"]; !ok {
			return validationError("set_description action requires args.value")
		}
	case ActionSetBillable:
		if v := a.Args["value"]; v != "true" && v != "false" {
			return validationError("set_billable action requires args.value of \"true\" or \"false\"")
		}
	default:
		return validationError("unknown action type: " + string(a.Type))
	}
	return nil
}

func validationError(msg string) error {
	return &ValidationError{Message: msg}
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRule
}
