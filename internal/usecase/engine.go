package usecase

import (
	"context"
	"errors"
	"fmt"

	"timeflow/internal/domain"
)

// RuleStore is the persistence contract the engine consumes. List returns
// rules in stable iteration order; that order is the execution order for
// matched rules.
type RuleStore interface {
	List(ctx context.Context, tenantID string) ([]domain.Rule, error)
	Get(ctx context.Context, tenantID, ruleID string) (domain.Rule, error)
	Upsert(ctx context.Context, rule domain.Rule) (domain.Rule, error)
	Delete(ctx context.Context, tenantID, ruleID string) error
}

type Engine struct {
	rules      RuleStore
	conditions *ConditionEvaluator
}

func NewEngine(rules RuleStore, conditions *ConditionEvaluator) (*Engine, error) {
	if rules == nil {
		return nil, errors.New("rule store is required")
	}
	if conditions == nil {
		return nil, errors.New("condition evaluator is required")
	}
	return &Engine{rules: rules, conditions: conditions}, nil
}

// Evaluate returns every enabled rule whose conditions match the event, in
// store iteration order. Every rule is evaluated; a match never short-circuits
// the rest, since independent automations may all apply to one event. A store
// failure aborts the whole cycle so the event stays eligible for redelivery.
func (en *Engine) Evaluate(ctx context.Context, tenantID string, event domain.WebhookEvent) ([]domain.Rule, error) {
	rules, err := en.rules.List(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: list rules for tenant %s: %v", domain.ErrStoreUnavailable, tenantID, err)
	}

	var matched []domain.Rule
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if en.ruleMatches(rule, event) {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

func (en *Engine) ruleMatches(rule domain.Rule, event domain.WebhookEvent) bool {
	// A rule with no conditions never matches, it is not vacuously true.
	if len(rule.Conditions) == 0 {
		return false
	}
	switch rule.Combinator {
	case domain.CombinatorAnd:
		for _, cond := range rule.Conditions {
			if !en.conditions.Evaluate(rule.ID, cond, event) {
				return false
			}
		}
		return true
	case domain.CombinatorOr:
		for _, cond := range rule.Conditions {
			if en.conditions.Evaluate(rule.ID, cond, event) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
