package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"timeflow/internal/domain"
)

// RuleRepository is the durable RuleStore. List order is creation order,
// which fixes the execution order of matched rules across restarts.
type RuleRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRuleRepository(gdb *gorm.DB) *RuleRepository {
	return &RuleRepository{db: gdb, now: time.Now}
}

func (r *RuleRepository) List(ctx context.Context, tenantID string) ([]domain.Rule, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RuleModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	rules := make([]domain.Rule, 0, len(models))
	for _, model := range models {
		rule, err := toDomainRule(model)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (r *RuleRepository) Get(ctx context.Context, tenantID, ruleID string) (domain.Rule, error) {
	if r.db == nil {
		return domain.Rule{}, errDBUnavailable
	}
	var model RuleModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, ruleID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Rule{}, domain.ErrNotFound
		}
		return domain.Rule{}, err
	}
	return toDomainRule(model)
}

func (r *RuleRepository) Upsert(ctx context.Context, rule domain.Rule) (domain.Rule, error) {
	if r.db == nil {
		return domain.Rule{}, errDBUnavailable
	}
	if err := domain.ValidateRule(rule); err != nil {
		return domain.Rule{}, err
	}
	if rule.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.Rule{}, err
		}
		rule.ID = id
	}

	conditionsJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return domain.Rule{}, err
	}
	actionsJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return domain.Rule{}, err
	}

	now := r.now()
	model := RuleModel{
		ID:             rule.ID,
		TenantID:       rule.TenantID,
		Name:           rule.Name,
		Enabled:        rule.Enabled,
		Combinator:     string(rule.Combinator),
		ConditionsJSON: conditionsJSON,
		ActionsJSON:    actionsJSON,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "enabled", "combinator", "conditions_json", "actions_json", "updated_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return domain.Rule{}, err
	}
	return r.Get(ctx, rule.TenantID, rule.ID)
}

func (r *RuleRepository) Delete(ctx context.Context, tenantID, ruleID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, ruleID).
		Delete(&RuleModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toDomainRule(model RuleModel) (domain.Rule, error) {
	rule := domain.Rule{
		ID:         model.ID,
		TenantID:   model.TenantID,
		Name:       model.Name,
		Enabled:    model.Enabled,
		Combinator: domain.Combinator(model.Combinator),
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
	}
	if err := json.Unmarshal(model.ConditionsJSON, &rule.Conditions); err != nil {
		return domain.Rule{}, err
	}
	if err := json.Unmarshal(model.ActionsJSON, &rule.Actions); err != nil {
		return domain.Rule{}, err
	}
	return rule, nil
}
