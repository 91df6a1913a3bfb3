package db

import "time"

type RuleModel struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	TenantID       string    `gorm:"index:idx_rules_tenant;not null"`
	Name           string    `gorm:"not null"`
	Enabled        bool      `gorm:"not null"`
	Combinator     string    `gorm:"not null"`
	ConditionsJSON []byte    `gorm:"type:jsonb;not null"`
	ActionsJSON    []byte    `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (RuleModel) TableName() string {
	return "rules"
}

type CredentialModel struct {
	TenantID       string `gorm:"primaryKey"`
	CurrentSecret  string `gorm:"not null"`
	PreviousSecret string
	RotatedAt      *time.Time
	APIBase        string    `gorm:"column:api_base;not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (CredentialModel) TableName() string {
	return "tenant_credentials"
}
