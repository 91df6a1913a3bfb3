package db

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"gorm.io/gorm"

	"timeflow/internal/domain"
)

// CredentialRepository is the durable rotating credential store. The grace
// window is enforced at read time; a stale previous secret simply stops
// validating once the window elapses.
type CredentialRepository struct {
	db    *gorm.DB
	grace time.Duration
	now   func() time.Time
}

func NewCredentialRepository(gdb *gorm.DB, grace time.Duration) *CredentialRepository {
	if grace <= 0 {
		grace = time.Hour
	}
	return &CredentialRepository{db: gdb, grace: grace, now: time.Now}
}

func (r *CredentialRepository) Get(ctx context.Context, tenantID string) (domain.Credential, error) {
	cred, err := r.load(ctx, tenantID)
	if err != nil {
		return domain.Credential{}, err
	}
	if cred.PreviousSecret != "" && !cred.PreviousValidAt(r.now(), r.grace) {
		cred.PreviousSecret = ""
	}
	return cred, nil
}

// Rotate shifts the current secret into the previous slot inside one
// transaction, dropping any older previous secret regardless of its
// remaining grace.
func (r *CredentialRepository) Rotate(ctx context.Context, tenantID, newSecret string) (domain.Credential, error) {
	if r.db == nil {
		return domain.Credential{}, errDBUnavailable
	}
	if newSecret == "" {
		return domain.Credential{}, errors.New("new secret is required")
	}
	now := r.now()
	var rotated domain.Credential
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model CredentialModel
		err := tx.Where("tenant_id = ?", tenantID).First(&model).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		model.PreviousSecret = model.CurrentSecret
		model.CurrentSecret = newSecret
		model.RotatedAt = &now
		model.UpdatedAt = now
		if err := tx.Save(&model).Error; err != nil {
			return err
		}
		rotated = toDomainCredential(model)
		return nil
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return rotated, nil
}

func (r *CredentialRepository) Validate(ctx context.Context, tenantID, presented string) (bool, error) {
	cred, err := r.load(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if secretsEqual(presented, cred.CurrentSecret) {
		return true, nil
	}
	if cred.PreviousValidAt(r.now(), r.grace) && secretsEqual(presented, cred.PreviousSecret) {
		return true, nil
	}
	return false, nil
}

// Seed installs the initial credential for a tenant if absent.
func (r *CredentialRepository) Seed(ctx context.Context, cred domain.Credential) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if cred.TenantID == "" || cred.CurrentSecret == "" {
		return errors.New("tenant id and current secret are required")
	}
	model := CredentialModel{
		TenantID:      cred.TenantID,
		CurrentSecret: cred.CurrentSecret,
		APIBase:       cred.APIBase,
		UpdatedAt:     r.now(),
	}
	return r.db.WithContext(ctx).FirstOrCreate(&model, CredentialModel{TenantID: cred.TenantID}).Error
}

func (r *CredentialRepository) load(ctx context.Context, tenantID string) (domain.Credential, error) {
	if r.db == nil {
		return domain.Credential{}, errDBUnavailable
	}
	var model CredentialModel
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Credential{}, domain.ErrNotFound
		}
		return domain.Credential{}, err
	}
	return toDomainCredential(model), nil
}

func toDomainCredential(model CredentialModel) domain.Credential {
	cred := domain.Credential{
		TenantID:       model.TenantID,
		CurrentSecret:  model.CurrentSecret,
		PreviousSecret: model.PreviousSecret,
		APIBase:        model.APIBase,
	}
	if model.RotatedAt != nil {
		cred.RotatedAt = *model.RotatedAt
	}
	return cred
}

func secretsEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
