package credmem

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"timeflow/internal/domain"
)

// Store holds per-tenant tracker credentials with one generation of
// rotation grace. Validation is lazy: the previous secret stops
// authenticating the moment the grace window elapses, whether or not it has
// been physically cleared.
type Store struct {
	grace time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	creds map[string]domain.Credential
}

type Config struct {
	GracePeriod time.Duration
	Now         func() time.Time
}

func New(cfg Config) *Store {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		grace: cfg.GracePeriod,
		now:   cfg.Now,
		creds: make(map[string]domain.Credential),
	}
}

// Seed installs the initial credential for a tenant.
func (s *Store) Seed(cred domain.Credential) error {
	if cred.TenantID == "" || cred.CurrentSecret == "" {
		return errors.New("tenant id and current secret are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.TenantID] = cred
	return nil
}

func (s *Store) Get(_ context.Context, tenantID string) (domain.Credential, error) {
	s.mu.RLock()
	cred, ok := s.creds[tenantID]
	s.mu.RUnlock()
	if !ok {
		return domain.Credential{}, domain.ErrNotFound
	}
	// Eager clearing of an expired previous secret is an optimization only;
	// Validate never trusts PreviousSecret past the grace window.
	if cred.PreviousSecret != "" && !cred.PreviousValidAt(s.now(), s.grace) {
		cred.PreviousSecret = ""
	}
	return cred, nil
}

// Rotate moves the current secret into the previous slot and installs the
// new one. Rotating inside an active grace window drops the older previous
// secret immediately; only one generation stays valid.
func (s *Store) Rotate(_ context.Context, tenantID, newSecret string) (domain.Credential, error) {
	if newSecret == "" {
		return domain.Credential{}, errors.New("new secret is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[tenantID]
	if !ok {
		return domain.Credential{}, domain.ErrNotFound
	}
	cred.PreviousSecret = cred.CurrentSecret
	cred.CurrentSecret = newSecret
	cred.RotatedAt = s.now()
	s.creds[tenantID] = cred
	return cred, nil
}

func (s *Store) Validate(_ context.Context, tenantID, presented string) (bool, error) {
	s.mu.RLock()
	cred, ok := s.creds[tenantID]
	s.mu.RUnlock()
	if !ok {
		return false, domain.ErrNotFound
	}
	if secretsEqual(presented, cred.CurrentSecret) {
		return true, nil
	}
	if cred.PreviousValidAt(s.now(), s.grace) && secretsEqual(presented, cred.PreviousSecret) {
		return true, nil
	}
	return false, nil
}

func secretsEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
