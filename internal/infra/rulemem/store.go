package rulemem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"timeflow/internal/domain"
)

// Store keeps rules per tenant in insertion order; List returns them in that
// order, which downstream is the execution order for matched rules.
type Store struct {
	now func() time.Time

	mu    sync.RWMutex
	rules map[string][]domain.Rule
}

func New() *Store {
	return NewWithClock(time.Now)
}

func NewWithClock(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:   now,
		rules: make(map[string][]domain.Rule),
	}
}

func (s *Store) List(_ context.Context, tenantID string) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := s.rules[tenantID]
	out := make([]domain.Rule, len(rules))
	copy(out, rules)
	return out, nil
}

func (s *Store) Get(_ context.Context, tenantID, ruleID string) (domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.rules[tenantID] {
		if rule.ID == ruleID {
			return rule, nil
		}
	}
	return domain.Rule{}, domain.ErrNotFound
}

func (s *Store) Upsert(_ context.Context, rule domain.Rule) (domain.Rule, error) {
	if err := domain.ValidateRule(rule); err != nil {
		return domain.Rule{}, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	} else {
		for i, existing := range s.rules[rule.TenantID] {
			if existing.ID == rule.ID {
				rule.CreatedAt = existing.CreatedAt
				rule.UpdatedAt = now
				s.rules[rule.TenantID][i] = rule
				return rule, nil
			}
		}
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.TenantID] = append(s.rules[rule.TenantID], rule)
	return rule, nil
}

func (s *Store) Delete(_ context.Context, tenantID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.rules[tenantID]
	for i, rule := range rules {
		if rule.ID == ruleID {
			s.rules[tenantID] = append(rules[:i:i], rules[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}
