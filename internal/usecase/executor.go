package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"timeflow/internal/domain"
)

type CredentialStore interface {
	Get(ctx context.Context, tenantID string) (domain.Credential, error)
	Rotate(ctx context.Context, tenantID, newSecret string) (domain.Credential, error)
	Validate(ctx context.Context, tenantID, presentedSecret string) (bool, error)
}

// EntryClient issues idempotent-intent calls against the external tracker
// API. Every call authenticates with the credential's current secret.
type EntryClient interface {
	GetEntry(ctx context.Context, cred domain.Credential, entityID string) (domain.EntryPayload, error)
	AddTag(ctx context.Context, cred domain.Credential, entityID, tag string) error
	RemoveTag(ctx context.Context, cred domain.Credential, entityID, tag string) error
	SetDescription(ctx context.Context, cred domain.Credential, entityID, value string) error
	SetBillable(ctx context.Context, cred domain.Credential, entityID string, billable bool) error
}

type ExecutorConfig struct {
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	CallTimeout time.Duration
	Jitter      func() float64
}

const (
	defaultMaxAttempts = 3
	defaultRetryBase   = 200 * time.Millisecond
	defaultRetryMax    = 2 * time.Second
	defaultCallTimeout = 10 * time.Second
)

// Executor applies matched rules' actions one at a time, in listed order.
// Each action is pre-checked against the entity's current state so a retried
// delivery never double-applies; outbound calls pass through the rate limiter
// and retry with exponential backoff on transient failure.
type Executor struct {
	creds   CredentialStore
	client  EntryClient
	limiter domain.RateLimiter
	sink    DiagnosticsSink
	log     *logrus.Logger
	cfg     ExecutorConfig
}

func NewExecutor(creds CredentialStore, client EntryClient, limiter domain.RateLimiter, sink DiagnosticsSink, log *logrus.Logger, cfg ExecutorConfig) (*Executor, error) {
	if creds == nil {
		return nil, errors.New("credential store is required")
	}
	if client == nil {
		return nil, errors.New("entry client is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Float64
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{
		creds:   creds,
		client:  client,
		limiter: limiter,
		sink:    sink,
		log:     log,
		cfg:     cfg,
	}, nil
}

// Apply runs every action of every matched rule and aggregates per-action
// outcomes. A failed action never aborts the rest. In dry-run mode the same
// decisions are computed against the event's payload snapshot with zero
// outbound calls.
func (ex *Executor) Apply(ctx context.Context, event domain.WebhookEvent, matched []domain.Rule, mode domain.ExecutionMode) (domain.ExecutionReport, error) {
	report := domain.ExecutionReport{
		TenantID: event.TenantID,
		EventID:  event.ID,
		Mode:     mode,
		Status:   domain.ExecutionSucceeded,
	}
	for _, rule := range matched {
		report.MatchedRules = append(report.MatchedRules, rule.ID)
	}
	if len(matched) == 0 {
		return report, nil
	}

	cred, err := ex.creds.Get(ctx, event.TenantID)
	if err != nil {
		return report, fmt.Errorf("%w: credentials for tenant %s: %v", domain.ErrStoreUnavailable, event.TenantID, err)
	}

	state := event.Payload
	if mode == domain.ModeLive {
		state, err = ex.fetchState(ctx, cred, event.EntityID)
		if err != nil {
			return report, fmt.Errorf("fetch entry %s: %w", event.EntityID, err)
		}
	}

	for _, rule := range matched {
		for _, action := range rule.Actions {
			outcome := ex.applyAction(ctx, cred, event, rule, action, mode, &state)
			report.Outcomes = append(report.Outcomes, outcome)
			if outcome.Applied {
				report.AppliedCount++
			}
		}
	}

	report.Status = summarize(report.Outcomes)
	return report, nil
}

func (ex *Executor) applyAction(ctx context.Context, cred domain.Credential, event domain.WebhookEvent, rule domain.Rule, action domain.Action, mode domain.ExecutionMode, state *domain.EntryPayload) domain.ActionOutcome {
	outcome := domain.ActionOutcome{
		RuleID:     rule.ID,
		ActionType: action.Type,
	}

	needed, call, commit := ex.plan(cred, event.EntityID, action, *state)
	if call == nil && needed {
		// Unknown type or malformed args; write-time validation should have
		// rejected this, so report rather than guess.
		outcome.Status = domain.ActionFailed
		outcome.Error = "malformed action: " + string(action.Type)
		return outcome
	}
	if !needed {
		// Already in the desired state: an idempotent no-op is a success.
		outcome.Status = domain.ActionSucceeded
		return outcome
	}

	outcome.Applied = true
	if mode == domain.ModeDryRun {
		outcome.Status = domain.ActionSucceeded
		ex.log.WithFields(logrus.Fields{
			"tenant_id":   event.TenantID,
			"event_id":    event.ID,
			"rule_id":     rule.ID,
			"action_type": string(action.Type),
		}).Info("dry run: action would be applied")
		return outcome
	}

	attempts, err := ex.dispatchWithRetry(ctx, event.TenantID, call)
	outcome.Attempts = attempts
	if err != nil {
		outcome.Applied = false
		outcome.Status = domain.ActionFailed
		outcome.Error = err.Error()
		if ex.sink != nil {
			ex.sink.Report(Diagnostic{
				Kind:       DiagActionFailure,
				TenantID:   event.TenantID,
				EventID:    event.ID,
				RuleID:     rule.ID,
				ActionType: action.Type,
				Message:    err.Error(),
			})
		}
		return outcome
	}

	commit(state)
	outcome.Status = domain.ActionSucceeded
	return outcome
}

// plan decides whether an action must mutate given the entity state, and if
// so returns the outbound call plus a commit that folds the mutation into the
// local state so later actions in the same cycle see it (last writer wins).
func (ex *Executor) plan(cred domain.Credential, entityID string, action domain.Action, state domain.EntryPayload) (needed bool, call func(ctx context.Context) error, commit func(*domain.EntryPayload)) {
	switch action.Type {
	case domain.ActionAddTag:
		tag := action.Args["tag"]
		if containsString(state.TagIDs, tag) {
			return false, nil, nil
		}
		return true,
			func(ctx context.Context) error { return ex.client.AddTag(ctx, cred, entityID, tag) },
			func(s *domain.EntryPayload) { s.TagIDs = append(s.TagIDs, tag) }
	case domain.ActionRemoveTag:
		tag := action.Args["tag"]
		if !containsString(state.TagIDs, tag) {
			return false, nil, nil
		}
		return true,
			func(ctx context.Context) error { return ex.client.RemoveTag(ctx, cred, entityID, tag) },
			func(s *domain.EntryPayload) { s.TagIDs = removeString(s.TagIDs, tag) }
	case domain.ActionSetDescription:
		value := action.Args["value"]
		if state.Description == value {
			return false, nil, nil
		}
		return true,
			func(ctx context.Context) error { return ex.client.SetDescription(ctx, cred, entityID, value) },
			func(s *domain.EntryPayload) { s.Description = value }
	case domain.ActionSetBillable:
		value, err := strconv.ParseBool(action.Args["value"])
		if err != nil {
			return true, nil, nil
		}
		if state.Billable == value {
			return false, nil, nil
		}
		return true,
			func(ctx context.Context) error { return ex.client.SetBillable(ctx, cred, entityID, value) },
			func(s *domain.EntryPayload) { s.Billable = value }
	default:
		return true, nil, nil
	}
}

func (ex *Executor) fetchState(ctx context.Context, cred domain.Credential, entityID string) (domain.EntryPayload, error) {
	var state domain.EntryPayload
	_, err := ex.dispatchWithRetry(ctx, cred.TenantID, func(ctx context.Context) error {
		fetched, err := ex.client.GetEntry(ctx, cred, entityID)
		if err != nil {
			return err
		}
		state = fetched
		return nil
	})
	return state, err
}

// dispatchWithRetry runs one outbound call through the rate limiter with a
// bounded per-call timeout, retrying transient failures with doubling,
// jittered delays. Context cancellation stops the loop before the next
// attempt; an already-dispatched call is left to finish on its own timeout.
func (ex *Executor) dispatchWithRetry(ctx context.Context, tenantID string, call func(ctx context.Context) error) (int, error) {
	delay := ex.cfg.RetryBase
	var lastErr error
	for attempt := 1; attempt <= ex.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepWithContext(ctx, ex.jittered(delay)); err != nil {
				return attempt - 1, fmt.Errorf("%w: %v", domain.ErrShuttingDown, lastErr)
			}
			delay *= 2
			if delay > ex.cfg.RetryMax {
				delay = ex.cfg.RetryMax
			}
		}

		err := ex.dispatchOnce(ctx, tenantID, call)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return attempt, err
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%w: %v", domain.ErrShuttingDown, lastErr)
		}
	}
	return ex.cfg.MaxAttempts, fmt.Errorf("%w: %v", domain.ErrAttemptsExhausted, lastErr)
}

func (ex *Executor) dispatchOnce(ctx context.Context, tenantID string, call func(ctx context.Context) error) error {
	if ex.limiter != nil {
		decision, err := ex.limiter.Allow(ctx, "tenant:"+tenantID)
		if err == nil && !decision.Allowed {
			return domain.ErrRateLimited
		}
		// A limiter backend failure fails open: the remote API enforces its
		// own limits and will answer 429.
	}
	callCtx, cancel := context.WithTimeout(ctx, ex.cfg.CallTimeout)
	defer cancel()
	err := call(callCtx)
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (ex *Executor) jittered(delay time.Duration) time.Duration {
	half := delay / 2
	return half + time.Duration(ex.cfg.Jitter()*float64(half))
}

func summarize(outcomes []domain.ActionOutcome) domain.ExecutionStatus {
	failed := 0
	for _, o := range outcomes {
		if o.Status == domain.ActionFailed {
			failed++
		}
	}
	switch {
	case failed == 0:
		return domain.ExecutionSucceeded
	case failed == len(outcomes):
		return domain.ExecutionFailed
	default:
		return domain.ExecutionPartial
	}
}

func removeString(values []string, target string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
