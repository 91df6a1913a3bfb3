package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"timeflow/internal/domain"
)

type staticCredStore struct {
	cred domain.Credential
	err  error
}

func (s *staticCredStore) Get(ctx context.Context, tenantID string) (domain.Credential, error) {
	if s.err != nil {
		return domain.Credential{}, s.err
	}
	return s.cred, nil
}

func (s *staticCredStore) Rotate(ctx context.Context, tenantID, newSecret string) (domain.Credential, error) {
	return s.cred, nil
}

func (s *staticCredStore) Validate(ctx context.Context, tenantID, presented string) (bool, error) {
	return presented == s.cred.CurrentSecret, nil
}

// fakeEntryClient records every outbound call and pops errors from per-call
// scripts so tests can simulate transient and permanent failures.
type fakeEntryClient struct {
	mu         sync.Mutex
	entry      domain.EntryPayload
	getErr     error
	callErrors map[string][]error
	calls      []string
}

func (f *fakeEntryClient) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	key := name
	if i := strings.IndexByte(name, ':'); i >= 0 {
		key = name[:i]
	}
	if errs := f.callErrors[key]; len(errs) > 0 {
		err := errs[0]
		f.callErrors[key] = errs[1:]
		return err
	}
	return nil
}

func (f *fakeEntryClient) GetEntry(ctx context.Context, cred domain.Credential, entityID string) (domain.EntryPayload, error) {
	if err := f.record("get"); err != nil {
		return domain.EntryPayload{}, err
	}
	if f.getErr != nil {
		return domain.EntryPayload{}, f.getErr
	}
	return f.entry, nil
}

func (f *fakeEntryClient) AddTag(ctx context.Context, cred domain.Credential, entityID, tag string) error {
	return f.record("add_tag:" + tag)
}

func (f *fakeEntryClient) RemoveTag(ctx context.Context, cred domain.Credential, entityID, tag string) error {
	return f.record("remove_tag:" + tag)
}

func (f *fakeEntryClient) SetDescription(ctx context.Context, cred domain.Credential, entityID, value string) error {
	return f.record("set_description:" + value)
}

func (f *fakeEntryClient) SetBillable(ctx context.Context, cred domain.Credential, entityID string, billable bool) error {
	return f.record("set_billable:" + strconv.FormatBool(billable))
}

func (f *fakeEntryClient) mutations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.calls {
		if call != "get" {
			out = append(out, call)
		}
	}
	return out
}

type scriptedLimiter struct {
	denials int
	calls   int
}

func (l *scriptedLimiter) Allow(ctx context.Context, key string) (domain.RateLimitDecision, error) {
	l.calls++
	if l.denials > 0 {
		l.denials--
		return domain.RateLimitDecision{Allowed: false}, nil
	}
	return domain.RateLimitDecision{Allowed: true, Remaining: 1}, nil
}

func newTestExecutor(t *testing.T, client EntryClient, limiter domain.RateLimiter) *Executor {
	t.Helper()
	creds := &staticCredStore{cred: domain.Credential{
		TenantID:      "acme",
		CurrentSecret: "secret",
		APIBase:       "https://tracker.example",
	}}
	ex, err := NewExecutor(creds, client, limiter, &captureSink{}, nil, ExecutorConfig{
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
		RetryMax:    4 * time.Millisecond,
		CallTimeout: time.Second,
		Jitter:      func() float64 { return 0 },
	})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return ex
}

func matchedRule(actions ...domain.Action) []domain.Rule {
	return []domain.Rule{{
		ID:       "r1",
		TenantID: "acme",
		Enabled:  true,
		Actions:  actions,
	}}
}

func addTag(tag string) domain.Action {
	return domain.Action{Type: domain.ActionAddTag, Args: map[string]string{"tag": tag}}
}

func TestExecutorAddTagIsIdempotent(t *testing.T) {
	client := &fakeEntryClient{entry: domain.EntryPayload{TagIDs: []string{"billable"}}}
	ex := newTestExecutor(t, client, nil)

	report, err := ex.Apply(context.Background(), testEvent(), matchedRule(addTag("billable")), domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(report.Outcomes) != 1 || report.Outcomes[0].Status != domain.ActionSucceeded {
		t.Fatalf("outcomes = %+v, want one success", report.Outcomes)
	}
	if report.AppliedCount != 0 {
		t.Fatalf("appliedCount = %d, want 0 for no-op", report.AppliedCount)
	}
	if len(client.mutations()) != 0 {
		t.Fatalf("mutating calls = %v, want none", client.mutations())
	}
}

func TestExecutorAddTagMutatesWhenAbsent(t *testing.T) {
	client := &fakeEntryClient{entry: domain.EntryPayload{TagIDs: []string{"other"}}}
	ex := newTestExecutor(t, client, nil)

	report, err := ex.Apply(context.Background(), testEvent(), matchedRule(addTag("billable")), domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.AppliedCount != 1 {
		t.Fatalf("appliedCount = %d, want 1", report.AppliedCount)
	}
	if got := client.mutations(); len(got) != 1 || got[0] != "add_tag:billable" {
		t.Fatalf("mutating calls = %v, want [add_tag:billable]", got)
	}
}

func TestExecutorPreChecksAgainstFetchedState(t *testing.T) {
	// The redelivered event still claims the tag is absent, but the entity
	// already carries it from the first delivery.
	event := testEvent()
	event.Payload.TagIDs = nil
	client := &fakeEntryClient{entry: domain.EntryPayload{TagIDs: []string{"billable"}}}
	ex := newTestExecutor(t, client, nil)

	report, err := ex.Apply(context.Background(), event, matchedRule(addTag("billable")), domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.AppliedCount != 0 || len(client.mutations()) != 0 {
		t.Fatalf("redelivery double-applied: count=%d calls=%v", report.AppliedCount, client.mutations())
	}
}

func TestExecutorDryRunIssuesNoCalls(t *testing.T) {
	client := &fakeEntryClient{}
	ex := newTestExecutor(t, client, nil)

	actions := []domain.Action{
		addTag("billable"),
		{Type: domain.ActionSetDescription, Args: map[string]string{"value": "updated"}},
	}
	report, err := ex.Apply(context.Background(), testEvent(), matchedRule(actions...), domain.ModeDryRun)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(client.calls) != 0 {
		t.Fatalf("outbound calls in dry run: %v", client.calls)
	}
	if report.AppliedCount != 2 {
		t.Fatalf("appliedCount = %d, want 2 would-apply actions", report.AppliedCount)
	}
	if report.Status != domain.ExecutionSucceeded {
		t.Fatalf("status = %s, want success", report.Status)
	}
}

func TestExecutorRetriesTransientFailure(t *testing.T) {
	client := &fakeEntryClient{
		callErrors: map[string][]error{
			"add_tag": {&domain.APIError{StatusCode: 429}, &domain.APIError{StatusCode: 503}},
		},
	}
	ex := newTestExecutor(t, client, nil)

	report, err := ex.Apply(context.Background(), testEvent(), matchedRule(addTag("billable")), domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	outcome := report.Outcomes[0]
	if outcome.Status != domain.ActionSucceeded {
		t.Fatalf("outcome = %+v, want success after retries", outcome)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", outcome.Attempts)
	}
}

func TestExecutorExhaustsAttempts(t *testing.T) {
	client := &fakeEntryClient{
		callErrors: map[string][]error{
			"add_tag": {
				&domain.APIError{StatusCode: 500},
				&domain.APIError{StatusCode: 500},
				&domain.APIError{StatusCode: 500},
			},
		},
	}
	ex := newTestExecutor(t, client, nil)

	report, err := ex.Apply(context.Background(), testEvent(), matchedRule(addTag("billable")), domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	outcome := report.Outcomes[0]
	if outcome.Status != domain.ActionFailed {
		t.Fatalf("outcome = %+v, want failure after exhausting attempts", outcome)
	}
	if !strings.Contains(outcome.Error, domain.ErrAttemptsExhausted.Error()) {
		t.Fatalf("error = %q, want attempts exhausted", outcome.Error)
	}
	if report.Status != domain.ExecutionFailed {
		t.Fatalf("status = %s, want failure", report.Status)
	}
}

func TestExecutorDoesNotRetryPermanentFailure(t *testing.T) {
	client := &fakeEntryClient{
		callErrors: map[string][]error{
			"add_tag": {&domain.APIError{StatusCode: 404}},
		},
	}
	ex := newTestExecutor(t, client, nil)

	report, err := ex.Apply(context.Background(), testEvent(), matchedRule(addTag("billable")), domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	outcome := report.Outcomes[0]
	if outcome.Status != domain.ActionFailed || outcome.Attempts != 1 {
		t.Fatalf("outcome = %+v, want immediate failure with 1 attempt", outcome)
	}
}

func TestExecutorContinuesPastFailedAction(t *testing.T) {
	client := &fakeEntryClient{
		callErrors: map[string][]error{
			"add_tag": {&domain.APIError{StatusCode: 400}},
		},
	}
	ex := newTestExecutor(t, client, nil)

	actions := []domain.Action{
		addTag("billable"),
		{Type: domain.ActionSetDescription, Args: map[string]string{"value": "updated"}},
	}
	report, err := ex.Apply(context.Background(), testEvent(), matchedRule(actions...), domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want both actions attempted", len(report.Outcomes))
	}
	if report.Outcomes[0].Status != domain.ActionFailed || report.Outcomes[1].Status != domain.ActionSucceeded {
		t.Fatalf("outcomes = %+v, want failed then succeeded", report.Outcomes)
	}
	if report.Status != domain.ExecutionPartial {
		t.Fatalf("status = %s, want partial", report.Status)
	}
}

func TestExecutorRateLimitDenialIsTransient(t *testing.T) {
	client := &fakeEntryClient{}
	limiter := &scriptedLimiter{denials: 1}
	ex := newTestExecutor(t, client, limiter)

	report, err := ex.Apply(context.Background(), testEvent(), matchedRule(addTag("billable")), domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// The single denial lands on the state fetch; a successful Apply proves
	// the denied dispatch was retried instead of failing the event.
	if report.Outcomes[0].Status != domain.ActionSucceeded {
		t.Fatalf("outcome = %+v, want success after limiter backoff", report.Outcomes[0])
	}
	if limiter.calls != 3 {
		t.Fatalf("limiter calls = %d, want 3 (denied fetch, retried fetch, mutation)", limiter.calls)
	}
}

func TestExecutorLastWriterWinsAcrossRules(t *testing.T) {
	client := &fakeEntryClient{entry: domain.EntryPayload{Billable: false}}
	ex := newTestExecutor(t, client, nil)

	matched := []domain.Rule{
		{ID: "r1", TenantID: "acme", Actions: []domain.Action{{Type: domain.ActionSetBillable, Args: map[string]string{"value": "true"}}}},
		{ID: "r2", TenantID: "acme", Actions: []domain.Action{{Type: domain.ActionSetBillable, Args: map[string]string{"value": "false"}}}},
	}
	report, err := ex.Apply(context.Background(), testEvent(), matched, domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := client.mutations()
	want := []string{"set_billable:true", "set_billable:false"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("mutations = %v, want %v (later rule sees earlier rule's write)", got, want)
	}
	if report.AppliedCount != 2 {
		t.Fatalf("appliedCount = %d, want 2", report.AppliedCount)
	}
}

func TestExecutorCredentialStoreFailureAbortsCycle(t *testing.T) {
	creds := &staticCredStore{err: errors.New("connection refused")}
	ex, err := NewExecutor(creds, &fakeEntryClient{}, nil, nil, nil, ExecutorConfig{})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	_, err = ex.Apply(context.Background(), testEvent(), matchedRule(addTag("billable")), domain.ModeLive)
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestExecutorNoMatchesNoCredentialLookup(t *testing.T) {
	creds := &staticCredStore{err: errors.New("should not be called")}
	ex, err := NewExecutor(creds, &fakeEntryClient{}, nil, nil, nil, ExecutorConfig{})
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	report, err := ex.Apply(context.Background(), testEvent(), nil, domain.ModeLive)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if report.Status != domain.ExecutionSucceeded || report.Matched() {
		t.Fatalf("report = %+v, want empty success", report)
	}
}
